package debugger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// Rendering limits. Beyond maxFormatDepth an object shows only its handle;
// previews sample at most maxPreviewElems children.
const (
	maxFormatDepth   = 2
	maxPreviewElems  = 3
	maxStringPreview = 64
)

// formatted is the DAP-facing rendering of one wire value.
type formatted struct {
	Value   string
	Type    string
	Ref     int // variablesReference; 0 for scalars
	Indexed int // indexedVariables for arrays
	Invalid bool
}

// previewKind classifies an object for rendering.
type previewKind int

const (
	previewPlain previewKind = iota
	previewString
	previewBoxed
	previewArray
	previewList
	previewSet
	previewMap
	previewOptional
	previewStream
)

var boxedSignatures = map[string]bool{
	"Ljava/lang/Boolean;":   true,
	"Ljava/lang/Byte;":      true,
	"Ljava/lang/Character;": true,
	"Ljava/lang/Short;":     true,
	"Ljava/lang/Integer;":   true,
	"Ljava/lang/Long;":      true,
	"Ljava/lang/Float;":     true,
	"Ljava/lang/Double;":    true,
}

// classifySignature buckets a runtime type signature for preview rendering.
func classifySignature(sig string) previewKind {
	switch {
	case strings.HasPrefix(sig, "["):
		return previewArray
	case sig == "Ljava/lang/String;":
		return previewString
	case boxedSignatures[sig]:
		return previewBoxed
	case sig == "Ljava/util/Optional;":
		return previewOptional
	case strings.HasPrefix(sig, "Ljava/util/stream/"):
		return previewStream
	case strings.HasPrefix(sig, "Ljava/util/") && strings.HasSuffix(sig, "Map;"):
		return previewMap
	case strings.HasPrefix(sig, "Ljava/util/") && strings.HasSuffix(sig, "Set;"):
		return previewSet
	case strings.HasPrefix(sig, "Ljava/util/") && (strings.HasSuffix(sig, "List;") || strings.HasSuffix(sig, "Deque;") || strings.HasSuffix(sig, "Queue;")):
		return previewList
	}
	return previewPlain
}

// typeNameFromSignature turns a wire signature into a source-level name.
func typeNameFromSignature(sig string) string {
	switch {
	case sig == "":
		return ""
	case sig[0] == '[':
		return typeNameFromSignature(sig[1:]) + "[]"
	case sig[0] == 'L':
		inner := strings.TrimSuffix(sig[1:], ";")
		return strings.ReplaceAll(inner, "/", ".")
	}
	switch sig[0] {
	case 'Z':
		return "boolean"
	case 'B':
		return "byte"
	case 'C':
		return "char"
	case 'S':
		return "short"
	case 'I':
		return "int"
	case 'J':
		return "long"
	case 'F':
		return "float"
	case 'D':
		return "double"
	case 'V':
		return "void"
	}
	return sig
}

// shortName strips the package from a source-level type name.
func shortName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// formatValue renders a wire value for DAP. Objects are registered with the
// object registry before anything else so the returned handle stays
// resolvable for later variables requests, then previewed best-effort: a
// collected or unreadable object degrades to a placeholder, never an error.
func (d *Debugger) formatValue(ctx context.Context, v jdwp.Value, depth int) (formatted, error) {
	if err := ctx.Err(); err != nil {
		return formatted{}, err
	}
	switch v.Tag {
	case jdwp.TagVoid:
		return formatted{Value: "void", Type: "void"}, nil
	case jdwp.TagBoolean:
		return formatted{Value: strconv.FormatBool(v.Bool), Type: "boolean"}, nil
	case jdwp.TagByte:
		return formatted{Value: strconv.FormatInt(v.Int, 10), Type: "byte"}, nil
	case jdwp.TagChar:
		return formatted{Value: fmt.Sprintf("'%c'", rune(v.Int)), Type: "char"}, nil
	case jdwp.TagShort:
		return formatted{Value: strconv.FormatInt(v.Int, 10), Type: "short"}, nil
	case jdwp.TagInt:
		return formatted{Value: strconv.FormatInt(v.Int, 10), Type: "int"}, nil
	case jdwp.TagLong:
		return formatted{Value: strconv.FormatInt(v.Int, 10), Type: "long"}, nil
	case jdwp.TagFloat:
		return formatted{Value: strconv.FormatFloat(v.Float, 'g', -1, 32), Type: "float"}, nil
	case jdwp.TagDouble:
		return formatted{Value: strconv.FormatFloat(v.Float, 'g', -1, 64), Type: "double"}, nil
	}
	if v.Object == 0 {
		return formatted{Value: "null"}, nil
	}
	return d.formatObject(ctx, v, depth)
}

func (d *Debugger) formatObject(ctx context.Context, v jdwp.Value, depth int) (formatted, error) {
	handle := d.registry.Register(ctx, v.Object, v.Tag)

	typeTag, ref, err := d.conn.ObjectType(ctx, v.Object)
	if err != nil {
		if ctx.Err() != nil {
			return formatted{}, ctx.Err()
		}
		if jdwp.IsCollected(err) {
			return d.formatCollected(handle), nil
		}
		return formatted{}, err
	}
	_ = typeTag

	sig, err := d.signatureOf(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return formatted{}, ctx.Err()
		}
		sig = ""
	}
	typeName := typeNameFromSignature(sig)
	d.registry.Update(handle, ref, typeName)

	if depth >= maxFormatDepth {
		return formatted{
			Value: fmt.Sprintf("%s#%d", shortName(typeName), handle),
			Type:  typeName,
			Ref:   handle,
		}, nil
	}

	out := formatted{Type: typeName, Ref: handle}
	kind := classifySignature(sig)
	switch kind {
	case previewString:
		s, err := d.conn.StringValue(ctx, v.Object)
		if err != nil {
			return d.degradeObject(ctx, handle, typeName, err)
		}
		out.Value = quoteTruncated(s)
	case previewBoxed:
		inner, ok, err := d.fieldByName(ctx, v.Object, ref, "value")
		if err != nil {
			return d.degradeObject(ctx, handle, typeName, err)
		}
		if !ok {
			out.Value = fmt.Sprintf("%s#%d", shortName(typeName), handle)
			break
		}
		f, err := d.formatValue(ctx, inner, depth+1)
		if err != nil {
			return formatted{}, err
		}
		out.Value = f.Value
	case previewArray:
		length, err := d.conn.ArrayLength(ctx, v.Object)
		if err != nil {
			return d.degradeObject(ctx, handle, typeName, err)
		}
		out.Indexed = length
		out.Value, err = d.previewArray(ctx, v.Object, typeName, length, depth)
		if err != nil {
			return formatted{}, err
		}
	case previewList, previewSet:
		out.Value = d.previewCollection(ctx, v.Object, ref, handle, typeName, depth)
	case previewMap:
		out.Value = d.previewMap(ctx, v.Object, ref, handle, typeName, depth)
	case previewOptional:
		inner, ok, err := d.fieldByName(ctx, v.Object, ref, "value")
		if err != nil {
			return d.degradeObject(ctx, handle, typeName, err)
		}
		if !ok || inner.IsNull() {
			out.Value = shortName(typeName) + ".empty"
			break
		}
		f, err := d.formatValue(ctx, inner, depth+1)
		if err != nil {
			return formatted{}, err
		}
		out.Value = fmt.Sprintf("%s[%s]", shortName(typeName), f.Value)
	case previewStream:
		out.Value = fmt.Sprintf("%s (size unknown)", shortName(typeName))
	default:
		out.Value = fmt.Sprintf("%s#%d", shortName(typeName), handle)
	}
	return out, nil
}

// degradeObject maps a failed preview read onto the collected placeholder
// (collected objects) or propagates the error (anything else).
func (d *Debugger) degradeObject(ctx context.Context, handle int, typeName string, err error) (formatted, error) {
	if ctx.Err() != nil {
		return formatted{}, ctx.Err()
	}
	if jdwp.IsCollected(err) {
		d.registry.MarkCollected(handle)
		return d.formatCollected(handle), nil
	}
	return formatted{}, err
}

func (d *Debugger) formatCollected(handle int) formatted {
	name := "Object"
	if o, ok := d.registry.Get(handle); ok && o.TypeName != "" {
		name = shortName(o.TypeName)
	}
	d.registry.MarkCollected(handle)
	return formatted{
		Value:   fmt.Sprintf("%s#%d <collected>", name, handle),
		Ref:     handle,
		Invalid: true,
	}
}

func (d *Debugger) previewArray(ctx context.Context, array jdwp.ObjectID, typeName string, length, depth int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(length=%d)", shortName(typeName), length)
	if length == 0 {
		return b.String(), nil
	}
	n := min(length, maxPreviewElems)
	elems, err := d.conn.ArrayValues(ctx, array, 0, n)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return b.String(), nil
	}
	b.WriteString(" [")
	for i, e := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		f, err := d.formatValue(ctx, e, depth+1)
		if err != nil {
			return "", err
		}
		b.WriteString(f.Value)
	}
	if length > n {
		b.WriteString(", …")
	}
	b.WriteString("]")
	return b.String(), nil
}

// previewCollection renders size plus up to three sampled elements. Sizes
// and backing stores are read from well-known fields; absence of either
// degrades to the bare handle form.
func (d *Debugger) previewCollection(ctx context.Context, obj jdwp.ObjectID, ref jdwp.ReferenceTypeID, handle int, typeName string, depth int) string {
	size, ok := d.intFieldByName(ctx, obj, ref, "size")
	if !ok {
		return fmt.Sprintf("%s#%d", shortName(typeName), handle)
	}
	s := fmt.Sprintf("%s(size=%d)", shortName(typeName), size)
	backing, ok, err := d.fieldByName(ctx, obj, ref, "elementData")
	if err != nil || !ok || backing.IsNull() || backing.Tag != jdwp.TagArray {
		return s
	}
	n := int(min64(size, maxPreviewElems))
	if n <= 0 {
		return s
	}
	elems, err := d.conn.ArrayValues(ctx, backing.Object, 0, n)
	if err != nil {
		return s
	}
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		f, err := d.formatValue(ctx, e, depth+1)
		if err != nil {
			return s
		}
		parts = append(parts, f.Value)
	}
	if size > int64(n) {
		parts = append(parts, "…")
	}
	return s + " [" + strings.Join(parts, ", ") + "]"
}

// previewMap renders size plus up to three k=v samples from the node table.
func (d *Debugger) previewMap(ctx context.Context, obj jdwp.ObjectID, ref jdwp.ReferenceTypeID, handle int, typeName string, depth int) string {
	size, ok := d.intFieldByName(ctx, obj, ref, "size")
	if !ok {
		return fmt.Sprintf("%s#%d", shortName(typeName), handle)
	}
	s := fmt.Sprintf("%s(size=%d)", shortName(typeName), size)
	table, ok, err := d.fieldByName(ctx, obj, ref, "table")
	if err != nil || !ok || table.IsNull() || table.Tag != jdwp.TagArray {
		return s
	}
	length, err := d.conn.ArrayLength(ctx, table.Object)
	if err != nil || length == 0 {
		return s
	}
	entries, err := d.conn.ArrayValues(ctx, table.Object, 0, length)
	if err != nil {
		return s
	}
	var parts []string
	for _, node := range entries {
		if len(parts) >= maxPreviewElems {
			parts = append(parts, "…")
			break
		}
		if node.IsNull() {
			continue
		}
		_, nodeRef, err := d.conn.ObjectType(ctx, node.Object)
		if err != nil {
			return s
		}
		key, okK, errK := d.fieldByName(ctx, node.Object, nodeRef, "key")
		val, okV, errV := d.fieldByName(ctx, node.Object, nodeRef, "value")
		if errK != nil || errV != nil || !okK || !okV {
			return s
		}
		fk, err := d.formatValue(ctx, key, depth+1)
		if err != nil {
			return s
		}
		fv, err := d.formatValue(ctx, val, depth+1)
		if err != nil {
			return s
		}
		parts = append(parts, fk.Value+"="+fv.Value)
	}
	if len(parts) == 0 {
		return s
	}
	return s + " {" + strings.Join(parts, ", ") + "}"
}

// fieldByName reads one named instance field from an object, walking up the
// superclass chain.
func (d *Debugger) fieldByName(ctx context.Context, obj jdwp.ObjectID, ref jdwp.ReferenceTypeID, name string) (jdwp.Value, bool, error) {
	for ref != 0 {
		fields, err := d.fieldsOf(ctx, ref)
		if err != nil {
			return jdwp.Value{}, false, err
		}
		for _, f := range fields {
			if f.Name == name && !f.IsStatic() {
				vals, err := d.conn.ObjectValues(ctx, obj, []jdwp.FieldID{f.ID})
				if err != nil || len(vals) != 1 {
					return jdwp.Value{}, false, err
				}
				return vals[0], true, nil
			}
		}
		super, err := d.superOf(ctx, ref)
		if err != nil {
			return jdwp.Value{}, false, err
		}
		ref = super
	}
	return jdwp.Value{}, false, nil
}

func (d *Debugger) intFieldByName(ctx context.Context, obj jdwp.ObjectID, ref jdwp.ReferenceTypeID, name string) (int64, bool) {
	v, ok, err := d.fieldByName(ctx, obj, ref, name)
	if err != nil || !ok {
		return 0, false
	}
	switch v.Tag {
	case jdwp.TagInt, jdwp.TagLong, jdwp.TagShort, jdwp.TagByte:
		return v.Int, true
	}
	return 0, false
}

// quoteTruncated escapes and truncates a string preview.
func quoteTruncated(s string) string {
	truncated := false
	if len(s) > maxStringPreview {
		s = s[:maxStringPreview]
		truncated = true
	}
	q := strconv.Quote(s)
	if truncated {
		q = q[:len(q)-1] + "…\""
	}
	return q
}

func min64(a int64, b int) int64 {
	if a < int64(b) {
		return a
	}
	return int64(b)
}
