package debugger

import (
	"context"
	"fmt"
	"strings"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// evalResult is either a resolved value or a user-visible failure string.
// Resolution failures are results, not errors: only wire failures and
// cancellation surface as errors.
type evalResult struct {
	value   jdwp.Value
	ok      bool
	failure string
}

func evalFailure(msg string) evalResult {
	return evalResult{failure: msg}
}

// evalExpression resolves the restricted expression grammar against a
// frame's live state.
func (d *Debugger) evalExpression(ctx context.Context, src string, fr frameRef) (evalResult, error) {
	expr, err := parseExpr(src)
	if err != nil {
		return evalFailure("unsupported expression"), nil
	}

	res, err := d.resolveBase(ctx, expr.base, fr)
	if err != nil {
		return evalResult{}, err
	}
	if !res.ok {
		return res, nil
	}
	v := res.value
	for _, seg := range expr.segments {
		var r evalResult
		if seg.isIndex {
			r, err = d.resolveIndex(ctx, v, seg.index)
		} else {
			r, err = d.resolveField(ctx, v, seg.field)
		}
		if err != nil {
			return evalResult{}, err
		}
		if !r.ok {
			return r, nil
		}
		v = r.value
	}
	return evalResult{value: v, ok: true}, nil
}

func (d *Debugger) resolveBase(ctx context.Context, base exprBase, fr frameRef) (evalResult, error) {
	switch base.kind {
	case baseThis:
		this, err := d.conn.FrameThis(ctx, fr.Thread, fr.Frame)
		if err != nil {
			return evalResult{}, err
		}
		if this.Object == 0 {
			return evalFailure("not found: this"), nil
		}
		return evalResult{value: jdwp.Value{Tag: this.Tag, Object: this.Object}, ok: true}, nil
	case basePinned:
		obj, ok := d.registry.Get(base.pinned)
		if !ok || obj.Invalid {
			return evalFailure("not found: pinned object"), nil
		}
		return evalResult{value: jdwp.Value{Tag: obj.Tag, Object: obj.Object}, ok: true}, nil
	default:
		locals, err := d.localsSnapshot(ctx, fr)
		if err != nil {
			return evalResult{}, err
		}
		v, ok := locals[base.name]
		if !ok {
			return evalFailure("not found: " + base.name), nil
		}
		return evalResult{value: v, ok: true}, nil
	}
}

// resolveField looks up a child by name: the synthetic array length, or a
// field of the object, instance first then static.
func (d *Debugger) resolveField(ctx context.Context, v jdwp.Value, name string) (evalResult, error) {
	if !v.Tag.IsObject() || v.Object == 0 {
		return evalFailure("not found: " + name), nil
	}
	if v.Tag == jdwp.TagArray {
		if name != "length" {
			return evalFailure("not found: " + name), nil
		}
		n, err := d.conn.ArrayLength(ctx, v.Object)
		if err != nil {
			if jdwp.IsCollected(err) {
				return evalFailure("not found: " + name), nil
			}
			return evalResult{}, err
		}
		return evalResult{value: jdwp.Value{Tag: jdwp.TagInt, Int: int64(n)}, ok: true}, nil
	}

	_, ref, err := d.conn.ObjectType(ctx, v.Object)
	if err != nil {
		if jdwp.IsCollected(err) {
			return evalFailure("not found: " + name), nil
		}
		return evalResult{}, err
	}
	for ref != 0 {
		fields, err := d.fieldsOf(ctx, ref)
		if err != nil {
			return evalResult{}, err
		}
		for _, f := range fields {
			if f.Name != name {
				continue
			}
			var vals []jdwp.Value
			if f.IsStatic() {
				vals, err = d.conn.StaticValues(ctx, ref, []jdwp.FieldID{f.ID})
			} else {
				vals, err = d.conn.ObjectValues(ctx, v.Object, []jdwp.FieldID{f.ID})
			}
			if err != nil {
				if jdwp.IsCollected(err) {
					return evalFailure("not found: " + name), nil
				}
				return evalResult{}, err
			}
			if len(vals) != 1 {
				return evalFailure("not found: " + name), nil
			}
			return evalResult{value: vals[0], ok: true}, nil
		}
		ref, err = d.superOf(ctx, ref)
		if err != nil {
			return evalResult{}, err
		}
	}
	return evalFailure("not found: " + name), nil
}

// resolveIndex fetches element n of an array value.
func (d *Debugger) resolveIndex(ctx context.Context, v jdwp.Value, n int) (evalResult, error) {
	if v.Tag != jdwp.TagArray || v.Object == 0 {
		return evalFailure("unsupported expression"), nil
	}
	elems, err := d.conn.ArrayValues(ctx, v.Object, n, 1)
	if err != nil {
		if we, ok := jdwp.AsError(err); ok && (we.Code == jdwp.ErrInvalidIndex || we.Code == jdwp.ErrInvalidLength) {
			return evalFailure(fmt.Sprintf("not found: index %d", n)), nil
		}
		if jdwp.IsCollected(err) {
			return evalFailure(fmt.Sprintf("not found: index %d", n)), nil
		}
		return evalResult{}, err
	}
	if len(elems) != 1 {
		return evalFailure(fmt.Sprintf("not found: index %d", n)), nil
	}
	return evalResult{value: elems[0], ok: true}, nil
}

// localsSnapshot reads every local (and parameter) in scope at the frame's
// code index, plus a synthetic "this" when present. One snapshot serves a
// whole condition/logpoint evaluation.
func (d *Debugger) localsSnapshot(ctx context.Context, fr frameRef) (map[string]jdwp.Value, error) {
	vt, err := d.variableTableOf(ctx, fr.Location.Class, fr.Location.Method)
	if err != nil {
		if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
			// Compiled without debug info: only "this" is recoverable.
			vt = jdwp.VariableTable{}
		} else {
			return nil, err
		}
	}

	var slots []jdwp.SlotRequest
	var names []string
	for _, entry := range vt.Entries {
		if !entry.InScopeAt(fr.Location.Index) || entry.Signature == "" {
			continue
		}
		slots = append(slots, jdwp.SlotRequest{Slot: entry.Slot, Tag: jdwp.Tag(entry.Signature[0])})
		names = append(names, entry.Name)
	}

	out := make(map[string]jdwp.Value, len(slots)+1)
	if len(slots) > 0 {
		vals, err := d.conn.FrameValues(ctx, fr.Thread, fr.Frame, slots)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if i < len(names) {
				out[names[i]] = v
			}
		}
	}
	if this, err := d.conn.FrameThis(ctx, fr.Thread, fr.Frame); err == nil && this.Object != 0 {
		out["this"] = jdwp.Value{Tag: this.Tag, Object: this.Object}
	}
	return out, nil
}

// evalCondition evaluates a parsed condition against a locals snapshot.
// Unknown identifiers evaluate false rather than erroring.
func evalCondition(c condition, locals map[string]jdwp.Value) bool {
	switch c.kind {
	case condLiteral:
		return c.literal
	case condIdent:
		v, ok := locals[c.ident]
		if !ok {
			return false
		}
		return truthy(v)
	default:
		a, okA := operandInt(c.lhs, locals)
		b, okB := operandInt(c.rhs, locals)
		if !okA || !okB {
			return false
		}
		return compareInts(c.op, a, b)
	}
}

func operandInt(o condOperand, locals map[string]jdwp.Value) (int64, bool) {
	if o.isLit {
		return o.lit, true
	}
	v, ok := locals[o.ident]
	if !ok {
		return 0, false
	}
	switch v.Tag {
	case jdwp.TagByte, jdwp.TagChar, jdwp.TagShort, jdwp.TagInt, jdwp.TagLong:
		return v.Int, true
	case jdwp.TagBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(v jdwp.Value) bool {
	switch v.Tag {
	case jdwp.TagBoolean:
		return v.Bool
	case jdwp.TagByte, jdwp.TagChar, jdwp.TagShort, jdwp.TagInt, jdwp.TagLong:
		return v.Int != 0
	case jdwp.TagFloat, jdwp.TagDouble:
		return v.Float != 0
	}
	return v.Object != 0
}

// renderLogMessage substitutes {identifier} references from the snapshot.
// Unresolved references render verbatim.
func (d *Debugger) renderLogMessage(ctx context.Context, segments []logSegment, locals map[string]jdwp.Value) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		if seg.ref == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := locals[seg.ref]
		if !ok {
			b.WriteString("{" + seg.ref + "}")
			continue
		}
		s, err := d.stringifyValue(ctx, v)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// stringifyValue renders a value for log output: like formatValue but
// strings are unquoted.
func (d *Debugger) stringifyValue(ctx context.Context, v jdwp.Value) (string, error) {
	if v.Tag == jdwp.TagString && v.Object != 0 {
		s, err := d.conn.StringValue(ctx, v.Object)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	f, err := d.formatValue(ctx, v, 1)
	if err != nil {
		return "", err
	}
	return f.Value, nil
}
