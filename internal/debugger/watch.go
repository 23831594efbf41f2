package debugger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-dap"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// dataIDPrefix prefixes every data breakpoint token the adapter hands out.
// The token is opaque to clients but stable within a session:
// nova:field:<classId>:<fieldId>:<objectIdOr0>.
const dataIDPrefix = "nova:field:"

// fieldDataID is a decoded data breakpoint token.
type fieldDataID struct {
	Class  jdwp.ReferenceTypeID
	Field  jdwp.FieldID
	Object jdwp.ObjectID // 0 for static fields
}

func (id fieldDataID) String() string {
	return fmt.Sprintf("%s%d:%d:%d", dataIDPrefix, id.Class, id.Field, id.Object)
}

func parseFieldDataID(token string) (fieldDataID, error) {
	rest, ok := strings.CutPrefix(token, dataIDPrefix)
	if !ok {
		return fieldDataID{}, fmt.Errorf("unrecognized dataId %q", token)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return fieldDataID{}, fmt.Errorf("malformed dataId %q", token)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return fieldDataID{}, fmt.Errorf("malformed dataId %q", token)
		}
		nums[i] = n
	}
	return fieldDataID{
		Class:  jdwp.ReferenceTypeID(nums[0]),
		Field:  jdwp.FieldID(nums[1]),
		Object: jdwp.ObjectID(nums[2]),
	}, nil
}

// DataBreakpointInfo resolves a variable shown under a variablesReference
// to a watchable field. Only object fields are watchable: locals live in
// frame slots and array elements have no field identity, so both come back
// without a dataId and with an explanation instead.
func (d *Debugger) DataBreakpointInfo(ctx context.Context, ref int, name string) (dap.DataBreakpointInfoResponseBody, error) {
	if err := ctx.Err(); err != nil {
		return dap.DataBreakpointInfoResponseBody{}, err
	}
	if !d.caps.CanWatchFieldModification && !d.caps.CanWatchFieldAccess {
		return dap.DataBreakpointInfoResponseBody{
			DataId:      nil,
			Description: "the target VM does not support field watchpoints",
		}, nil
	}
	if ref >= scopeRefBase {
		return dap.DataBreakpointInfoResponseBody{
			DataId:      nil,
			Description: fmt.Sprintf("'%s' is not a field; only object fields can be watched", name),
		}, nil
	}

	obj, ok := d.registry.Get(ref)
	if !ok || obj.Invalid {
		return dap.DataBreakpointInfoResponseBody{
			DataId:      nil,
			Description: "the containing object is no longer available",
		}, nil
	}
	if obj.Tag == jdwp.TagArray || strings.HasPrefix(name, "[") || name == "length" {
		return dap.DataBreakpointInfoResponseBody{
			DataId:      nil,
			Description: "array elements cannot be watched",
		}, nil
	}

	field, declaring, err := d.findField(ctx, obj.Type, name)
	if err != nil {
		return dap.DataBreakpointInfoResponseBody{}, err
	}
	if declaring == 0 {
		return dap.DataBreakpointInfoResponseBody{
			DataId:      nil,
			Description: fmt.Sprintf("no field named '%s'", name),
		}, nil
	}

	id := fieldDataID{Class: declaring, Field: field.ID}
	if !field.IsStatic() {
		id.Object = obj.Object
	}
	return dap.DataBreakpointInfoResponseBody{
		DataId:      id.String(),
		Description: fmt.Sprintf("%s.%s", shortName(typeNameFromSignature(d.mustSignature(ctx, declaring))), name),
		AccessTypes: d.watchAccessTypes(),
		CanPersist:  false,
	}, nil
}

// findField walks the superclass chain for a field by name.
func (d *Debugger) findField(ctx context.Context, ref jdwp.ReferenceTypeID, name string) (jdwp.FieldInfo, jdwp.ReferenceTypeID, error) {
	for ref != 0 {
		fields, err := d.fieldsOf(ctx, ref)
		if err != nil {
			return jdwp.FieldInfo{}, 0, err
		}
		for _, f := range fields {
			if f.Name == name {
				return f, ref, nil
			}
		}
		ref, err = d.superOf(ctx, ref)
		if err != nil {
			return jdwp.FieldInfo{}, 0, err
		}
	}
	return jdwp.FieldInfo{}, 0, nil
}

func (d *Debugger) watchAccessTypes() []dap.DataBreakpointAccessType {
	var out []dap.DataBreakpointAccessType
	if d.caps.CanWatchFieldAccess {
		out = append(out, "read")
	}
	if d.caps.CanWatchFieldModification {
		out = append(out, "write")
	}
	if d.caps.CanWatchFieldAccess && d.caps.CanWatchFieldModification {
		out = append(out, "readWrite")
	}
	return out
}

// watchInstall is one live wire watch request.
type watchInstall struct {
	kind jdwp.EventKind
	req  jdwp.EventRequestID
}

// SetDataBreakpoints replaces all data breakpoints. A breakpoint whose
// access type the VM cannot watch comes back unverified with a message and
// nothing is installed for it.
func (d *Debugger) SetDataBreakpoints(ctx context.Context, specs []dap.DataBreakpoint) ([]dap.Breakpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, w := range d.watchInstalled {
		if err := d.conn.ClearEventRequest(ctx, w.kind, w.req); err != nil && !jdwp.IsTerminal(err) {
			d.logger.Debug("clear watchpoint failed", "request", w.req, "err", err)
		}
		delete(d.bpMeta, w.req)
	}
	d.watchInstalled = nil

	out := make([]dap.Breakpoint, 0, len(specs))
	for _, spec := range specs {
		d.nextBreakpointID++
		bp := dap.Breakpoint{Id: d.nextBreakpointID}

		id, err := parseFieldDataID(spec.DataId)
		if err != nil {
			bp.Message = err.Error()
			out = append(out, bp)
			continue
		}

		var kinds []jdwp.EventKind
		switch spec.AccessType {
		case "read":
			kinds = []jdwp.EventKind{jdwp.KindFieldAccess}
		case "readWrite":
			kinds = []jdwp.EventKind{jdwp.KindFieldAccess, jdwp.KindFieldModification}
		default:
			kinds = []jdwp.EventKind{jdwp.KindFieldModification}
		}
		if msg := d.unsupportedWatch(kinds); msg != "" {
			bp.Message = msg
			out = append(out, bp)
			continue
		}

		installed, err := d.installFieldWatches(ctx, kinds, id, bp.Id, spec.Condition, spec.HitCondition)
		if err != nil {
			return nil, err
		}
		if installed {
			bp.Verified = true
		} else {
			bp.Message = "watchpoint could not be installed"
		}
		out = append(out, bp)
	}
	return out, nil
}

// unsupportedWatch returns a client message when the VM cannot serve one of
// the wanted watch kinds.
func (d *Debugger) unsupportedWatch(kinds []jdwp.EventKind) string {
	for _, k := range kinds {
		if k == jdwp.KindFieldAccess && !d.caps.CanWatchFieldAccess {
			return "the target VM does not support read watchpoints"
		}
		if k == jdwp.KindFieldModification && !d.caps.CanWatchFieldModification {
			return "the target VM does not support write watchpoints"
		}
	}
	return ""
}

// installFieldWatches installs every wanted kind for one field, rolling the
// set back if any kind fails so a readWrite breakpoint is never half live.
func (d *Debugger) installFieldWatches(ctx context.Context, kinds []jdwp.EventKind, id fieldDataID, dapID int, cond, hitCond string) (bool, error) {
	var added []watchInstall
	rollback := func() {
		for _, w := range added {
			_ = d.conn.ClearEventRequest(ctx, w.kind, w.req)
			delete(d.bpMeta, w.req)
		}
	}
	for _, kind := range kinds {
		reqID, err := d.installFieldWatch(ctx, kind, id)
		if err != nil {
			if ctx.Err() != nil {
				rollback()
				return false, ctx.Err()
			}
			d.logger.Warn("watchpoint install failed", "kind", kind, "err", err)
			rollback()
			return false, nil
		}
		d.bpMeta[reqID] = &breakpointMeta{dapID: dapID, condition: cond, hitCondition: hitCond}
		added = append(added, watchInstall{kind: kind, req: reqID})
	}
	d.watchInstalled = append(d.watchInstalled, added...)
	return true, nil
}

// installFieldWatch issues one field watch request. Instance-scoped watches
// use an instance filter when the VM has them; a VM that advertises the
// capability but rejects the modifier is downgraded once per session to
// class-wide watches.
func (d *Debugger) installFieldWatch(ctx context.Context, kind jdwp.EventKind, id fieldDataID) (jdwp.EventRequestID, error) {
	mods := []jdwp.EventModifier{jdwp.FieldOnlyModifier{Class: id.Class, Field: id.Field}}
	useInstance := id.Object != 0 && d.caps.CanUseInstanceFilters && !d.instanceFilterBroken
	if useInstance {
		mods = append(mods, jdwp.InstanceOnlyModifier(id.Object))
	}
	reqID, err := d.conn.SetEventRequest(ctx, kind, jdwp.SuspendEventThread, mods...)
	if err != nil && useInstance && jdwp.IsUnsupported(err) {
		d.instanceFilterBroken = true
		d.logger.Warn("instance filters rejected despite capability, watching class-wide")
		reqID, err = d.conn.SetEventRequest(ctx, kind, jdwp.SuspendEventThread, mods[:1]...)
	}
	return reqID, err
}
