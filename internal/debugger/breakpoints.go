package debugger

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-dap"

	apperrors "github.com/novaide/nova-debug/internal/errors"
	"github.com/novaide/nova-debug/internal/jdwp"
)

// requestedSourceBreakpoint is one client-requested line breakpoint. The id
// is allocated once and survives pending→verified transitions, so the
// client never sees an id change.
type requestedSourceBreakpoint struct {
	ID           int
	Line         int // as requested
	ResolvedLine int // after the line mapper
	Condition    string
	HitCondition string
	LogMessage   string
	Verified     bool
	BoundLine    int
	Message      string

	reused bool // scratch for id carry-over during replacement
}

// requestedFunctionBreakpoint is one client-requested function breakpoint.
type requestedFunctionBreakpoint struct {
	ID           int
	Name         string // qualified Class.method
	Condition    string
	HitCondition string
	Verified     bool
	Message      string

	reused bool
}

// breakpointMeta is the per-wire-request record consulted on every hit.
// One client breakpoint may fan out to several wire requests (one per
// matching class), each with its own running hit count.
type breakpointMeta struct {
	dapID        int
	condition    string
	hitCondition string
	logSegments  []logSegment
	logpoint     bool
	hitCount     int64
}

// hitAction says what to do with the thread that hit a breakpoint.
type hitAction int

const (
	hitStop hitAction = iota
	hitContinue
	hitLog
)

type hitOutcome struct {
	action  hitAction
	message string // rendered logpoint output
	dapID   int
}

// fileKey normalizes a client path for registry keying.
func fileKey(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// baseName is the simple file name classes report for their source.
func baseName(p string) string {
	return path.Base(fileKey(p))
}

// SetBreakpoints replaces the breakpoints for one source file. Specs whose
// class is not loaded yet come back unverified and are installed
// retroactively on class-prepare.
func (d *Debugger) SetBreakpoints(ctx context.Context, source string, specs []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, apperrors.MissingParameter("source.path")
	}
	key := fileKey(source)

	prev := d.srcRequested[key]
	for _, p := range prev {
		p.reused = false
	}
	next := make([]*requestedSourceBreakpoint, 0, len(specs))
	for _, spec := range specs {
		resolved := d.lineMapper.ResolveLine(source, spec.Line)
		req := d.reuseSourceID(prev, spec.Line)
		req.Line = spec.Line
		req.ResolvedLine = resolved
		req.Condition = spec.Condition
		req.HitCondition = spec.HitCondition
		req.LogMessage = spec.LogMessage
		req.Verified = false
		req.Message = ""
		next = append(next, req)
	}
	d.srcRequested[key] = next

	if err := d.installSourceBreakpoints(ctx, key); err != nil {
		return nil, err
	}

	out := make([]dap.Breakpoint, 0, len(next))
	for _, req := range next {
		out = append(out, req.toDAP())
	}
	return out, nil
}

// reuseSourceID finds the previous request for the same line so the stable
// id carries over, or allocates a fresh one.
func (d *Debugger) reuseSourceID(prev []*requestedSourceBreakpoint, line int) *requestedSourceBreakpoint {
	for _, p := range prev {
		if p.Line == line && !p.reused {
			p.reused = true
			return p
		}
	}
	d.nextBreakpointID++
	return &requestedSourceBreakpoint{ID: d.nextBreakpointID}
}

func (r *requestedSourceBreakpoint) toDAP() dap.Breakpoint {
	bp := dap.Breakpoint{
		Id:       r.ID,
		Verified: r.Verified,
		Message:  r.Message,
	}
	if r.Verified {
		bp.Line = r.BoundLine
	} else {
		bp.Line = r.Line
	}
	return bp
}

// installSourceBreakpoints clears this file's wire requests and reinstalls
// them against every loaded class whose source matches. Runs both on
// setBreakpoints and on class-prepare.
func (d *Debugger) installSourceBreakpoints(ctx context.Context, key string) error {
	for _, reqID := range d.srcInstalled[key] {
		if err := d.conn.ClearEventRequest(ctx, jdwp.KindBreakpoint, reqID); err != nil && !jdwp.IsTerminal(err) {
			d.logger.Debug("clear breakpoint request failed", "request", reqID, "err", err)
		}
		delete(d.bpMeta, reqID)
	}
	d.srcInstalled[key] = nil
	delete(d.pendingSrc, key)

	classes, err := d.classesForSource(ctx, baseName(key))
	if err != nil {
		return err
	}

	requested := d.srcRequested[key]
	if len(classes) == 0 {
		pending := make(map[int]bool, len(requested))
		for _, req := range requested {
			req.Verified = false
			req.Message = "class not loaded yet"
			pending[req.ID] = true
		}
		if len(pending) > 0 {
			d.pendingSrc[key] = pending
		}
		return nil
	}

	pending := make(map[int]bool)
	for _, req := range requested {
		bindings, err := d.bindLine(ctx, classes, req.ResolvedLine)
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			req.Verified = false
			req.Message = fmt.Sprintf("no executable code at or before line %d", req.ResolvedLine)
			pending[req.ID] = true
			continue
		}
		policy := jdwp.SuspendEventThread
		if req.LogMessage != "" {
			// Logpoints never pause the program.
			policy = jdwp.SuspendNone
		}
		installed := 0
		for _, b := range bindings {
			loc := jdwp.Location{TypeTag: jdwp.TypeClass, Class: b.class, Method: b.method.ID, Index: b.index}
			reqID, err := d.conn.SetEventRequest(ctx, jdwp.KindBreakpoint, policy, jdwp.LocationOnlyModifier(loc))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Warn("breakpoint install failed", "line", b.line, "err", err)
				continue
			}
			d.srcInstalled[key] = append(d.srcInstalled[key], reqID)
			d.bpMeta[reqID] = &breakpointMeta{
				dapID:        req.ID,
				condition:    req.Condition,
				hitCondition: req.HitCondition,
				logSegments:  parseLogTemplate(req.LogMessage),
				logpoint:     req.LogMessage != "",
			}
			installed++
			req.BoundLine = b.line
		}
		if installed > 0 {
			req.Verified = true
			req.Message = ""
		} else {
			req.Verified = false
			req.Message = "breakpoint could not be installed"
			pending[req.ID] = true
		}
	}
	if len(pending) > 0 {
		d.pendingSrc[key] = pending
	}
	return nil
}

// lineBinding is one wire install site for a requested line.
type lineBinding struct {
	class  jdwp.ReferenceTypeID
	method jdwp.MethodInfo
	index  uint64
	line   int
}

// bindLine finds, across the given classes, the nearest executable line
// at or before want, and returns one install site per matching class.
// Within a class, ties prefer regular methods over synthetic/lambda ones,
// then the lowest code index, then the lowest method id.
func (d *Debugger) bindLine(ctx context.Context, classes []jdwp.ReferenceTypeID, want int) ([]lineBinding, error) {
	type candidate struct {
		lineBinding
		synthetic bool
	}
	var all []candidate
	bestLine := -1
	for _, class := range classes {
		methods, err := d.methodsOf(ctx, class)
		if err != nil {
			return nil, err
		}
		for _, m := range methods {
			if !m.HasCode() {
				continue
			}
			lt, err := d.lineTableOf(ctx, class, m.ID)
			if err != nil {
				if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
					continue
				}
				return nil, err
			}
			for _, entry := range lt.Entries {
				if entry.Line > want {
					continue
				}
				if entry.Line > bestLine {
					bestLine = entry.Line
				}
				all = append(all, candidate{
					lineBinding: lineBinding{class: class, method: m, index: entry.Index, line: entry.Line},
					synthetic:   m.IsSynthetic() || strings.HasPrefix(m.Name, "lambda$"),
				})
			}
		}
	}
	if bestLine < 0 {
		return nil, nil
	}

	best := make(map[jdwp.ReferenceTypeID]candidate)
	for _, c := range all {
		if c.line != bestLine {
			continue
		}
		cur, ok := best[c.class]
		if !ok || betterCandidate(c.synthetic, c.index, uint64(c.method.ID), cur.synthetic, cur.index, uint64(cur.method.ID)) {
			best[c.class] = c
		}
	}
	out := make([]lineBinding, 0, len(best))
	for _, c := range best {
		out = append(out, c.lineBinding)
	}
	return out, nil
}

// betterCandidate applies the method tie-break ordering.
func betterCandidate(synthA bool, idxA, methA uint64, synthB bool, idxB, methB uint64) bool {
	if synthA != synthB {
		return !synthA
	}
	if idxA != idxB {
		return idxA < idxB
	}
	return methA < methB
}

// classesForSource lists loaded classes whose recorded source file matches.
func (d *Debugger) classesForSource(ctx context.Context, base string) ([]jdwp.ReferenceTypeID, error) {
	var out []jdwp.ReferenceTypeID
	for ref := range d.classes {
		src, err := d.sourceFileOf(ctx, ref)
		if err != nil {
			if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
				continue
			}
			return nil, err
		}
		if src == base {
			out = append(out, ref)
		}
	}
	return out, nil
}

// SetFunctionBreakpoints replaces all function breakpoints. Names must be
// qualified Class.method; a name whose class is not loaded yet stays
// unverified and is installed retroactively on class-prepare.
func (d *Debugger) SetFunctionBreakpoints(ctx context.Context, specs []dap.FunctionBreakpoint) ([]dap.Breakpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev := d.fnRequested
	for _, p := range prev {
		p.reused = false
	}
	next := make([]*requestedFunctionBreakpoint, 0, len(specs))
	for _, spec := range specs {
		req := d.reuseFunctionID(prev, spec.Name)
		req.Name = spec.Name
		req.Condition = spec.Condition
		req.HitCondition = spec.HitCondition
		req.Verified = false
		req.Message = ""
		next = append(next, req)
	}
	d.fnRequested = next

	if err := d.installFunctionBreakpoints(ctx); err != nil {
		return nil, err
	}

	out := make([]dap.Breakpoint, 0, len(next))
	for _, req := range next {
		out = append(out, dap.Breakpoint{Id: req.ID, Verified: req.Verified, Message: req.Message})
	}
	return out, nil
}

func (d *Debugger) reuseFunctionID(prev []*requestedFunctionBreakpoint, name string) *requestedFunctionBreakpoint {
	for _, p := range prev {
		if p.Name == name && !p.reused {
			p.reused = true
			return p
		}
	}
	d.nextBreakpointID++
	return &requestedFunctionBreakpoint{ID: d.nextBreakpointID}
}

// installFunctionBreakpoints clears and reinstalls every function
// breakpoint against currently loaded classes.
func (d *Debugger) installFunctionBreakpoints(ctx context.Context) error {
	for _, reqID := range d.fnInstalled {
		if err := d.conn.ClearEventRequest(ctx, jdwp.KindBreakpoint, reqID); err != nil && !jdwp.IsTerminal(err) {
			d.logger.Debug("clear function breakpoint failed", "request", reqID, "err", err)
		}
		delete(d.bpMeta, reqID)
	}
	d.fnInstalled = nil
	d.pendingFn = make(map[int]bool)

	for _, req := range d.fnRequested {
		className, methodName, ok := splitQualifiedName(req.Name)
		if !ok {
			req.Message = "use Class.method"
			continue
		}
		sig := signatureForClassName(className)
		installed := 0
		for ref, info := range d.classes {
			if info.Signature != sig {
				continue
			}
			methods, err := d.methodsOf(ctx, ref)
			if err != nil {
				return err
			}
			for _, m := range methods {
				if m.Name != methodName || !m.HasCode() {
					continue
				}
				lt, err := d.lineTableOf(ctx, ref, m.ID)
				if err != nil {
					if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
						continue
					}
					return err
				}
				loc := jdwp.Location{TypeTag: jdwp.TypeClass, Class: ref, Method: m.ID, Index: lt.Start}
				reqID, err := d.conn.SetEventRequest(ctx, jdwp.KindBreakpoint, jdwp.SuspendEventThread, jdwp.LocationOnlyModifier(loc))
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					d.logger.Warn("function breakpoint install failed", "name", req.Name, "err", err)
					continue
				}
				d.fnInstalled = append(d.fnInstalled, reqID)
				d.bpMeta[reqID] = &breakpointMeta{
					dapID:        req.ID,
					condition:    req.Condition,
					hitCondition: req.HitCondition,
				}
				installed++
			}
		}
		if installed > 0 {
			req.Verified = true
			req.Message = ""
		} else {
			req.Verified = false
			req.Message = "class not loaded yet"
			d.pendingFn[req.ID] = true
		}
	}
	return nil
}

// splitQualifiedName splits com.example.Foo.bar into class and method.
func splitQualifiedName(name string) (string, string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// signatureForClassName turns com.example.Foo into Lcom/example/Foo;.
func signatureForClassName(name string) string {
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}

// handleBreakpointHit decides what a breakpoint hit does: stop, silently
// continue, or emit a logpoint message. Evaluation failures fall back to
// the safer per-feature behavior: stop for breakpoints, continue for
// logpoints.
func (d *Debugger) handleBreakpointHit(ctx context.Context, reqID jdwp.EventRequestID, thread jdwp.ThreadID, loc jdwp.Location) (hitOutcome, error) {
	meta, ok := d.bpMeta[reqID]
	if !ok {
		return hitOutcome{action: hitStop}, nil
	}
	meta.hitCount++

	fallback := hitOutcome{action: hitStop, dapID: meta.dapID}
	if meta.logpoint {
		fallback.action = hitContinue
	}

	if meta.hitCondition != "" {
		hc, err := parseHitCondition(meta.hitCondition)
		if err != nil {
			return fallback, nil
		}
		if !hc.matches(meta.hitCount) {
			return hitOutcome{action: hitContinue, dapID: meta.dapID}, nil
		}
	}

	var cond condition
	var condErr error
	haveCond := meta.condition != ""
	if haveCond {
		cond, condErr = parseCondition(meta.condition)
		if condErr != nil {
			return fallback, nil
		}
	}

	refs := templateRefs(meta.logSegments)
	needLocals := (haveCond && cond.needsLocals()) || len(refs) > 0

	var locals map[string]jdwp.Value
	if needLocals {
		fr, err := d.topFrame(ctx, thread, loc)
		if err != nil {
			if ctx.Err() != nil {
				return hitOutcome{}, ctx.Err()
			}
			return fallback, nil
		}
		locals, err = d.localsSnapshot(ctx, fr)
		if err != nil {
			if ctx.Err() != nil {
				return hitOutcome{}, ctx.Err()
			}
			return fallback, nil
		}
	}

	if haveCond && !evalCondition(cond, locals) {
		return hitOutcome{action: hitContinue, dapID: meta.dapID}, nil
	}

	if meta.logpoint {
		msg, err := d.renderLogMessage(ctx, meta.logSegments, locals)
		if err != nil {
			if ctx.Err() != nil {
				return hitOutcome{}, ctx.Err()
			}
			return fallback, nil
		}
		return hitOutcome{action: hitLog, message: msg, dapID: meta.dapID}, nil
	}
	return hitOutcome{action: hitStop, dapID: meta.dapID}, nil
}

// topFrame fetches the top frame of a just-stopped thread.
func (d *Debugger) topFrame(ctx context.Context, thread jdwp.ThreadID, loc jdwp.Location) (frameRef, error) {
	frames, err := d.conn.ThreadFrames(ctx, thread, 0, 1)
	if err != nil {
		return frameRef{}, err
	}
	if len(frames) == 0 {
		return frameRef{}, fmt.Errorf("thread %d has no frames", thread)
	}
	fr := frameRef{Thread: thread, Frame: frames[0].ID, Location: frames[0].Location}
	if !loc.IsZero() {
		fr.Location = loc
	}
	return fr, nil
}
