package debugger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-dap"
	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/novaide/nova-debug/internal/errors"
	"github.com/novaide/nova-debug/internal/jdwp"
)

// scopeRefBase offsets scope references above object registry handles so
// both share the DAP variablesReference space without colliding. Registry
// handles are sequential from 1 and a session never tracks anywhere near
// 16M objects.
const scopeRefBase = 1 << 24

// metaCacheSize bounds per-class metadata retention.
const metaCacheSize = 512

// frameRef identifies one frame of a stopped thread.
type frameRef struct {
	Thread   jdwp.ThreadID
	Frame    jdwp.FrameID
	Location jdwp.Location
}

// frameKey is the identity the frame handle table interns on.
type frameKey struct {
	Thread jdwp.ThreadID
	Frame  jdwp.FrameID
}

type scopeKind int

const (
	scopeLocals scopeKind = iota
	scopeStatics
)

// scopeKey is the identity the scope handle table interns on.
type scopeKey struct {
	Frame frameKey
	Kind  scopeKind
}

type scopeEntry struct {
	fr   frameRef
	kind scopeKind
}

// Options configures a Debugger.
type Options struct {
	// Conn uses an already-open connection instead of dialing. Tests use
	// this; production goes through Dialer.
	Conn   Conn
	Dialer Dialer

	Logger      *slog.Logger
	LineMapper  LineMapper
	StepTargets StepTargetEnumerator

	// Address is the attach target, used in error messages only.
	Address string

	// AttachTimeout and AttachRetryBase shape the attach retry policy.
	AttachTimeout   time.Duration
	AttachRetryBase time.Duration

	// PageSize caps children per variables request.
	PageSize int

	// BreakOnUncaught installs an uncaught-exception break on attach.
	BreakOnUncaught bool
}

// Debugger is the adapter core: all session state behind the DAP surface.
// It is not safe for concurrent use; see the package comment.
type Debugger struct {
	conn     Conn
	dialer   Dialer
	logger   *slog.Logger
	registry ObjectRegistry

	lineMapper  LineMapper
	stepTargets StepTargetEnumerator

	addr            string
	attachTimeout   time.Duration
	attachRetryBase time.Duration
	pageSize        int
	breakOnUncaught bool

	caps                 jdwp.Capabilities
	instanceFilterBroken bool
	vmDead               bool

	classes   map[jdwp.ReferenceTypeID]jdwp.ClassInfo
	metaCache *lru.Cache[jdwp.ReferenceTypeID, *classMeta]

	frames    *handleTable[frameKey, frameRef]
	varScopes *handleTable[scopeKey, scopeEntry]
	stops     *stopTracker

	activeSteps      map[jdwp.ThreadID]*activeStep
	smartSteps       map[jdwp.ThreadID]*smartStepState
	methodExitValues map[jdwp.ThreadID]jdwp.Value

	stepTargetsByID  map[int]stepTarget
	nextStepTargetID int

	bpMeta           map[jdwp.EventRequestID]*breakpointMeta
	srcRequested     map[string][]*requestedSourceBreakpoint
	srcInstalled     map[string][]jdwp.EventRequestID
	pendingSrc       map[string]map[int]bool
	fnRequested      []*requestedFunctionBreakpoint
	fnInstalled      []jdwp.EventRequestID
	pendingFn        map[int]bool
	watchInstalled   []watchInstall
	nextBreakpointID int

	updates []dap.Message
}

// New builds a Debugger. Attach must run before any other method.
func New(opts Options) *Debugger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lineMapper := opts.LineMapper
	if lineMapper == nil {
		lineMapper = IdentityLineMapper{}
	}
	stepTargets := opts.StepTargets
	if stepTargets == nil {
		stepTargets = NewSourceScanner()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 256
	}
	cache, _ := lru.New[jdwp.ReferenceTypeID, *classMeta](metaCacheSize)

	return &Debugger{
		conn:             opts.Conn,
		dialer:           opts.Dialer,
		logger:           logger,
		lineMapper:       lineMapper,
		stepTargets:      stepTargets,
		addr:             opts.Address,
		attachTimeout:    opts.AttachTimeout,
		attachRetryBase:  opts.AttachRetryBase,
		pageSize:         pageSize,
		breakOnUncaught:  opts.BreakOnUncaught,
		classes:          make(map[jdwp.ReferenceTypeID]jdwp.ClassInfo),
		metaCache:        cache,
		frames:           newHandleTable[frameKey, frameRef](),
		varScopes:        newHandleTable[scopeKey, scopeEntry](),
		stops:            newStopTracker(),
		activeSteps:      make(map[jdwp.ThreadID]*activeStep),
		smartSteps:       make(map[jdwp.ThreadID]*smartStepState),
		methodExitValues: make(map[jdwp.ThreadID]jdwp.Value),
		stepTargetsByID:  make(map[int]stepTarget),
		bpMeta:           make(map[jdwp.EventRequestID]*breakpointMeta),
		srcRequested:     make(map[string][]*requestedSourceBreakpoint),
		srcInstalled:     make(map[string][]jdwp.EventRequestID),
		pendingSrc:       make(map[string]map[int]bool),
		pendingFn:        make(map[int]bool),
	}
}

// Attach connects to the target VM, retrying refused connections with
// exponential backoff, then seeds session state: capabilities, the loaded
// class list, a class-prepare subscription, and optionally an
// uncaught-exception break.
func (d *Debugger) Attach(ctx context.Context) error {
	if d.conn == nil {
		if d.dialer == nil {
			return apperrors.New(apperrors.CodeAttachFailed, "no connection and no dialer configured")
		}
		policy := backoff.NewExponentialBackOff()
		if d.attachRetryBase > 0 {
			policy.InitialInterval = d.attachRetryBase
		}
		if d.attachTimeout > 0 {
			policy.MaxElapsedTime = d.attachTimeout
		}
		err := backoff.Retry(func() error {
			conn, err := d.dialer(ctx)
			if err != nil {
				if jdwp.Retryable(err) {
					d.logger.Debug("attach attempt failed, retrying", "addr", d.addr, "err", err)
					return err
				}
				return backoff.Permanent(err)
			}
			d.conn = conn
			return nil
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			return apperrors.AttachFailed(d.addr, err)
		}
	}

	d.registry = NewObjectRegistry(d.conn, d.logger)

	caps, err := d.conn.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("query capabilities: %w", err)
	}
	d.caps = caps

	classes, err := d.conn.AllClasses(ctx)
	if err != nil {
		return fmt.Errorf("list classes: %w", err)
	}
	for _, c := range classes {
		d.classes[c.Type] = c
	}

	// Class prepares suspend the preparing thread so late breakpoints can
	// be installed before the class runs.
	if _, err := d.conn.SetEventRequest(ctx, jdwp.KindClassPrepare, jdwp.SuspendEventThread); err != nil {
		return fmt.Errorf("subscribe class prepare: %w", err)
	}

	if d.breakOnUncaught {
		mod := jdwp.ExceptionOnlyModifier{Uncaught: true}
		if _, err := d.conn.SetEventRequest(ctx, jdwp.KindException, jdwp.SuspendEventThread, mod); err != nil {
			d.logger.Warn("uncaught exception break unavailable", "err", err)
		}
	}

	d.logger.Info("attached", "addr", d.addr, "classes", len(classes))
	return nil
}

// Disconnect releases pinned objects and detaches. Terminal wire errors are
// expected here (the VM may already be gone) and are not reported.
func (d *Debugger) Disconnect(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	if d.registry != nil && !d.vmDead {
		d.registry.ReleaseAll(ctx)
	}
	if !d.vmDead {
		if err := d.conn.Dispose(ctx); err != nil && !jdwp.IsTerminal(err) {
			d.logger.Warn("dispose failed", "err", err)
		}
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil && !jdwp.IsTerminal(err) {
		return err
	}
	return nil
}

// Attached reports whether a session is live.
func (d *Debugger) Attached() bool {
	return d.conn != nil && !d.vmDead
}

// requireAttached reports why the session cannot serve a request, or nil.
func (d *Debugger) requireAttached() error {
	if d.vmDead {
		return apperrors.SessionTerminated()
	}
	if d.conn == nil {
		return apperrors.NotAttached()
	}
	return nil
}

// invalidateHandles drops every frame handle, scope handle, and step target.
// Runs whenever any thread resumes or stops: frames and scopes are only
// meaningful within one uninterrupted stop.
func (d *Debugger) invalidateHandles() {
	d.frames.Clear()
	d.varScopes.Clear()
	d.clearStepTargets()
}

func errStaleFrame(handle int) error {
	return apperrors.StaleHandle("frame", handle)
}

// mustSignature is signatureOf with failures degraded to empty.
func (d *Debugger) mustSignature(ctx context.Context, ref jdwp.ReferenceTypeID) string {
	sig, err := d.signatureOf(ctx, ref)
	if err != nil {
		return ""
	}
	return sig
}

// classMeta caches immutable per-class metadata. Line and variable tables
// are keyed by method; class-level entries are fetched once.
type classMeta struct {
	signature  string
	sourceFile string
	methods    []jdwp.MethodInfo
	fields     []jdwp.FieldInfo
	super      jdwp.ReferenceTypeID

	haveSignature  bool
	haveSourceFile bool
	haveMethods    bool
	haveFields     bool
	haveSuper      bool

	lineTables map[jdwp.MethodID]jdwp.LineTable
	varTables  map[jdwp.MethodID]jdwp.VariableTable
}

func (d *Debugger) metaFor(ref jdwp.ReferenceTypeID) *classMeta {
	if m, ok := d.metaCache.Get(ref); ok {
		return m
	}
	m := &classMeta{
		lineTables: make(map[jdwp.MethodID]jdwp.LineTable),
		varTables:  make(map[jdwp.MethodID]jdwp.VariableTable),
	}
	d.metaCache.Add(ref, m)
	return m
}

func (d *Debugger) signatureOf(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error) {
	if info, ok := d.classes[ref]; ok && info.Signature != "" {
		return info.Signature, nil
	}
	m := d.metaFor(ref)
	if m.haveSignature {
		return m.signature, nil
	}
	sig, err := d.conn.Signature(ctx, ref)
	if err != nil {
		return "", err
	}
	m.signature = sig
	m.haveSignature = true
	return sig, nil
}

func (d *Debugger) sourceFileOf(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error) {
	m := d.metaFor(ref)
	if m.haveSourceFile {
		return m.sourceFile, nil
	}
	src, err := d.conn.SourceFile(ctx, ref)
	if err != nil {
		return "", err
	}
	m.sourceFile = src
	m.haveSourceFile = true
	return src, nil
}

func (d *Debugger) methodsOf(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error) {
	m := d.metaFor(ref)
	if m.haveMethods {
		return m.methods, nil
	}
	methods, err := d.conn.Methods(ctx, ref)
	if err != nil {
		return nil, err
	}
	m.methods = methods
	m.haveMethods = true
	return methods, nil
}

func (d *Debugger) fieldsOf(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error) {
	m := d.metaFor(ref)
	if m.haveFields {
		return m.fields, nil
	}
	fields, err := d.conn.Fields(ctx, ref)
	if err != nil {
		return nil, err
	}
	m.fields = fields
	m.haveFields = true
	return fields, nil
}

func (d *Debugger) superOf(ctx context.Context, ref jdwp.ReferenceTypeID) (jdwp.ReferenceTypeID, error) {
	m := d.metaFor(ref)
	if m.haveSuper {
		return m.super, nil
	}
	super, err := d.conn.Superclass(ctx, ref)
	if err != nil {
		// Interfaces have no superclass; treat as the end of the chain.
		if jdwp.IsCode(err, jdwp.ErrInvalidObject) {
			super = 0
		} else {
			return 0, err
		}
	}
	m.super = super
	m.haveSuper = true
	return super, nil
}

func (d *Debugger) lineTableOf(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.LineTable, error) {
	m := d.metaFor(ref)
	if lt, ok := m.lineTables[method]; ok {
		return lt, nil
	}
	lt, err := d.conn.LineTable(ctx, ref, method)
	if err != nil {
		return jdwp.LineTable{}, err
	}
	m.lineTables[method] = lt
	return lt, nil
}

func (d *Debugger) variableTableOf(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.VariableTable, error) {
	m := d.metaFor(ref)
	if vt, ok := m.varTables[method]; ok {
		return vt, nil
	}
	vt, err := d.conn.VariableTable(ctx, ref, method)
	if err != nil {
		return jdwp.VariableTable{}, err
	}
	m.varTables[method] = vt
	return vt, nil
}

// Threads lists the VM's live threads.
func (d *Debugger) Threads(ctx context.Context) ([]dap.Thread, error) {
	if err := d.requireAttached(); err != nil {
		return nil, err
	}
	ids, err := d.conn.AllThreads(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dap.Thread, 0, len(ids))
	for _, id := range ids {
		name, err := d.conn.ThreadName(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			name = fmt.Sprintf("thread-%d", id)
		}
		out = append(out, dap.Thread{Id: int(id), Name: name})
	}
	return out, nil
}

// StackTrace returns a page of the stopped thread's call stack and the
// total frame count.
func (d *Debugger) StackTrace(ctx context.Context, threadID, start, levels int) ([]dap.StackFrame, int, error) {
	if err := d.requireAttached(); err != nil {
		return nil, 0, err
	}
	thread := jdwp.ThreadID(threadID)
	total, err := d.conn.ThreadFrameCount(ctx, thread)
	if err != nil {
		if jdwp.IsCode(err, jdwp.ErrInvalidThread) {
			return nil, 0, apperrors.ThreadNotStopped(threadID)
		}
		return nil, 0, err
	}
	count := levels
	if count <= 0 || start+count > total {
		count = total - start
	}
	if count <= 0 {
		return nil, total, nil
	}

	frames, err := d.conn.ThreadFrames(ctx, thread, start, count)
	if err != nil {
		return nil, 0, err
	}

	out := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		fr := frameRef{Thread: thread, Frame: f.ID, Location: f.Location}
		handle := d.frames.Intern(frameKey{Thread: thread, Frame: f.ID}, fr)

		sf := dap.StackFrame{Id: handle, Name: d.frameName(ctx, f.Location)}
		if line, err := d.lineAt(ctx, f.Location); err == nil && line > 0 {
			sf.Line = line
		}
		if path, err := d.sourcePathFor(ctx, f.Location.Class); err == nil && path != "" {
			sf.Source = &dap.Source{Name: baseName(path), Path: path}
		}
		out = append(out, sf)
	}
	return out, total, nil
}

// frameName renders Class.method for the frame header.
func (d *Debugger) frameName(ctx context.Context, loc jdwp.Location) string {
	cls := shortName(typeNameFromSignature(d.mustSignature(ctx, loc.Class)))
	method := "?"
	if methods, err := d.methodsOf(ctx, loc.Class); err == nil {
		for _, m := range methods {
			if m.ID == loc.Method {
				method = m.Name
				break
			}
		}
	}
	if cls == "" {
		return method
	}
	return cls + "." + method
}

// Scopes returns the variable scopes of one frame.
func (d *Debugger) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	if err := d.requireAttached(); err != nil {
		return nil, err
	}
	fr, ok := d.frames.Lookup(frameID)
	if !ok {
		return nil, errStaleFrame(frameID)
	}
	key := frameKey{Thread: fr.Thread, Frame: fr.Frame}
	locals := d.varScopes.Intern(scopeKey{Frame: key, Kind: scopeLocals}, scopeEntry{fr: fr, kind: scopeLocals})
	statics := d.varScopes.Intern(scopeKey{Frame: key, Kind: scopeStatics}, scopeEntry{fr: fr, kind: scopeStatics})
	return []dap.Scope{
		{Name: "Locals", VariablesReference: scopeRefBase + locals},
		{Name: "Statics", VariablesReference: scopeRefBase + statics, Expensive: true},
	}, nil
}

// namedValue is one child of a scope or object, pre-formatting.
type namedValue struct {
	name  string
	value jdwp.Value
}

// Variables lists the children of a variablesReference: a scope's
// variables or an object's fields/elements. start and count page through
// large containers; count zero means up to the configured page size.
func (d *Debugger) Variables(ctx context.Context, ref, start, count int) ([]dap.Variable, error) {
	if err := d.requireAttached(); err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, apperrors.InvalidParameter("start", "must not be negative")
	}
	if count < 0 {
		return nil, apperrors.InvalidParameter("count", "must not be negative")
	}
	if count == 0 || count > d.pageSize {
		count = d.pageSize
	}
	if ref >= scopeRefBase {
		entry, ok := d.varScopes.Lookup(ref - scopeRefBase)
		if !ok {
			return nil, apperrors.StaleHandle("scope", ref)
		}
		var children []namedValue
		var err error
		if entry.kind == scopeLocals {
			children, err = d.localsOrdered(ctx, entry.fr)
		} else {
			children, err = d.staticsOf(ctx, entry.fr.Location.Class)
		}
		if err != nil {
			return nil, err
		}
		return d.formatChildren(ctx, children, start, count)
	}

	obj, ok := d.registry.Get(ref)
	if !ok {
		return nil, apperrors.StaleHandle("variables", ref)
	}
	if obj.Invalid {
		return []dap.Variable{{Name: "<collected>", Value: "object was garbage collected"}}, nil
	}
	if obj.Tag == jdwp.TagArray {
		return d.arrayChildren(ctx, obj, ref, start, count)
	}

	children, err := d.instanceFields(ctx, obj)
	if err != nil {
		return nil, err
	}
	return d.formatChildren(ctx, children, start, count)
}

// localsOrdered lists in-scope locals in variable table order, preceded by
// "this" when the frame has one.
func (d *Debugger) localsOrdered(ctx context.Context, fr frameRef) ([]namedValue, error) {
	var out []namedValue
	if this, err := d.conn.FrameThis(ctx, fr.Thread, fr.Frame); err == nil && this.Object != 0 {
		out = append(out, namedValue{name: "this", value: jdwp.Value{Tag: this.Tag, Object: this.Object}})
	} else if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	vt, err := d.variableTableOf(ctx, fr.Location.Class, fr.Location.Method)
	if err != nil {
		if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
			return out, nil
		}
		return nil, err
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
	if len(slots) == 0 {
		return out, nil
	}
	vals, err := d.conn.FrameValues(ctx, fr.Thread, fr.Frame, slots)
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if i < len(names) {
			out = append(out, namedValue{name: names[i], value: v})
		}
	}
	return out, nil
}

// staticsOf lists the static fields declared by the frame's class.
func (d *Debugger) staticsOf(ctx context.Context, class jdwp.ReferenceTypeID) ([]namedValue, error) {
	fields, err := d.fieldsOf(ctx, class)
	if err != nil {
		return nil, err
	}
	var ids []jdwp.FieldID
	var names []string
	for _, f := range fields {
		if f.IsStatic() {
			ids = append(ids, f.ID)
			names = append(names, f.Name)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := d.conn.StaticValues(ctx, class, ids)
	if err != nil {
		return nil, err
	}
	out := make([]namedValue, 0, len(vals))
	for i, v := range vals {
		if i < len(names) {
			out = append(out, namedValue{name: names[i], value: v})
		}
	}
	return out, nil
}

// instanceFields lists an object's instance fields, superclass chain
// included, subclass fields first.
func (d *Debugger) instanceFields(ctx context.Context, obj RegisteredObject) ([]namedValue, error) {
	var out []namedValue
	ref := obj.Type
	if ref == 0 {
		_, r, err := d.conn.ObjectType(ctx, obj.Object)
		if err != nil {
			if jdwp.IsCollected(err) {
				return nil, nil
			}
			return nil, err
		}
		ref = r
	}
	for ref != 0 {
		fields, err := d.fieldsOf(ctx, ref)
		if err != nil {
			return nil, err
		}
		var ids []jdwp.FieldID
		var names []string
		for _, f := range fields {
			if !f.IsStatic() {
				ids = append(ids, f.ID)
				names = append(names, f.Name)
			}
		}
		if len(ids) > 0 {
			vals, err := d.conn.ObjectValues(ctx, obj.Object, ids)
			if err != nil {
				if jdwp.IsCollected(err) {
					return out, nil
				}
				return nil, err
			}
			for i, v := range vals {
				if i < len(names) {
					out = append(out, namedValue{name: names[i], value: v})
				}
			}
		}
		ref, err = d.superOf(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// arrayChildren pages through an array's elements.
func (d *Debugger) arrayChildren(ctx context.Context, obj RegisteredObject, handle, start, count int) ([]dap.Variable, error) {
	length, err := d.conn.ArrayLength(ctx, obj.Object)
	if err != nil {
		if jdwp.IsCollected(err) {
			d.registry.MarkCollected(handle)
			return []dap.Variable{{Name: "<collected>", Value: "array was garbage collected"}}, nil
		}
		return nil, err
	}
	if start >= length {
		return nil, nil
	}
	if start+count > length {
		count = length - start
	}
	elems, err := d.conn.ArrayValues(ctx, obj.Object, start, count)
	if err != nil {
		return nil, err
	}
	out := make([]dap.Variable, 0, len(elems))
	for i, e := range elems {
		f, err := d.formatValue(ctx, e, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, dap.Variable{
			Name:               fmt.Sprintf("[%d]", start+i),
			Value:              f.Value,
			Type:               f.Type,
			VariablesReference: f.Ref,
			IndexedVariables:   f.Indexed,
		})
	}
	return out, nil
}

func (d *Debugger) formatChildren(ctx context.Context, children []namedValue, start, count int) ([]dap.Variable, error) {
	if start >= len(children) {
		return nil, nil
	}
	end := start + count
	if end > len(children) {
		end = len(children)
	}
	out := make([]dap.Variable, 0, end-start)
	for _, c := range children[start:end] {
		f, err := d.formatValue(ctx, c.value, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, dap.Variable{
			Name:               c.name,
			Value:              f.Value,
			Type:               f.Type,
			VariablesReference: f.Ref,
			IndexedVariables:   f.Indexed,
		})
	}
	return out, nil
}

// SetVariable assigns a new value to a named child of a variablesReference
// and returns the re-read, formatted result.
func (d *Debugger) SetVariable(ctx context.Context, ref int, name, text string) (dap.Variable, error) {
	if err := d.requireAttached(); err != nil {
		return dap.Variable{}, err
	}
	newVal, err := d.assign(ctx, ref, name, text)
	if err != nil {
		return dap.Variable{}, err
	}
	f, err := d.formatValue(ctx, newVal, 1)
	if err != nil {
		return dap.Variable{}, err
	}
	return dap.Variable{
		Name:               name,
		Value:              f.Value,
		Type:               f.Type,
		VariablesReference: f.Ref,
		IndexedVariables:   f.Indexed,
	}, nil
}

func (d *Debugger) assign(ctx context.Context, ref int, name, text string) (jdwp.Value, error) {
	if ref >= scopeRefBase {
		entry, ok := d.varScopes.Lookup(ref - scopeRefBase)
		if !ok {
			return jdwp.Value{}, apperrors.StaleHandle("scope", ref)
		}
		if entry.kind == scopeStatics {
			return d.assignStatic(ctx, entry.fr.Location.Class, name, text)
		}
		return d.assignLocal(ctx, entry.fr, name, text)
	}

	obj, ok := d.registry.Get(ref)
	if !ok || obj.Invalid {
		return jdwp.Value{}, apperrors.StaleHandle("variables", ref)
	}
	if obj.Tag == jdwp.TagArray {
		return d.assignElement(ctx, obj.Object, name, text)
	}
	return d.assignField(ctx, obj, name, text)
}

func (d *Debugger) assignLocal(ctx context.Context, fr frameRef, name, text string) (jdwp.Value, error) {
	if name == "this" {
		return jdwp.Value{}, apperrors.InvalidParameter("name", "'this' is not assignable")
	}
	vt, err := d.variableTableOf(ctx, fr.Location.Class, fr.Location.Method)
	if err != nil {
		return jdwp.Value{}, err
	}
	for _, entry := range vt.Entries {
		if entry.Name != name || !entry.InScopeAt(fr.Location.Index) {
			continue
		}
		v, err := d.parseValue(ctx, entry.Signature, text)
		if err != nil {
			return jdwp.Value{}, err
		}
		err = d.conn.SetFrameValues(ctx, fr.Thread, fr.Frame, []jdwp.SlotAssignment{{Slot: entry.Slot, Value: v}})
		if err != nil {
			return jdwp.Value{}, err
		}
		return v, nil
	}
	return jdwp.Value{}, apperrors.InvalidParameter("name", fmt.Sprintf("no local named '%s' in scope", name))
}

func (d *Debugger) assignStatic(ctx context.Context, class jdwp.ReferenceTypeID, name, text string) (jdwp.Value, error) {
	fields, err := d.fieldsOf(ctx, class)
	if err != nil {
		return jdwp.Value{}, err
	}
	for _, f := range fields {
		if f.Name != name || !f.IsStatic() {
			continue
		}
		v, err := d.parseValue(ctx, f.Signature, text)
		if err != nil {
			return jdwp.Value{}, err
		}
		err = d.conn.SetStaticValues(ctx, class, []jdwp.FieldAssignment{{Field: f.ID, Value: v}})
		if err != nil {
			return jdwp.Value{}, err
		}
		return v, nil
	}
	return jdwp.Value{}, apperrors.InvalidParameter("name", fmt.Sprintf("no static field named '%s'", name))
}

func (d *Debugger) assignElement(ctx context.Context, array jdwp.ObjectID, name, text string) (jdwp.Value, error) {
	if !strings.HasPrefix(name, "[") || !strings.HasSuffix(name, "]") {
		return jdwp.Value{}, apperrors.InvalidParameter("name", "array children are addressed as [index]")
	}
	idx, err := strconv.Atoi(name[1 : len(name)-1])
	if err != nil || idx < 0 {
		return jdwp.Value{}, apperrors.InvalidParameter("name", "bad array index")
	}
	// Element type comes from the current element's tag.
	cur, err := d.conn.ArrayValues(ctx, array, idx, 1)
	if err != nil || len(cur) != 1 {
		return jdwp.Value{}, apperrors.InvalidParameter("name", fmt.Sprintf("index %d out of range", idx))
	}
	v, err := d.parseValueTag(ctx, cur[0].Tag, text)
	if err != nil {
		return jdwp.Value{}, err
	}
	if err := d.conn.SetArrayValues(ctx, array, idx, []jdwp.Value{v}); err != nil {
		return jdwp.Value{}, err
	}
	return v, nil
}

func (d *Debugger) assignField(ctx context.Context, obj RegisteredObject, name, text string) (jdwp.Value, error) {
	ref := obj.Type
	if ref == 0 {
		_, r, err := d.conn.ObjectType(ctx, obj.Object)
		if err != nil {
			return jdwp.Value{}, err
		}
		ref = r
	}
	field, declaring, err := d.findField(ctx, ref, name)
	if err != nil {
		return jdwp.Value{}, err
	}
	if declaring == 0 {
		return jdwp.Value{}, apperrors.InvalidParameter("name", fmt.Sprintf("no field named '%s'", name))
	}
	v, err := d.parseValue(ctx, field.Signature, text)
	if err != nil {
		return jdwp.Value{}, err
	}
	if field.IsStatic() {
		err = d.conn.SetStaticValues(ctx, declaring, []jdwp.FieldAssignment{{Field: field.ID, Value: v}})
	} else {
		err = d.conn.SetObjectValues(ctx, obj.Object, []jdwp.FieldAssignment{{Field: field.ID, Value: v}})
	}
	if err != nil {
		return jdwp.Value{}, err
	}
	return v, nil
}

// parseValue parses client-entered text into a wire value of the target
// signature's type.
func (d *Debugger) parseValue(ctx context.Context, sig, text string) (jdwp.Value, error) {
	if sig == "" {
		return jdwp.Value{}, apperrors.InvalidParameter("value", "target type unknown")
	}
	return d.parseValueTag(ctx, jdwp.Tag(sig[0]), text)
}

func (d *Debugger) parseValueTag(ctx context.Context, tag jdwp.Tag, text string) (jdwp.Value, error) {
	text = strings.TrimSpace(text)
	bad := func(want string) error {
		return apperrors.InvalidParameter("value", fmt.Sprintf("expected %s, got %q", want, text))
	}
	switch tag {
	case jdwp.TagBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return jdwp.Value{}, bad("boolean")
		}
		return jdwp.Value{Tag: tag, Bool: b}, nil
	case jdwp.TagByte, jdwp.TagShort, jdwp.TagInt, jdwp.TagLong:
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return jdwp.Value{}, bad("integer")
		}
		return jdwp.Value{Tag: tag, Int: n}, nil
	case jdwp.TagChar:
		r := []rune(strings.Trim(text, "'"))
		if len(r) != 1 {
			return jdwp.Value{}, bad("character")
		}
		return jdwp.Value{Tag: tag, Int: int64(r[0])}, nil
	case jdwp.TagFloat, jdwp.TagDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return jdwp.Value{}, bad("number")
		}
		return jdwp.Value{Tag: tag, Float: f}, nil
	case jdwp.TagString:
		if text == "null" {
			return jdwp.Value{Tag: tag}, nil
		}
		s := text
		if unq, err := strconv.Unquote(text); err == nil {
			s = unq
		}
		obj, err := d.conn.CreateString(ctx, s)
		if err != nil {
			return jdwp.Value{}, err
		}
		return jdwp.Value{Tag: tag, Object: obj}, nil
	}
	if tag.IsObject() {
		if text == "null" {
			return jdwp.Value{Tag: tag}, nil
		}
		return jdwp.Value{}, apperrors.InvalidParameter("value", "only 'null' can be assigned to reference types")
	}
	return jdwp.Value{}, apperrors.InvalidParameter("value", fmt.Sprintf("unsupported target type %q", string(rune(tag))))
}

// Evaluate resolves an expression in a frame and formats the result.
func (d *Debugger) Evaluate(ctx context.Context, frameID int, expression string) (dap.EvaluateResponseBody, error) {
	if err := d.requireAttached(); err != nil {
		return dap.EvaluateResponseBody{}, err
	}
	fr, ok := d.frames.Lookup(frameID)
	if !ok {
		return dap.EvaluateResponseBody{}, errStaleFrame(frameID)
	}
	res, err := d.evalExpression(ctx, expression, fr)
	if err != nil {
		return dap.EvaluateResponseBody{}, err
	}
	if !res.ok {
		// Resolution failures are results, not errors.
		return dap.EvaluateResponseBody{Result: res.failure}, nil
	}
	f, err := d.formatValue(ctx, res.value, 1)
	if err != nil {
		return dap.EvaluateResponseBody{}, err
	}
	return dap.EvaluateResponseBody{
		Result:             f.Value,
		Type:               f.Type,
		VariablesReference: f.Ref,
		IndexedVariables:   f.Indexed,
	}, nil
}

// Continue resumes the whole VM.
func (d *Debugger) Continue(ctx context.Context) error {
	if err := d.requireAttached(); err != nil {
		return err
	}
	d.invalidateHandles()
	d.stops.Clear()
	return d.conn.Resume(ctx)
}

// Pause suspends the VM and reports the requested thread as stopped. The
// returned event is what the client should receive.
func (d *Debugger) Pause(ctx context.Context, threadID int) (dap.Message, error) {
	if err := d.requireAttached(); err != nil {
		return nil, err
	}
	if err := d.conn.Suspend(ctx); err != nil {
		return nil, err
	}
	thread := jdwp.ThreadID(threadID)
	rec := &stopRecord{Reason: StopPause}
	if frames, err := d.conn.ThreadFrames(ctx, thread, 0, 1); err == nil && len(frames) > 0 {
		rec.Location = frames[0].Location
	}
	d.onStop(thread, rec)
	return &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            StopPause.DAPReason(),
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	}, nil
}

// ExceptionInfo describes the exception the thread is stopped on.
func (d *Debugger) ExceptionInfo(ctx context.Context, threadID int) (dap.ExceptionInfoResponseBody, error) {
	if err := d.requireAttached(); err != nil {
		return dap.ExceptionInfoResponseBody{}, err
	}
	rec := d.stops.Get(jdwp.ThreadID(threadID))
	if rec == nil || rec.Exception == nil {
		return dap.ExceptionInfoResponseBody{}, apperrors.Newf(apperrors.CodeInvalidParameter,
			"thread %d is not stopped on an exception", threadID)
	}
	exc := rec.Exception

	typeName := "java.lang.Throwable"
	if name, err := d.exceptionTypeName(ctx, exc.Exception); err == nil && name != "" {
		typeName = name
	}
	breakMode := "unhandled"
	if exc.Caught {
		breakMode = "always"
	}

	body := dap.ExceptionInfoResponseBody{
		ExceptionId: typeName,
		BreakMode:   dap.ExceptionBreakMode(breakMode),
		Details:     &dap.ExceptionDetails{FullTypeName: typeName},
	}
	if exc.Exception.Object != 0 {
		if msg, ok := d.exceptionMessage(ctx, exc.Exception.Object); ok {
			body.Description = msg
			body.Details.Message = msg
		}
	}
	return body, nil
}

// exceptionMessage reads Throwable.detailMessage.
func (d *Debugger) exceptionMessage(ctx context.Context, obj jdwp.ObjectID) (string, bool) {
	_, ref, err := d.conn.ObjectType(ctx, obj)
	if err != nil {
		return "", false
	}
	v, ok, err := d.fieldByName(ctx, obj, ref, "detailMessage")
	if err != nil || !ok || v.IsNull() {
		return "", false
	}
	s, err := d.conn.StringValue(ctx, v.Object)
	if err != nil {
		return "", false
	}
	return s, true
}

// StepReturnValue reports the return value recovered during the thread's
// last completed step, if any.
func (d *Debugger) StepReturnValue(thread jdwp.ThreadID) (jdwp.Value, bool) {
	rec := d.stops.Get(thread)
	if rec == nil || !rec.HasReturnValue {
		return jdwp.Value{}, false
	}
	return rec.ReturnValue, true
}
