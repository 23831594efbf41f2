package debugger

import (
	"context"
	"fmt"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// fakeConn is an in-memory Conn. Tests populate the maps directly and
// inspect the recorded event requests and resume calls.
type fakeConn struct {
	classes    []jdwp.ClassInfo
	signatures map[jdwp.ReferenceTypeID]string
	sources    map[jdwp.ReferenceTypeID]string
	methods    map[jdwp.ReferenceTypeID][]jdwp.MethodInfo
	fields     map[jdwp.ReferenceTypeID][]jdwp.FieldInfo
	supers     map[jdwp.ReferenceTypeID]jdwp.ReferenceTypeID
	lineTables map[jdwp.ReferenceTypeID]map[jdwp.MethodID]jdwp.LineTable
	varTables  map[jdwp.ReferenceTypeID]map[jdwp.MethodID]jdwp.VariableTable
	statics    map[jdwp.ReferenceTypeID]map[jdwp.FieldID]jdwp.Value

	objects map[jdwp.ObjectID]*fakeObject
	arrays  map[jdwp.ObjectID][]jdwp.Value
	strings map[jdwp.ObjectID]string

	threads    map[jdwp.ThreadID]*fakeThread
	frameSlots map[jdwp.FrameID]map[int32]jdwp.Value
	frameThis  map[jdwp.FrameID]jdwp.TaggedObjectID

	caps jdwp.Capabilities

	nextRequestID jdwp.EventRequestID
	requests      map[jdwp.EventRequestID]fakeRequest
	// requestErr, when set, fails the next SetEventRequest once.
	requestErr error

	resumedThreads []jdwp.ThreadID
	resumedAll     int
	suspendedAll   int
	nextObjectID   jdwp.ObjectID
	closed         bool
}

type fakeObject struct {
	ref    jdwp.ReferenceTypeID
	tag    jdwp.Tag
	values map[jdwp.FieldID]jdwp.Value
}

type fakeThread struct {
	name   string
	frames []jdwp.FrameInfo
}

type fakeRequest struct {
	kind   jdwp.EventKind
	policy jdwp.SuspendPolicy
	mods   []jdwp.EventModifier
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		signatures:   make(map[jdwp.ReferenceTypeID]string),
		sources:      make(map[jdwp.ReferenceTypeID]string),
		methods:      make(map[jdwp.ReferenceTypeID][]jdwp.MethodInfo),
		fields:       make(map[jdwp.ReferenceTypeID][]jdwp.FieldInfo),
		supers:       make(map[jdwp.ReferenceTypeID]jdwp.ReferenceTypeID),
		lineTables:   make(map[jdwp.ReferenceTypeID]map[jdwp.MethodID]jdwp.LineTable),
		varTables:    make(map[jdwp.ReferenceTypeID]map[jdwp.MethodID]jdwp.VariableTable),
		statics:      make(map[jdwp.ReferenceTypeID]map[jdwp.FieldID]jdwp.Value),
		objects:      make(map[jdwp.ObjectID]*fakeObject),
		arrays:       make(map[jdwp.ObjectID][]jdwp.Value),
		strings:      make(map[jdwp.ObjectID]string),
		threads:      make(map[jdwp.ThreadID]*fakeThread),
		frameSlots:   make(map[jdwp.FrameID]map[int32]jdwp.Value),
		frameThis:    make(map[jdwp.FrameID]jdwp.TaggedObjectID),
		requests:     make(map[jdwp.EventRequestID]fakeRequest),
		nextObjectID: 1000,
	}
}

// requestsOfKind lists live requests of one event kind.
func (f *fakeConn) requestsOfKind(kind jdwp.EventKind) []fakeRequest {
	var out []fakeRequest
	for _, r := range f.requests {
		if r.kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func wireErr(code jdwp.ErrorCode) error {
	return &jdwp.Error{Code: code}
}

func (f *fakeConn) AllClasses(ctx context.Context) ([]jdwp.ClassInfo, error) {
	return f.classes, nil
}

func (f *fakeConn) AllThreads(ctx context.Context) ([]jdwp.ThreadID, error) {
	var out []jdwp.ThreadID
	for id := range f.threads {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeConn) Suspend(ctx context.Context) error {
	f.suspendedAll++
	return nil
}

func (f *fakeConn) Resume(ctx context.Context) error {
	f.resumedAll++
	return nil
}

func (f *fakeConn) Dispose(ctx context.Context) error { return nil }

func (f *fakeConn) Exit(ctx context.Context, code int32) error { return nil }

func (f *fakeConn) CreateString(ctx context.Context, s string) (jdwp.ObjectID, error) {
	f.nextObjectID++
	id := f.nextObjectID
	f.strings[id] = s
	f.objects[id] = &fakeObject{tag: jdwp.TagString}
	return id, nil
}

func (f *fakeConn) Capabilities(ctx context.Context) (jdwp.Capabilities, error) {
	return f.caps, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConn) Signature(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error) {
	if sig, ok := f.signatures[ref]; ok {
		return sig, nil
	}
	return "", wireErr(jdwp.ErrInvalidObject)
}

func (f *fakeConn) SourceFile(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error) {
	if src, ok := f.sources[ref]; ok {
		return src, nil
	}
	return "", wireErr(jdwp.ErrAbsentInformation)
}

func (f *fakeConn) Methods(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error) {
	return f.methods[ref], nil
}

func (f *fakeConn) Fields(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error) {
	return f.fields[ref], nil
}

func (f *fakeConn) Superclass(ctx context.Context, class jdwp.ReferenceTypeID) (jdwp.ReferenceTypeID, error) {
	return f.supers[class], nil
}

func (f *fakeConn) LineTable(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.LineTable, error) {
	if lt, ok := f.lineTables[ref][method]; ok {
		return lt, nil
	}
	return jdwp.LineTable{}, wireErr(jdwp.ErrAbsentInformation)
}

func (f *fakeConn) VariableTable(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.VariableTable, error) {
	if vt, ok := f.varTables[ref][method]; ok {
		return vt, nil
	}
	return jdwp.VariableTable{}, wireErr(jdwp.ErrAbsentInformation)
}

func (f *fakeConn) StaticValues(ctx context.Context, ref jdwp.ReferenceTypeID, fields []jdwp.FieldID) ([]jdwp.Value, error) {
	out := make([]jdwp.Value, 0, len(fields))
	for _, id := range fields {
		out = append(out, f.statics[ref][id])
	}
	return out, nil
}

func (f *fakeConn) SetStaticValues(ctx context.Context, class jdwp.ReferenceTypeID, assignments []jdwp.FieldAssignment) error {
	for _, a := range assignments {
		if f.statics[class] == nil {
			f.statics[class] = make(map[jdwp.FieldID]jdwp.Value)
		}
		f.statics[class][a.Field] = a.Value
	}
	return nil
}

func (f *fakeConn) ThreadName(ctx context.Context, thread jdwp.ThreadID) (string, error) {
	if t, ok := f.threads[thread]; ok {
		return t.name, nil
	}
	return "", wireErr(jdwp.ErrInvalidThread)
}

func (f *fakeConn) ResumeThread(ctx context.Context, thread jdwp.ThreadID) error {
	f.resumedThreads = append(f.resumedThreads, thread)
	return nil
}

func (f *fakeConn) SuspendThread(ctx context.Context, thread jdwp.ThreadID) error { return nil }

func (f *fakeConn) ThreadFrames(ctx context.Context, thread jdwp.ThreadID, start, count int) ([]jdwp.FrameInfo, error) {
	t, ok := f.threads[thread]
	if !ok {
		return nil, wireErr(jdwp.ErrInvalidThread)
	}
	if start >= len(t.frames) {
		return nil, nil
	}
	end := start + count
	if end > len(t.frames) {
		end = len(t.frames)
	}
	return t.frames[start:end], nil
}

func (f *fakeConn) ThreadFrameCount(ctx context.Context, thread jdwp.ThreadID) (int, error) {
	t, ok := f.threads[thread]
	if !ok {
		return 0, wireErr(jdwp.ErrInvalidThread)
	}
	return len(t.frames), nil
}

func (f *fakeConn) FrameValues(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID, slots []jdwp.SlotRequest) ([]jdwp.Value, error) {
	vals := f.frameSlots[frame]
	out := make([]jdwp.Value, 0, len(slots))
	for _, s := range slots {
		v, ok := vals[s.Slot]
		if !ok {
			return nil, wireErr(jdwp.ErrInvalidFrameID)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeConn) SetFrameValues(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID, assignments []jdwp.SlotAssignment) error {
	for _, a := range assignments {
		if f.frameSlots[frame] == nil {
			f.frameSlots[frame] = make(map[int32]jdwp.Value)
		}
		f.frameSlots[frame][a.Slot] = a.Value
	}
	return nil
}

func (f *fakeConn) FrameThis(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID) (jdwp.TaggedObjectID, error) {
	return f.frameThis[frame], nil
}

func (f *fakeConn) ObjectType(ctx context.Context, object jdwp.ObjectID) (jdwp.TypeTag, jdwp.ReferenceTypeID, error) {
	o, ok := f.objects[object]
	if !ok {
		return 0, 0, wireErr(jdwp.ErrInvalidObject)
	}
	return jdwp.TypeClass, o.ref, nil
}

func (f *fakeConn) ObjectValues(ctx context.Context, object jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.Value, error) {
	o, ok := f.objects[object]
	if !ok {
		return nil, wireErr(jdwp.ErrInvalidObject)
	}
	out := make([]jdwp.Value, 0, len(fields))
	for _, id := range fields {
		v, ok := o.values[id]
		if !ok {
			return nil, fmt.Errorf("field %d not set on object %d", id, object)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeConn) SetObjectValues(ctx context.Context, object jdwp.ObjectID, assignments []jdwp.FieldAssignment) error {
	o, ok := f.objects[object]
	if !ok {
		return wireErr(jdwp.ErrInvalidObject)
	}
	for _, a := range assignments {
		if o.values == nil {
			o.values = make(map[jdwp.FieldID]jdwp.Value)
		}
		o.values[a.Field] = a.Value
	}
	return nil
}

func (f *fakeConn) ArrayLength(ctx context.Context, array jdwp.ObjectID) (int, error) {
	elems, ok := f.arrays[array]
	if !ok {
		return 0, wireErr(jdwp.ErrInvalidObject)
	}
	return len(elems), nil
}

func (f *fakeConn) ArrayValues(ctx context.Context, array jdwp.ObjectID, first, count int) ([]jdwp.Value, error) {
	elems, ok := f.arrays[array]
	if !ok {
		return nil, wireErr(jdwp.ErrInvalidObject)
	}
	if first < 0 || first+count > len(elems) {
		return nil, wireErr(jdwp.ErrInvalidIndex)
	}
	return elems[first : first+count], nil
}

func (f *fakeConn) SetArrayValues(ctx context.Context, array jdwp.ObjectID, first int, values []jdwp.Value) error {
	elems, ok := f.arrays[array]
	if !ok {
		return wireErr(jdwp.ErrInvalidObject)
	}
	if first < 0 || first+len(values) > len(elems) {
		return wireErr(jdwp.ErrInvalidIndex)
	}
	copy(elems[first:], values)
	return nil
}

func (f *fakeConn) StringValue(ctx context.Context, object jdwp.ObjectID) (string, error) {
	if s, ok := f.strings[object]; ok {
		return s, nil
	}
	return "", wireErr(jdwp.ErrInvalidObject)
}

func (f *fakeConn) IsCollected(ctx context.Context, object jdwp.ObjectID) (bool, error) {
	_, ok := f.objects[object]
	return !ok, nil
}

func (f *fakeConn) DisableCollection(ctx context.Context, object jdwp.ObjectID) error { return nil }

func (f *fakeConn) EnableCollection(ctx context.Context, object jdwp.ObjectID) error { return nil }

func (f *fakeConn) SetEventRequest(ctx context.Context, kind jdwp.EventKind, policy jdwp.SuspendPolicy, mods ...jdwp.EventModifier) (jdwp.EventRequestID, error) {
	if f.requestErr != nil {
		err := f.requestErr
		f.requestErr = nil
		return 0, err
	}
	f.nextRequestID++
	f.requests[f.nextRequestID] = fakeRequest{kind: kind, policy: policy, mods: mods}
	return f.nextRequestID, nil
}

func (f *fakeConn) ClearEventRequest(ctx context.Context, kind jdwp.EventKind, id jdwp.EventRequestID) error {
	delete(f.requests, id)
	return nil
}
