// Package debugger implements the adapter core: it turns decoded DAP
// requests into wire-protocol calls against an attached VM and folds wire
// events back into DAP responses and events.
//
// One Debugger owns all mutable session state. It performs no internal
// locking: exactly one logical owner must drive it at a time, serializing
// HandleEvent against the request methods (see internal/dapserver).
package debugger

import (
	"context"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// Conn is the wire-protocol surface the core consumes. *jdwp.Connection
// implements it; tests substitute fakes.
type Conn interface {
	// VM-wide operations.
	AllClasses(ctx context.Context) ([]jdwp.ClassInfo, error)
	AllThreads(ctx context.Context) ([]jdwp.ThreadID, error)
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Dispose(ctx context.Context) error
	Exit(ctx context.Context, code int32) error
	CreateString(ctx context.Context, s string) (jdwp.ObjectID, error)
	Capabilities(ctx context.Context) (jdwp.Capabilities, error)
	Close() error

	// Reference type introspection.
	Signature(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error)
	SourceFile(ctx context.Context, ref jdwp.ReferenceTypeID) (string, error)
	Methods(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.MethodInfo, error)
	Fields(ctx context.Context, ref jdwp.ReferenceTypeID) ([]jdwp.FieldInfo, error)
	Superclass(ctx context.Context, class jdwp.ReferenceTypeID) (jdwp.ReferenceTypeID, error)
	LineTable(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.LineTable, error)
	VariableTable(ctx context.Context, ref jdwp.ReferenceTypeID, method jdwp.MethodID) (jdwp.VariableTable, error)
	StaticValues(ctx context.Context, ref jdwp.ReferenceTypeID, fields []jdwp.FieldID) ([]jdwp.Value, error)
	SetStaticValues(ctx context.Context, class jdwp.ReferenceTypeID, assignments []jdwp.FieldAssignment) error

	// Threads and frames.
	ThreadName(ctx context.Context, thread jdwp.ThreadID) (string, error)
	ResumeThread(ctx context.Context, thread jdwp.ThreadID) error
	SuspendThread(ctx context.Context, thread jdwp.ThreadID) error
	ThreadFrames(ctx context.Context, thread jdwp.ThreadID, start, count int) ([]jdwp.FrameInfo, error)
	ThreadFrameCount(ctx context.Context, thread jdwp.ThreadID) (int, error)
	FrameValues(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID, slots []jdwp.SlotRequest) ([]jdwp.Value, error)
	SetFrameValues(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID, assignments []jdwp.SlotAssignment) error
	FrameThis(ctx context.Context, thread jdwp.ThreadID, frame jdwp.FrameID) (jdwp.TaggedObjectID, error)

	// Objects, arrays, strings.
	ObjectType(ctx context.Context, object jdwp.ObjectID) (jdwp.TypeTag, jdwp.ReferenceTypeID, error)
	ObjectValues(ctx context.Context, object jdwp.ObjectID, fields []jdwp.FieldID) ([]jdwp.Value, error)
	SetObjectValues(ctx context.Context, object jdwp.ObjectID, assignments []jdwp.FieldAssignment) error
	ArrayLength(ctx context.Context, array jdwp.ObjectID) (int, error)
	ArrayValues(ctx context.Context, array jdwp.ObjectID, first, count int) ([]jdwp.Value, error)
	SetArrayValues(ctx context.Context, array jdwp.ObjectID, first int, values []jdwp.Value) error
	StringValue(ctx context.Context, object jdwp.ObjectID) (string, error)
	IsCollected(ctx context.Context, object jdwp.ObjectID) (bool, error)
	DisableCollection(ctx context.Context, object jdwp.ObjectID) error
	EnableCollection(ctx context.Context, object jdwp.ObjectID) error

	// Event plumbing.
	SetEventRequest(ctx context.Context, kind jdwp.EventKind, policy jdwp.SuspendPolicy, mods ...jdwp.EventModifier) (jdwp.EventRequestID, error)
	ClearEventRequest(ctx context.Context, kind jdwp.EventKind, id jdwp.EventRequestID) error
}

// Dialer opens a wire connection to the target VM. Attach drives it through
// the retry policy.
type Dialer func(ctx context.Context) (Conn, error)

// LineMapper maps a requested source line to the nearest executable line in
// the file's current text. Implementations fall back to the identity
// mapping when they cannot do better.
type LineMapper interface {
	ResolveLine(path string, line int) int
}

// IdentityLineMapper maps every line to itself.
type IdentityLineMapper struct{}

func (IdentityLineMapper) ResolveLine(path string, line int) int { return line }

// CallSite describes one step-into candidate on a source line, in source
// order.
type CallSite struct {
	// Name is the callee name as written at the call site.
	Name string
}

// StepTargetEnumerator lists the call sites on one source line.
type StepTargetEnumerator interface {
	CallSites(path string, line int) ([]CallSite, error)
}

// RegisteredObject is the registry's record of one tracked object.
type RegisteredObject struct {
	Object   jdwp.ObjectID
	Tag      jdwp.Tag
	Type     jdwp.ReferenceTypeID
	TypeName string
	Invalid  bool
}

// ObjectRegistry tracks live wire object ids behind small stable handles.
// Registering pins the object (collection disabled); releasing unpins it.
// The registry owns object-identity lifetime; the core never caches object
// ids elsewhere.
type ObjectRegistry interface {
	// Register returns the stable handle for obj, allocating and pinning
	// on first sight.
	Register(ctx context.Context, obj jdwp.ObjectID, tag jdwp.Tag) int
	// Update refreshes the recorded runtime type of a handle.
	Update(handle int, typ jdwp.ReferenceTypeID, typeName string)
	// Get resolves a handle issued by Register.
	Get(handle int) (RegisteredObject, bool)
	// MarkCollected flags a handle whose object was garbage collected.
	MarkCollected(handle int)
	// ReleaseAll unpins and forgets every tracked object.
	ReleaseAll(ctx context.Context)
}
