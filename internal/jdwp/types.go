// Package jdwp implements a client for the wire protocol spoken to the
// target virtual machine.
//
// The protocol is a binary request/reply protocol with an out-of-band event
// stream. This package provides:
//   - Connection: packet framing, request/reply correlation, event delivery
//   - Typed wrappers for every wire command the adapter issues
//   - Error classification used by the attach retry policy
//
// The debugger core consumes this package through a narrow interface; see
// internal/debugger.
package jdwp

import "fmt"

// ThreadID identifies a thread in the target VM.
type ThreadID uint64

// ObjectID identifies an object in the target VM. Object ids are only valid
// while the object has not been garbage collected (or while collection is
// disabled for it).
type ObjectID uint64

// ReferenceTypeID identifies a loaded class, interface or array type.
type ReferenceTypeID uint64

// MethodID identifies a method within its declaring reference type.
type MethodID uint64

// FieldID identifies a field within its declaring reference type.
type FieldID uint64

// FrameID identifies a stack frame. Frame ids are only valid while the
// owning thread stays suspended.
type FrameID uint64

// EventRequestID identifies an installed event request.
type EventRequestID int32

// Tag describes the runtime kind of a wire value.
type Tag byte

const (
	TagArray       Tag = '['
	TagByte        Tag = 'B'
	TagChar        Tag = 'C'
	TagObject      Tag = 'L'
	TagFloat       Tag = 'F'
	TagDouble      Tag = 'D'
	TagInt         Tag = 'I'
	TagLong        Tag = 'J'
	TagShort       Tag = 'S'
	TagVoid        Tag = 'V'
	TagBoolean     Tag = 'Z'
	TagString      Tag = 's'
	TagThread      Tag = 't'
	TagThreadGroup Tag = 'g'
	TagClassLoader Tag = 'l'
	TagClassObject Tag = 'c'
)

// IsObject reports whether the tag denotes a reference kind.
func (t Tag) IsObject() bool {
	switch t {
	case TagArray, TagObject, TagString, TagThread, TagThreadGroup, TagClassLoader, TagClassObject:
		return true
	}
	return false
}

// TypeTag describes the kind of a reference type.
type TypeTag byte

const (
	TypeClass     TypeTag = 1
	TypeInterface TypeTag = 2
	TypeArray     TypeTag = 3
)

// Value is a tagged wire value. Exactly one of the payload fields is
// meaningful, selected by Tag.
type Value struct {
	Tag    Tag
	Bool   bool    // Z
	Int    int64   // B, C, S, I, J (widened)
	Float  float64 // F, D (widened)
	Object ObjectID
}

// IsNull reports whether the value is a null reference.
func (v Value) IsNull() bool {
	return v.Tag.IsObject() && v.Object == 0
}

// TaggedObjectID is an object id paired with its runtime tag.
type TaggedObjectID struct {
	Tag    Tag
	Object ObjectID
}

// Location identifies an executable position: a code index within a method
// within a reference type.
type Location struct {
	TypeTag TypeTag
	Class   ReferenceTypeID
	Method  MethodID
	Index   uint64
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Class == 0 && l.Method == 0 && l.Index == 0
}

func (l Location) String() string {
	return fmt.Sprintf("%d.%d@%d", l.Class, l.Method, l.Index)
}

// ClassStatus is a bitmask describing class preparation state.
type ClassStatus int32

const (
	StatusVerified    ClassStatus = 1
	StatusPrepared    ClassStatus = 2
	StatusInitialized ClassStatus = 4
	StatusError       ClassStatus = 8
)

// ClassInfo describes a loaded reference type.
type ClassInfo struct {
	TypeTag   TypeTag
	Type      ReferenceTypeID
	Signature string
	Status    ClassStatus
}

// MethodInfo describes a method of a reference type.
type MethodInfo struct {
	ID        MethodID
	Name      string
	Signature string
	ModBits   int32
}

// Method modifier bits used by the adapter.
const (
	ModStatic    = 0x0008
	ModNative    = 0x0100
	ModAbstract  = 0x0400
	ModSynthetic = 0x1000
)

// IsSynthetic reports whether the method is compiler-generated.
func (m MethodInfo) IsSynthetic() bool {
	return m.ModBits&ModSynthetic != 0
}

// IsStatic reports whether the method is static.
func (m MethodInfo) IsStatic() bool {
	return m.ModBits&ModStatic != 0
}

// HasCode reports whether the method has bytecode a breakpoint can bind to.
func (m MethodInfo) HasCode() bool {
	return m.ModBits&(ModNative|ModAbstract) == 0
}

// FieldInfo describes a field of a reference type.
type FieldInfo struct {
	ID        FieldID
	Name      string
	Signature string
	ModBits   int32
}

// IsStatic reports whether the field is static.
func (f FieldInfo) IsStatic() bool {
	return f.ModBits&ModStatic != 0
}

// LineEntry maps a code index to a source line.
type LineEntry struct {
	Index uint64
	Line  int
}

// LineTable is the line number table of one method.
type LineTable struct {
	Start   uint64
	End     uint64
	Entries []LineEntry
}

// LineFor returns the source line covering the given code index, or 0.
func (t LineTable) LineFor(index uint64) int {
	line := 0
	for _, e := range t.Entries {
		if e.Index > index {
			break
		}
		line = e.Line
	}
	return line
}

// VariableEntry describes one slot of a method's variable table.
type VariableEntry struct {
	CodeIndex uint64
	Name      string
	Signature string
	Length    uint32
	Slot      int32
}

// InScopeAt reports whether the variable is live at the given code index.
func (v VariableEntry) InScopeAt(index uint64) bool {
	return index >= v.CodeIndex && index < v.CodeIndex+uint64(v.Length)
}

// VariableTable is the variable table of one method.
type VariableTable struct {
	ArgCount int32
	Entries  []VariableEntry
}

// FrameInfo describes one frame of a suspended thread's call stack.
type FrameInfo struct {
	ID       FrameID
	Location Location
}

// Capabilities reports what the target VM can do. Queried once per session.
type Capabilities struct {
	CanWatchFieldModification  bool
	CanWatchFieldAccess        bool
	CanGetMethodReturnValues   bool
	CanUseInstanceFilters      bool
	CanGetSourceDebugExtension bool
}

// SuspendPolicy selects which threads an event suspends.
type SuspendPolicy byte

const (
	SuspendNone        SuspendPolicy = 0
	SuspendEventThread SuspendPolicy = 1
	SuspendAll         SuspendPolicy = 2
)

// EventKind identifies a wire event type.
type EventKind byte

const (
	KindSingleStep            EventKind = 1
	KindBreakpoint            EventKind = 2
	KindException             EventKind = 4
	KindThreadStart           EventKind = 6
	KindThreadDeath           EventKind = 7
	KindClassPrepare          EventKind = 8
	KindFieldAccess           EventKind = 20
	KindFieldModification     EventKind = 21
	KindMethodExit            EventKind = 41
	KindMethodExitReturnValue EventKind = 42
	KindVMStart               EventKind = 90
	KindVMDeath               EventKind = 99
)

// StepDepth selects how far a single-step request travels.
type StepDepth int32

const (
	StepInto StepDepth = 0
	StepOver StepDepth = 1
	StepOut  StepDepth = 2
)

// StepSize selects the granularity of a single-step request.
type StepSize int32

const (
	StepSizeMin  StepSize = 0
	StepSizeLine StepSize = 1
)

// Event is implemented by all events raised by the VM.
type Event interface {
	Kind() EventKind
	RequestID() EventRequestID
}

// EventVMStart is raised when the virtual machine starts.
type EventVMStart struct {
	Request EventRequestID
	Thread  ThreadID
}

// EventVMDeath is raised when the virtual machine terminates.
type EventVMDeath struct {
	Request EventRequestID
}

// EventSingleStep is raised when a single-step request completes.
type EventSingleStep struct {
	Request  EventRequestID
	Thread   ThreadID
	Location Location
}

// EventBreakpoint is raised when a breakpoint request is hit.
type EventBreakpoint struct {
	Request  EventRequestID
	Thread   ThreadID
	Location Location
}

// EventMethodExit is raised when a watched method returns, carrying the
// return value when the VM supports it.
type EventMethodExit struct {
	Request  EventRequestID
	Thread   ThreadID
	Location Location
	Value    Value
	HasValue bool
}

// EventException is raised when a watched exception is thrown.
type EventException struct {
	Request       EventRequestID
	Thread        ThreadID
	Location      Location
	Exception     TaggedObjectID
	CatchLocation Location
}

// EventClassPrepare is raised when a class finishes loading.
type EventClassPrepare struct {
	Request   EventRequestID
	Thread    ThreadID
	TypeTag   TypeTag
	Type      ReferenceTypeID
	Signature string
	Status    ClassStatus
}

// EventFieldAccess is raised when a watched field is read.
type EventFieldAccess struct {
	Request  EventRequestID
	Thread   ThreadID
	Location Location
	Field    FieldID
	Class    ReferenceTypeID
	Object   TaggedObjectID
}

// EventFieldModification is raised when a watched field is written.
type EventFieldModification struct {
	Request  EventRequestID
	Thread   ThreadID
	Location Location
	Field    FieldID
	Class    ReferenceTypeID
	Object   TaggedObjectID
	NewValue Value
}

// EventThreadStart is raised when a thread starts.
type EventThreadStart struct {
	Request EventRequestID
	Thread  ThreadID
}

// EventThreadDeath is raised when a thread terminates.
type EventThreadDeath struct {
	Request EventRequestID
	Thread  ThreadID
}

func (e EventVMStart) Kind() EventKind           { return KindVMStart }
func (e EventVMDeath) Kind() EventKind           { return KindVMDeath }
func (e EventSingleStep) Kind() EventKind        { return KindSingleStep }
func (e EventBreakpoint) Kind() EventKind        { return KindBreakpoint }
func (e EventMethodExit) Kind() EventKind        { return KindMethodExitReturnValue }
func (e EventException) Kind() EventKind         { return KindException }
func (e EventClassPrepare) Kind() EventKind      { return KindClassPrepare }
func (e EventFieldAccess) Kind() EventKind       { return KindFieldAccess }
func (e EventFieldModification) Kind() EventKind { return KindFieldModification }
func (e EventThreadStart) Kind() EventKind       { return KindThreadStart }
func (e EventThreadDeath) Kind() EventKind       { return KindThreadDeath }

func (e EventVMStart) RequestID() EventRequestID           { return e.Request }
func (e EventVMDeath) RequestID() EventRequestID           { return e.Request }
func (e EventSingleStep) RequestID() EventRequestID        { return e.Request }
func (e EventBreakpoint) RequestID() EventRequestID        { return e.Request }
func (e EventMethodExit) RequestID() EventRequestID        { return e.Request }
func (e EventException) RequestID() EventRequestID         { return e.Request }
func (e EventClassPrepare) RequestID() EventRequestID      { return e.Request }
func (e EventFieldAccess) RequestID() EventRequestID       { return e.Request }
func (e EventFieldModification) RequestID() EventRequestID { return e.Request }
func (e EventThreadStart) RequestID() EventRequestID       { return e.Request }
func (e EventThreadDeath) RequestID() EventRequestID       { return e.Request }

// Events is one composite event packet: a suspend policy plus the events
// that were raised together.
type Events struct {
	Policy SuspendPolicy
	Events []Event
}
