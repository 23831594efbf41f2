package jdwp

import "context"

// Version reports the VM's version banner.
func (c *Connection) Version(ctx context.Context) (string, error) {
	data, err := c.send(ctx, cmdSetVirtualMachine, 1, nil)
	if err != nil {
		return "", err
	}
	d := c.dec(data)
	desc := d.str()
	return desc, d.err
}

// ClassesBySignature returns the loaded reference types with the given
// signature.
func (c *Connection) ClassesBySignature(ctx context.Context, signature string) ([]ClassInfo, error) {
	e := c.enc()
	e.str(signature)
	data, err := c.send(ctx, cmdSetVirtualMachine, 2, e.bytes())
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]ClassInfo, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, ClassInfo{
			TypeTag:   TypeTag(d.byte_()),
			Type:      d.refTypeID(),
			Signature: signature,
			Status:    ClassStatus(d.int32()),
		})
	}
	return out, d.err
}

// AllClasses returns every loaded reference type.
func (c *Connection) AllClasses(ctx context.Context) ([]ClassInfo, error) {
	data, err := c.send(ctx, cmdSetVirtualMachine, 3, nil)
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]ClassInfo, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, ClassInfo{
			TypeTag:   TypeTag(d.byte_()),
			Type:      d.refTypeID(),
			Signature: d.str(),
			Status:    ClassStatus(d.int32()),
		})
	}
	return out, d.err
}

// AllThreads returns the ids of all live threads.
func (c *Connection) AllThreads(ctx context.Context) ([]ThreadID, error) {
	data, err := c.send(ctx, cmdSetVirtualMachine, 4, nil)
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]ThreadID, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.threadID())
	}
	return out, d.err
}

// Dispose tells the VM the debugger is going away. Event requests are
// cleared and suspended threads resumed by the VM itself.
func (c *Connection) Dispose(ctx context.Context) error {
	_, err := c.send(ctx, cmdSetVirtualMachine, 6, nil)
	return err
}

// Suspend suspends every thread in the VM.
func (c *Connection) Suspend(ctx context.Context) error {
	_, err := c.send(ctx, cmdSetVirtualMachine, 8, nil)
	return err
}

// Resume resumes every thread in the VM.
func (c *Connection) Resume(ctx context.Context) error {
	_, err := c.send(ctx, cmdSetVirtualMachine, 9, nil)
	return err
}

// Exit forces the VM to exit with the given code.
func (c *Connection) Exit(ctx context.Context, code int32) error {
	e := c.enc()
	e.int32(code)
	_, err := c.send(ctx, cmdSetVirtualMachine, 10, e.bytes())
	return err
}

// CreateString materializes a new string object in the VM.
func (c *Connection) CreateString(ctx context.Context, s string) (ObjectID, error) {
	e := c.enc()
	e.str(s)
	data, err := c.send(ctx, cmdSetVirtualMachine, 11, e.bytes())
	if err != nil {
		return 0, err
	}
	d := c.dec(data)
	id := d.objectID()
	return id, d.err
}

// Capabilities queries the extended capability set.
func (c *Connection) Capabilities(ctx context.Context) (Capabilities, error) {
	data, err := c.send(ctx, cmdSetVirtualMachine, 17, nil)
	if err != nil {
		return Capabilities{}, err
	}
	d := c.dec(data)
	// The reply is a fixed run of booleans; only a handful matter here.
	flags := make([]bool, 0, 32)
	for len(d.buf) > 0 && d.err == nil {
		flags = append(flags, d.bool_())
	}
	get := func(i int) bool { return i < len(flags) && flags[i] }
	return Capabilities{
		CanWatchFieldModification:  get(0),
		CanWatchFieldAccess:        get(1),
		CanGetSourceDebugExtension: get(9),
		CanUseInstanceFilters:      get(12),
		CanGetMethodReturnValues:   get(16),
	}, d.err
}

// Signature returns the type signature of a reference type.
func (c *Connection) Signature(ctx context.Context, ref ReferenceTypeID) (string, error) {
	e := c.enc()
	e.refTypeID(ref)
	data, err := c.send(ctx, cmdSetReferenceType, 1, e.bytes())
	if err != nil {
		return "", err
	}
	d := c.dec(data)
	sig := d.str()
	return sig, d.err
}

// Fields returns the fields declared by a reference type.
func (c *Connection) Fields(ctx context.Context, ref ReferenceTypeID) ([]FieldInfo, error) {
	e := c.enc()
	e.refTypeID(ref)
	data, err := c.send(ctx, cmdSetReferenceType, 4, e.bytes())
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]FieldInfo, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, FieldInfo{
			ID:        d.fieldID(),
			Name:      d.str(),
			Signature: d.str(),
			ModBits:   d.int32(),
		})
	}
	return out, d.err
}

// Methods returns the methods declared by a reference type.
func (c *Connection) Methods(ctx context.Context, ref ReferenceTypeID) ([]MethodInfo, error) {
	e := c.enc()
	e.refTypeID(ref)
	data, err := c.send(ctx, cmdSetReferenceType, 5, e.bytes())
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]MethodInfo, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, MethodInfo{
			ID:        d.methodID(),
			Name:      d.str(),
			Signature: d.str(),
			ModBits:   d.int32(),
		})
	}
	return out, d.err
}

// StaticValues reads static field values from a reference type.
func (c *Connection) StaticValues(ctx context.Context, ref ReferenceTypeID, fields []FieldID) ([]Value, error) {
	e := c.enc()
	e.refTypeID(ref)
	e.int32(int32(len(fields)))
	for _, f := range fields {
		e.fieldID(f)
	}
	data, err := c.send(ctx, cmdSetReferenceType, 6, e.bytes())
	if err != nil {
		return nil, err
	}
	return c.decodeValues(data)
}

// SourceFile returns the source file name recorded for a reference type.
func (c *Connection) SourceFile(ctx context.Context, ref ReferenceTypeID) (string, error) {
	e := c.enc()
	e.refTypeID(ref)
	data, err := c.send(ctx, cmdSetReferenceType, 7, e.bytes())
	if err != nil {
		return "", err
	}
	d := c.dec(data)
	name := d.str()
	return name, d.err
}

// Superclass returns the superclass of a class, or 0 for java.lang.Object.
func (c *Connection) Superclass(ctx context.Context, class ReferenceTypeID) (ReferenceTypeID, error) {
	e := c.enc()
	e.refTypeID(class)
	data, err := c.send(ctx, cmdSetClassType, 1, e.bytes())
	if err != nil {
		return 0, err
	}
	d := c.dec(data)
	super := d.refTypeID()
	return super, d.err
}

// SetStaticValues writes static field values on a class.
func (c *Connection) SetStaticValues(ctx context.Context, class ReferenceTypeID, assignments []FieldAssignment) error {
	e := c.enc()
	e.refTypeID(class)
	e.int32(int32(len(assignments)))
	for _, a := range assignments {
		e.fieldID(a.Field)
		e.untaggedValue(a.Value)
	}
	_, err := c.send(ctx, cmdSetClassType, 2, e.bytes())
	return err
}

// LineTable returns the line number table of a method.
func (c *Connection) LineTable(ctx context.Context, ref ReferenceTypeID, method MethodID) (LineTable, error) {
	e := c.enc()
	e.refTypeID(ref)
	e.methodID(method)
	data, err := c.send(ctx, cmdSetMethod, 1, e.bytes())
	if err != nil {
		return LineTable{}, err
	}
	d := c.dec(data)
	t := LineTable{
		Start: uint64(d.int64()),
		End:   uint64(d.int64()),
	}
	n := int(d.int32())
	for i := 0; i < n && d.err == nil; i++ {
		t.Entries = append(t.Entries, LineEntry{
			Index: uint64(d.int64()),
			Line:  int(d.int32()),
		})
	}
	return t, d.err
}

// VariableTable returns the variable table of a method.
func (c *Connection) VariableTable(ctx context.Context, ref ReferenceTypeID, method MethodID) (VariableTable, error) {
	e := c.enc()
	e.refTypeID(ref)
	e.methodID(method)
	data, err := c.send(ctx, cmdSetMethod, 2, e.bytes())
	if err != nil {
		return VariableTable{}, err
	}
	d := c.dec(data)
	t := VariableTable{ArgCount: d.int32()}
	n := int(d.int32())
	for i := 0; i < n && d.err == nil; i++ {
		t.Entries = append(t.Entries, VariableEntry{
			CodeIndex: uint64(d.int64()),
			Name:      d.str(),
			Signature: d.str(),
			Length:    uint32(d.int32()),
			Slot:      d.int32(),
		})
	}
	return t, d.err
}

// ObjectType returns the runtime reference type of an object.
func (c *Connection) ObjectType(ctx context.Context, object ObjectID) (TypeTag, ReferenceTypeID, error) {
	e := c.enc()
	e.objectID(object)
	data, err := c.send(ctx, cmdSetObjectReference, 1, e.bytes())
	if err != nil {
		return 0, 0, err
	}
	d := c.dec(data)
	tag := TypeTag(d.byte_())
	ref := d.refTypeID()
	return tag, ref, d.err
}

// ObjectValues reads instance field values from an object.
func (c *Connection) ObjectValues(ctx context.Context, object ObjectID, fields []FieldID) ([]Value, error) {
	e := c.enc()
	e.objectID(object)
	e.int32(int32(len(fields)))
	for _, f := range fields {
		e.fieldID(f)
	}
	data, err := c.send(ctx, cmdSetObjectReference, 2, e.bytes())
	if err != nil {
		return nil, err
	}
	return c.decodeValues(data)
}

// FieldAssignment pairs a field with the value to store in it.
type FieldAssignment struct {
	Field FieldID
	Value Value
}

// SetObjectValues writes instance field values on an object.
func (c *Connection) SetObjectValues(ctx context.Context, object ObjectID, assignments []FieldAssignment) error {
	e := c.enc()
	e.objectID(object)
	e.int32(int32(len(assignments)))
	for _, a := range assignments {
		e.fieldID(a.Field)
		e.untaggedValue(a.Value)
	}
	_, err := c.send(ctx, cmdSetObjectReference, 3, e.bytes())
	return err
}

// DisableCollection pins an object against garbage collection.
func (c *Connection) DisableCollection(ctx context.Context, object ObjectID) error {
	e := c.enc()
	e.objectID(object)
	_, err := c.send(ctx, cmdSetObjectReference, 7, e.bytes())
	return err
}

// EnableCollection releases a pin placed by DisableCollection.
func (c *Connection) EnableCollection(ctx context.Context, object ObjectID) error {
	e := c.enc()
	e.objectID(object)
	_, err := c.send(ctx, cmdSetObjectReference, 8, e.bytes())
	return err
}

// IsCollected reports whether an object has been garbage collected.
func (c *Connection) IsCollected(ctx context.Context, object ObjectID) (bool, error) {
	e := c.enc()
	e.objectID(object)
	data, err := c.send(ctx, cmdSetObjectReference, 9, e.bytes())
	if err != nil {
		return false, err
	}
	d := c.dec(data)
	collected := d.bool_()
	return collected, d.err
}

// StringValue reads the contents of a string object.
func (c *Connection) StringValue(ctx context.Context, object ObjectID) (string, error) {
	e := c.enc()
	e.objectID(object)
	data, err := c.send(ctx, cmdSetStringReference, 1, e.bytes())
	if err != nil {
		return "", err
	}
	d := c.dec(data)
	s := d.str()
	return s, d.err
}

// ThreadName returns a thread's name.
func (c *Connection) ThreadName(ctx context.Context, thread ThreadID) (string, error) {
	e := c.enc()
	e.threadID(thread)
	data, err := c.send(ctx, cmdSetThreadReference, 1, e.bytes())
	if err != nil {
		return "", err
	}
	d := c.dec(data)
	name := d.str()
	return name, d.err
}

// SuspendThread suspends one thread.
func (c *Connection) SuspendThread(ctx context.Context, thread ThreadID) error {
	e := c.enc()
	e.threadID(thread)
	_, err := c.send(ctx, cmdSetThreadReference, 2, e.bytes())
	return err
}

// ResumeThread resumes one thread.
func (c *Connection) ResumeThread(ctx context.Context, thread ThreadID) error {
	e := c.enc()
	e.threadID(thread)
	_, err := c.send(ctx, cmdSetThreadReference, 3, e.bytes())
	return err
}

// ThreadFrames returns a slice of a suspended thread's call stack. A count
// of -1 requests all remaining frames.
func (c *Connection) ThreadFrames(ctx context.Context, thread ThreadID, start, count int) ([]FrameInfo, error) {
	e := c.enc()
	e.threadID(thread)
	e.int32(int32(start))
	e.int32(int32(count))
	data, err := c.send(ctx, cmdSetThreadReference, 6, e.bytes())
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	n := int(d.int32())
	out := make([]FrameInfo, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, FrameInfo{ID: d.frameID(), Location: d.location()})
	}
	return out, d.err
}

// ThreadFrameCount returns the call stack depth of a suspended thread.
func (c *Connection) ThreadFrameCount(ctx context.Context, thread ThreadID) (int, error) {
	e := c.enc()
	e.threadID(thread)
	data, err := c.send(ctx, cmdSetThreadReference, 7, e.bytes())
	if err != nil {
		return 0, err
	}
	d := c.dec(data)
	n := int(d.int32())
	return n, d.err
}

// ArrayLength returns the element count of an array object.
func (c *Connection) ArrayLength(ctx context.Context, array ObjectID) (int, error) {
	e := c.enc()
	e.objectID(array)
	data, err := c.send(ctx, cmdSetArrayReference, 1, e.bytes())
	if err != nil {
		return 0, err
	}
	d := c.dec(data)
	n := int(d.int32())
	return n, d.err
}

// ArrayValues reads a run of array elements.
func (c *Connection) ArrayValues(ctx context.Context, array ObjectID, first, count int) ([]Value, error) {
	e := c.enc()
	e.objectID(array)
	e.int32(int32(first))
	e.int32(int32(count))
	data, err := c.send(ctx, cmdSetArrayReference, 2, e.bytes())
	if err != nil {
		return nil, err
	}
	d := c.dec(data)
	tag := Tag(d.byte_())
	n := int(d.int32())
	out := make([]Value, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		if tag.IsObject() {
			// Reference arrays carry per-element tags.
			out = append(out, d.value())
		} else {
			out = append(out, d.untaggedValue(tag))
		}
	}
	return out, d.err
}

// SetArrayValues writes a run of array elements starting at first.
func (c *Connection) SetArrayValues(ctx context.Context, array ObjectID, first int, values []Value) error {
	e := c.enc()
	e.objectID(array)
	e.int32(int32(first))
	e.int32(int32(len(values)))
	for _, v := range values {
		e.untaggedValue(v)
	}
	_, err := c.send(ctx, cmdSetArrayReference, 3, e.bytes())
	return err
}

// EventModifier narrows an event request.
type EventModifier interface {
	appendTo(e *encoder)
}

// CountModifier fires the request after N occurrences, then expires it.
type CountModifier int32

// ThreadOnlyModifier restricts the request to one thread.
type ThreadOnlyModifier ThreadID

// ClassOnlyModifier restricts the request to one reference type.
type ClassOnlyModifier ReferenceTypeID

// LocationOnlyModifier restricts the request to one code location.
type LocationOnlyModifier Location

// ExceptionOnlyModifier restricts an exception request by type and catch
// disposition.
type ExceptionOnlyModifier struct {
	Type     ReferenceTypeID // 0 matches all
	Caught   bool
	Uncaught bool
}

// FieldOnlyModifier restricts a watch request to one field.
type FieldOnlyModifier struct {
	Class ReferenceTypeID
	Field FieldID
}

// StepModifier restricts a step request to one thread with the given size
// and depth.
type StepModifier struct {
	Thread ThreadID
	Size   StepSize
	Depth  StepDepth
}

// InstanceOnlyModifier restricts the request to events on one object.
type InstanceOnlyModifier ObjectID

func (m CountModifier) appendTo(e *encoder) {
	e.byte_(1)
	e.int32(int32(m))
}

func (m ThreadOnlyModifier) appendTo(e *encoder) {
	e.byte_(3)
	e.threadID(ThreadID(m))
}

func (m ClassOnlyModifier) appendTo(e *encoder) {
	e.byte_(4)
	e.refTypeID(ReferenceTypeID(m))
}

func (m LocationOnlyModifier) appendTo(e *encoder) {
	e.byte_(7)
	e.location(Location(m))
}

func (m ExceptionOnlyModifier) appendTo(e *encoder) {
	e.byte_(8)
	e.refTypeID(m.Type)
	e.bool_(m.Caught)
	e.bool_(m.Uncaught)
}

func (m FieldOnlyModifier) appendTo(e *encoder) {
	e.byte_(9)
	e.refTypeID(m.Class)
	e.fieldID(m.Field)
}

func (m StepModifier) appendTo(e *encoder) {
	e.byte_(10)
	e.threadID(m.Thread)
	e.int32(int32(m.Size))
	e.int32(int32(m.Depth))
}

func (m InstanceOnlyModifier) appendTo(e *encoder) {
	e.byte_(11)
	e.objectID(ObjectID(m))
}

// SetEventRequest installs an event request and returns its id.
func (c *Connection) SetEventRequest(ctx context.Context, kind EventKind, policy SuspendPolicy, mods ...EventModifier) (EventRequestID, error) {
	e := c.enc()
	e.byte_(byte(kind))
	e.byte_(byte(policy))
	e.int32(int32(len(mods)))
	for _, m := range mods {
		m.appendTo(e)
	}
	data, err := c.send(ctx, cmdSetEventRequest, 1, e.bytes())
	if err != nil {
		return 0, err
	}
	d := c.dec(data)
	id := EventRequestID(d.int32())
	return id, d.err
}

// ClearEventRequest removes an installed event request.
func (c *Connection) ClearEventRequest(ctx context.Context, kind EventKind, id EventRequestID) error {
	e := c.enc()
	e.byte_(byte(kind))
	e.int32(int32(id))
	_, err := c.send(ctx, cmdSetEventRequest, 2, e.bytes())
	return err
}

// FrameValues reads local variable values from a frame by slot.
func (c *Connection) FrameValues(ctx context.Context, thread ThreadID, frame FrameID, slots []SlotRequest) ([]Value, error) {
	e := c.enc()
	e.threadID(thread)
	e.frameID(frame)
	e.int32(int32(len(slots)))
	for _, s := range slots {
		e.int32(s.Slot)
		e.byte_(byte(s.Tag))
	}
	data, err := c.send(ctx, cmdSetStackFrame, 1, e.bytes())
	if err != nil {
		return nil, err
	}
	return c.decodeValues(data)
}

// SlotRequest names a frame slot and the tag expected there.
type SlotRequest struct {
	Slot int32
	Tag  Tag
}

// SlotAssignment pairs a frame slot with the value to store in it.
type SlotAssignment struct {
	Slot  int32
	Value Value
}

// SetFrameValues writes local variable values into a frame.
func (c *Connection) SetFrameValues(ctx context.Context, thread ThreadID, frame FrameID, assignments []SlotAssignment) error {
	e := c.enc()
	e.threadID(thread)
	e.frameID(frame)
	e.int32(int32(len(assignments)))
	for _, a := range assignments {
		e.int32(a.Slot)
		e.value(a.Value)
	}
	_, err := c.send(ctx, cmdSetStackFrame, 2, e.bytes())
	return err
}

// FrameThis returns the receiver of a frame, null for static frames.
func (c *Connection) FrameThis(ctx context.Context, thread ThreadID, frame FrameID) (TaggedObjectID, error) {
	e := c.enc()
	e.threadID(thread)
	e.frameID(frame)
	data, err := c.send(ctx, cmdSetStackFrame, 3, e.bytes())
	if err != nil {
		return TaggedObjectID{}, err
	}
	d := c.dec(data)
	this := d.taggedObjectID()
	return this, d.err
}

// decodeValues parses the common (count, tagged value...) reply shape.
func (c *Connection) decodeValues(data []byte) ([]Value, error) {
	d := c.dec(data)
	n := int(d.int32())
	out := make([]Value, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.value())
	}
	return out, d.err
}
