package jdwp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// handshake is exchanged verbatim in both directions before any packet.
const handshake = "JDWP-Handshake"

const (
	headerLen = 11
	flagReply = 0x80
)

// maxPacketLen guards against a corrupt length prefix taking down the
// process with one allocation.
const maxPacketLen = 64 << 20

// packet is one wire packet, command or reply.
type packet struct {
	id      uint32
	flags   byte
	cmdSet  byte
	cmd     byte
	errCode uint16
	data    []byte
}

func (p packet) isReply() bool {
	return p.flags&flagReply != 0
}

// idSizes holds the per-VM byte widths of the identifier kinds, obtained
// once after the handshake. All deployed VMs use 8 for everything, but the
// protocol allows otherwise.
type idSizes struct {
	fieldID         int
	methodID        int
	objectID        int
	referenceTypeID int
	frameID         int
}

func defaultIDSizes() idSizes {
	return idSizes{fieldID: 8, methodID: 8, objectID: 8, referenceTypeID: 8, frameID: 8}
}

func exchangeHandshake(rw io.ReadWriter) error {
	if _, err := rw.Write([]byte(handshake)); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}
	buf := make([]byte, len(handshake))
	if _, err := io.ReadFull(rw, buf); err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if string(buf) != handshake {
		return fmt.Errorf("bad handshake reply %q", buf)
	}
	return nil
}

func writePacket(w *bufio.Writer, p packet) error {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(headerLen+len(p.data)))
	binary.BigEndian.PutUint32(hdr[4:], p.id)
	hdr[8] = p.flags
	if p.isReply() {
		binary.BigEndian.PutUint16(hdr[9:], p.errCode)
	} else {
		hdr[9] = p.cmdSet
		hdr[10] = p.cmd
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(p.data); err != nil {
		return err
	}
	return w.Flush()
}

func readPacket(r *bufio.Reader) (packet, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return packet{}, err
	}
	length := binary.BigEndian.Uint32(hdr[0:])
	if length < headerLen || length > maxPacketLen {
		return packet{}, fmt.Errorf("invalid packet length %d", length)
	}
	p := packet{
		id:    binary.BigEndian.Uint32(hdr[4:]),
		flags: hdr[8],
	}
	if p.isReply() {
		p.errCode = binary.BigEndian.Uint16(hdr[9:])
	} else {
		p.cmdSet = hdr[9]
		p.cmd = hdr[10]
	}
	p.data = make([]byte, length-headerLen)
	if _, err := io.ReadFull(r, p.data); err != nil {
		return packet{}, err
	}
	return p, nil
}

// encoder builds big-endian command payloads using the connection's id sizes.
type encoder struct {
	sizes idSizes
	buf   []byte
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) byte_(v byte) { e.buf = append(e.buf, v) }

func (e *encoder) bool_(v bool) {
	if v {
		e.byte_(1)
	} else {
		e.byte_(0)
	}
}

func (e *encoder) int16(v int16) { e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v)) }
func (e *encoder) int32(v int32) { e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v)) }
func (e *encoder) int64(v int64) { e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v)) }

func (e *encoder) str(s string) {
	e.int32(int32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) id(v uint64, size int) {
	for i := size - 1; i >= 0; i-- {
		e.buf = append(e.buf, byte(v>>(8*uint(i))))
	}
}

func (e *encoder) objectID(v ObjectID)         { e.id(uint64(v), e.sizes.objectID) }
func (e *encoder) threadID(v ThreadID)         { e.id(uint64(v), e.sizes.objectID) }
func (e *encoder) refTypeID(v ReferenceTypeID) { e.id(uint64(v), e.sizes.referenceTypeID) }
func (e *encoder) methodID(v MethodID)         { e.id(uint64(v), e.sizes.methodID) }
func (e *encoder) fieldID(v FieldID)           { e.id(uint64(v), e.sizes.fieldID) }
func (e *encoder) frameID(v FrameID)           { e.id(uint64(v), e.sizes.frameID) }

func (e *encoder) location(l Location) {
	e.byte_(byte(l.TypeTag))
	e.refTypeID(l.Class)
	e.methodID(l.Method)
	e.int64(int64(l.Index))
}

// value writes a tagged value.
func (e *encoder) value(v Value) {
	e.byte_(byte(v.Tag))
	e.untaggedValue(v)
}

// untaggedValue writes the payload of a value without its tag byte, sized
// by the tag.
func (e *encoder) untaggedValue(v Value) {
	switch v.Tag {
	case TagVoid:
	case TagBoolean:
		e.bool_(v.Bool)
	case TagByte:
		e.byte_(byte(v.Int))
	case TagChar, TagShort:
		e.int16(int16(v.Int))
	case TagInt:
		e.int32(int32(v.Int))
	case TagLong:
		e.int64(v.Int)
	case TagFloat:
		e.int32(int32(math.Float32bits(float32(v.Float))))
	case TagDouble:
		e.int64(int64(math.Float64bits(v.Float)))
	default:
		e.objectID(v.Object)
	}
}

// decoder reads big-endian reply payloads using the connection's id sizes.
type decoder struct {
	sizes idSizes
	buf   []byte
	err   error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = io.ErrUnexpectedEOF
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil || len(d.buf) < n {
		d.fail()
		return make([]byte, n)
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) byte_() byte  { return d.take(1)[0] }
func (d *decoder) bool_() bool  { return d.byte_() != 0 }
func (d *decoder) int16() int16 { return int16(binary.BigEndian.Uint16(d.take(2))) }
func (d *decoder) int32() int32 { return int32(binary.BigEndian.Uint32(d.take(4))) }
func (d *decoder) int64() int64 { return int64(binary.BigEndian.Uint64(d.take(8))) }

func (d *decoder) str() string {
	n := int(d.int32())
	if n < 0 || n > len(d.buf) {
		d.fail()
		return ""
	}
	return string(d.take(n))
}

func (d *decoder) id(size int) uint64 {
	b := d.take(size)
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (d *decoder) objectID() ObjectID         { return ObjectID(d.id(d.sizes.objectID)) }
func (d *decoder) threadID() ThreadID         { return ThreadID(d.id(d.sizes.objectID)) }
func (d *decoder) refTypeID() ReferenceTypeID { return ReferenceTypeID(d.id(d.sizes.referenceTypeID)) }
func (d *decoder) methodID() MethodID         { return MethodID(d.id(d.sizes.methodID)) }
func (d *decoder) fieldID() FieldID           { return FieldID(d.id(d.sizes.fieldID)) }
func (d *decoder) frameID() FrameID           { return FrameID(d.id(d.sizes.frameID)) }

func (d *decoder) location() Location {
	return Location{
		TypeTag: TypeTag(d.byte_()),
		Class:   d.refTypeID(),
		Method:  d.methodID(),
		Index:   uint64(d.int64()),
	}
}

func (d *decoder) taggedObjectID() TaggedObjectID {
	return TaggedObjectID{Tag: Tag(d.byte_()), Object: d.objectID()}
}

// value reads a tagged value.
func (d *decoder) value() Value {
	tag := Tag(d.byte_())
	return d.untaggedValue(tag)
}

// untaggedValue reads a value payload sized by an externally-known tag.
func (d *decoder) untaggedValue(tag Tag) Value {
	v := Value{Tag: tag}
	switch tag {
	case TagVoid:
	case TagBoolean:
		v.Bool = d.bool_()
	case TagByte:
		v.Int = int64(int8(d.byte_()))
	case TagChar:
		v.Int = int64(uint16(d.int16()))
	case TagShort:
		v.Int = int64(d.int16())
	case TagInt:
		v.Int = int64(d.int32())
	case TagLong:
		v.Int = d.int64()
	case TagFloat:
		v.Float = float64(math.Float32frombits(uint32(d.int32())))
	case TagDouble:
		v.Float = math.Float64frombits(uint64(d.int64()))
	default:
		v.Object = d.objectID()
	}
	return v
}

// decodeCompositeEvent parses an Event.Composite command payload.
func decodeCompositeEvent(sizes idSizes, data []byte) (Events, error) {
	d := &decoder{sizes: sizes, buf: data}
	out := Events{Policy: SuspendPolicy(d.byte_())}
	n := int(d.int32())
	for i := 0; i < n && d.err == nil; i++ {
		kind := EventKind(d.byte_())
		req := EventRequestID(d.int32())
		switch kind {
		case KindVMStart:
			out.Events = append(out.Events, EventVMStart{Request: req, Thread: d.threadID()})
		case KindVMDeath:
			out.Events = append(out.Events, EventVMDeath{Request: req})
		case KindSingleStep:
			out.Events = append(out.Events, EventSingleStep{Request: req, Thread: d.threadID(), Location: d.location()})
		case KindBreakpoint:
			out.Events = append(out.Events, EventBreakpoint{Request: req, Thread: d.threadID(), Location: d.location()})
		case KindMethodExit:
			out.Events = append(out.Events, EventMethodExit{Request: req, Thread: d.threadID(), Location: d.location()})
		case KindMethodExitReturnValue:
			ev := EventMethodExit{Request: req, Thread: d.threadID(), Location: d.location()}
			ev.Value = d.value()
			ev.HasValue = true
			out.Events = append(out.Events, ev)
		case KindException:
			out.Events = append(out.Events, EventException{
				Request:       req,
				Thread:        d.threadID(),
				Location:      d.location(),
				Exception:     d.taggedObjectID(),
				CatchLocation: d.location(),
			})
		case KindClassPrepare:
			out.Events = append(out.Events, EventClassPrepare{
				Request:   req,
				Thread:    d.threadID(),
				TypeTag:   TypeTag(d.byte_()),
				Type:      d.refTypeID(),
				Signature: d.str(),
				Status:    ClassStatus(d.int32()),
			})
		case KindFieldAccess:
			out.Events = append(out.Events, EventFieldAccess{
				Request:  req,
				Thread:   d.threadID(),
				Location: d.location(),
				Class:    refTypeOfTagged(d),
				Field:    d.fieldID(),
				Object:   d.taggedObjectID(),
			})
		case KindFieldModification:
			ev := EventFieldModification{
				Request:  req,
				Thread:   d.threadID(),
				Location: d.location(),
				Class:    refTypeOfTagged(d),
				Field:    d.fieldID(),
				Object:   d.taggedObjectID(),
			}
			ev.NewValue = d.value()
			out.Events = append(out.Events, ev)
		case KindThreadStart:
			out.Events = append(out.Events, EventThreadStart{Request: req, Thread: d.threadID()})
		case KindThreadDeath:
			out.Events = append(out.Events, EventThreadDeath{Request: req, Thread: d.threadID()})
		default:
			// Unknown event kinds cannot be skipped: their length is
			// unknowable. Drop the rest of the packet.
			return out, fmt.Errorf("unknown event kind %d", kind)
		}
	}
	if d.err != nil {
		return out, fmt.Errorf("truncated composite event: %w", d.err)
	}
	return out, nil
}

// refTypeOfTagged reads the (typeTag, referenceTypeID) pair that prefixes
// field events.
func refTypeOfTagged(d *decoder) ReferenceTypeID {
	d.byte_() // type tag, unused
	return d.refTypeID()
}
