package jdwp

import (
	"bufio"
	"bytes"
	"math"
	"reflect"
	"testing"
)

func TestPacketRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		p    packet
	}{
		{
			name: "command",
			p:    packet{id: 7, cmdSet: 1, cmd: 1, data: []byte{1, 2, 3}},
		},
		{
			name: "reply",
			p:    packet{id: 8, flags: flagReply, errCode: 10, data: []byte{9}},
		},
		{
			name: "empty payload",
			p:    packet{id: 9, cmdSet: 15, cmd: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			if err := writePacket(w, tt.p); err != nil {
				t.Fatalf("writePacket: %v", err)
			}
			got, err := readPacket(bufio.NewReader(&buf))
			if err != nil {
				t.Fatalf("readPacket: %v", err)
			}
			if got.id != tt.p.id || got.flags != tt.p.flags || got.cmdSet != tt.p.cmdSet ||
				got.cmd != tt.p.cmd || got.errCode != tt.p.errCode {
				t.Errorf("header roundtrip: got %+v, want %+v", got, tt.p)
			}
			if len(tt.p.data) > 0 && !bytes.Equal(got.data, tt.p.data) {
				t.Errorf("payload roundtrip: got %v, want %v", got.data, tt.p.data)
			}
		})
	}
}

func TestReadPacket_RejectsBadLength(t *testing.T) {
	// A length smaller than the header is structurally impossible.
	raw := []byte{0, 0, 0, 5, 0, 0, 0, 1, 0, 1, 1}
	if _, err := readPacket(bufio.NewReader(bytes.NewReader(raw))); err == nil {
		t.Error("expected error for undersized packet length")
	}
}

func TestValueRoundtrip(t *testing.T) {
	sizes := defaultIDSizes()
	tests := []Value{
		{Tag: TagBoolean, Bool: true},
		{Tag: TagByte, Int: -5},
		{Tag: TagChar, Int: 'λ'},
		{Tag: TagShort, Int: -1000},
		{Tag: TagInt, Int: 123456},
		{Tag: TagLong, Int: -1 << 40},
		{Tag: TagFloat, Float: float64(float32(3.5))},
		{Tag: TagDouble, Float: math.Pi},
		{Tag: TagObject, Object: 0xDEADBEEF},
		{Tag: TagString, Object: 42},
		{Tag: TagVoid},
	}
	for _, v := range tests {
		e := &encoder{sizes: sizes}
		e.value(v)
		d := &decoder{sizes: sizes, buf: e.bytes()}
		got := d.value()
		if d.err != nil {
			t.Errorf("decode %+v: %v", v, d.err)
			continue
		}
		if got != v {
			t.Errorf("value roundtrip: got %+v, want %+v", got, v)
		}
	}
}

func TestLocationRoundtrip(t *testing.T) {
	sizes := defaultIDSizes()
	loc := Location{TypeTag: TypeClass, Class: 100, Method: 7, Index: 99}

	e := &encoder{sizes: sizes}
	e.location(loc)
	d := &decoder{sizes: sizes, buf: e.bytes()}
	if got := d.location(); got != loc || d.err != nil {
		t.Errorf("location roundtrip: got %+v (err %v), want %+v", got, d.err, loc)
	}
}

func TestStringRoundtrip(t *testing.T) {
	e := &encoder{sizes: defaultIDSizes()}
	e.str("Lcom/example/Main;")
	d := &decoder{sizes: defaultIDSizes(), buf: e.bytes()}
	if got := d.str(); got != "Lcom/example/Main;" || d.err != nil {
		t.Errorf("str roundtrip: got %q (err %v)", got, d.err)
	}
}

func TestNonStandardIDSizes(t *testing.T) {
	// The protocol allows id widths other than 8; 4-byte ids must survive.
	sizes := idSizes{fieldID: 4, methodID: 4, objectID: 4, referenceTypeID: 4, frameID: 4}

	e := &encoder{sizes: sizes}
	e.objectID(0x01020304)
	if len(e.bytes()) != 4 {
		t.Fatalf("4-byte object id encoded as %d bytes", len(e.bytes()))
	}
	d := &decoder{sizes: sizes, buf: e.bytes()}
	if got := d.objectID(); got != 0x01020304 {
		t.Errorf("object id roundtrip: got %#x", uint64(got))
	}
}

func TestDecodeCompositeEvent(t *testing.T) {
	sizes := defaultIDSizes()
	loc := Location{TypeTag: TypeClass, Class: 100, Method: 7, Index: 5}

	e := &encoder{sizes: sizes}
	e.byte_(byte(SuspendEventThread))
	e.int32(2)
	// Breakpoint event.
	e.byte_(byte(KindBreakpoint))
	e.int32(11)
	e.threadID(1)
	e.location(loc)
	// Class prepare event.
	e.byte_(byte(KindClassPrepare))
	e.int32(12)
	e.threadID(2)
	e.byte_(byte(TypeClass))
	e.refTypeID(200)
	e.str("Lcom/example/Foo;")
	e.int32(int32(StatusPrepared))

	got, err := decodeCompositeEvent(sizes, e.bytes())
	if err != nil {
		t.Fatalf("decodeCompositeEvent: %v", err)
	}
	if got.Policy != SuspendEventThread {
		t.Errorf("policy = %d, want %d", got.Policy, SuspendEventThread)
	}
	want := []Event{
		EventBreakpoint{Request: 11, Thread: 1, Location: loc},
		EventClassPrepare{Request: 12, Thread: 2, TypeTag: TypeClass, Type: 200, Signature: "Lcom/example/Foo;", Status: StatusPrepared},
	}
	if !reflect.DeepEqual(got.Events, want) {
		t.Errorf("events = %+v, want %+v", got.Events, want)
	}
}

func TestDecodeCompositeEvent_MethodExitReturnValue(t *testing.T) {
	sizes := defaultIDSizes()
	loc := Location{TypeTag: TypeClass, Class: 100, Method: 7, Index: 5}

	e := &encoder{sizes: sizes}
	e.byte_(byte(SuspendNone))
	e.int32(1)
	e.byte_(byte(KindMethodExitReturnValue))
	e.int32(13)
	e.threadID(1)
	e.location(loc)
	e.value(Value{Tag: TagInt, Int: 31})

	got, err := decodeCompositeEvent(sizes, e.bytes())
	if err != nil {
		t.Fatalf("decodeCompositeEvent: %v", err)
	}
	ev, ok := got.Events[0].(EventMethodExit)
	if !ok {
		t.Fatalf("event type %T", got.Events[0])
	}
	if !ev.HasValue || ev.Value.Int != 31 {
		t.Errorf("return value = %+v (has %v), want 31", ev.Value, ev.HasValue)
	}
}

func TestDecodeCompositeEvent_Truncated(t *testing.T) {
	e := &encoder{sizes: defaultIDSizes()}
	e.byte_(byte(SuspendAll))
	e.int32(1)
	e.byte_(byte(KindBreakpoint))
	e.int32(11)
	// Thread and location missing.

	if _, err := decodeCompositeEvent(defaultIDSizes(), e.bytes()); err == nil {
		t.Error("expected error for truncated composite")
	}
}

func TestDecodeCompositeEvent_UnknownKind(t *testing.T) {
	e := &encoder{sizes: defaultIDSizes()}
	e.byte_(byte(SuspendAll))
	e.int32(1)
	e.byte_(250)
	e.int32(1)

	if _, err := decodeCompositeEvent(defaultIDSizes(), e.bytes()); err == nil {
		t.Error("expected error for unknown event kind")
	}
}

func TestLineTable_LineFor(t *testing.T) {
	lt := LineTable{Entries: []LineEntry{{Index: 0, Line: 10}, {Index: 5, Line: 12}, {Index: 9, Line: 15}}}
	tests := []struct {
		index uint64
		want  int
	}{
		{0, 10}, {4, 10}, {5, 12}, {8, 12}, {9, 15}, {100, 15},
	}
	for _, tt := range tests {
		if got := lt.LineFor(tt.index); got != tt.want {
			t.Errorf("LineFor(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestVariableEntry_InScopeAt(t *testing.T) {
	v := VariableEntry{CodeIndex: 5, Length: 10}
	for index, want := range map[uint64]bool{4: false, 5: true, 14: true, 15: false} {
		if got := v.InScopeAt(index); got != want {
			t.Errorf("InScopeAt(%d) = %v, want %v", index, got, want)
		}
	}
}
