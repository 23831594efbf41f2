package dapserver

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStream is an in-memory byte stream for exercising the transport
// without a socket.
type memStream struct {
	bytes.Buffer
	closed bool
}

func (m *memStream) Close() error {
	m.closed = true
	return nil
}

func TestTransport_SendStampsSequenceNumbers(t *testing.T) {
	stream := &memStream{}
	tr := NewTransport(stream)

	ev := &dap.OutputEvent{Event: newEvent("output")}
	ev.Body.Output = "hello\n"
	require.NoError(t, tr.Send(ev))

	resp := &dap.ThreadsResponse{Response: newResponse(dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 9}, Command: "threads"})}
	require.NoError(t, tr.Send(resp))

	r := bufio.NewReader(stream)
	first, err := dap.ReadProtocolMessage(r)
	require.NoError(t, err)
	second, err := dap.ReadProtocolMessage(r)
	require.NoError(t, err)

	gotEv, ok := first.(*dap.OutputEvent)
	require.True(t, ok, "first message type %T", first)
	assert.Equal(t, 1, gotEv.Seq)
	assert.Equal(t, "hello\n", gotEv.Body.Output)

	gotResp, ok := second.(*dap.ThreadsResponse)
	require.True(t, ok, "second message type %T", second)
	assert.Equal(t, 2, gotResp.Seq)
	assert.Equal(t, 9, gotResp.RequestSeq)
}

func TestTransport_Receive(t *testing.T) {
	stream := &memStream{}
	req := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
	}
	w := bufio.NewWriter(stream)
	require.NoError(t, dap.WriteProtocolMessage(w, req))
	require.NoError(t, w.Flush())

	tr := NewTransport(stream)
	msg, err := tr.Receive()
	require.NoError(t, err)

	got, ok := msg.(*dap.InitializeRequest)
	require.True(t, ok, "message type %T", msg)
	assert.Equal(t, "initialize", got.Command)
}

func TestTransport_CloseClosesStream(t *testing.T) {
	stream := &memStream{}
	tr := NewTransport(stream)
	require.NoError(t, tr.Close())
	assert.True(t, stream.closed)
}
