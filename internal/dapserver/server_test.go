package dapserver

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaide/nova-debug/internal/config"
)

// testClient drives a session from the editor's side of an in-memory pipe.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
	seq  int
}

func startSession(t *testing.T) (*testClient, <-chan error) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := NewSession(NewTransport(serverSide), cfg, logger)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()); close(done) }()
	t.Cleanup(func() {
		clientSide.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})
	return &testClient{conn: clientSide, r: bufio.NewReader(clientSide)}, done
}

func (c *testClient) request(t *testing.T, command string) dap.Request {
	t.Helper()
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *testClient) send(t *testing.T, msg dap.Message) {
	t.Helper()
	require.NoError(t, dap.WriteProtocolMessage(c.conn, msg))
}

func (c *testClient) recv(t *testing.T) dap.Message {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := dap.ReadProtocolMessage(c.r)
	require.NoError(t, err)
	return msg
}

func (c *testClient) disconnect(t *testing.T) {
	t.Helper()
	c.send(t, &dap.DisconnectRequest{Request: c.request(t, "disconnect")})
	msg := c.recv(t)
	_, ok := msg.(*dap.DisconnectResponse)
	require.True(t, ok, "message type %T", msg)
}

func TestSession_InitializeAdvertisesCapabilities(t *testing.T) {
	client, done := startSession(t)

	client.send(t, &dap.InitializeRequest{Request: client.request(t, "initialize")})
	msg := client.recv(t)

	resp, ok := msg.(*dap.InitializeResponse)
	require.True(t, ok, "message type %T", msg)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.RequestSeq)
	assert.True(t, resp.Body.SupportsConfigurationDoneRequest)
	assert.True(t, resp.Body.SupportsFunctionBreakpoints)
	assert.True(t, resp.Body.SupportsConditionalBreakpoints)
	assert.True(t, resp.Body.SupportsDataBreakpoints)
	assert.True(t, resp.Body.SupportsStepInTargetsRequest)
	assert.True(t, resp.Body.SupportsExceptionInfoRequest)

	client.disconnect(t)
	assert.NoError(t, <-done)
}

func TestSession_RequestBeforeAttachFails(t *testing.T) {
	client, _ := startSession(t)

	client.send(t, &dap.ThreadsRequest{Request: client.request(t, "threads")})
	msg := client.recv(t)

	resp, ok := msg.(*dap.ErrorResponse)
	require.True(t, ok, "message type %T", msg)
	assert.False(t, resp.Success)
	assert.Equal(t, "threads", resp.Command)
	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, 1001, resp.Body.Error.Id)

	client.disconnect(t)
}

func TestSession_LaunchIsRejected(t *testing.T) {
	client, _ := startSession(t)

	client.send(t, &dap.LaunchRequest{Request: client.request(t, "launch")})
	msg := client.recv(t)

	resp, ok := msg.(*dap.ErrorResponse)
	require.True(t, ok, "message type %T", msg)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Body.Error)
	assert.Equal(t, 1007, resp.Body.Error.Id)
	assert.Contains(t, resp.Message, "launch")

	client.disconnect(t)
}

func TestSession_UnknownRequestIsRejected(t *testing.T) {
	client, _ := startSession(t)

	client.send(t, &dap.SourceRequest{Request: client.request(t, "source")})
	msg := client.recv(t)

	resp, ok := msg.(*dap.ErrorResponse)
	require.True(t, ok, "message type %T", msg)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "source")

	client.disconnect(t)
}

func TestSession_ConfigurationDoneWorksBeforeAttach(t *testing.T) {
	client, _ := startSession(t)

	client.send(t, &dap.ConfigurationDoneRequest{Request: client.request(t, "configurationDone")})
	msg := client.recv(t)

	resp, ok := msg.(*dap.ConfigurationDoneResponse)
	require.True(t, ok, "message type %T", msg)
	assert.True(t, resp.Success)

	client.disconnect(t)
}

func TestErrorID(t *testing.T) {
	// Unrecognized errors fall into the generic bucket.
	assert.Equal(t, 1000, errorID(io.EOF))
}
