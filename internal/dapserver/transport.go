// Package dapserver serves the Debug Adapter Protocol to an editor over
// stdio or TCP and drives the debugger core underneath it.
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
//
// One session owns one debugger. Client requests and VM events both mutate
// debugger state, so the session serializes them behind a single mutex; the
// transport has its own send lock so events can be written while a request
// is in flight.
package dapserver

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"
)

// Transport frames DAP messages over a byte stream.
type Transport struct {
	closer io.Closer
	reader *bufio.Reader
	writer *bufio.Writer

	mu  sync.Mutex
	seq int
}

// NewTransport wraps a connected byte stream.
func NewTransport(rwc io.ReadWriteCloser) *Transport {
	return &Transport{
		closer: rwc,
		reader: bufio.NewReader(rwc),
		writer: bufio.NewWriter(rwc),
		seq:    1,
	}
}

// NewStdioTransport frames messages over the process's stdio streams.
func NewStdioTransport(in io.ReadCloser, out io.WriteCloser) *Transport {
	return &Transport{
		closer: &stdioCloser{in: in, out: out},
		reader: bufio.NewReader(in),
		writer: bufio.NewWriter(out),
		seq:    1,
	}
}

type stdioCloser struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (s *stdioCloser) Close() error {
	err1 := s.in.Close()
	err2 := s.out.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Send stamps the message's sequence number and writes it. Safe for
// concurrent use.
func (t *Transport) Send(msg dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stampSeq(msg, t.seq)
	t.seq++

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return nil
}

// Receive reads the next client message. Not safe for concurrent use; the
// session is the only reader.
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return msg, nil
}

// Close closes the underlying stream.
func (t *Transport) Close() error {
	return t.closer.Close()
}

// stampSeq assigns the outgoing sequence number.
func stampSeq(msg dap.Message, seq int) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	}
}
