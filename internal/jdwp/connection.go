package jdwp

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Command sets and commands issued by the adapter.
const (
	cmdSetVirtualMachine  = 1
	cmdSetReferenceType   = 2
	cmdSetClassType       = 3
	cmdSetMethod          = 6
	cmdSetObjectReference = 9
	cmdSetStringReference = 10
	cmdSetThreadReference = 11
	cmdSetArrayReference  = 13
	cmdSetEventRequest    = 15
	cmdSetStackFrame      = 16
	cmdSetEvent           = 64

	cmdCompositeEvent = 100
)

// Connection speaks the wire protocol over one transport. Requests are
// correlated to replies by packet id; composite events are delivered on a
// separate channel.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	sizes idSizes

	writeMu sync.Mutex
	seq     uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan packet
	closed    bool
	closeErr  error

	events chan Events

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to a VM at addr, performs the handshake and fetches the
// identifier sizes. The returned connection is ready for commands.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := newConnection(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newConnection(conn net.Conn, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := exchangeHandshake(conn); err != nil {
		return nil, err
	}
	c := &Connection{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		logger:  logger,
		sizes:   defaultIDSizes(),
		pending: make(map[uint32]chan packet),
		events:  make(chan Events, 16),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()

	if err := c.fetchIDSizes(context.Background()); err != nil {
		c.Close()
		return nil, fmt.Errorf("id sizes: %w", err)
	}
	return c, nil
}

// Events returns the composite event stream. The channel is closed when the
// connection dies.
func (c *Connection) Events() <-chan Events {
	return c.events
}

// readLoop routes replies to their waiters and events to the event channel.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		p, err := readPacket(c.reader)
		if err != nil {
			c.failAll(err)
			return
		}
		if p.isReply() {
			c.pendingMu.Lock()
			ch, ok := c.pending[p.id]
			if ok {
				delete(c.pending, p.id)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- p
			} else {
				c.logger.Debug("unmatched wire reply", "id", p.id)
			}
			continue
		}
		if p.cmdSet == cmdSetEvent && p.cmd == cmdCompositeEvent {
			evs, err := decodeCompositeEvent(c.sizes, p.data)
			if err != nil {
				c.logger.Warn("dropping undecodable event packet", "err", err)
				continue
			}
			select {
			case c.events <- evs:
			case <-c.done:
				return
			}
			continue
		}
		c.logger.Debug("ignoring unsolicited wire command", "cmdSet", p.cmdSet, "cmd", p.cmd)
	}
}

// failAll wakes every pending waiter with a closed-connection error.
func (c *Connection) failAll(err error) {
	c.pendingMu.Lock()
	if !c.closed {
		c.closed = true
		c.closeErr = err
		close(c.events)
	}
	waiters := c.pending
	c.pending = make(map[uint32]chan packet)
	c.pendingMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// send issues one command and waits for its reply, honoring ctx.
func (c *Connection) send(ctx context.Context, cmdSet, cmd byte, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.seq++
	id := c.seq
	ch := make(chan packet, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := writePacket(c.writer, packet{id: id, cmdSet: cmdSet, cmd: cmd, data: payload})
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("write command %d.%d: %w", cmdSet, cmd, err)
	}

	select {
	case p, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if p.errCode != 0 {
			return nil, &Error{Code: ErrorCode(p.errCode), CmdSet: cmdSet, Cmd: cmd}
		}
		return p.data, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command %d.%d: %w", cmdSet, cmd, ErrTimeout)
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Connection) enc() *encoder {
	return &encoder{sizes: c.sizes}
}

func (c *Connection) dec(data []byte) *decoder {
	return &decoder{sizes: c.sizes, buf: data}
}

// fetchIDSizes issues VirtualMachine.IDSizes and records the result for all
// later encoding and decoding.
func (c *Connection) fetchIDSizes(ctx context.Context) error {
	data, err := c.send(ctx, cmdSetVirtualMachine, 7, nil)
	if err != nil {
		return err
	}
	d := c.dec(data)
	c.sizes = idSizes{
		fieldID:         int(d.int32()),
		methodID:        int(d.int32()),
		objectID:        int(d.int32()),
		referenceTypeID: int(d.int32()),
		frameID:         int(d.int32()),
	}
	return d.err
}

// Close tears down the transport. Pending requests fail with ErrClosed.
func (c *Connection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	err := c.conn.Close()
	c.wg.Wait()
	c.failAll(ErrClosed)
	return err
}
