package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/log"
)

// NoTimeout makes WaitReadable block until data arrives.
const NoTimeout time.Duration = -1

// Transport errors.
var (
	// ErrBroken indicates the peer stopped accepting or delivering bytes.
	ErrBroken = errors.New("transport: connection broken")

	// ErrClosed indicates the transport was closed locally.
	ErrClosed = errors.New("transport: closed")

	// ErrExceptional indicates the socket reported an error or hangup
	// while waiting for data. The transport is closed when it is returned.
	ErrExceptional = errors.New("transport: exceptional condition on socket")

	errNoPoll = errors.New("transport: no pollable descriptor")
)

// Transport is an exclusively owned byte stream to the daemon.
// It is not safe for concurrent use, except that Close may be called from
// another goroutine to abort a pending wait.
type Transport struct {
	conn net.Conn

	// pending holds bytes consumed by a deadline-based readiness wait.
	pending []byte

	closeOnce sync.Once
	closeCh   chan struct{}
	detached  bool

	maxPacketSize uint32
	logger        log.Logger
	connID        string
}

// New wraps conn. The transport takes ownership of conn.
func New(conn net.Conn) *Transport {
	return &Transport{
		conn:          conn,
		closeCh:       make(chan struct{}),
		maxPacketSize: DefaultMaxPacketSize,
	}
}

// SetLogger configures capture logging for packets on this transport.
// Pass nil to disable.
func (t *Transport) SetLogger(logger log.Logger, connID string) {
	t.logger = logger
	t.connID = connID
}

// SetMaxPacketSize changes the largest packet ReadPacket accepts.
func (t *Transport) SetMaxPacketSize(n uint32) {
	t.maxPacketSize = n
}

// RemoteAddr returns the daemon address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Transport) closed() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}

// Send writes all of b, looping over partial writes.
func (t *Transport) Send(b []byte) error {
	if t.closed() {
		return ErrClosed
	}
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		b = b[n:]
		if err != nil {
			return t.ioError("write", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write made no progress", ErrBroken)
		}
	}
	return nil
}

// Receive reads exactly n bytes, looping over partial reads.
func (t *Transport) Receive(n int) ([]byte, error) {
	if t.closed() {
		return nil, ErrClosed
	}
	buf := make([]byte, n)
	off := copy(buf, t.pending)
	t.pending = t.pending[off:]

	for off < n {
		m, err := t.conn.Read(buf[off:])
		off += m
		if off == n {
			break
		}
		if err != nil {
			return nil, t.ioError("read", err)
		}
		if m == 0 {
			return nil, fmt.Errorf("%w: empty read", ErrBroken)
		}
	}
	return buf, nil
}

// WaitReadable waits until data can be read without blocking.
// It returns false when timeout elapses first; NoTimeout waits forever.
// An error or hangup on the socket closes the transport and returns
// ErrExceptional.
func (t *Transport) WaitReadable(timeout time.Duration) (bool, error) {
	if t.closed() {
		return false, ErrClosed
	}
	if len(t.pending) > 0 {
		return true, nil
	}

	if sc, ok := t.conn.(syscall.Conn); ok {
		ready, err := pollReadable(t.conn, sc, timeout)
		if !errors.Is(err, errNoPoll) {
			return t.readiness(ready, err)
		}
	}
	return t.readiness(t.waitDeadline(timeout))
}

// readiness maps wait results onto transport errors.
func (t *Transport) readiness(ready bool, err error) (bool, error) {
	switch {
	case err == nil:
		return ready, nil
	case t.closed() || errors.Is(err, net.ErrClosed):
		return false, ErrClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return false, nil
	case errors.Is(err, ErrExceptional):
		t.Close()
		return false, err
	default:
		t.Close()
		return false, fmt.Errorf("%w: %w", ErrExceptional, err)
	}
}

// waitDeadline waits by reading one byte under a read deadline and keeping
// it for the next Receive. Used for conns without a pollable descriptor.
func (t *Transport) waitDeadline(timeout time.Duration) (bool, error) {
	if timeout >= 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		defer t.conn.SetReadDeadline(time.Time{})
	}

	var one [1]byte
	n, err := t.conn.Read(one[:])
	if n == 1 {
		t.pending = append(t.pending, one[0])
		return true, nil
	}
	if err == nil {
		return false, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false, err
	}
	// EOF and resets surface as exceptional: the peer is gone.
	return false, fmt.Errorf("%w: %w", ErrExceptional, err)
}

// Detach hands the underlying connection to the caller. The transport is
// closed for further use but the connection stays open.
func (t *Transport) Detach() net.Conn {
	conn := t.conn
	if len(t.pending) > 0 {
		conn = &prefixConn{Conn: conn, prefix: t.pending}
		t.pending = nil
	}
	t.detached = true
	t.closeOnce.Do(func() { close(t.closeCh) })
	return conn
}

// Close releases the socket. It is idempotent. A detached connection is
// left open.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)
		if !t.detached {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *Transport) ioError(op string, err error) error {
	if t.closed() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %s: %w", ErrBroken, op, err)
}

// prefixConn replays bytes consumed during a readiness wait.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(b []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(b, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}
