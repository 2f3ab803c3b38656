package transport

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkConn accepts and delivers at most chunk bytes per call.
type chunkConn struct {
	net.Conn
	chunk   int
	written bytes.Buffer
	source  *bytes.Reader
	stall   bool
}

func (c *chunkConn) Write(b []byte) (int, error) {
	if c.stall {
		return 0, nil
	}
	if len(b) > c.chunk {
		b = b[:c.chunk]
	}
	return c.written.Write(b)
}

func (c *chunkConn) Read(b []byte) (int, error) {
	if len(b) > c.chunk {
		b = b[:c.chunk]
	}
	return c.source.Read(b)
}

func (c *chunkConn) Close() error { return nil }

func TestSendLoopsOverPartialWrites(t *testing.T) {
	conn := &chunkConn{chunk: 3, source: bytes.NewReader(nil)}
	tr := New(conn)

	payload := bytes.Repeat([]byte("0123456789"), 10)
	require.NoError(t, tr.Send(payload))
	assert.Equal(t, payload, conn.written.Bytes())
}

func TestSendZeroProgressIsBroken(t *testing.T) {
	tr := New(&chunkConn{chunk: 3, stall: true, source: bytes.NewReader(nil)})
	err := tr.Send([]byte("hello"))
	assert.ErrorIs(t, err, ErrBroken)
}

func TestReceiveReassemblesFragments(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 100)
	tr := New(&chunkConn{chunk: 7, source: bytes.NewReader(data)})

	got, err := tr.Receive(len(data) - 1)
	require.NoError(t, err)
	assert.Equal(t, data[:len(data)-1], got)

	got, err = tr.Receive(1)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-1:], got)
}

func TestReceiveEmptyReadIsBroken(t *testing.T) {
	tr := New(&chunkConn{chunk: 4, source: bytes.NewReader([]byte{1, 2})})
	_, err := tr.Receive(4)
	assert.ErrorIs(t, err, ErrBroken)
}

func TestClosedTransportRejectsIO(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := New(a)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close is idempotent")

	assert.ErrorIs(t, tr.Send([]byte{1}), ErrClosed)
	_, err := tr.Receive(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.WaitReadable(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWaitReadablePipe(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := New(a)
	defer tr.Close()

	ready, err := tr.WaitReadable(0)
	require.NoError(t, err)
	assert.False(t, ready, "nothing written yet")

	ready, err = tr.WaitReadable(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready)

	go b.Write([]byte("abc"))

	ready, err = tr.WaitReadable(time.Second)
	require.NoError(t, err)
	require.True(t, ready)

	// The byte consumed by the wait is replayed.
	got, err := tr.Receive(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

// unixPair returns both ends of a unix domain socket connection.
func unixPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	dir, err := os.MkdirTemp("", "umx")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "s"))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err = net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestWaitReadableUnixSocket(t *testing.T) {
	client, server := unixPair(t)
	tr := New(client)

	ready, err := tr.WaitReadable(0)
	require.NoError(t, err)
	assert.False(t, ready)

	start := time.Now()
	ready, err = tr.WaitReadable(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	_, err = server.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	ready, err = tr.WaitReadable(NoTimeout)
	require.NoError(t, err)
	assert.True(t, ready)

	// Zero timeout still sees data that is already queued.
	ready, err = tr.WaitReadable(0)
	require.NoError(t, err)
	assert.True(t, ready)

	got, err := tr.Receive(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestWaitReadablePeerClosed(t *testing.T) {
	client, server := unixPair(t)
	tr := New(client)

	require.NoError(t, server.Close())

	ready, err := tr.WaitReadable(time.Second)
	if err != nil {
		assert.ErrorIs(t, err, ErrExceptional)
		return
	}
	require.True(t, ready, "EOF is reported as readable")
	_, err = tr.Receive(1)
	assert.ErrorIs(t, err, ErrBroken)
}

func TestCloseAbortsPendingWait(t *testing.T) {
	client, _ := unixPair(t)
	tr := New(client)

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		_, waitErr = tr.WaitReadable(NoTimeout)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())
	wg.Wait()
	assert.ErrorIs(t, waitErr, ErrClosed)
}

func TestDetachKeepsConnOpen(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	tr := New(a)

	go b.Write([]byte("xy"))
	ready, err := tr.WaitReadable(time.Second)
	require.NoError(t, err)
	require.True(t, ready)

	conn := tr.Detach()
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send([]byte{1}), ErrClosed)

	// The byte consumed by the wait comes first, then the rest.
	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), buf)
	conn.Close()
}
