package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packetEvent(connID string, dir Direction, tag uint32) Event {
	code := uint32(0)
	return Event{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, int(tag), time.UTC),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Packet: &PacketEvent{
			Version: 1,
			Type:    8,
			Tag:     tag,
			Kind:    "Result",
			Code:    &code,
		},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := Event{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "c1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		DeviceID:     4,
		Packet: &PacketEvent{
			Kind:       "DeviceAdd",
			Serial:     "AAA",
			ProductID:  0x1234,
			LocationID: 0x500,
		},
	}

	data, err := EncodeEvent(in)
	require.NoError(t, err)

	out, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(out.Timestamp), "nanosecond timestamp preserved")
	out.Timestamp = in.Timestamp
	assert.Equal(t, in, out)
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ulog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	logger.Log(packetEvent("a", DirectionOut, 1))
	logger.Log(packetEvent("a", DirectionIn, 1))
	logger.Log(packetEvent("b", DirectionOut, 1))
	require.NoError(t, logger.Close())

	// Logging after close is ignored.
	logger.Log(packetEvent("a", DirectionOut, 2))
	require.NoError(t, logger.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	var count int
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ulog")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	for tag := uint32(1); tag <= 4; tag++ {
		dir := DirectionOut
		if tag%2 == 0 {
			dir = DirectionIn
		}
		logger.Log(packetEvent("a", dir, tag))
	}
	logger.Log(packetEvent("b", DirectionIn, 9))
	require.NoError(t, logger.Close())

	in := DirectionIn
	r, err := NewFilteredReader(path, Filter{ConnectionID: "a", Direction: &in})
	require.NoError(t, err)
	defer r.Close()

	var tags []uint32
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		tags = append(tags, ev.Packet.Tag)
	}
	assert.Equal(t, []uint32{2, 4}, tags)
}

func TestFilterTimeWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 2, time.UTC)
	end := time.Date(2026, 3, 1, 12, 0, 0, 3, time.UTC)
	f := Filter{TimeStart: &start, TimeEnd: &end}

	assert.False(t, f.Match(packetEvent("a", DirectionIn, 1)))
	assert.True(t, f.Match(packetEvent("a", DirectionIn, 2)))
	assert.False(t, f.Match(packetEvent("a", DirectionIn, 3)), "end is exclusive")
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ulog")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Log(packetEvent("c", DirectionOut, uint32(j)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	n := 0
	for {
		if _, err := r.Next(); err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		n++
	}
	assert.Equal(t, 200, n)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(packetEvent("conn-1", DirectionIn, 7))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "usbmux", entry["msg"])
	assert.Equal(t, "conn-1", entry["conn_id"])
	assert.Equal(t, "IN", entry["direction"])
	assert.Equal(t, "Result", entry["kind"])
	assert.EqualValues(t, 7, entry["tag"])
	assert.EqualValues(t, 0, entry["code"])
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	adapter.Log(packetEvent("conn-1", DirectionIn, 1))
	assert.Empty(t, buf.String())
}

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestTee(t *testing.T) {
	a, b, c := &recordingLogger{}, &recordingLogger{}, &recordingLogger{}

	assert.Nil(t, Tee())
	assert.Nil(t, Tee(nil, NoopLogger{}))
	assert.Same(t, a, Tee(nil, a, NoopLogger{}))

	m := Tee(Tee(a, b), nil, c)
	require.IsType(t, &MultiLogger{}, m)
	assert.Len(t, m.(*MultiLogger).loggers, 3, "nested tees are flattened")

	m.Log(packetEvent("x", DirectionOut, 1))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Len(t, c.events, 1)
}

func TestLoggerFunc(t *testing.T) {
	var tags []uint32
	var l Logger = LoggerFunc(func(e Event) { tags = append(tags, e.Packet.Tag) })
	l.Log(packetEvent("x", DirectionIn, 4))
	l.Log(packetEvent("x", DirectionIn, 5))
	assert.Equal(t, []uint32{4, 5}, tags)
}

func countEvents(t *testing.T, path string) int {
	t.Helper()
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	n := 0
	for {
		if _, err := r.Next(); err != nil {
			require.ErrorIs(t, err, io.EOF)
			return n
		}
		n++
	}
}

func TestOpenFileTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ulog")

	for i := 0; i < 2; i++ {
		l, err := NewFileLogger(path)
		require.NoError(t, err)
		l.Log(packetEvent("a", DirectionOut, uint32(i)))
		require.NoError(t, l.Close())
	}
	assert.Equal(t, 2, countEvents(t, path), "default appends")

	l, err := OpenFile(path, FileOptions{Truncate: true})
	require.NoError(t, err)
	l.Log(packetEvent("b", DirectionOut, 9))
	require.NoError(t, l.Close())
	assert.Equal(t, 1, countEvents(t, path))
}

func TestOpenFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "capture.ulog")
	l, err := OpenFile(path, FileOptions{Mode: 0o600})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenFileFlushEvery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ulog")
	l, err := OpenFile(path, FileOptions{FlushEvery: 3})
	require.NoError(t, err)
	defer l.Close()

	l.Log(packetEvent("a", DirectionOut, 1))
	l.Log(packetEvent("a", DirectionIn, 1))
	assert.Equal(t, 0, countEvents(t, path), "held in memory")

	l.Log(packetEvent("a", DirectionOut, 2))
	assert.Equal(t, 3, countEvents(t, path))

	l.Log(packetEvent("a", DirectionIn, 2))
	require.NoError(t, l.Flush())
	assert.Equal(t, 4, countEvents(t, path))
	assert.Equal(t, uint64(4), l.Events())
}

func TestOpenFileMissingDir(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "no", "such", "capture.ulog"), FileOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "-", DirectionNone.String())
	assert.Equal(t, "SESSION", LayerSession.String())
	assert.Equal(t, "STATE", CategoryState.String())
	assert.Equal(t, "UNKNOWN", Category(9).String())
}
