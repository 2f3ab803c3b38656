package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/usbmux-protocol/usbmux-go/internal/muxtest"
	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/usbmux"
)

type stubSession struct{ mock.Mock }

func (s *stubSession) Devices() []device.Device {
	ret := s.Called()
	if ret.Get(0) == nil {
		return nil
	}
	return ret.Get(0).([]device.Device)
}

func (s *stubSession) Process(timeout time.Duration) (device.Delta, error) {
	ret := s.Called(timeout)
	return ret.Get(0).(device.Delta), ret.Error(1)
}

func (s *stubSession) Close() error { return s.Called().Error(0) }

// recorder collects watcher events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Event, 64)}
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.notify <- e
}

func (r *recorder) summary() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		s := e.Type.String()
		if e.Type == EventAttached || e.Type == EventDetached {
			s += " " + e.Device.Serial
		}
		out = append(out, s)
	}
	return out
}

// waitFor blocks until an event of type typ arrives.
func (r *recorder) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-r.notify:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return Event{}
		}
	}
}

var (
	devA = device.Device{ID: 1, Serial: "A"}
	devB = device.Device{ID: 2, Serial: "B"}
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Jitter: -1}
}

func TestWatcherReportsRosterAndLoss(t *testing.T) {
	lost := errors.New("daemon gone")

	sess := &stubSession{}
	sess.On("Devices").Return([]device.Device{devA})
	sess.On("Process", 10*time.Millisecond).Return(device.Delta{Added: []device.Device{devB}}, nil).Once()
	sess.On("Process", 10*time.Millisecond).Return(device.Delta{Removed: []uint32{1}}, nil).Once()
	sess.On("Process", 10*time.Millisecond).Return(device.Delta{Removed: []uint32{9}}, nil).Once()
	sess.On("Process", 10*time.Millisecond).Return(device.Delta{}, lost).Once()
	sess.On("Close").Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials int
	dial := func(ctx context.Context) (Session, error) {
		dials++
		switch dials {
		case 1:
			return sess, nil
		case 2:
			return nil, errors.New("refused")
		default:
			cancel()
			return nil, ctx.Err()
		}
	}

	rec := newRecorder()
	var attempts []int
	w := NewWatcher(dial, WatcherConfig{
		Backoff:        fastBackoff(),
		PollInterval:   10 * time.Millisecond,
		OnEvent:        rec.record,
		OnReconnecting: func(attempt int, _ time.Duration) { attempts = append(attempts, attempt) },
	})

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, w.State())
	assert.Equal(t, 3, dials)
	assert.Equal(t, []int{1, 2}, attempts)

	assert.Equal(t, []string{
		"connected",
		"attached A",
		"attached B",
		"detached A",
		"detached B",
		"disconnected",
	}, rec.summary())
	assert.Empty(t, w.Devices())
	sess.AssertExpectations(t)
}

func TestWatcherDisconnectCarriesCause(t *testing.T) {
	lost := errors.New("broken")
	sess := &stubSession{}
	sess.On("Devices").Return(nil)
	sess.On("Process", mock.Anything).Return(device.Delta{}, lost).Once()
	sess.On("Close").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder()
	w := NewWatcher(func(context.Context) (Session, error) {
		if sess == nil {
			cancel()
			return nil, ctx.Err()
		}
		s := sess
		sess = nil
		return s, nil
	}, WatcherConfig{Backoff: fastBackoff(), OnEvent: rec.record})

	require.ErrorIs(t, w.Run(ctx), context.Canceled)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, EventDisconnected, rec.events[1].Type)
	assert.ErrorIs(t, rec.events[1].Err, lost)
}

func TestWatcherLossDetachesInIDOrder(t *testing.T) {
	sess := &stubSession{}
	sess.On("Devices").Return([]device.Device{devB, devA})
	sess.On("Process", mock.Anything).Return(device.Delta{}, errors.New("reset")).Once()
	sess.On("Close").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder()
	first := true
	w := NewWatcher(func(context.Context) (Session, error) {
		if !first {
			cancel()
			return nil, ctx.Err()
		}
		first = false
		return sess, nil
	}, WatcherConfig{Backoff: fastBackoff(), OnEvent: rec.record})

	require.ErrorIs(t, w.Run(ctx), context.Canceled)
	assert.Equal(t, []string{
		"connected",
		"attached B",
		"attached A",
		"detached A",
		"detached B",
		"disconnected",
	}, rec.summary())
	assert.Empty(t, w.Devices())
}

func TestWatcherRejectsSecondRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	w := NewWatcher(func(ctx context.Context) (Session, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, WatcherConfig{})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-started

	assert.ErrorIs(t, w.Run(context.Background()), ErrWatcherRunning)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherAcrossDaemonRestart(t *testing.T) {
	d := muxtest.Start(t, muxtest.WithDevices(devA))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder()
	w := NewWatcher(func(ctx context.Context) (Session, error) {
		c, err := usbmux.New(ctx, usbmux.Options{Endpoint: d.Endpoint()})
		if err != nil {
			return nil, err
		}
		return c, nil
	}, WatcherConfig{
		Backoff:      fastBackoff(),
		PollInterval: 20 * time.Millisecond,
		OnEvent:      rec.record,
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rec.waitFor(t, EventConnected)
	e := rec.waitFor(t, EventAttached)
	assert.Equal(t, devA, e.Device)

	d.DropSessions()
	e = rec.waitFor(t, EventDetached)
	assert.Equal(t, devA, e.Device)
	rec.waitFor(t, EventDisconnected)

	rec.waitFor(t, EventConnected)
	e = rec.waitFor(t, EventAttached)
	assert.Equal(t, devA, e.Device)
	assert.Equal(t, []device.Device{devA}, w.Devices())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	assert.Equal(t, "attached", EventAttached.String())
}
