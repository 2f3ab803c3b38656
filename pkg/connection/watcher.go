package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
)

// DefaultPollInterval bounds each event wait so cancellation is noticed.
const DefaultPollInterval = 250 * time.Millisecond

// ErrWatcherRunning is returned by Run when the watcher is already running.
var ErrWatcherRunning = errors.New("connection: watcher already running")

// Session is a listening usbmux session. *usbmux.Client implements it.
type Session interface {
	Devices() []device.Device
	Process(timeout time.Duration) (device.Delta, error)
	Close() error
}

// DialFunc opens a listening session.
type DialFunc func(ctx context.Context) (Session, error)

// State is the watcher state.
type State uint8

const (
	// StateDisconnected indicates the watcher is not running.
	StateDisconnected State = iota

	// StateConnecting indicates the first dial is in progress.
	StateConnecting

	// StateConnected indicates a session is up.
	StateConnected

	// StateReconnecting indicates a session was lost and redials are running.
	StateReconnecting

	// StateClosed indicates Run has returned.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EventType classifies watcher events.
type EventType uint8

const (
	EventConnected EventType = iota
	EventDisconnected
	EventAttached
	EventDetached
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAttached:
		return "attached"
	case EventDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Event is a roster or session change.
type Event struct {
	Type EventType

	// Device is set for EventAttached and EventDetached.
	Device device.Device

	// Err is the cause of an EventDisconnected.
	Err error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Backoff BackoffConfig

	// PollInterval bounds each Process call. Zero selects DefaultPollInterval.
	PollInterval time.Duration

	// OnEvent receives every event, from the Run goroutine.
	OnEvent func(Event)

	// OnReconnecting is called before each redial delay.
	OnReconnecting func(attempt int, delay time.Duration)

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Watcher follows the device roster across session losses.
type Watcher struct {
	mu      sync.RWMutex
	state   State
	running bool
	known   *device.Registry

	dial    DialFunc
	backoff *Backoff
	cfg     WatcherConfig
}

// NewWatcher creates a watcher that opens sessions with dial.
func NewWatcher(dial DialFunc, cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		state:   StateDisconnected,
		known:   device.NewRegistry(),
		dial:    dial,
		backoff: NewBackoffWithConfig(cfg.Backoff),
		cfg:     cfg,
	}
}

// State returns the current watcher state.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Devices returns the devices the watcher currently knows, ordered by ID.
func (w *Watcher) Devices() []device.Device {
	return w.known.List()
}

// Run dials, pumps events and redials until ctx ends. It returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.setState(StateClosed)
	}()

	w.setState(StateConnecting)
	for {
		sess, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.debug("dial failed", "error", err)
			if err := w.wait(ctx); err != nil {
				return err
			}
			continue
		}

		w.backoff.Reset()
		w.setState(StateConnected)
		w.emit(Event{Type: EventConnected})
		for _, d := range sess.Devices() {
			w.attach(d)
		}

		err = w.pump(ctx, sess)
		sess.Close()
		w.dropAll()
		w.emit(Event{Type: EventDisconnected, Err: err})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.debug("session lost", "error", err)
		w.setState(StateReconnecting)
		if err := w.wait(ctx); err != nil {
			return err
		}
	}
}

// pump applies events until the session fails or ctx ends.
func (w *Watcher) pump(ctx context.Context, sess Session) error {
	for ctx.Err() == nil {
		delta, err := sess.Process(w.cfg.PollInterval)
		if err != nil {
			return err
		}
		for _, d := range delta.Added {
			w.attach(d)
		}
		for _, id := range delta.Removed {
			w.detach(id)
		}
	}
	return ctx.Err()
}

func (w *Watcher) wait(ctx context.Context) error {
	delay := w.backoff.Current()
	if w.cfg.OnReconnecting != nil {
		w.cfg.OnReconnecting(w.backoff.Attempts()+1, delay)
	}
	return w.backoff.Wait(ctx)
}

func (w *Watcher) attach(d device.Device) {
	w.known.Attach(d)
	w.emit(Event{Type: EventAttached, Device: d})
}

func (w *Watcher) detach(id uint32) {
	if d, ok := w.known.Detach(id); ok {
		w.emit(Event{Type: EventDetached, Device: d})
	}
}

// dropAll reports every known device as detached, lowest ID first.
func (w *Watcher) dropAll() {
	for _, d := range w.known.Clear() {
		w.emit(Event{Type: EventDetached, Device: d})
	}
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	old := w.state
	w.state = s
	w.mu.Unlock()
	if old != s {
		w.debug("state changed", "from", old, "to", s)
	}
}

func (w *Watcher) emit(e Event) {
	if w.cfg.OnEvent != nil {
		w.cfg.OnEvent(e)
	}
}

func (w *Watcher) debug(msg string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Debug(msg, args...)
	}
}
