package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/usbmux"
)

// Shared serializes use of one Client across goroutines. The roster pump
// and relay dials take turns on the same mutex, so Pump uses short waits.
type Shared struct {
	mu     sync.Mutex
	client *usbmux.Client
}

// NewShared wraps c. The caller keeps ownership of c.
func NewShared(c *usbmux.Client) *Shared {
	return &Shared{client: c}
}

// Devices returns the attached devices ordered by ID.
func (s *Shared) Devices() []device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Devices()
}

// Lookup returns the attached device with serial.
func (s *Shared) Lookup(serial string) (device.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Lookup(serial)
}

// Connect opens a relay to port on dev.
func (s *Shared) Connect(ctx context.Context, dev device.Device, port uint16) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Connect(ctx, dev, port)
}

// Process pumps one event, waiting at most timeout.
func (s *Shared) Process(timeout time.Duration) (device.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Process(timeout)
}

// Pump processes events until ctx ends or the session fails. Non-empty
// deltas go to fn, which may be nil.
func (s *Shared) Pump(ctx context.Context, interval time.Duration, fn func(device.Delta)) error {
	for ctx.Err() == nil {
		delta, err := s.Process(interval)
		if err != nil {
			return err
		}
		if fn != nil && !delta.Empty() {
			fn(delta)
		}
	}
	return ctx.Err()
}
