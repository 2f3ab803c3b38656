// Package relay forwards local TCP connections to a port on a device.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
)

// ErrNoDevice is returned when no attached device matches the relay.
var ErrNoDevice = errors.New("relay: no matching device")

// Source provides devices and relay sockets. *Shared implements it.
type Source interface {
	Devices() []device.Device
	Lookup(serial string) (device.Device, bool)
	Connect(ctx context.Context, dev device.Device, port uint16) (net.Conn, error)
}

// Config describes one forwarded port.
type Config struct {
	// Listen is the local TCP address, e.g. "127.0.0.1:2222".
	Listen string

	// Serial selects the device. Empty selects the device with the lowest ID.
	Serial string

	// Port is the device port.
	Port uint16

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Relay accepts local connections and pipes each to a new device relay.
type Relay struct {
	cfg Config
	src Source

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a relay. Call Listen, then Serve.
func New(src Source, cfg Config) *Relay {
	return &Relay{cfg: cfg, src: src}
}

// Listen opens the local listener.
func (r *Relay) Listen() error {
	ln, err := net.Listen("tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", r.cfg.Listen, err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()
	return nil
}

// Addr returns the local listener address, or nil before Listen.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Serve accepts connections until ctx ends, then waits for open pipes to
// finish. It calls Listen if needed.
func (r *Relay) Serve(ctx context.Context) error {
	if r.Addr() == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	r.debug("relay listening", "addr", ln.Addr().String(), "port", r.cfg.Port, "serial", r.cfg.Serial)
	for {
		local, err := ln.Accept()
		if err != nil {
			r.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.handle(ctx, local); err != nil {
				r.debug("relay closed", "error", err)
			}
		}()
	}
}

// Close stops accepting connections.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *Relay) handle(ctx context.Context, local net.Conn) error {
	dev, err := r.pick()
	if err != nil {
		local.Close()
		return err
	}
	remote, err := r.src.Connect(ctx, dev, r.cfg.Port)
	if err != nil {
		local.Close()
		return err
	}
	r.debug("relay opened", "local", local.RemoteAddr().String(), "device_id", dev.ID, "port", r.cfg.Port)
	return Pipe(ctx, local, remote)
}

func (r *Relay) pick() (device.Device, error) {
	if r.cfg.Serial != "" {
		if d, ok := r.src.Lookup(r.cfg.Serial); ok {
			return d, nil
		}
		return device.Device{}, fmt.Errorf("%w: serial %q", ErrNoDevice, r.cfg.Serial)
	}
	devices := r.src.Devices()
	if len(devices) == 0 {
		return device.Device{}, ErrNoDevice
	}
	return devices[0], nil
}

func (r *Relay) debug(msg string, args ...any) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Debug(msg, args...)
	}
}

// Pipe copies bytes both ways until either side closes or ctx ends, then
// closes both.
func Pipe(ctx context.Context, a, b net.Conn) error {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group
	copyHalf := func(dst, src net.Conn) func() error {
		return func() error {
			defer closeBoth()
			_, err := io.Copy(dst, src)
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
	g.Go(copyHalf(a, b))
	g.Go(copyHalf(b, a))
	return g.Wait()
}
