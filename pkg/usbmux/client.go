package usbmux

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// Negotiate finds the protocol version the daemon speaks. It listens with
// the binary codec first and, only if the daemon reports a version
// mismatch, redials once with the plist codec. It returns the codec that
// worked and the listening session.
func Negotiate(ctx context.Context, opts Options) (wire.Codec, *Conn, error) {
	codecs := []wire.Codec{wire.NewBinaryCodec(), opts.plistCodec()}

	var lastErr error
	for i, codec := range codecs {
		conn, err := Dial(ctx, codec, opts)
		if err != nil {
			return nil, nil, err
		}
		err = conn.Listen()
		if err == nil {
			if opts.Logger != nil {
				opts.Logger.Info("protocol negotiated", "codec", codec.Name(), "version", codec.Version())
			}
			return codec, conn, nil
		}
		conn.Close()
		lastErr = err

		if i == len(codecs)-1 || !IsVersionMismatch(err) {
			break
		}
		if opts.Logger != nil {
			opts.Logger.Info("daemon rejected protocol version, retrying",
				"codec", codec.Name(), "next", codecs[i+1].Name(), "error", err)
		}
	}
	return nil, nil, fmt.Errorf("usbmux: negotiate: %w", lastErr)
}

// Client is a negotiated, listening session plus the ability to open
// relays with the same protocol version.
type Client struct {
	opts   Options
	codec  wire.Codec
	listen *Conn
}

// New negotiates with the daemon and starts listening for device events.
func New(ctx context.Context, opts Options) (*Client, error) {
	codec, conn, err := Negotiate(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Client{opts: opts, codec: codec, listen: conn}, nil
}

// Version returns the negotiated protocol version.
func (c *Client) Version() uint32 { return c.codec.Version() }

// Codec returns the negotiated codec.
func (c *Client) Codec() wire.Codec { return c.codec }

// Registry returns a read-only view of the roster.
func (c *Client) Registry() device.View { return c.listen.Devices() }

// Devices returns the attached devices ordered by ID.
func (c *Client) Devices() []device.Device { return c.listen.Devices().List() }

// Device returns the attached device with the given ID.
func (c *Client) Device(id uint32) (device.Device, bool) { return c.listen.Devices().Get(id) }

// Lookup returns the attached device with the given serial number.
func (c *Client) Lookup(serial string) (device.Device, bool) {
	return c.listen.Devices().BySerial(serial)
}

// Process pumps one event from the listening session.
func (c *Client) Process(timeout time.Duration) (device.Delta, error) {
	return c.listen.Process(timeout)
}

// Connect opens a new session with the negotiated codec and asks for a
// relay to port on dev. The returned conn belongs to the caller.
func (c *Client) Connect(ctx context.Context, dev device.Device, port uint16) (net.Conn, error) {
	conn, err := Dial(ctx, c.codec, c.opts)
	if err != nil {
		return nil, err
	}
	relay, err := conn.Connect(dev.ID, port)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return relay, nil
}

// Close ends the listening session.
func (c *Client) Close() error {
	return c.listen.Close()
}
