package usbmux

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/log"
	"github.com/usbmux-protocol/usbmux-go/pkg/transport"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// Conn is one session with the daemon over one transport and one codec.
type Conn struct {
	t     *transport.Transport
	codec wire.Codec

	nextTag  uint32
	mode     Mode
	registry *device.Registry

	id       string
	endpoint string
	logger   *slog.Logger
	plog     log.Logger
}

// Dial opens a session to the daemon using codec.
func Dial(ctx context.Context, codec wire.Codec, opts Options) (*Conn, error) {
	ep := opts.endpoint()
	t, err := transport.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	c := NewConn(t, codec, opts)
	c.endpoint = ep.String()
	return c, nil
}

// NewConn creates a session over an already connected transport.
// The Conn takes ownership of t.
func NewConn(t *transport.Transport, codec wire.Codec, opts Options) *Conn {
	c := &Conn{
		t:        t,
		codec:    codec,
		nextTag:  1,
		mode:     ModeIdle,
		registry: device.NewRegistry(),
		id:       uuid.New().String(),
		logger:   opts.Logger,
		plog:     opts.ProtocolLogger,
	}
	if opts.MaxPacketSize > 0 {
		t.SetMaxPacketSize(opts.MaxPacketSize)
	}
	if c.plog != nil {
		t.SetLogger(c.plog, c.id)
	}
	c.debug("session opened", "codec", codec.Name())
	return c
}

// ID returns the connection ID used in capture logs.
func (c *Conn) ID() string { return c.id }

// Mode returns the current session mode.
func (c *Conn) Mode() Mode { return c.mode }

// Codec returns the wire codec of this session.
func (c *Conn) Codec() wire.Codec { return c.codec }

// Devices returns the roster maintained by Process.
func (c *Conn) Devices() device.View { return c.registry }

// Listen subscribes to device events.
func (c *Conn) Listen() error {
	if !c.mode.control() {
		return fmt.Errorf("%w: listen in %s mode", ErrInvalidState, c.mode)
	}
	code, err := c.exchange(wire.Request{Kind: wire.KindListen})
	if err != nil {
		return err
	}
	if !code.IsOK() {
		return c.daemonError("listen", code)
	}
	c.setMode(ModeListening, "listen accepted")
	return nil
}

// Connect asks the daemon for a byte pipe to port on the device. On success
// the session is finished and the returned conn belongs to the caller.
func (c *Conn) Connect(deviceID uint32, port uint16) (net.Conn, error) {
	if !c.mode.control() {
		return nil, fmt.Errorf("%w: connect in %s mode", ErrInvalidState, c.mode)
	}
	code, err := c.exchange(wire.Request{Kind: wire.KindConnect, DeviceID: deviceID, Port: port})
	if err != nil {
		return nil, err
	}
	if !code.IsOK() {
		return nil, c.daemonError("connect", code)
	}
	c.setMode(ModeConnected, fmt.Sprintf("relay to device %d port %d", deviceID, port))
	return c.t.Detach(), nil
}

// Process waits up to timeout for one event and applies it to the roster.
// A timeout returns an empty delta and a nil error. NoTimeout waits forever.
func (c *Conn) Process(timeout time.Duration) (device.Delta, error) {
	if c.mode != ModeIdle && c.mode != ModeListening {
		return device.Delta{}, fmt.Errorf("%w: process in %s mode", ErrInvalidState, c.mode)
	}

	ready, err := c.t.WaitReadable(timeout)
	if err != nil {
		return device.Delta{}, c.fail("wait", err)
	}
	if !ready {
		return device.Delta{}, nil
	}

	resp, err := c.read()
	if err != nil {
		return device.Delta{}, err
	}

	var delta device.Delta
	switch resp.Kind {
	case wire.KindDeviceAdd:
		d := device.Device{
			ID:         resp.DeviceID,
			ProductID:  resp.ProductID,
			Serial:     resp.Serial,
			LocationID: resp.LocationID,
		}
		if c.registry.Attach(d) {
			c.debug("device re-attached", "device_id", d.ID)
		}
		delta.Added = []device.Device{d}
		c.debug("device attached", "device_id", d.ID, "serial", d.Serial)

	case wire.KindDeviceRemove:
		if _, ok := c.registry.Detach(resp.DeviceID); ok {
			delta.Removed = []uint32{resp.DeviceID}
			c.debug("device detached", "device_id", resp.DeviceID)
		}

	case wire.KindResult:
		err := fmt.Errorf("%w: tag %d code %s", ErrUnexpectedResult, resp.Tag, resp.Code)
		c.logError("process", err, nil)
		return device.Delta{}, err

	default:
		err := fmt.Errorf("%w: %s event", wire.ErrMalformed, resp.Kind)
		c.logError("process", err, nil)
		return device.Delta{}, err
	}
	return delta, nil
}

// Close ends the session. A socket handed out by Connect stays open.
func (c *Conn) Close() error {
	if c.mode == ModeClosed {
		return nil
	}
	c.setMode(ModeClosed, "closed")
	return c.t.Close()
}

// exchange sends one request and reads its reply. Every request takes the
// next tag, whether or not the exchange succeeds.
func (c *Conn) exchange(req wire.Request) (wire.ResultCode, error) {
	req.Tag = c.nextTag
	c.nextTag++

	packet, err := c.codec.EncodeRequest(req)
	if err != nil {
		return 0, err
	}
	c.logRequest(req)
	if err := c.t.WritePacket(packet); err != nil {
		return 0, c.fail("send "+req.Kind.String(), err)
	}

	resp, err := c.read()
	if err != nil {
		return 0, err
	}
	if resp.Kind != wire.KindResult {
		err := fmt.Errorf("%w: %s reply to %s", wire.ErrMalformed, resp.Kind, req.Kind)
		c.logError(req.Kind.String(), err, nil)
		return 0, err
	}
	if resp.Tag != req.Tag {
		// Replies can no longer be paired with requests.
		return 0, c.fail(req.Kind.String(), &TagMismatchError{Expected: req.Tag, Actual: resp.Tag})
	}
	return resp.Code, nil
}

// read receives and decodes one packet.
func (c *Conn) read() (wire.Response, error) {
	f, err := c.t.ReadPacket()
	if err != nil {
		// A bad length field loses the stream position too.
		return wire.Response{}, c.fail("read", err)
	}
	resp, err := c.codec.DecodeResponse(f)
	if err != nil {
		c.logError("decode", err, nil)
		return wire.Response{}, err
	}
	c.logResponse(f, resp)
	return resp, nil
}

// fail closes the session after a transport or pairing error.
func (c *Conn) fail(op string, err error) error {
	c.logError(op, err, nil)
	if c.mode != ModeClosed {
		c.setMode(ModeClosed, err.Error())
		c.t.Close()
	}
	return fmt.Errorf("usbmux: %s: %w", op, err)
}

func (c *Conn) daemonError(op string, code wire.ResultCode) error {
	err := &DaemonError{Op: op, Code: code}
	n := int(code)
	c.logError(op, err, &n)
	return err
}

func (c *Conn) setMode(m Mode, reason string) {
	old := c.mode
	c.mode = m
	c.debug("mode changed", "from", old, "to", m, "reason", reason)
	if c.plog == nil {
		return
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionNone,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		Endpoint:     c.endpoint,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: m.String(),
			Reason:   reason,
		},
	})
}

func (c *Conn) logRequest(req wire.Request) {
	if c.plog == nil {
		return
	}
	msgType := wire.MessagePlist
	if c.codec.Version() == wire.VersionBinary {
		msgType = req.Kind.MessageType()
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Endpoint:     c.endpoint,
		DeviceID:     req.DeviceID,
		Packet: &log.PacketEvent{
			Version: c.codec.Version(),
			Type:    msgType,
			Tag:     req.Tag,
			Kind:    req.Kind.String(),
			Port:    req.Port,
		},
	})
}

func (c *Conn) logResponse(f wire.Frame, resp wire.Response) {
	if c.plog == nil {
		return
	}
	pe := &log.PacketEvent{
		Version:    f.Header.Version,
		Type:       f.Header.Type,
		Tag:        resp.Tag,
		Kind:       resp.Kind.String(),
		Serial:     resp.Serial,
		ProductID:  resp.ProductID,
		LocationID: resp.LocationID,
	}
	if resp.Kind == wire.KindResult {
		code := uint32(resp.Code)
		pe.Code = &code
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Endpoint:     c.endpoint,
		DeviceID:     resp.DeviceID,
		Packet:       pe,
	})
}

func (c *Conn) logError(op string, err error, code *int) {
	c.debug("session error", "op", op, "error", err)
	if c.plog == nil {
		return
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionNone,
		Layer:        log.LayerSession,
		Category:     log.CategoryError,
		Endpoint:     c.endpoint,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Code:    code,
			Context: op,
		},
	})
}

func (c *Conn) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, append([]any{"conn_id", c.id}, args...)...)
	}
}
