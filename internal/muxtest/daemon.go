// Package muxtest provides an in-process fake usbmux daemon for tests.
//
// The daemon listens on a unix socket, speaks both wire codecs, keeps a
// roster that tests change with Attach and Detach, and echoes bytes back on
// relays.
package muxtest

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/transport"
	"github.com/usbmux-protocol/usbmux-go/pkg/version"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// Daemon is a fake usbmuxd.
type Daemon struct {
	ln       net.Listener
	dir      string
	endpoint transport.Endpoint

	// configuration, fixed after Start
	versions    []uint32
	badVersion  bool
	listenCode  wire.ResultCode
	connectCode wire.ResultCode
	tagSkew     uint32
	replyKind   wire.Kind

	mu        sync.Mutex
	devices   []device.Device
	sessions  map[net.Conn]*session
	requests  []wire.Request
	clients   []Client
	accepted  int
	closed    bool
	wg        sync.WaitGroup
	listening chan struct{}
}

type session struct {
	conn      net.Conn
	codec     wire.Codec
	listening bool
}

// Client is the identity a plist request announced.
type Client struct {
	ProgName string
	Version  version.LibVersion
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithVersions sets the protocol versions the daemon accepts, preferred
// first. The default is both, binary preferred.
func WithVersions(versions ...uint32) Option {
	return func(d *Daemon) { d.versions = versions }
}

// WithBadVersionResult makes the daemon answer an unsupported version with
// a BadVersion result in that version, instead of a packet in its
// preferred version.
func WithBadVersionResult() Option {
	return func(d *Daemon) { d.badVersion = true }
}

// WithListenResult sets the result code for Listen requests.
func WithListenResult(code wire.ResultCode) Option {
	return func(d *Daemon) { d.listenCode = code }
}

// WithConnectResult sets the result code for Connect requests.
func WithConnectResult(code wire.ResultCode) Option {
	return func(d *Daemon) { d.connectCode = code }
}

// WithTagSkew adds n to the tag of every reply.
func WithTagSkew(n uint32) Option {
	return func(d *Daemon) { d.tagSkew = n }
}

// WithReplyKind makes the daemon reply to requests with kind instead of
// a Result.
func WithReplyKind(kind wire.Kind) Option {
	return func(d *Daemon) { d.replyKind = kind }
}

// WithDevices preloads the roster.
func WithDevices(devices ...device.Device) Option {
	return func(d *Daemon) { d.devices = append(d.devices, devices...) }
}

// Start runs a daemon until the test ends.
func Start(tb testing.TB, opts ...Option) *Daemon {
	tb.Helper()

	// Socket paths are length limited; t.TempDir is too deep on some systems.
	dir, err := os.MkdirTemp("", "mux")
	if err != nil {
		tb.Fatalf("muxtest: temp dir: %v", err)
	}
	path := filepath.Join(dir, "usbmuxd")
	ln, err := net.Listen("unix", path)
	if err != nil {
		os.RemoveAll(dir)
		tb.Fatalf("muxtest: listen: %v", err)
	}

	d := &Daemon{
		ln:        ln,
		dir:       dir,
		endpoint:  transport.Endpoint{Network: "unix", Address: path},
		versions:  []uint32{wire.VersionBinary, wire.VersionPlist},
		replyKind: wire.KindResult,
		sessions:  make(map[net.Conn]*session),
		listening: make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.serve()
	tb.Cleanup(func() { d.Close() })
	return d
}

// Endpoint returns the daemon address.
func (d *Daemon) Endpoint() transport.Endpoint { return d.endpoint }

// Attach adds dev to the roster and notifies every listening session.
func (d *Daemon) Attach(dev device.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, dev)
	d.broadcast(wire.Response{
		Kind:       wire.KindDeviceAdd,
		DeviceID:   dev.ID,
		ProductID:  dev.ProductID,
		Serial:     dev.Serial,
		LocationID: dev.LocationID,
	})
}

// Detach removes the device with id and notifies every listening session.
// Unknown ids are still announced.
func (d *Daemon) Detach(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.devices[:0]
	for _, dev := range d.devices {
		if dev.ID != id {
			kept = append(kept, dev)
		}
	}
	d.devices = kept
	d.broadcast(wire.Response{Kind: wire.KindDeviceRemove, DeviceID: id})
}

// Requests returns every request decoded so far.
func (d *Daemon) Requests() []wire.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.Request(nil), d.requests...)
}

// Clients returns the identities of plist requests, in arrival order.
func (d *Daemon) Clients() []Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Client(nil), d.clients...)
}

// Accepted returns the number of connections accepted so far.
func (d *Daemon) Accepted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted
}

// Listening returns a channel that receives once per accepted Listen.
func (d *Daemon) Listening() <-chan struct{} { return d.listening }

// DropSessions closes every open connection, as a daemon restart would.
func (d *Daemon) DropSessions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for conn := range d.sessions {
		conn.Close()
	}
}

// Close stops the daemon and closes every connection.
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for conn := range d.sessions {
		conn.Close()
	}
	d.mu.Unlock()

	err := d.ln.Close()
	d.wg.Wait()
	os.RemoveAll(d.dir)
	return err
}

func (d *Daemon) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.accepted++
		s := &session{conn: conn}
		d.sessions[conn] = s
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handle(s)
			d.mu.Lock()
			delete(d.sessions, conn)
			d.mu.Unlock()
			conn.Close()
		}()
	}
}

func (d *Daemon) handle(s *session) {
	t := transport.New(s.conn)
	f, err := t.ReadPacket()
	if err != nil {
		return
	}

	codec, ok := d.codecFor(f.Header.Version)
	if !ok {
		d.rejectVersion(s, f)
		return
	}
	s.codec = codec

	req, err := codec.DecodeRequest(f)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if pc, ok := codec.(wire.PlistCodec); ok && !d.identify(pc, f) {
		d.mu.Lock()
		d.reply(s, req.Tag, wire.ResultBadCommand)
		d.mu.Unlock()
		return
	}

	switch req.Kind {
	case wire.KindListen:
		if !d.startListening(s, req.Tag) {
			return
		}
		select {
		case d.listening <- struct{}{}:
		default:
		}
		// Hold the session until the client goes away.
		io.Copy(io.Discard, s.conn)

	case wire.KindConnect:
		d.mu.Lock()
		err := d.reply(s, req.Tag, d.connectCode)
		d.mu.Unlock()
		if err != nil || d.connectCode != wire.ResultOK || d.replyKind != wire.KindResult {
			return
		}
		// Echo relay traffic.
		io.Copy(s.conn, s.conn)
	}
}

// startListening replies to Listen and, on success, sends the current
// roster and registers the session for events, all under one lock so no
// event is missed or reordered.
func (d *Daemon) startListening(s *session, tag uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.reply(s, tag, d.listenCode); err != nil {
		return false
	}
	if d.listenCode != wire.ResultOK || d.replyKind != wire.KindResult {
		return false
	}
	s.listening = true
	for _, dev := range d.devices {
		resp := wire.Response{
			Kind:       wire.KindDeviceAdd,
			DeviceID:   dev.ID,
			ProductID:  dev.ProductID,
			Serial:     dev.Serial,
			LocationID: dev.LocationID,
		}
		if err := d.send(s, resp); err != nil {
			return false
		}
	}
	return true
}

// identify records the client behind a plist request. Clients that do not
// announce a usbmux-go version are refused.
func (d *Daemon) identify(codec wire.PlistCodec, f wire.Frame) bool {
	info, err := codec.ClientInfo(f)
	if err != nil {
		return false
	}
	v, err := version.ParseClientString(info.Version)
	if err != nil {
		return false
	}
	d.mu.Lock()
	d.clients = append(d.clients, Client{ProgName: info.ProgName, Version: v})
	d.mu.Unlock()
	return true
}

func (d *Daemon) rejectVersion(s *session, f wire.Frame) {
	var (
		codec wire.Codec
		code  wire.ResultCode
	)
	if d.badVersion {
		c, ok := codecForVersion(f.Header.Version)
		if !ok {
			return
		}
		codec, code = c, wire.ResultBadVersion
	} else {
		codec, _ = codecForVersion(d.versions[0])
		code = wire.ResultBadVersion
	}
	packet, err := codec.EncodeResponse(wire.Response{Kind: wire.KindResult, Tag: f.Header.Tag, Code: code})
	if err != nil {
		return
	}
	s.conn.Write(packet)
}

// reply sends a reply to a request. Callers hold d.mu.
func (d *Daemon) reply(s *session, tag uint32, code wire.ResultCode) error {
	resp := wire.Response{Kind: d.replyKind, Tag: tag + d.tagSkew, Code: code}
	return d.send(s, resp)
}

// broadcast sends resp to every listening session. Callers hold d.mu.
func (d *Daemon) broadcast(resp wire.Response) {
	for _, s := range d.sessions {
		if s.listening {
			d.send(s, resp)
		}
	}
}

// send encodes and writes resp. Callers hold d.mu.
func (d *Daemon) send(s *session, resp wire.Response) error {
	packet, err := s.codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(packet)
	return err
}

func (d *Daemon) codecFor(version uint32) (wire.Codec, bool) {
	for _, v := range d.versions {
		if v == version {
			return codecForVersion(version)
		}
	}
	return nil, false
}

func codecForVersion(version uint32) (wire.Codec, bool) {
	switch version {
	case wire.VersionBinary:
		return wire.NewBinaryCodec(), true
	case wire.VersionPlist:
		return wire.NewPlistCodec("", ""), true
	}
	return nil, false
}
