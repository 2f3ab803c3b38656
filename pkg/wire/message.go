package wire

import (
	"errors"
	"fmt"
)

// Wire errors.
var (
	// ErrVersionMismatch indicates a packet carried a different protocol version.
	ErrVersionMismatch = errors.New("wire: protocol version mismatch")

	// ErrMalformed indicates a packet that cannot be decoded.
	ErrMalformed = errors.New("wire: malformed packet")

	// ErrInvalidRequest indicates an attempt to encode a kind the
	// caller's role may not send.
	ErrInvalidRequest = errors.New("wire: invalid request")
)

// VersionError reports the expected and received protocol versions.
type VersionError struct {
	Expected uint32
	Actual   uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("wire: protocol version mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns ErrVersionMismatch.
func (e *VersionError) Unwrap() error {
	return ErrVersionMismatch
}

// Request is a control request sent by a client.
type Request struct {
	Kind     Kind // KindConnect or KindListen
	Tag      uint32
	DeviceID uint32 // Connect only
	Port     uint16 // Connect only, host byte order
}

// Validate checks that the request can be sent by a client.
func (r *Request) Validate() error {
	if !r.Kind.IsRequest() {
		return fmt.Errorf("%w: %s is not a client request", ErrInvalidRequest, r.Kind)
	}
	return nil
}

// Response is a packet sent by the daemon: a reply to a request or an
// asynchronous device event.
type Response struct {
	Kind Kind
	Tag  uint32

	// Code is set for KindResult.
	Code ResultCode

	// DeviceID is set for KindDeviceAdd and KindDeviceRemove.
	DeviceID uint32

	// Attach properties, set for KindDeviceAdd.
	ProductID  uint16
	Serial     string
	LocationID uint32
}

// Validate checks that the response can be sent by the daemon.
func (r *Response) Validate() error {
	if !r.Kind.IsResponse() {
		return fmt.Errorf("%w: %s is not a daemon message", ErrInvalidRequest, r.Kind)
	}
	return nil
}

// Codec encodes and decodes usbmux packets for one protocol version.
//
// EncodeRequest and DecodeResponse are the client side. EncodeResponse and
// DecodeRequest are the daemon side; they exist so both directions of a
// conversation can be produced and checked with the same codec.
// Codecs are stateless and safe for concurrent use.
type Codec interface {
	// Version returns the protocol version carried in the header.
	Version() uint32

	// Name returns a short codec name for logs.
	Name() string

	EncodeRequest(req Request) ([]byte, error)
	DecodeResponse(f Frame) (Response, error)

	EncodeResponse(resp Response) ([]byte, error)
	DecodeRequest(f Frame) (Request, error)
}

// checkVersion returns a *VersionError if the frame was not encoded with version.
func checkVersion(f Frame, version uint32) error {
	if f.Header.Version != version {
		return &VersionError{Expected: version, Actual: f.Header.Version}
	}
	return nil
}

// swapPort converts a port between host and network byte order.
func swapPort(port uint16) uint16 {
	return port<<8 | port>>8
}
