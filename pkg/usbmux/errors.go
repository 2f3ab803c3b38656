package usbmux

import (
	"errors"
	"fmt"

	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// Session errors.
var (
	// ErrDaemon is the sentinel behind every *DaemonError.
	ErrDaemon = errors.New("usbmux: daemon returned error")

	// ErrUnexpectedResult indicates a Result packet arrived while listening
	// for events.
	ErrUnexpectedResult = errors.New("usbmux: unexpected result packet")

	// ErrInvalidState indicates an operation not allowed in the current mode.
	ErrInvalidState = errors.New("usbmux: invalid state")
)

// DaemonError reports a non-zero result code for a request.
type DaemonError struct {
	Op   string
	Code wire.ResultCode
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("usbmux: %s: daemon returned %s (%d)", e.Op, e.Code, uint32(e.Code))
}

// Unwrap returns ErrDaemon.
func (e *DaemonError) Unwrap() error {
	return ErrDaemon
}

// TagMismatchError reports a reply whose tag differs from the request's.
// The Conn is closed when it occurs.
type TagMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *TagMismatchError) Error() string {
	return fmt.Sprintf("usbmux: reply tag mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns wire.ErrMalformed.
func (e *TagMismatchError) Unwrap() error {
	return wire.ErrMalformed
}

// IsVersionMismatch reports whether err means the daemon speaks another
// protocol version: a packet with a different version, or a BadVersion
// result code.
func IsVersionMismatch(err error) bool {
	if errors.Is(err, wire.ErrVersionMismatch) {
		return true
	}
	var de *DaemonError
	return errors.As(err, &de) && de.Code == wire.ResultBadVersion
}
