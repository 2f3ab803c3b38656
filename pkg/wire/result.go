package wire

import "fmt"

// ResultCode is the numeric code carried by a Result message.
type ResultCode uint32

const (
	// ResultOK indicates success.
	ResultOK ResultCode = 0

	// ResultBadCommand indicates the daemon did not understand the request.
	ResultBadCommand ResultCode = 1

	// ResultBadDevice indicates the device ID is unknown.
	ResultBadDevice ResultCode = 2

	// ResultConnRefused indicates nothing is listening on the device port.
	ResultConnRefused ResultCode = 3

	// ResultBadVersion indicates the daemon does not accept the protocol version.
	ResultBadVersion ResultCode = 6
)

// String returns the result code name.
func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultBadCommand:
		return "BAD_COMMAND"
	case ResultBadDevice:
		return "BAD_DEVICE"
	case ResultConnRefused:
		return "CONNECTION_REFUSED"
	case ResultBadVersion:
		return "BAD_VERSION"
	default:
		return fmt.Sprintf("RESULT(%d)", uint32(c))
	}
}

// IsOK returns true if the code indicates success.
func (c ResultCode) IsOK() bool {
	return c == ResultOK
}
