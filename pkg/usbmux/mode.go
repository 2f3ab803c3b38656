package usbmux

// Mode is the session state of a Conn.
type Mode uint8

const (
	// ModeIdle is a fresh session. Listen and Connect are allowed.
	ModeIdle Mode = iota

	// ModeListening receives device events.
	ModeListening

	// ModeConnected has handed its socket to the caller. No more control
	// packets are sent.
	ModeConnected

	// ModeClosed rejects every operation.
	ModeClosed
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeListening:
		return "LISTENING"
	case ModeConnected:
		return "CONNECTED"
	case ModeClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// control reports whether control exchanges are allowed in m.
func (m Mode) control() bool {
	return m == ModeIdle
}
