package log

import (
	"time"
)

// Event is a protocol capture event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the usbmux connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// Endpoint is the daemon address.
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// DeviceID is set once a connection targets or reports a device.
	DeviceID uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of packet flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
	// DirectionNone is used for events that are not packets.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "-"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the packet codec layer.
	LayerWire Layer = 1
	// LayerSession is the connection state machine.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw packet bytes at the transport layer.
type FrameEvent struct {
	// Size is the packet size in bytes, header included.
	Size int `cbor:"1,keyasint"`

	// Data is the raw packet (may be truncated for large packets).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// PacketEvent captures a decoded usbmux packet.
type PacketEvent struct {
	Version uint32 `cbor:"1,keyasint"`
	Type    uint32 `cbor:"2,keyasint"`
	Tag     uint32 `cbor:"3,keyasint"`

	// Kind is the abstract message kind name (Listen, Result, DeviceAdd, ...).
	Kind string `cbor:"4,keyasint"`

	// For Result packets.
	Code *uint32 `cbor:"5,keyasint,omitempty"`

	// For Connect requests.
	Port uint16 `cbor:"6,keyasint,omitempty"`

	// For DeviceAdd packets.
	Serial     string `cbor:"7,keyasint,omitempty"`
	ProductID  uint16 `cbor:"8,keyasint,omitempty"`
	LocationID uint32 `cbor:"9,keyasint,omitempty"`
}

// StateChangeEvent captures connection mode changes.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the daemon result code, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
