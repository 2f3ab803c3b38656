package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/log"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

const (
	// DefaultMaxPacketSize bounds the length field ReadPacket accepts (1 MiB).
	DefaultMaxPacketSize = 1 << 20

	// MaxLogFrameDataSize is the most packet bytes copied into a capture event.
	MaxLogFrameDataSize = 4096

	lengthFieldSize = 4
)

// ErrPacketTooLarge indicates a length field above the configured maximum.
var ErrPacketTooLarge = errors.New("transport: packet too large")

// ReadPacket reads one complete packet: the length field first, then the
// rest of the header and the payload.
func (t *Transport) ReadPacket() (wire.Frame, error) {
	lb, err := t.Receive(lengthFieldSize)
	if err != nil {
		return wire.Frame{}, err
	}

	length := binary.LittleEndian.Uint32(lb)
	if length < wire.HeaderSize {
		return wire.Frame{}, fmt.Errorf("%w: length field %d smaller than header", wire.ErrMalformed, length)
	}
	if length > t.maxPacketSize {
		return wire.Frame{}, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, length, t.maxPacketSize)
	}

	rest, err := t.Receive(int(length) - lengthFieldSize)
	if err != nil {
		return wire.Frame{}, err
	}

	packet := make([]byte, 0, length)
	packet = append(packet, lb...)
	packet = append(packet, rest...)

	t.logFrame(packet, log.DirectionIn)
	return wire.DecodeFrame(packet)
}

// WritePacket sends one encoded packet.
func (t *Transport) WritePacket(packet []byte) error {
	if err := t.Send(packet); err != nil {
		return err
	}
	t.logFrame(packet, log.DirectionOut)
	return nil
}

func (t *Transport) logFrame(packet []byte, dir log.Direction) {
	if t.logger == nil {
		return
	}
	data := packet
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      len(packet),
			Data:      append([]byte(nil), data...),
			Truncated: truncated,
		},
	})
}
