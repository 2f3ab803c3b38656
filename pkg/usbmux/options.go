package usbmux

import (
	"log/slog"

	"github.com/usbmux-protocol/usbmux-go/pkg/log"
	"github.com/usbmux-protocol/usbmux-go/pkg/transport"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// NoTimeout makes Process block until an event arrives.
const NoTimeout = transport.NoTimeout

// Options configures Dial and New.
type Options struct {
	// Endpoint is the daemon address. The zero value selects
	// transport.DefaultEndpoint().
	Endpoint transport.Endpoint

	// ProgName is sent with plist requests. Empty selects wire.DefaultProgName.
	ProgName string

	// MaxPacketSize bounds inbound packets. Zero selects
	// transport.DefaultMaxPacketSize.
	MaxPacketSize uint32

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives capture events for every packet and state
	// change. If nil, capture is disabled.
	ProtocolLogger log.Logger
}

func (o Options) endpoint() transport.Endpoint {
	if o.Endpoint.Network == "" {
		return transport.DefaultEndpoint()
	}
	return o.Endpoint
}

// plistCodec returns the version 1 codec configured by o.
func (o Options) plistCodec() wire.Codec {
	return wire.NewPlistCodec(o.ProgName, "")
}
