package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors capture events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as one "usbmux" record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	}
	if event.DeviceID != 0 {
		attrs = append(attrs, slog.Uint64("device_id", uint64(event.DeviceID)))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Int("size", event.Frame.Size))
	case event.Packet != nil:
		p := event.Packet
		attrs = append(attrs,
			slog.String("kind", p.Kind),
			slog.Uint64("version", uint64(p.Version)),
			slog.Uint64("tag", uint64(p.Tag)),
		)
		if p.Code != nil {
			attrs = append(attrs, slog.Uint64("code", uint64(*p.Code)))
		}
		if p.Serial != "" {
			attrs = append(attrs, slog.String("serial", p.Serial))
		}
		if p.Port != 0 {
			attrs = append(attrs, slog.Uint64("port", uint64(p.Port)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.String("context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "usbmux", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
