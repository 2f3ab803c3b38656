// Package log provides protocol capture logging for usbmux sessions.
//
// This is separate from operational logging (slog). A capture is a
// machine-readable trace of every packet and state change on a connection,
// meant for debugging daemon interactions after the fact.
//
// # Basic Usage
//
//	// Mirror events to the console at debug level
//	opts.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Write a capture file, flushing every 64 events
//	file, _ := log.OpenFile("/tmp/usbmux.ulog", log.FileOptions{FlushEvery: 64})
//	defer file.Close()
//
//	// Both
//	opts.ProtocolLogger = log.Tee(console, file)
//
// # Event Types
//
//   - Transport: raw packet bytes (FrameEvent)
//   - Wire: decoded packet (PacketEvent)
//   - Session: connection mode changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events (.ulog). The usbmux-log
// tool views, filters and summarizes them.
package log
