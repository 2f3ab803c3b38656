package log

// Logger receives protocol capture events. A nil Logger disables capture.
// Implementations are called from the goroutine driving the session and
// must be safe for concurrent use when shared between sessions.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f.
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}
