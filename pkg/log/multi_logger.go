package log

// MultiLogger fans events out to several loggers in order.
type MultiLogger struct {
	loggers []Logger
}

// Tee combines loggers. Nil and NoopLogger entries are dropped and nested
// MultiLoggers are flattened. It returns nil for no remaining loggers and
// the logger itself for exactly one, so the result can go straight into a
// nil-checked option.
//
// Pass only untyped nils: a nil *FileLogger wrapped in Logger is not nil.
func Tee(loggers ...Logger) Logger {
	var out []Logger
	for _, l := range loggers {
		switch v := l.(type) {
		case nil, NoopLogger:
		case *MultiLogger:
			out = append(out, v.loggers...)
		default:
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return &MultiLogger{loggers: out}
}

// Log implements Logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
