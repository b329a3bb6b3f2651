package log

// MultiLogger fans every event out to several sinks, typically a
// FileLogger for analysis plus a SlogAdapter for console mirroring.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers into one. Nil entries are dropped,
// so optional sinks can be passed unconditionally.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{sinks: make([]Logger, 0, len(loggers))}
	for _, l := range loggers {
		if l != nil {
			m.sinks = append(m.sinks, l)
		}
	}
	return m
}

// Log hands the event to every sink in registration order.
func (m *MultiLogger) Log(event Event) {
	for _, sink := range m.sinks {
		sink.Log(event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
