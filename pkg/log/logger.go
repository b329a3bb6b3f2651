package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use; Log runs on connection goroutines, so a slow sink
// stalls the connection that called it.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. It stands in wherever a Logger is
// required but logging is disabled.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
