package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a .clog file. Writes go
// straight to the file, so every logged event is on disk once Log
// returns. Safe for concurrent use.
type FileLogger struct {
	mu     sync.Mutex
	out    *os.File
	enc    *cbor.Encoder
	closed bool
}

// NewFileLogger opens path for appending, creating it with mode 0644
// when it does not exist. Events from earlier runs are preserved.
func NewFileLogger(path string) (*FileLogger, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{out: out, enc: NewEncoder(out)}, nil
}

// Log appends one event. Encoding faults are dropped rather than
// surfaced; a logging failure must not take the connection down with
// it.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_ = l.enc.Encode(event)
}

// Close flushes the file to stable storage and closes it. Close is
// idempotent; Log calls after Close are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.out.Sync(); err != nil {
		l.out.Close()
		return err
	}
	return l.out.Close()
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
