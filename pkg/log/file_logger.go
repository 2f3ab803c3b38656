package log

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// DefaultFileMode is the permission of newly created capture files.
const DefaultFileMode os.FileMode = 0o644

// FileOptions configures OpenFile.
type FileOptions struct {
	// Truncate starts a fresh capture instead of appending.
	Truncate bool

	// Mode is the permission of a new file. Zero selects DefaultFileMode.
	Mode os.FileMode

	// FlushEvery holds up to n encoded events in memory between writes.
	// Zero or one writes every event through. Close and Flush drain it.
	FlushEvery int
}

// FileLogger writes capture events to a file as a CBOR stream.
// It is safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	f       *os.File
	buf     *bufio.Writer
	enc     *cbor.Encoder
	every   int
	pending int
	events  uint64
	err     error
}

// NewFileLogger opens path for appending, writing every event through.
func NewFileLogger(path string) (*FileLogger, error) {
	return OpenFile(path, FileOptions{})
}

// OpenFile opens a capture file at path.
func OpenFile(path string, opts FileOptions) (*FileLogger, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if opts.Truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	mode := opts.Mode
	if mode == 0 {
		mode = DefaultFileMode
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}

	every := max(opts.FlushEvery, 1)
	buf := bufio.NewWriter(f)
	return &FileLogger{f: f, buf: buf, enc: NewEncoder(buf), every: every}, nil
}

// Log appends the event. The first write error stops the capture and is
// reported by Close; the session being observed is never affected.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil || l.err != nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.err = err
		return
	}
	l.events++
	l.pending++
	if l.pending >= l.every {
		l.flushLocked()
	}
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.flushLocked()
	return l.err
}

// Events returns how many events were accepted.
func (l *FileLogger) Events() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// Close flushes and closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.flushLocked()
	cerr := l.f.Close()
	l.f = nil
	if l.err != nil {
		return l.err
	}
	return cerr
}

func (l *FileLogger) flushLocked() {
	l.pending = 0
	if err := l.buf.Flush(); err != nil && l.err == nil {
		l.err = err
	}
}

var _ Logger = (*FileLogger)(nil)
