// Package runlog writes the per-task command log.
//
// Every run of a task appends one block to the log: a header naming the task,
// PID, timestamp and command line, the captured output verbatim, a footer and
// the exit line. Blocks are written in run order and never interleave.
package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimestampFormat is the layout of header and footer timestamps.
const TimestampFormat = "2006/01/02 15:04:05"

var (
	// ErrClosed is returned when writing to a closed [Sink].
	ErrClosed = errors.New("log sink closed")

	headerRule = strings.Repeat("=", 76)
	bodyRule   = strings.Repeat("-", 76)
)

// Sink is an append-only log for one task.
//
// It is safe for concurrent use, and each write is flushed so the log can be
// followed while a run is in progress.
type Sink struct {
	now    func() time.Time
	closer io.Closer
	w      *bufio.Writer
	name   string
	path   string
	mu     sync.Mutex
	closed bool
}

// Option configures a [Sink].
type Option func(*Sink)

// WithClock sets the function used to timestamp headers and footers.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		s.now = now
	}
}

// Open opens (or creates) the log at path for appending. The parent directory
// is created if needed.
func Open(path, taskName string, opts ...Option) (*Sink, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	s := New(f, taskName, opts...)
	s.closer = f
	s.path = path

	return s, nil
}

// New creates a [Sink] that writes to w. Closing the sink does not close w.
func New(w io.Writer, taskName string, opts ...Option) *Sink {
	s := &Sink{
		now:  time.Now,
		w:    bufio.NewWriter(w),
		name: taskName,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Path returns the file path of the log, or an empty string if the sink was
// not created with [Open].
func (s *Sink) Path() string {
	return s.path
}

// BeginRun writes the header block of a run.
func (s *Sink) BeginRun(pid int, cmdline string) error {
	return s.write(
		"\n"+headerRule+"\n",
		s.stamp(pid),
		cmdline+"\n",
		bodyRule+"\n",
	)
}

// WriteLine appends one line of captured output. A missing trailing newline
// is added so the footer always starts on its own line.
func (s *Sink) WriteLine(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	return s.write(line)
}

// EndCapture writes the footer that closes the captured output. If capturing
// was stopped before the end of the stream, the footer says so.
func (s *Sink) EndCapture(pid int, stopped bool) error {
	stamp := s.stamp(pid)
	if stopped {
		stamp = strings.TrimSuffix(stamp, "\n") + " (capture stopped)\n"
	}

	return s.write(bodyRule+"\n", stamp)
}

// EndRun writes the exit line and the blank line ending the block.
func (s *Sink) EndRun(pid int, exitCode string) error {
	return s.write(fmt.Sprintf("%s task (%d) exited with %s\n\n", s.name, pid, exitCode))
}

// Close flushes the log and closes the underlying file, if any. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	err := s.w.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	if err != nil {
		return fmt.Errorf("close log: %w", err)
	}

	return nil
}

func (s *Sink) stamp(pid int) string {
	return fmt.Sprintf("%s (%d) stdout @ %s\n", s.name, pid, s.now().Format(TimestampFormat))
}

func (s *Sink) write(parts ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, part := range parts {
		_, err := s.w.WriteString(part)
		if err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}

	err := s.w.Flush()
	if err != nil {
		return fmt.Errorf("flush log: %w", err)
	}

	return nil
}
