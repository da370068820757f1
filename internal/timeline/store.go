package timeline

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Store appends events to a JSONL file. Each append opens the file, writes
// one line, and closes it again: no descriptor is held across idle time.
// Appends are totally ordered per store by the mutex.
type Store struct {
	path string

	mu  sync.Mutex
	seq atomic.Uint64
}

// NewStore creates a store writing to the given file path. The file is
// created on first append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// NextSeq returns a monotonically increasing sequence number. It is
// lock-free and safe for concurrent use; callers combine it with a node or
// process prefix to build event ids.
func (s *Store) NextSeq() uint64 {
	return s.seq.Add(1)
}

// NewEventID returns a fresh unique event id.
func (s *Store) NewEventID() string {
	return fmt.Sprintf("%s-%d", uuid.NewString()[:8], s.NextSeq())
}

// Append serializes the event and writes it as one line. An event that does
// not fit the serialization buffer is dropped and ErrEventTooLarge is
// returned; nothing partial is written.
func (s *Store) Append(e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	line, err := e.FormatJSONLine()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

// Emit builds and appends an event in one call, filling in id and timestamp.
// The returned error reports oversize or I/O failures; callers that treat
// the timeline as best-effort may ignore it.
func (s *Store) Emit(kind Kind, severity Severity, name string, opts ...EventOption) error {
	e := &Event{
		ID:        s.NewEventID(),
		Timestamp: time.Now().UnixNano(),
		Kind:      kind,
		Severity:  severity,
		Name:      name,
	}
	for _, opt := range opts {
		opt(e)
	}
	return s.Append(e)
}

// EventOption mutates an event under construction in Emit.
type EventOption func(*Event)

// WithSession sets the session id.
func WithSession(id string) EventOption { return func(e *Event) { e.SessionID = id } }

// WithTask sets the task id.
func WithTask(id string) EventOption { return func(e *Event) { e.TaskID = id } }

// WithSpan sets span and parent span ids.
func WithSpan(span, parent string) EventOption {
	return func(e *Event) {
		e.SpanID = span
		e.ParentSpanID = parent
	}
}

// WithDuration sets the duration in nanoseconds.
func WithDuration(d time.Duration) EventOption {
	return func(e *Event) { e.DurationNS = d.Nanoseconds() }
}

// WithMessage sets the free-form message.
func WithMessage(msg string) EventOption { return func(e *Event) { e.Message = msg } }

// WithComponent sets the originating component.
func WithComponent(c string) EventOption { return func(e *Event) { e.Component = c } }
