// Package timeline is the append-only observability log shared by every
// other component. Events are written as one JSON object per line; the
// replay reader scans them back with positional field extraction.
package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies the component an event originated from.
type Kind string

const (
	KindAgent   Kind = "agent"
	KindLLM     Kind = "llm"
	KindTool    Kind = "tool"
	KindChannel Kind = "channel"
	KindTask    Kind = "task"
	KindMemory  Kind = "memory"
	KindSystem  Kind = "system"
)

// Severity is the event severity level, ordered debug < info < warn < error.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// severityOrdinal maps severities onto a comparable scale for filtering.
func severityOrdinal(s Severity) int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 1
	case SeverityWarn:
		return 2
	case SeverityError:
		return 3
	}
	return -1
}

// ValidKind reports whether k is one of the recognized event kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindAgent, KindLLM, KindTool, KindChannel, KindTask, KindMemory, KindSystem:
		return true
	}
	return false
}

// Event is a single timeline entry. ID, Timestamp, Kind, Severity and Name
// are required; everything else is optional.
type Event struct {
	ID           string
	Timestamp    int64 // nanoseconds since epoch
	Kind         Kind
	Severity     Severity
	Name         string // dotted, e.g. "tool.exec.done"
	SessionID    string
	TaskID       string
	SpanID       string
	ParentSpanID string
	DurationNS   int64 // 0 = absent
	Message      string
	Component    string
}

// serializeBufCap is the fixed serialization ceiling. An event whose JSON
// line exceeds it is rejected with ErrEventTooLarge rather than truncated.
const serializeBufCap = 4096

// ErrEventTooLarge is returned when an event does not fit the serialization buffer.
var ErrEventTooLarge = errors.New("timeline: event exceeds serialization buffer")

// FormatJSONLine renders the event as a single JSON line (no trailing
// newline) into a buffer bounded by serializeBufCap.
func (e *Event) FormatJSONLine() (string, error) {
	var b strings.Builder
	b.Grow(256)

	b.WriteString(`{"id":`)
	b.WriteString(strconv.Quote(e.ID))
	b.WriteString(`,"ts":`)
	b.WriteString(strconv.FormatInt(e.Timestamp, 10))
	b.WriteString(`,"kind":`)
	b.WriteString(strconv.Quote(string(e.Kind)))
	b.WriteString(`,"severity":`)
	b.WriteString(strconv.Quote(string(e.Severity)))
	b.WriteString(`,"name":`)
	b.WriteString(strconv.Quote(e.Name))

	writeOpt := func(key, val string) {
		if val == "" {
			return
		}
		b.WriteString(`,"`)
		b.WriteString(key)
		b.WriteString(`":`)
		b.WriteString(strconv.Quote(val))
	}
	writeOpt("session_id", e.SessionID)
	writeOpt("task_id", e.TaskID)
	writeOpt("span_id", e.SpanID)
	writeOpt("parent_span_id", e.ParentSpanID)
	if e.DurationNS > 0 {
		b.WriteString(`,"duration_ns":`)
		b.WriteString(strconv.FormatInt(e.DurationNS, 10))
	}
	writeOpt("message", e.Message)
	writeOpt("component", e.Component)
	b.WriteByte('}')

	line := b.String()
	if len(line) > serializeBufCap {
		return "", fmt.Errorf("%w: %d bytes", ErrEventTooLarge, len(line))
	}
	return line, nil
}

// Validate checks the required fields.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("timeline: event id is required")
	}
	if e.Name == "" {
		return errors.New("timeline: event name is required")
	}
	if !ValidKind(e.Kind) {
		return fmt.Errorf("timeline: unknown kind %q", e.Kind)
	}
	if severityOrdinal(e.Severity) < 0 {
		return fmt.Errorf("timeline: unknown severity %q", e.Severity)
	}
	return nil
}
