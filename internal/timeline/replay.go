package timeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// scanBufCap is the line buffer for the replay scanner. Lines longer than
// this were rejected at append time, so the reader never needs more.
const scanBufCap = 8192

// Filter narrows a replay scan. Zero values match everything.
type Filter struct {
	Kind        Kind     // "" = any
	MinSeverity Severity // "" = any; otherwise ordinal comparison
	SessionID   string   // "" = any
	FromTS      int64    // inclusive; 0 = open
	ToTS        int64    // inclusive; 0 = open
}

// Match reports whether the event passes the filter.
func (f *Filter) Match(e *Event) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.MinSeverity != "" && severityOrdinal(e.Severity) < severityOrdinal(f.MinSeverity) {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.FromTS != 0 && e.Timestamp < f.FromTS {
		return false
	}
	if f.ToTS != 0 && e.Timestamp > f.ToTS {
		return false
	}
	return true
}

// Replay streams events back out of a timeline file. Lines that do not
// parse are skipped, never fatal.
type Replay struct {
	path string
}

// NewReplay creates a reader over the given timeline file.
func NewReplay(path string) *Replay {
	return &Replay{path: path}
}

// Scan walks the file line by line, invoking fn for every event passing the
// filter. fn returning false stops the scan early.
func (r *Replay) Scan(filter *Filter, fn func(*Event) bool) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open timeline: %w", err)
	}
	defer f.Close()
	return scanLines(f, filter, fn)
}

func scanLines(rd io.Reader, filter *Filter, fn func(*Event) bool) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, scanBufCap), scanBufCap)
	for scanner.Scan() {
		line := scanner.Text()
		ev, ok := ParseEventLine(line)
		if !ok {
			continue
		}
		if filter != nil && !filter.Match(ev) {
			continue
		}
		if !fn(ev) {
			return nil
		}
	}
	return scanner.Err()
}

// Collect scans and returns all matching events.
func (r *Replay) Collect(filter *Filter) ([]*Event, error) {
	var out []*Event
	err := r.Scan(filter, func(e *Event) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// ParseEventLine extracts an event from one JSONL line by positional
// substring search against the fixed schema. A generic JSON decode is
// deliberately avoided on this hot path. Returns ok=false for blank,
// non-object, or field-incomplete lines.
func ParseEventLine(line string) (*Event, bool) {
	if len(line) < 2 || line[0] != '{' {
		return nil, false
	}

	id, ok := extractString(line, "id")
	if !ok || id == "" {
		return nil, false
	}
	ts, ok := extractInt(line, "ts")
	if !ok {
		return nil, false
	}
	name, ok := extractString(line, "name")
	if !ok || name == "" {
		return nil, false
	}
	kind, _ := extractString(line, "kind")
	severity, _ := extractString(line, "severity")

	e := &Event{
		ID:        id,
		Timestamp: ts,
		Kind:      Kind(kind),
		Severity:  Severity(severity),
		Name:      name,
	}
	e.SessionID, _ = extractString(line, "session_id")
	e.TaskID, _ = extractString(line, "task_id")
	e.SpanID, _ = extractString(line, "span_id")
	e.ParentSpanID, _ = extractString(line, "parent_span_id")
	e.DurationNS, _ = extractInt(line, "duration_ns")
	e.Message, _ = extractString(line, "message")
	e.Component, _ = extractString(line, "component")
	return e, true
}

// extractString finds `"key":"..."` and returns the unescaped value.
func extractString(line, key string) (string, bool) {
	needle := `"` + key + `":"`
	idx := strings.Index(line, needle)
	if idx < 0 {
		return "", false
	}
	start := idx + len(needle)
	// Find the closing quote, skipping backslash escapes.
	i := start
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			val, err := strconv.Unquote(line[start-1 : i+1])
			if err != nil {
				return "", false
			}
			return val, true
		default:
			i++
		}
	}
	return "", false
}

// extractInt finds `"key":123` and returns the integer value.
func extractInt(line, key string) (int64, bool) {
	needle := `"` + key + `":`
	idx := strings.Index(line, needle)
	if idx < 0 {
		return 0, false
	}
	start := idx + len(needle)
	end := start
	for end < len(line) && (line[end] == '-' || (line[end] >= '0' && line[end] <= '9')) {
		end++
	}
	if end == start {
		return 0, false
	}
	v, err := strconv.ParseInt(line[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SessionSummary aggregates a session's events.
type SessionSummary struct {
	SessionID  string
	Total      int
	ByKind     map[Kind]int
	BySeverity map[Severity]int
	EarliestTS int64
	LatestTS   int64
}

// Duration returns latest-earliest as a time.Duration.
func (s *SessionSummary) Duration() time.Duration {
	if s.Total == 0 || s.LatestTS < s.EarliestTS {
		return 0
	}
	return time.Duration(s.LatestTS - s.EarliestTS)
}

// Summarize scans the file and aggregates events for the given session id.
// An empty session id aggregates everything.
func (r *Replay) Summarize(sessionID string) (*SessionSummary, error) {
	sum := &SessionSummary{
		SessionID:  sessionID,
		ByKind:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
	}
	filter := &Filter{SessionID: sessionID}
	err := r.Scan(filter, func(e *Event) bool {
		sum.Total++
		sum.ByKind[e.Kind]++
		sum.BySeverity[e.Severity]++
		if sum.EarliestTS == 0 || e.Timestamp < sum.EarliestTS {
			sum.EarliestTS = e.Timestamp
		}
		if e.Timestamp > sum.LatestTS {
			sum.LatestTS = e.Timestamp
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}
