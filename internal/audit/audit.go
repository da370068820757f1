// Package audit persists policy denials to an append-only JSONL log. It is
// the structured subscriber behind the policy engine's fire-and-forget deny
// hook.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/nullclaw/internal/policy"
	"github.com/basket/nullclaw/internal/shared"
)

type entry struct {
	Timestamp   string `json:"timestamp"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matched_rule,omitempty"`
	Risk        string `json:"risk,omitempty"`
	Command     string `json:"command,omitempty"`
}

// Log writes denial entries to <home>/logs/audit.jsonl.
type Log struct {
	mu        sync.Mutex
	path      string
	denyCount atomic.Int64
}

// Open prepares the audit log under the given home directory.
func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	return &Log{path: filepath.Join(logDir, "audit.jsonl")}, nil
}

// DenyCount returns the total number of denials recorded since startup.
func (l *Log) DenyCount() int64 {
	return l.denyCount.Load()
}

// OnDeny implements policy.DenyHook. Failures are swallowed: the hook must
// never interfere with the denial itself.
func (l *Log) OnDeny(d policy.Denial) {
	l.denyCount.Add(1)

	ev := entry{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Reason:      string(d.Reason),
		MatchedRule: d.MatchedRule,
		Risk:        string(d.Risk),
		Command:     shared.Redact(d.Command),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(b, '\n'))
}
