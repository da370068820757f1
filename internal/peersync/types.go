// Package peersync implements the huginn/muninn cross-node sync protocol:
// versioned delta envelopes, deterministic conflict resolution, the peer
// federation state machine, and schema-versioned hub snapshots.
package peersync

import (
	"errors"
	"fmt"
)

// SchemaVersion is the current sync protocol schema.
const SchemaVersion = 1

// ProtocolMagic identifies sync messages at schema version 1.
const ProtocolMagic = "nullclaw-sync-v1"

// NodeID length bounds.
const (
	minNodeIDLen = 1
	maxNodeIDLen = 64
)

// ValidNodeID reports whether the node id length is in [1,64].
func ValidNodeID(node string) bool {
	return len(node) >= minNodeIDLen && len(node) <= maxNodeIDLen
}

// SequenceNum is the per-node monotonic delta counter.
type SequenceNum = uint64

// DeltaKind is the record family a delta mutates.
type DeltaKind string

const (
	DeltaMemory DeltaKind = "memory"
	DeltaTask   DeltaKind = "task"
	DeltaEvent  DeltaKind = "event"
)

// DeltaOp is the mutation type.
type DeltaOp string

const (
	OpCreate DeltaOp = "create"
	OpUpdate DeltaOp = "update"
	OpDelete DeltaOp = "delete"
)

// Header describes one delta envelope. Timestamp is informational (ms since
// epoch), not causal: ordering comes from Sequence.
type Header struct {
	SchemaVersion int        `json:"schema_version" cbor:"schema_version"`
	SourceNode    string     `json:"source_node" cbor:"source_node"`
	Sequence      SequenceNum `json:"sequence" cbor:"sequence"`
	Timestamp     int64      `json:"timestamp" cbor:"timestamp"`
	Kind          DeltaKind  `json:"kind" cbor:"kind"`
	Op            DeltaOp    `json:"op" cbor:"op"`
	RecordID      string     `json:"record_id" cbor:"record_id"`
}

// MemoryDelta mutates a memory record. Nil optionals leave the field alone.
type MemoryDelta struct {
	Key        string   `json:"key" cbor:"key"`
	Content    *string  `json:"content,omitempty" cbor:"content,omitempty"`
	Category   *string  `json:"category,omitempty" cbor:"category,omitempty"`
	Kind       *string  `json:"kind,omitempty" cbor:"kind,omitempty"`
	Tier       *string  `json:"tier,omitempty" cbor:"tier,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" cbor:"confidence,omitempty"`
}

// TaskDelta mutates a task record.
type TaskDelta struct {
	TaskID   string  `json:"task_id" cbor:"task_id"`
	Status   *string `json:"status,omitempty" cbor:"status,omitempty"`
	Title    *string `json:"title,omitempty" cbor:"title,omitempty"`
	Priority *string `json:"priority,omitempty" cbor:"priority,omitempty"`
	Notes    *string `json:"notes,omitempty" cbor:"notes,omitempty"`
}

// EventDelta replicates a timeline event.
type EventDelta struct {
	EventID   string  `json:"event_id" cbor:"event_id"`
	Severity  *string `json:"severity,omitempty" cbor:"severity,omitempty"`
	EventKind *string `json:"event_kind,omitempty" cbor:"event_kind,omitempty"`
	Summary   *string `json:"summary,omitempty" cbor:"summary,omitempty"`
	DataJSON  *string `json:"data_json,omitempty" cbor:"data_json,omitempty"`
}

// Message is one sync envelope: a header plus exactly one payload whose
// kind matches the header.
type Message struct {
	Header Header       `json:"header" cbor:"header"`
	Memory *MemoryDelta `json:"memory,omitempty" cbor:"memory,omitempty"`
	Task   *TaskDelta   `json:"task,omitempty" cbor:"task,omitempty"`
	Event  *EventDelta  `json:"event,omitempty" cbor:"event,omitempty"`
}

// ErrInvalidMessage is wrapped by all Validate failures.
var ErrInvalidMessage = errors.New("peersync: invalid message")

// Validate enforces the envelope contract: current schema version, node id
// bounds, exactly one payload, and payload/kind agreement. Receivers reject
// invalid messages outright.
func (m *Message) Validate() error {
	if m.Header.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d", ErrInvalidMessage, m.Header.SchemaVersion)
	}
	if !ValidNodeID(m.Header.SourceNode) {
		return fmt.Errorf("%w: source node length %d", ErrInvalidMessage, len(m.Header.SourceNode))
	}

	set := 0
	if m.Memory != nil {
		set++
	}
	if m.Task != nil {
		set++
	}
	if m.Event != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads set", ErrInvalidMessage, set)
	}

	match := false
	switch m.Header.Kind {
	case DeltaMemory:
		match = m.Memory != nil
	case DeltaTask:
		match = m.Task != nil
	case DeltaEvent:
		match = m.Event != nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Header.Kind)
	}
	if !match {
		return fmt.Errorf("%w: payload does not match kind %q", ErrInvalidMessage, m.Header.Kind)
	}
	return nil
}

// Cursor tracks how far a remote node has been consumed. Receivers detect
// sequence gaps by comparing an incoming Sequence against LastSequence.
type Cursor struct {
	RemoteNode   string      `json:"remote_node"`
	LastSequence SequenceNum `json:"last_sequence"`
	LastSyncTS   int64       `json:"last_sync_ts"`
}

// Advance applies an incoming sequence. It returns the gap size (0 when
// contiguous) and updates the cursor for any newer sequence.
func (c *Cursor) Advance(seq SequenceNum, nowMS int64) (gap uint64) {
	if seq <= c.LastSequence {
		return 0 // duplicate or stale; cursor unchanged
	}
	gap = seq - c.LastSequence - 1
	c.LastSequence = seq
	c.LastSyncTS = nowMS
	return gap
}
