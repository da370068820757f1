package peersync

import (
	"errors"
	"fmt"
)

// PeerState is the federation state of one remote node.
type PeerState string

const (
	StateDisconnected     PeerState = "disconnected"
	StateHandshakePending PeerState = "handshake_pending"
	StateConnected        PeerState = "connected"
	StateDegraded         PeerState = "degraded"
	StateOffline          PeerState = "offline"
)

// validTransitions is the exact federation edge set. Self-transitions are
// absent, so they are invalid by construction.
var validTransitions = map[PeerState][]PeerState{
	StateDisconnected:     {StateHandshakePending},
	StateHandshakePending: {StateConnected, StateDisconnected},
	StateConnected:        {StateDegraded, StateDisconnected},
	StateDegraded:         {StateConnected, StateOffline, StateDisconnected},
	StateOffline:          {StateDisconnected},
}

// CanTransitionTo reports whether from -> to is a legal federation edge.
func CanTransitionTo(from, to PeerState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrForbiddenTransition is returned for edges outside the machine.
var ErrForbiddenTransition = errors.New("peersync: forbidden peer transition")

// HeartbeatConfig tunes liveness demotion thresholds.
type HeartbeatConfig struct {
	IntervalMS          int64
	DegradedAfterMissed int
	OfflineAfterMissed  int
}

// DefaultHeartbeatConfig is a 30s interval, degraded after 2 misses,
// offline after 5.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		IntervalMS:          30_000,
		DegradedAfterMissed: 2,
		OfflineAfterMissed:  5,
	}
}

// PeerInfo is the tracked view of one remote node. It is owned by the
// federation loop; readers take a snapshot.
type PeerInfo struct {
	Node                 string
	State                PeerState
	LastHeartbeatTS      int64 // ms since epoch; 0 = never
	MissedHeartbeats     int
	ConnectedAt          int64 // ms since epoch; 0 = never connected
	LastReceivedSequence SequenceNum
}

// Tracker drives one peer's state machine from handshake and heartbeat
// signals.
type Tracker struct {
	cfg  HeartbeatConfig
	peer PeerInfo
}

// NewTracker creates a disconnected tracker for the named peer. Zero config
// fields take the defaults.
func NewTracker(node string, cfg HeartbeatConfig) *Tracker {
	def := DefaultHeartbeatConfig()
	if cfg.IntervalMS <= 0 {
		cfg.IntervalMS = def.IntervalMS
	}
	if cfg.DegradedAfterMissed <= 0 {
		cfg.DegradedAfterMissed = def.DegradedAfterMissed
	}
	if cfg.OfflineAfterMissed <= 0 {
		cfg.OfflineAfterMissed = def.OfflineAfterMissed
	}
	return &Tracker{
		cfg:  cfg,
		peer: PeerInfo{Node: node, State: StateDisconnected},
	}
}

// Peer returns a snapshot of the tracked peer.
func (t *Tracker) Peer() PeerInfo { return t.peer }

// State returns the current peer state.
func (t *Tracker) State() PeerState { return t.peer.State }

// TransitionTo moves the peer along a legal edge; forbidden edges are
// refused with no mutation.
func (t *Tracker) TransitionTo(to PeerState, nowMS int64) error {
	if !CanTransitionTo(t.peer.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrForbiddenTransition, t.peer.State, to)
	}
	t.peer.State = to
	if to == StateConnected && t.peer.ConnectedAt == 0 {
		t.peer.ConnectedAt = nowMS
	}
	return nil
}

// RecordHeartbeat applies an incoming heartbeat: the miss counter resets,
// and a degraded peer recovers to connected.
func (t *Tracker) RecordHeartbeat(hb Heartbeat, nowMS int64) error {
	t.peer.MissedHeartbeats = 0
	t.peer.LastHeartbeatTS = nowMS
	if hb.Sequence > t.peer.LastReceivedSequence {
		t.peer.LastReceivedSequence = hb.Sequence
	}
	if t.peer.State == StateDegraded {
		return t.TransitionTo(StateConnected, nowMS)
	}
	return nil
}

// RecordMiss counts one missed heartbeat interval and applies the demotion
// thresholds: connected -> degraded, degraded -> offline.
func (t *Tracker) RecordMiss(nowMS int64) error {
	t.peer.MissedHeartbeats++
	switch {
	case t.peer.State == StateConnected && t.peer.MissedHeartbeats >= t.cfg.DegradedAfterMissed:
		return t.TransitionTo(StateDegraded, nowMS)
	case t.peer.State == StateDegraded && t.peer.MissedHeartbeats >= t.cfg.OfflineAfterMissed:
		return t.TransitionTo(StateOffline, nowMS)
	}
	return nil
}

// Reset clears all tracking but preserves the node identity.
func (t *Tracker) Reset() {
	t.peer = PeerInfo{Node: t.peer.Node, State: StateDisconnected}
}

// HandshakeRequest opens a peer link.
type HandshakeRequest struct {
	SourceNode       string      `json:"source_node" cbor:"source_node"`
	SchemaVersion    int         `json:"schema_version" cbor:"schema_version"`
	Timestamp        int64       `json:"timestamp" cbor:"timestamp"`
	LastSeenSequence SequenceNum `json:"last_seen_sequence" cbor:"last_seen_sequence"`
}

// HandshakeResult is the responder's verdict.
type HandshakeResult string

const (
	HandshakeAccepted        HandshakeResult = "accepted"
	HandshakeRejected        HandshakeResult = "rejected"
	HandshakeVersionMismatch HandshakeResult = "version_mismatch"
)

// HandshakeResponse answers a HandshakeRequest.
type HandshakeResponse struct {
	SourceNode       string          `json:"source_node" cbor:"source_node"`
	SchemaVersion    int             `json:"schema_version" cbor:"schema_version"`
	Timestamp        int64           `json:"timestamp" cbor:"timestamp"`
	Result           HandshakeResult `json:"result" cbor:"result"`
	Reason           string          `json:"reason,omitempty" cbor:"reason,omitempty"`
	LastSeenSequence SequenceNum     `json:"last_seen_sequence" cbor:"last_seen_sequence"`
}

// CheckVersion compares schema versions: equal is accepted, anything else
// is a version mismatch.
func CheckVersion(local, remote int) HandshakeResult {
	if local == remote {
		return HandshakeAccepted
	}
	return HandshakeVersionMismatch
}

// AnswerHandshake builds the responder side of a handshake.
func AnswerHandshake(req HandshakeRequest, localNode string, lastSeen SequenceNum, nowMS int64) HandshakeResponse {
	resp := HandshakeResponse{
		SourceNode:       localNode,
		SchemaVersion:    SchemaVersion,
		Timestamp:        nowMS,
		LastSeenSequence: lastSeen,
	}
	if !ValidNodeID(req.SourceNode) {
		resp.Result = HandshakeRejected
		resp.Reason = "invalid source node"
		return resp
	}
	resp.Result = CheckVersion(SchemaVersion, req.SchemaVersion)
	if resp.Result == HandshakeVersionMismatch {
		resp.Reason = fmt.Sprintf("schema version %d != %d", req.SchemaVersion, SchemaVersion)
	}
	return resp
}

// Heartbeat is the periodic liveness signal.
type Heartbeat struct {
	SourceNode string      `json:"source_node" cbor:"source_node"`
	Timestamp  int64       `json:"timestamp" cbor:"timestamp"`
	Sequence   SequenceNum `json:"sequence" cbor:"sequence"`
	UptimeMS   int64       `json:"uptime_ms" cbor:"uptime_ms"`
}
