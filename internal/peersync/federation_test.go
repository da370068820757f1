package peersync

import (
	"errors"
	"testing"
)

func TestCanTransitionTo_ExactEdgeSet(t *testing.T) {
	states := []PeerState{
		StateDisconnected, StateHandshakePending, StateConnected,
		StateDegraded, StateOffline,
	}
	allowed := map[[2]PeerState]bool{
		{StateDisconnected, StateHandshakePending}: true,
		{StateHandshakePending, StateConnected}:    true,
		{StateHandshakePending, StateDisconnected}: true,
		{StateConnected, StateDegraded}:            true,
		{StateConnected, StateDisconnected}:        true,
		{StateDegraded, StateConnected}:            true,
		{StateDegraded, StateOffline}:              true,
		{StateDegraded, StateDisconnected}:         true,
		{StateOffline, StateDisconnected}:          true,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]PeerState{from, to}]
			if got := CanTransitionTo(from, to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTracker_ForbiddenTransitionRefused(t *testing.T) {
	tr := NewTracker("muninn", HeartbeatConfig{})
	err := tr.TransitionTo(StateConnected, 100) // disconnected -> connected is illegal
	if !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("err = %v, want ErrForbiddenTransition", err)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("state mutated to %s on refused transition", tr.State())
	}
}

func TestTracker_LifecycleWithHeartbeats(t *testing.T) {
	tr := NewTracker("muninn", DefaultHeartbeatConfig())

	// disconnected -> handshake_pending -> connected.
	if err := tr.TransitionTo(StateHandshakePending, 1000); err != nil {
		t.Fatalf("to pending: %v", err)
	}
	if err := tr.TransitionTo(StateConnected, 2000); err != nil {
		t.Fatalf("to connected: %v", err)
	}
	if tr.Peer().ConnectedAt != 2000 {
		t.Fatalf("connectedAt = %d", tr.Peer().ConnectedAt)
	}

	// Miss 2 heartbeats with defaults (degraded_after_missed=2) -> degraded.
	_ = tr.RecordMiss(3000)
	if tr.State() != StateConnected {
		t.Fatalf("after 1 miss: %s, want connected", tr.State())
	}
	_ = tr.RecordMiss(4000)
	if tr.State() != StateDegraded {
		t.Fatalf("after 2 misses: %s, want degraded", tr.State())
	}

	// Any heartbeat while degraded recovers to connected and resets misses.
	if err := tr.RecordHeartbeat(Heartbeat{SourceNode: "muninn", Sequence: 12}, 5000); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if tr.State() != StateConnected {
		t.Fatalf("after heartbeat: %s, want connected", tr.State())
	}
	if tr.Peer().MissedHeartbeats != 0 {
		t.Fatalf("missed = %d, want 0", tr.Peer().MissedHeartbeats)
	}
	if tr.Peer().LastReceivedSequence != 12 || tr.Peer().LastHeartbeatTS != 5000 {
		t.Fatalf("peer = %+v", tr.Peer())
	}
}

func TestTracker_DegradedToOffline(t *testing.T) {
	cfg := DefaultHeartbeatConfig() // offline after 5
	tr := NewTracker("muninn", cfg)
	_ = tr.TransitionTo(StateHandshakePending, 1)
	_ = tr.TransitionTo(StateConnected, 2)

	for i := 0; i < 5; i++ {
		_ = tr.RecordMiss(int64(10 + i))
	}
	if tr.State() != StateOffline {
		t.Fatalf("after 5 misses: %s, want offline", tr.State())
	}
	// Offline only returns through disconnected.
	if err := tr.TransitionTo(StateConnected, 20); !errors.Is(err, ErrForbiddenTransition) {
		t.Fatalf("offline -> connected: %v", err)
	}
	if err := tr.TransitionTo(StateDisconnected, 21); err != nil {
		t.Fatalf("offline -> disconnected: %v", err)
	}
}

func TestTracker_ResetPreservesIdentity(t *testing.T) {
	tr := NewTracker("muninn", DefaultHeartbeatConfig())
	_ = tr.TransitionTo(StateHandshakePending, 1)
	_ = tr.TransitionTo(StateConnected, 2)
	_ = tr.RecordHeartbeat(Heartbeat{Sequence: 42}, 3)

	tr.Reset()
	p := tr.Peer()
	if p.Node != "muninn" {
		t.Fatalf("node = %q, want muninn", p.Node)
	}
	if p.State != StateDisconnected || p.LastReceivedSequence != 0 || p.MissedHeartbeats != 0 ||
		p.LastHeartbeatTS != 0 || p.ConnectedAt != 0 {
		t.Fatalf("tracking not cleared: %+v", p)
	}
}

func TestCheckVersion(t *testing.T) {
	if got := CheckVersion(1, 1); got != HandshakeAccepted {
		t.Fatalf("equal versions = %s", got)
	}
	if got := CheckVersion(1, 2); got != HandshakeVersionMismatch {
		t.Fatalf("newer remote = %s", got)
	}
	if got := CheckVersion(2, 1); got != HandshakeVersionMismatch {
		t.Fatalf("older remote = %s", got)
	}
}

func TestAnswerHandshake(t *testing.T) {
	req := HandshakeRequest{SourceNode: "huginn", SchemaVersion: SchemaVersion, Timestamp: 1, LastSeenSequence: 3}
	resp := AnswerHandshake(req, "muninn", 9, 100)
	if resp.Result != HandshakeAccepted {
		t.Fatalf("result = %s (%s)", resp.Result, resp.Reason)
	}
	if resp.SourceNode != "muninn" || resp.LastSeenSequence != 9 {
		t.Fatalf("resp = %+v", resp)
	}

	// Version mismatch reported with a reason.
	req.SchemaVersion = 99
	resp = AnswerHandshake(req, "muninn", 0, 100)
	if resp.Result != HandshakeVersionMismatch || resp.Reason == "" {
		t.Fatalf("resp = %+v", resp)
	}

	// Invalid node rejected.
	req = HandshakeRequest{SourceNode: "", SchemaVersion: SchemaVersion}
	resp = AnswerHandshake(req, "muninn", 0, 100)
	if resp.Result != HandshakeRejected {
		t.Fatalf("resp = %+v", resp)
	}
}
