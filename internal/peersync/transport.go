package peersync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// wireConn abstracts the websocket so the link logic is testable with an
// in-memory pair.
type wireConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// wsConn adapts coder/websocket to wireConn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageBinary, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// frameType tags wire frames.
type frameType string

const (
	frameHandshake    frameType = "handshake"
	frameHandshakeAck frameType = "handshake_ack"
	frameHeartbeat    frameType = "heartbeat"
	frameDelta        frameType = "delta"
)

// frame is the wire envelope around sync traffic. Magic carries the
// protocol identifier on every frame.
type frame struct {
	Magic        string             `json:"magic" cbor:"magic"`
	Type         frameType          `json:"type" cbor:"type"`
	Handshake    *HandshakeRequest  `json:"handshake,omitempty" cbor:"handshake,omitempty"`
	HandshakeAck *HandshakeResponse `json:"handshake_ack,omitempty" cbor:"handshake_ack,omitempty"`
	Heartbeat    *Heartbeat         `json:"heartbeat,omitempty" cbor:"heartbeat,omitempty"`
	Delta        *Message           `json:"delta,omitempty" cbor:"delta,omitempty"`
}

// ApplyFunc consumes a validated incoming delta. gap is the number of
// sequence numbers skipped since the last received delta (0 = contiguous).
type ApplyFunc func(msg *Message, gap uint64)

// LinkStats count wire outcomes.
type LinkStats struct {
	DeltasSent     atomic.Int64
	DeltasApplied  atomic.Int64
	DeltasRejected atomic.Int64
	HeartbeatsSeen atomic.Int64
}

// PeerLink is one live connection to the remote node. The link owns its
// tracker and cursor; readers take snapshots via Peer().
type PeerLink struct {
	conn      wireConn
	codec     Codec
	localNode string
	cfg       HeartbeatConfig
	logger    *slog.Logger

	mu      sync.Mutex
	tracker *Tracker
	cursor  Cursor
	seq     atomic.Uint64
	started time.Time
	stats   LinkStats

	apply ApplyFunc
}

// NewPeerLink wraps an established connection. Callers then run Handshake
// (initiator) or AnswerHandshakes (responder) before exchanging deltas.
func newPeerLink(conn wireConn, codec Codec, localNode, remoteNode string, cfg HeartbeatConfig, apply ApplyFunc, logger *slog.Logger) *PeerLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerLink{
		conn:      conn,
		codec:     codec,
		localNode: localNode,
		cfg:       cfg,
		logger:    logger,
		tracker:   NewTracker(remoteNode, cfg),
		cursor:    Cursor{RemoteNode: remoteNode},
		started:   time.Now(),
		apply:     apply,
	}
}

// Dial connects to a peer's websocket endpoint and performs the initiator
// handshake.
func Dial(ctx context.Context, url, localNode string, codec Codec, cfg HeartbeatConfig, apply ApplyFunc, logger *slog.Logger) (*PeerLink, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial peer: %w", err)
	}
	link := newPeerLink(&wsConn{conn: conn}, codec, localNode, "", cfg, apply, logger)
	if err := link.handshake(ctx); err != nil {
		_ = link.conn.Close()
		return nil, err
	}
	return link, nil
}

// Accept upgrades an incoming HTTP request and answers its handshake.
func Accept(w http.ResponseWriter, r *http.Request, localNode string, codec Codec, cfg HeartbeatConfig, lastSeen SequenceNum, apply ApplyFunc, logger *slog.Logger) (*PeerLink, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("accept peer: %w", err)
	}
	link := newPeerLink(&wsConn{conn: conn}, codec, localNode, "", cfg, apply, logger)
	if err := link.answerHandshake(r.Context(), lastSeen); err != nil {
		_ = link.conn.Close()
		return nil, err
	}
	return link, nil
}

// Peer snapshots the tracked peer state.
func (l *PeerLink) Peer() PeerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.Peer()
}

// Cursor snapshots the receive cursor.
func (l *PeerLink) Cursor() Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Stats exposes the wire counters.
func (l *PeerLink) Stats() *LinkStats { return &l.stats }

// Close tears the link down and returns the peer to disconnected.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	l.tracker.Reset()
	l.mu.Unlock()
	return l.conn.Close()
}

func nowMS() int64 { return time.Now().UnixMilli() }

// handshake runs the initiator side: disconnected -> handshake_pending ->
// connected on acceptance, back to disconnected otherwise.
func (l *PeerLink) handshake(ctx context.Context) error {
	l.mu.Lock()
	if err := l.tracker.TransitionTo(StateHandshakePending, nowMS()); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	req := &frame{
		Magic: ProtocolMagic,
		Type:  frameHandshake,
		Handshake: &HandshakeRequest{
			SourceNode:       l.localNode,
			SchemaVersion:    SchemaVersion,
			Timestamp:        nowMS(),
			LastSeenSequence: l.cursor.LastSequence,
		},
	}
	if err := l.writeFrame(ctx, req); err != nil {
		l.resetToDisconnected()
		return err
	}

	data, err := l.conn.Read(ctx)
	if err != nil {
		l.resetToDisconnected()
		return fmt.Errorf("handshake read: %w", err)
	}
	var resp frame
	if err := l.codec.Unmarshal(data, &resp); err != nil || resp.Type != frameHandshakeAck || resp.HandshakeAck == nil {
		l.resetToDisconnected()
		return fmt.Errorf("handshake: malformed response")
	}
	if resp.HandshakeAck.Result != HandshakeAccepted {
		l.resetToDisconnected()
		return fmt.Errorf("handshake: %s (%s)", resp.HandshakeAck.Result, resp.HandshakeAck.Reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker.peer.Node = resp.HandshakeAck.SourceNode
	l.cursor.RemoteNode = resp.HandshakeAck.SourceNode
	return l.tracker.TransitionTo(StateConnected, nowMS())
}

// answerHandshake runs the responder side.
func (l *PeerLink) answerHandshake(ctx context.Context, lastSeen SequenceNum) error {
	data, err := l.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	var req frame
	if err := l.codec.Unmarshal(data, &req); err != nil || req.Type != frameHandshake || req.Handshake == nil {
		return fmt.Errorf("handshake: malformed request")
	}

	resp := AnswerHandshake(*req.Handshake, l.localNode, lastSeen, nowMS())
	if err := l.writeFrame(ctx, &frame{Magic: ProtocolMagic, Type: frameHandshakeAck, HandshakeAck: &resp}); err != nil {
		return err
	}
	if resp.Result != HandshakeAccepted {
		return fmt.Errorf("handshake: %s", resp.Result)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker.peer.Node = req.Handshake.SourceNode
	l.cursor.RemoteNode = req.Handshake.SourceNode
	if err := l.tracker.TransitionTo(StateHandshakePending, nowMS()); err != nil {
		return err
	}
	return l.tracker.TransitionTo(StateConnected, nowMS())
}

func (l *PeerLink) resetToDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracker.Reset()
}

// NextSequence issues the next outgoing sequence number.
func (l *PeerLink) NextSequence() SequenceNum {
	return l.seq.Add(1)
}

// SendDelta validates and transmits one delta envelope.
func (l *PeerLink) SendDelta(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := l.writeFrame(ctx, &frame{Magic: ProtocolMagic, Type: frameDelta, Delta: msg}); err != nil {
		return err
	}
	l.stats.DeltasSent.Add(1)
	return nil
}

// SendHeartbeat transmits one liveness signal.
func (l *PeerLink) SendHeartbeat(ctx context.Context) error {
	hb := &Heartbeat{
		SourceNode: l.localNode,
		Timestamp:  nowMS(),
		Sequence:   l.seq.Load(),
		UptimeMS:   time.Since(l.started).Milliseconds(),
	}
	return l.writeFrame(ctx, &frame{Magic: ProtocolMagic, Type: frameHeartbeat, Heartbeat: hb})
}

// RunHeartbeats sends heartbeats at the configured interval until ctx ends.
func (l *PeerLink) RunHeartbeats(ctx context.Context) {
	interval := time.Duration(l.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(DefaultHeartbeatConfig().IntervalMS) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.SendHeartbeat(ctx); err != nil {
				l.logger.Warn("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// RecordMiss counts a missed heartbeat interval on the tracked peer.
func (l *PeerLink) RecordMiss() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.tracker.RecordMiss(nowMS()); err != nil {
		l.logger.Warn("peer miss transition refused", "error", err)
	}
}

// ReadLoop consumes frames until the connection drops or ctx ends.
// Protocol violations drop the frame and count it; they never kill the loop.
func (l *PeerLink) ReadLoop(ctx context.Context) error {
	for {
		data, err := l.conn.Read(ctx)
		if err != nil {
			return err
		}
		l.handleFrame(data)
	}
}

func (l *PeerLink) handleFrame(data []byte) {
	var f frame
	if err := l.codec.Unmarshal(data, &f); err != nil || f.Magic != ProtocolMagic {
		l.stats.DeltasRejected.Add(1)
		return
	}
	switch f.Type {
	case frameHeartbeat:
		if f.Heartbeat == nil {
			l.stats.DeltasRejected.Add(1)
			return
		}
		l.stats.HeartbeatsSeen.Add(1)
		l.mu.Lock()
		if err := l.tracker.RecordHeartbeat(*f.Heartbeat, nowMS()); err != nil {
			l.logger.Warn("heartbeat transition refused", "error", err)
		}
		l.mu.Unlock()
	case frameDelta:
		if f.Delta == nil || f.Delta.Validate() != nil {
			l.stats.DeltasRejected.Add(1)
			return
		}
		l.mu.Lock()
		gap := l.cursor.Advance(f.Delta.Header.Sequence, nowMS())
		if f.Delta.Header.Sequence > l.tracker.peer.LastReceivedSequence {
			l.tracker.peer.LastReceivedSequence = f.Delta.Header.Sequence
		}
		l.mu.Unlock()
		if gap > 0 {
			l.logger.Warn("sync sequence gap detected",
				"peer", l.cursor.RemoteNode, "gap", gap, "sequence", f.Delta.Header.Sequence)
		}
		l.stats.DeltasApplied.Add(1)
		if l.apply != nil {
			l.apply(f.Delta, gap)
		}
	default:
		l.stats.DeltasRejected.Add(1)
	}
}

func (l *PeerLink) writeFrame(ctx context.Context, f *frame) error {
	data, err := l.codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := l.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
