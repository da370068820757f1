package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/nullclaw/internal/bus"
	"github.com/basket/nullclaw/internal/reliability"
	"github.com/basket/nullclaw/internal/timeline"
	"github.com/basket/nullclaw/internal/tools"
)

// maxToolRounds bounds the respond/tool-call loop per inbound message.
const maxToolRounds = 8

// InboundMessage is one message arriving from a channel transport.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SessionID string
	Content   string
}

// Session drives one agent conversation: brain turns, reliability-wrapped
// tool execution, and outbound publication.
type Session struct {
	brain     Brain
	registry  *tools.Registry
	envelopes map[string]*reliability.Envelope
	outbox    *bus.Outbox
	store     *timeline.Store
	logger    *slog.Logger
}

// NewSession wires a session. envelopes maps tool name to its reliability
// envelope; tools without one run bare.
func NewSession(brain Brain, registry *tools.Registry, envelopes map[string]*reliability.Envelope,
	outbox *bus.Outbox, store *timeline.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if envelopes == nil {
		envelopes = map[string]*reliability.Envelope{}
	}
	return &Session{
		brain:     brain,
		registry:  registry,
		envelopes: envelopes,
		outbox:    outbox,
		store:     store,
		logger:    logger,
	}
}

// Handle processes one inbound message to a final outbound reply.
func (s *Session) Handle(ctx context.Context, msg InboundMessage) error {
	s.emit(timeline.KindAgent, timeline.SeverityInfo, "agent.message.received",
		timeline.WithSession(msg.SessionID), timeline.WithComponent("engine"))

	content := msg.Content
	for round := 0; round < maxToolRounds; round++ {
		start := time.Now()
		reply, err := s.brain.Respond(ctx, msg.SessionID, content)
		s.emit(timeline.KindLLM, severityFor(err), "llm.respond",
			timeline.WithSession(msg.SessionID),
			timeline.WithDuration(time.Since(start)),
			timeline.WithComponent("engine"))
		if err != nil {
			return fmt.Errorf("brain respond: %w", err)
		}

		if len(reply.ToolCalls) == 0 {
			return s.publish(msg, reply.Content)
		}

		results := make([]string, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			results = append(results, s.runTool(ctx, msg.SessionID, call))
		}
		content = strings.Join(results, "\n")
	}

	// Round budget exhausted: surface what we have instead of looping.
	s.logger.Warn("tool round budget exhausted", "session", msg.SessionID)
	return s.publish(msg, content)
}

// runTool executes one tool call through its reliability envelope and
// renders the result as text for the next model turn.
func (s *Session) runTool(ctx context.Context, sessionID string, call ToolCall) string {
	tool, ok := s.registry.Get(call.Name)
	if !ok {
		s.emit(timeline.KindTool, timeline.SeverityWarn, "tool.unknown",
			timeline.WithSession(sessionID), timeline.WithMessage(call.Name))
		return fmt.Sprintf("[tool %s] unknown tool", call.Name)
	}

	start := time.Now()
	var (
		result tools.Result
		err    error
	)
	if env, wrapped := s.envelopes[call.Name]; wrapped {
		var out reliability.Outcome
		out, err = env.Execute(ctx, tool, call.Args)
		result = out.Result
	} else {
		result, err = tool.Execute(ctx, call.Args)
	}

	s.emit(timeline.KindTool, severityFor(err), "tool."+call.Name,
		timeline.WithSession(sessionID),
		timeline.WithDuration(time.Since(start)),
		timeline.WithComponent("engine"))

	switch {
	case err != nil:
		return fmt.Sprintf("[tool %s] error: %v", call.Name, err)
	case !result.Success:
		return fmt.Sprintf("[tool %s] failed: %s", call.Name, result.Error)
	default:
		return fmt.Sprintf("[tool %s] %s", call.Name, result.Output)
	}
}

func (s *Session) publish(msg InboundMessage, content string) error {
	err := s.outbox.Publish(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	s.emit(timeline.KindChannel, timeline.SeverityInfo, "channel.reply.queued",
		timeline.WithSession(msg.SessionID), timeline.WithComponent("engine"))
	return nil
}

// emit writes a timeline event; the timeline is best-effort for sessions.
func (s *Session) emit(kind timeline.Kind, sev timeline.Severity, name string, opts ...timeline.EventOption) {
	if s.store == nil {
		return
	}
	if err := s.store.Emit(kind, sev, name, opts...); err != nil {
		s.logger.Debug("timeline emit failed", "event", name, "error", err)
	}
}

func severityFor(err error) timeline.Severity {
	if err != nil {
		return timeline.SeverityError
	}
	return timeline.SeverityInfo
}
