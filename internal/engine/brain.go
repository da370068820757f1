// Package engine runs agent sessions: inbound message in, LLM turns with
// tool calls in the middle, outbound reply on the dispatch bus. The LLM
// itself is a black-box collaborator behind the Brain interface.
package engine

import "context"

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Reply is one model turn: either a final answer or a batch of tool calls
// to run before the next turn.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

// Brain is the LLM provider surface. Implementations live outside this
// core.
type Brain interface {
	Respond(ctx context.Context, sessionID, content string) (Reply, error)
}
