// Package llm defines the Provider interface for streaming chat-completion
// backends and the conversation machinery built on top of it.
//
// A Provider wraps a remote model API and exposes a uniform streaming
// interface so the call orchestrator never couples to a specific SDK.
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/driveline-ai/driveline/pkg/types"
)

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, system prompt included.
	Messages []types.Message

	// Tools is the set of function definitions offered to the model.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, accumulated tool calls, usage, or any
// combination thereof.
type Chunk struct {
	// Text is the incremental text content. May be empty if the chunk
	// carries only ToolCalls or a FinishReason.
	Text string

	// FinishReason is set on the final chunk: "stop" (natural end),
	// "length" (MaxTokens reached), "tool_calls" (model wants tools run),
	// "error" (stream failed; Text carries the message), or "" otherwise.
	FinishReason string

	// ToolCalls contains complete tool invocations, emitted with the final
	// chunk once all fragments have been accumulated.
	ToolCalls []types.ToolCall

	// Usage carries token accounting when the backend reports it.
	Usage types.Usage
}

// Provider is the abstraction over any streaming chat-completion backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel emitting Chunk values as they arrive. The channel is closed
	// by the implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors after
	// the stream opens surface as a Chunk with FinishReason "error"; the
	// error return is non-nil only when the stream cannot start at all.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// ToolExecutor runs tool calls requested by the model. Implementations never
// return transport-level errors to the model: failures are encoded in the
// result payload so the model can react conversationally.
type ToolExecutor interface {
	// Execute runs the named tool with JSON-encoded args and returns the
	// JSON-encoded result envelope.
	Execute(ctx context.Context, name, args string) string

	// Definitions lists the tools offered to the model.
	Definitions() []types.ToolDefinition
}
