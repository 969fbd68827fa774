package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driveline-ai/driveline/pkg/types"
)

// maxToolDepth caps how many completion rounds a single user turn may chain
// through tool calls before the model is cut off with an apology.
const maxToolDepth = 5

// toolDepthApology is spoken when the model keeps requesting tools past the
// depth cap instead of answering.
const toolDepthApology = "I'm sorry, I'm having trouble looking that up right now. Is there something else I can help you with?"

// EventType tags an Event emitted by [Chat.Generate].
type EventType string

const (
	// EventContentDelta carries an incremental piece of assistant text.
	EventContentDelta EventType = "content_delta"

	// EventToolCall signals the model requested a tool. ToolName is set.
	EventToolCall EventType = "tool_call"

	// EventToolResult signals a tool finished. ToolName and Text are set.
	EventToolResult EventType = "tool_result"

	// EventError signals the stream failed. Text carries the message.
	EventError EventType = "error"

	// EventDone is the final event of a turn. Usage carries the turn total.
	EventDone EventType = "done"
)

// Event is one item of the turn stream produced by [Chat.Generate].
type Event struct {
	Type     EventType
	Text     string
	ToolName string
	Usage    types.Usage
}

// Chat drives one call's conversation against a Provider, executing tool
// calls inline as the model requests them. Not safe for concurrent Generate
// calls; the orchestrator serializes turns per call.
type Chat struct {
	provider    Provider
	tools       ToolExecutor
	conv        *Conversation
	temperature float64
	maxTokens   int

	depth int
}

// NewChat creates a Chat over provider. tools may be nil for a pure
// conversational session.
func NewChat(provider Provider, tools ToolExecutor, conv *Conversation, temperature float64, maxTokens int) *Chat {
	return &Chat{
		provider:    provider,
		tools:       tools,
		conv:        conv,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Conversation returns the underlying history, for persistence snapshots.
func (c *Chat) Conversation() *Conversation { return c.conv }

// Generate appends userText as a user turn and streams the model's response.
// The returned channel is closed after the EventDone (or EventError) event.
// Callers must drain it.
func (c *Chat) Generate(ctx context.Context, userText string) <-chan Event {
	c.conv.AddUser(userText)

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		var turnUsage types.Usage
		if err := c.step(ctx, ch, &turnUsage); err != nil {
			emit(ctx, ch, Event{Type: EventError, Text: err.Error()})
			return
		}
		emit(ctx, ch, Event{Type: EventDone, Usage: turnUsage})
	}()
	return ch
}

// step runs one completion round. When the model finishes with tool calls it
// executes them and recurses for the follow-up round.
func (c *Chat) step(ctx context.Context, ch chan<- Event, turnUsage *types.Usage) error {
	c.depth++
	defer func() { c.depth-- }()

	if c.depth > maxToolDepth {
		slog.Warn("tool call depth cap reached", "depth", c.depth)
		emit(ctx, ch, Event{
			Type: EventError,
			Text: fmt.Sprintf("tool call depth cap of %d reached", maxToolDepth),
		})
		c.conv.AddAssistant(toolDepthApology, nil)
		emit(ctx, ch, Event{Type: EventContentDelta, Text: toolDepthApology})
		return nil
	}

	req := CompletionRequest{
		Messages:    c.conv.History(),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if c.tools != nil {
		req.Tools = c.tools.Definitions()
	}

	stream, err := c.provider.StreamCompletion(ctx, req)
	if err != nil {
		return fmt.Errorf("llm: start completion: %w", err)
	}

	var (
		text         string
		toolCalls    []types.ToolCall
		finishReason string
	)
	for chunk := range stream {
		if chunk.Text != "" && chunk.FinishReason != "error" {
			text += chunk.Text
			emit(ctx, ch, Event{Type: EventContentDelta, Text: chunk.Text})
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = chunk.ToolCalls
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
			if chunk.FinishReason == "error" {
				return fmt.Errorf("llm: stream: %s", chunk.Text)
			}
		}
		turnUsage.Add(chunk.Usage)
		c.conv.AddUsage(chunk.Usage)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if finishReason != "tool_calls" || len(toolCalls) == 0 {
		// "stop" and "length" both end the turn. A length cut must not
		// trigger another round; the partial answer is spoken as is.
		c.conv.AddAssistant(text, nil)
		return nil
	}

	c.conv.AddAssistant(text, toolCalls)
	for _, tc := range toolCalls {
		emit(ctx, ch, Event{Type: EventToolCall, ToolName: tc.Name})
		result := c.executeTool(ctx, tc)
		c.conv.AddToolResult(tc.ID, result)
		emit(ctx, ch, Event{Type: EventToolResult, ToolName: tc.Name, Text: result})
	}
	return c.step(ctx, ch, turnUsage)
}

// executeTool runs one tool call. Tools never raise; a missing executor is
// reported through the result payload like any other tool failure.
func (c *Chat) executeTool(ctx context.Context, tc types.ToolCall) string {
	if c.tools == nil {
		return `{"success":false,"error":"no tools available"}`
	}
	slog.Debug("executing tool", "tool", tc.Name, "id", tc.ID)
	return c.tools.Execute(ctx, tc.Name, tc.Arguments)
}

func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
