package llm

import (
	"sync"

	"github.com/driveline-ai/driveline/pkg/types"
)

// defaultMaxTurns bounds the non-system history kept per call. Phone calls
// rarely exceed a dozen turns; the cap protects the context window on the
// long tail.
const defaultMaxTurns = 20

// Conversation holds the message history of one call. It is safe for
// concurrent use; the orchestrator appends from the turn goroutine while the
// session persister reads snapshots.
type Conversation struct {
	mu       sync.Mutex
	messages []types.Message
	maxTurns int
	usage    types.Usage
}

// NewConversation creates an empty conversation with the default turn cap.
func NewConversation() *Conversation {
	return &Conversation{maxTurns: defaultMaxTurns}
}

// SetSystemPrompt installs or replaces the system message at index 0.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sys := types.Message{Role: "system", Content: prompt}
	if len(c.messages) > 0 && c.messages[0].Role == "system" {
		c.messages[0] = sys
		return
	}
	c.messages = append([]types.Message{sys}, c.messages...)
}

// AddUser appends a user turn.
func (c *Conversation) AddUser(content string) {
	c.append(types.Message{Role: "user", Content: content})
}

// AddAssistant appends an assistant turn. toolCalls may be nil for plain
// text responses.
func (c *Conversation) AddAssistant(content string, toolCalls []types.ToolCall) {
	c.append(types.Message{Role: "assistant", Content: content, ToolCalls: toolCalls})
}

// AddToolResult appends the result of one tool call. Every assistant turn
// carrying tool calls must be followed by one tool result per call before the
// next completion request.
func (c *Conversation) AddToolResult(toolCallID, content string) {
	c.append(types.Message{Role: "tool", Content: content, ToolCallID: toolCallID})
}

func (c *Conversation) append(m types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	c.trimLocked(c.maxTurns, true)
}

// History returns a copy of the current message list, system prompt first.
func (c *Conversation) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the number of messages including the system prompt.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// AddUsage accumulates token accounting from one completion.
func (c *Conversation) AddUsage(u types.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// Usage returns the accumulated token usage of the call.
func (c *Conversation) Usage() types.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Clear drops the history. When keepSystem is true the system prompt at
// index 0 survives.
func (c *Conversation) Clear(keepSystem bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keepSystem && len(c.messages) > 0 && c.messages[0].Role == "system" {
		c.messages = c.messages[:1]
		return
	}
	c.messages = nil
}

// Trim drops the oldest turns until at most maxMessages remain beyond the
// system prompt. When keepSystem is true the system prompt survives and does
// not count toward the cap; otherwise it is trimmed like any other message.
func (c *Conversation) Trim(maxMessages int, keepSystem bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxMessages < 0 {
		maxMessages = 0
	}
	c.trimLocked(maxMessages, keepSystem)
}

// trimLocked drops the oldest turns once the cap is exceeded. The cut never
// lands between an assistant tool-call turn and its tool results: an orphaned
// "tool" message would be rejected upstream.
func (c *Conversation) trimLocked(max int, keepSystem bool) {
	start := 0
	if keepSystem && len(c.messages) > 0 && c.messages[0].Role == "system" {
		start = 1
	}
	for len(c.messages)-start > max {
		cut := start + 1
		// Advance past tool results left orphaned by the cut.
		for cut < len(c.messages) && c.messages[cut].Role == "tool" {
			cut++
		}
		c.messages = append(c.messages[:start], c.messages[cut:]...)
	}
}
