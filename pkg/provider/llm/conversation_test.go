package llm

import (
	"fmt"
	"testing"

	"github.com/driveline-ai/driveline/pkg/types"
)

func TestConversation_SystemPromptStaysFirst(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.AddUser("hello")
	c.SetSystemPrompt("prompt one")

	h := c.History()
	if len(h) != 2 || h[0].Role != "system" || h[0].Content != "prompt one" {
		t.Fatalf("history = %+v", h)
	}

	c.SetSystemPrompt("prompt two")
	h = c.History()
	if len(h) != 2 || h[0].Content != "prompt two" {
		t.Fatalf("system prompt not replaced: %+v", h)
	}
}

func TestConversation_ClearKeepsSystem(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.SetSystemPrompt("prompt")
	c.AddUser("hello")
	c.AddAssistant("hi", nil)

	c.Clear(true)
	h := c.History()
	if len(h) != 1 || h[0].Role != "system" {
		t.Fatalf("history after clear = %+v", h)
	}

	c.Clear(false)
	if c.Len() != 0 {
		t.Fatalf("history not empty after full clear, len = %d", c.Len())
	}
}

func TestConversation_TrimNeverOrphansToolResults(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.SetSystemPrompt("prompt")

	// Fill the history with paired tool-call turns so every possible cut
	// point sits next to a tool result.
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("call_%d", i)
		c.AddUser("question")
		c.AddAssistant("", []types.ToolCall{{ID: id, Name: "lookup_customer", Arguments: "{}"}})
		c.AddToolResult(id, `{"success":true}`)
		c.AddAssistant("answer", nil)
	}

	h := c.History()
	if len(h)-1 > defaultMaxTurns {
		t.Fatalf("history over cap: %d turns", len(h)-1)
	}
	if h[0].Role != "system" {
		t.Fatal("system prompt lost during trim")
	}
	// A tool message is only valid directly after an assistant turn that
	// requested it.
	for i, m := range h {
		if m.Role != "tool" {
			continue
		}
		if i == 0 {
			t.Fatal("tool result at index 0")
		}
		prev := h[i-1]
		if prev.Role == "tool" {
			continue // second result of a multi-call turn
		}
		if prev.Role != "assistant" || len(prev.ToolCalls) == 0 {
			t.Fatalf("orphaned tool result at index %d after %q turn", i, prev.Role)
		}
	}
}

func TestConversation_TrimExplicit(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.SetSystemPrompt("prompt")
	for i := 0; i < 6; i++ {
		c.AddUser(fmt.Sprintf("question %d", i))
		c.AddAssistant(fmt.Sprintf("answer %d", i), nil)
	}

	c.Trim(4, true)
	h := c.History()
	if len(h) != 5 {
		t.Fatalf("history = %d messages, want system + 4", len(h))
	}
	if h[0].Role != "system" {
		t.Fatal("system prompt lost")
	}
	// The newest turns survive the cut.
	if h[len(h)-1].Content != "answer 5" {
		t.Fatalf("last message = %q", h[len(h)-1].Content)
	}

	c.Trim(2, false)
	h = c.History()
	if len(h) != 2 {
		t.Fatalf("history = %d messages, want 2", len(h))
	}
	if h[0].Role == "system" {
		t.Fatal("system prompt survived keepSystem=false")
	}
}

func TestConversation_UsageAccumulates(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.AddUsage(types.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	c.AddUsage(types.Usage{PromptTokens: 150, CompletionTokens: 30, TotalTokens: 180})

	u := c.Usage()
	if u.PromptTokens != 250 || u.CompletionTokens != 50 || u.TotalTokens != 300 {
		t.Fatalf("usage = %+v", u)
	}
}
