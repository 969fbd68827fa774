package llm

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/driveline-ai/driveline/pkg/types"
)

// scriptedProvider plays one chunk script per StreamCompletion call.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]Chunk
	calls   int
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, _ CompletionRequest) (<-chan Chunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	script := p.scripts[idx]
	p.mu.Unlock()

	ch := make(chan Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingTools records Execute calls and returns a fixed envelope.
type recordingTools struct {
	mu       sync.Mutex
	executed []string
	result   string
}

func (r *recordingTools) Execute(_ context.Context, name, _ string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, name)
	if r.result != "" {
		return r.result
	}
	return `{"success":true}`
}

func (r *recordingTools) Definitions() []types.ToolDefinition {
	return []types.ToolDefinition{{Name: "lookup_customer"}}
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestGenerate_PlainText(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{scripts: [][]Chunk{{
		{Text: "Sure, "},
		{Text: "we can do that."},
		{FinishReason: "stop", Usage: types.Usage{PromptTokens: 50, CompletionTokens: 6, TotalTokens: 56}},
	}}}
	chat := NewChat(p, nil, NewConversation(), 0.8, 1000)

	events := collect(chat.Generate(context.Background(), "can I book an oil change"))

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == EventContentDelta {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "Sure, we can do that." {
		t.Fatalf("assembled text = %q", text.String())
	}
	last := events[len(events)-1]
	if last.Type != EventDone || last.Usage.TotalTokens != 56 {
		t.Fatalf("last event = %+v", last)
	}

	h := chat.Conversation().History()
	if len(h) != 2 || h[1].Role != "assistant" || h[1].Content != "Sure, we can do that." {
		t.Fatalf("history = %+v", h)
	}
}

func TestGenerate_ToolRoundTrip(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{scripts: [][]Chunk{
		{{FinishReason: "tool_calls", ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "lookup_customer", Arguments: `{"phone":"+15551234567"}`},
		}}},
		{{Text: "Found you, Maria."}, {FinishReason: "stop"}},
	}}
	tools := &recordingTools{result: `{"success":true,"data":{"first_name":"Maria"}}`}
	chat := NewChat(p, tools, NewConversation(), 0.8, 1000)

	events := collect(chat.Generate(context.Background(), "do you have my info"))

	var sawCall, sawResult bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCall:
			sawCall = ev.ToolName == "lookup_customer"
		case EventToolResult:
			sawResult = strings.Contains(ev.Text, "Maria")
		}
	}
	if !sawCall || !sawResult {
		t.Fatalf("tool events missing: %+v", events)
	}
	if p.callCount() != 2 {
		t.Fatalf("completion rounds = %d, want 2", p.callCount())
	}

	// tool result must sit between the tool-call turn and the answer
	h := chat.Conversation().History()
	want := []string{"user", "assistant", "tool", "assistant"}
	if len(h) != len(want) {
		t.Fatalf("history length = %d: %+v", len(h), h)
	}
	for i, role := range want {
		if h[i].Role != role {
			t.Fatalf("history[%d].Role = %q, want %q", i, h[i].Role, role)
		}
	}
	if h[2].ToolCallID != "call_1" {
		t.Fatalf("tool result ID = %q", h[2].ToolCallID)
	}
}

func TestGenerate_DepthCapApologizes(t *testing.T) {
	t.Parallel()

	// The model requests a tool on every round and never answers.
	p := &scriptedProvider{scripts: [][]Chunk{
		{{FinishReason: "tool_calls", ToolCalls: []types.ToolCall{
			{ID: "call_x", Name: "lookup_customer", Arguments: "{}"},
		}}},
	}}
	tools := &recordingTools{}
	chat := NewChat(p, tools, NewConversation(), 0.8, 1000)

	events := collect(chat.Generate(context.Background(), "loop forever"))

	if p.callCount() != maxToolDepth {
		t.Fatalf("completion rounds = %d, want %d", p.callCount(), maxToolDepth)
	}
	var apology bool
	var capError string
	for _, ev := range events {
		if ev.Type == EventContentDelta && ev.Text == toolDepthApology {
			apology = true
		}
		if ev.Type == EventError {
			capError = ev.Text
		}
	}
	if !apology {
		t.Fatal("depth cap did not produce the apology")
	}
	if !strings.Contains(capError, "depth cap") {
		t.Fatalf("error event = %q, want the cap named", capError)
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}
	if chat.depth != 0 {
		t.Fatalf("depth not reset, = %d", chat.depth)
	}
}

func TestGenerate_LengthCutEndsTurn(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{scripts: [][]Chunk{{
		{Text: "We have openings on Tuesday at"},
		{FinishReason: "length"},
	}}}
	chat := NewChat(p, &recordingTools{}, NewConversation(), 0.8, 1000)

	events := collect(chat.Generate(context.Background(), "list every slot this month"))

	if p.callCount() != 1 {
		t.Fatalf("length cut triggered another round: %d calls", p.callCount())
	}
	if events[len(events)-1].Type != EventDone {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}
}

func TestGenerate_StreamError(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{scripts: [][]Chunk{{
		{FinishReason: "error", Text: "upstream 500"},
	}}}
	chat := NewChat(p, nil, NewConversation(), 0.8, 1000)

	events := collect(chat.Generate(context.Background(), "hello"))

	last := events[len(events)-1]
	if last.Type != EventError || !strings.Contains(last.Text, "upstream 500") {
		t.Fatalf("last event = %+v", last)
	}
}
