// Package tools implements the function tools the agent offers to the LLM:
// customer lookup, appointment booking and management, availability slots,
// and VIN decoding.
//
// Tools never raise. Every outcome, including validation failures and
// downstream outages, is encoded in a JSON result envelope so the model can
// react conversationally instead of the turn aborting.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/driveline-ai/driveline/pkg/types"
)

// Result is the envelope returned to the model for every tool call.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ok builds a success envelope.
func ok(data any, message string) Result {
	return Result{Success: true, Data: data, Message: message}
}

// fail builds a failure envelope. The text is shown to the model, so it
// should be phrased for conversational recovery, not debugging.
func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool pairs an LLM-facing schema with its handler.
type Tool struct {
	// Definition is the tool's schema: name, description, and JSON Schema
	// parameters.
	Definition types.ToolDefinition

	// Handler executes the tool with JSON-encoded args. Implementations
	// must be safe for concurrent use and respect context cancellation.
	Handler func(ctx context.Context, args string) Result
}

// Registry holds the tools of one call and implements the executor contract
// the chat loop expects.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Registering a duplicate name is a programming error.
func (r *Registry) Register(t Tool) {
	name := t.Definition.Name
	if name == "" {
		panic("tools: tool with empty name")
	}
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: duplicate tool %q", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Definitions lists the registered tool schemas in registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute runs the named tool and returns the marshalled result envelope.
// Unknown tools, malformed handler output, and handler panics all come back
// as failure envelopes.
func (r *Registry) Execute(ctx context.Context, name, args string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec,
				"stack", string(debug.Stack()))
			out = mustMarshal(fail("the %s tool hit an internal error", name))
		}
	}()

	t, found := r.tools[name]
	if !found {
		slog.Warn("unknown tool requested", "tool", name)
		return mustMarshal(fail("unknown tool %q", name))
	}

	res := t.Handler(ctx, args)
	if !res.Success {
		slog.Info("tool returned failure", "tool", name, "error", res.Error)
	}
	return mustMarshal(res)
}

func mustMarshal(res Result) string {
	encoded, err := json.Marshal(res)
	if err != nil {
		// Data carried something unmarshallable; degrade rather than lose
		// the turn.
		return `{"success":false,"error":"internal encoding error"}`
	}
	return string(encoded)
}
