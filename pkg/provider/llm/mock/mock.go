// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to feed controlled completion streams without a
// live backend. Scripts is consumed one entry per StreamCompletion call, so a
// tool-calling round trip can be scripted as successive streams.
package mock

import (
	"context"
	"sync"

	"github.com/driveline-ai/driveline/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Scripts is the sequence of chunk streams to emit. Call n of
	// StreamCompletion plays Scripts[n]; calls past the end replay the last
	// script. All chunks are sent before the channel is closed.
	Scripts [][]llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of opening a channel.
	StreamErr error

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and plays the next script.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	call := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var script []llm.Chunk
	if len(p.Scripts) > 0 {
		idx := call
		if idx >= len(p.Scripts) {
			idx = len(p.Scripts) - 1
		}
		script = append(script, p.Scripts[idx]...)
	}
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of recorded invocations.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}
