// Package mock provides a test double for the stt.Client interface.
//
// Use Client to feed controlled transcript events to the orchestrator and to
// inspect which audio frames were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/driveline-ai/driveline/pkg/provider/stt"
	"github.com/driveline-ai/driveline/pkg/types"
)

// Client is a mock implementation of stt.Client.
type Client struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned from Connect.
	ConnectErr error

	// Events is the channel returned by Transcripts. Tests push events into
	// it and close it to simulate session end. Created lazily with a small
	// buffer when nil.
	Events chan types.Transcript

	// Frames records every non-empty frame passed to SendAudio.
	Frames [][]byte

	// Connected and Closed record lifecycle calls. ConnectCalls counts every
	// Connect attempt, including failed ones.
	Connected    bool
	Closed       bool
	ConnectCalls int
}

// Ensure Client implements stt.Client at compile time.
var _ stt.Client = (*Client)(nil)

// Connect records the call and returns ConnectErr.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	if c.Events == nil {
		c.Events = make(chan types.Transcript, 16)
	}
	c.Connected = true
	return nil
}

// SendAudio records a copy of frame. Empty frames are dropped, matching the
// real client's contract.
func (c *Client) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Frames = append(c.Frames, cp)
	return nil
}

// Transcripts returns the Events channel, creating it if needed.
func (c *Client) Transcripts() <-chan types.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Events == nil {
		c.Events = make(chan types.Transcript, 16)
	}
	return c.Events
}

// Close records the call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// SentFrames returns a snapshot of recorded frames.
func (c *Client) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Frames))
	copy(out, c.Frames)
	return out
}
