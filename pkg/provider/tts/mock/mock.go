// Package mock provides a test double for the tts.Client interface.
//
// Use Client to script audio output and to inspect the text, flush, and clear
// calls made by the orchestrator.
package mock

import (
	"context"
	"sync"

	"github.com/driveline-ai/driveline/pkg/provider/tts"
)

// Client is a mock implementation of tts.Client.
type Client struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned from Connect.
	ConnectErr error

	// AudioCh is the channel returned by Audio. Tests push chunks into it and
	// close it to simulate session end. Created lazily when nil.
	AudioCh chan []byte

	// DrainedCh is the channel returned by Drained. Created lazily when nil.
	DrainedCh chan struct{}

	// Texts records every non-empty fragment passed to SendText.
	Texts []string

	// Flushes and Clears count control calls.
	Flushes int
	Clears  int

	// Connected and Closed record lifecycle calls. ConnectCalls counts every
	// Connect attempt, including failed ones.
	Connected    bool
	Closed       bool
	ConnectCalls int
}

// Ensure Client implements tts.Client at compile time.
var _ tts.Client = (*Client)(nil)

// Connect records the call and returns ConnectErr.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.ensureChannels()
	c.Connected = true
	return nil
}

// SendText records text. Empty fragments are dropped, matching the real
// client's contract.
func (c *Client) SendText(text string) error {
	if text == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Texts = append(c.Texts, text)
	return nil
}

// Flush records the call and signals Drained, simulating an upstream that
// synthesizes instantly.
func (c *Client) Flush() error {
	c.mu.Lock()
	c.Flushes++
	c.ensureChannels()
	drained := c.DrainedCh
	c.mu.Unlock()

	select {
	case drained <- struct{}{}:
	default:
	}
	return nil
}

// Clear records the call and drains any scripted audio still queued.
func (c *Client) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Clears++
	if c.AudioCh != nil {
		for {
			select {
			case <-c.AudioCh:
			default:
				return nil
			}
		}
	}
	return nil
}

// Audio returns the scripted audio channel, creating it if needed.
func (c *Client) Audio() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureChannels()
	return c.AudioCh
}

// Drained returns the drained channel, creating it if needed.
func (c *Client) Drained() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureChannels()
	return c.DrainedCh
}

// Close records the call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// SentTexts returns a snapshot of recorded fragments.
func (c *Client) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Texts))
	copy(out, c.Texts)
	return out
}

func (c *Client) ensureChannels() {
	if c.AudioCh == nil {
		c.AudioCh = make(chan []byte, 64)
	}
	if c.DrainedCh == nil {
		c.DrainedCh = make(chan struct{}, 4)
	}
}
