// Package tts defines the streaming text-to-speech client contract used by
// the call orchestrator. Implementations maintain a long-lived duplex
// connection producing mu-law audio chunks in synthesis order.
package tts

import "context"

// Client is a live synthesis session for one call.
type Client interface {
	// Connect establishes the upstream socket with bounded retries.
	Connect(ctx context.Context) error

	// SendText enqueues a text fragment for synthesis. Non-blocking.
	SendText(text string) error

	// Flush signals end of text for the current utterance; the synthesizer
	// emits all remaining audio and then reports the stream drained.
	Flush() error

	// Clear aborts the current synthesis, drains the outbound audio queue,
	// and resets the time-to-first-byte measurement. Used by barge-in.
	Clear() error

	// Audio returns the ordered audio chunk stream. The channel is closed
	// when the session ends.
	Audio() <-chan []byte

	// Drained signals once per completed flush, after the last audio chunk
	// of the utterance has been queued.
	Drained() <-chan struct{}

	// Close releases all resources. Safe to call multiple times.
	Close() error
}

// Config carries the synthesis parameters shared by all implementations.
type Config struct {
	Model      string
	Encoding   string // always "mulaw" on the telephony path
	SampleRate int    // always 8000
}
