// Package stt defines the streaming speech-to-text client contract used by
// the call orchestrator. Implementations maintain a long-lived duplex
// connection configured for narrowband phone audio and surface an ordered
// stream of transcript events.
package stt

import (
	"context"

	"github.com/driveline-ai/driveline/pkg/types"
)

// Client is a live transcription session for one call.
//
// Implementations must preserve emission order: an interim event is never
// reordered relative to the final of the same utterance, and SpeechFinal
// implies IsFinal.
type Client interface {
	// Connect establishes the upstream socket with bounded retries and
	// starts the background keepalive. On failure all partial resources are
	// released and the last error is returned.
	Connect(ctx context.Context) error

	// SendAudio queues a raw mu-law frame for delivery. It is non-blocking
	// and silently drops empty frames.
	SendAudio(frame []byte) error

	// Transcripts returns the ordered event stream. The channel is closed
	// when the session ends.
	Transcripts() <-chan types.Transcript

	// Close cancels the keepalive, flushes pending audio, and closes the
	// socket. Safe to call multiple times.
	Close() error
}

// Config carries the phone-audio session parameters shared by all
// implementations.
type Config struct {
	Model          string
	Encoding       string // always "mulaw" on the telephony path
	SampleRate     int    // always 8000
	Channels       int    // always 1
	InterimResults bool
	SmartFormat    bool
	EndpointingMs  int
	UtteranceEndMs int
}
