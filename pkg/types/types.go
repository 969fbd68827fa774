// Package types defines the shared types used across all Driveline packages.
//
// These types form the lingua franca between the telephony layer, the
// STT/TTS/LLM providers, and the call orchestrator. They are intentionally
// minimal: each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// TranscriptType tags a transcript event emitted by an STT provider.
type TranscriptType string

const (
	// TranscriptInterim is a non-final hypothesis emitted while the caller
	// is still speaking. Used only for barge-in detection.
	TranscriptInterim TranscriptType = "interim"

	// TranscriptFinal is a stabilised transcript fragment.
	TranscriptFinal TranscriptType = "final"

	// TranscriptUtteranceEnd signals the provider's endpointing heuristic
	// decided the caller stopped talking. Carries no text.
	TranscriptUtteranceEnd TranscriptType = "utterance_end"
)

// Transcript represents a speech-to-text result from an STT provider.
// Interim, final, and utterance-end events all use this type.
type Transcript struct {
	// Type tags the event kind.
	Type TranscriptType

	// Text is the transcribed speech content. Empty for utterance_end events.
	Text string

	// IsFinal indicates whether this fragment is final (authoritative).
	IsFinal bool

	// SpeechFinal indicates the provider considers the whole utterance
	// complete. SpeechFinal implies IsFinal.
	SpeechFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the event arrived, relative to session start.
	Timestamp time.Duration
}

// Message represents a single turn in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the turn.
	Content string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call
	// this turn responds to.
	ToolCallID string
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Usage accumulates token consumption across the LLM steps of a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
