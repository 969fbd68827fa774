// Package telephony speaks the provider's media-stream WebSocket protocol:
// JSON control frames wrapping base64 mu-law audio at 8 kHz, roughly 20 ms
// (160 decoded bytes) per frame.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// Frame is one inbound JSON frame from the telephony provider. Exactly one of
// the event payloads is populated, matching Event.
type Frame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Mark      *MarkFrame  `json:"mark,omitempty"`
	Stop      *StopFrame  `json:"stop,omitempty"`
}

// StartFrame opens a media stream and carries the call identity.
type StartFrame struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	From             string            `json:"from,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat describes the audio encoding of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaFrame carries one base64 mu-law audio chunk.
type MediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkFrame echoes a playback marker previously sent outbound.
type MarkFrame struct {
	Name string `json:"name"`
}

// StopFrame closes the stream.
type StopFrame struct {
	CallSID string `json:"callSid"`
}

// ParseFrame decodes one inbound frame.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("telephony: parse frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("telephony: frame without event")
	}
	return &f, nil
}

// Audio decodes the frame's base64 mu-law payload. An empty payload decodes
// to an empty slice, which callers must not forward upstream.
func (m *MediaFrame) Audio() ([]byte, error) {
	if m.Payload == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return decoded, nil
}

// ─── outbound frames ─────────────────────────────────────────────────────────

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

type outboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      markName `json:"mark"`
}

type markName struct {
	Name string `json:"name"`
}

// marshalMedia builds an outbound media frame around raw mu-law audio.
func marshalMedia(streamSID string, audio []byte) ([]byte, error) {
	frame := outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
	return json.Marshal(frame)
}

func marshalClear(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: "clear", StreamSID: streamSID})
}

func marshalMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(outboundMark{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      markName{Name: name},
	})
}
