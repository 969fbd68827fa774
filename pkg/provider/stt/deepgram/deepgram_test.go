package deepgram

import (
	"net/url"
	"testing"

	"github.com/driveline-ai/driveline/pkg/provider/stt"
	"github.com/driveline-ai/driveline/pkg/types"
)

func phoneConfig() stt.Config {
	return stt.Config{
		Model:          "nova-2-phonecall",
		Encoding:       "mulaw",
		SampleRate:     8000,
		Channels:       1,
		InterimResults: true,
		SmartFormat:    true,
		EndpointingMs:  300,
		UtteranceEndMs: 1000,
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_PhoneAudio(t *testing.T) {
	t.Parallel()

	c, err := New("test-key", phoneConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := c.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-2-phonecall", q.Get("model"))
	assertEqual(t, "encoding", "mulaw", q.Get("encoding"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
	assertEqual(t, "utterance_end_ms", "1000", q.Get("utterance_end_ms"))
	assertEqual(t, "no_delay", "true", q.Get("no_delay"))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", phoneConfig()); err == nil {
		t.Fatal("want error for empty api key")
	}
}

func TestNew_DefaultsModel(t *testing.T) {
	t.Parallel()

	cfg := phoneConfig()
	cfg.Model = ""
	c, err := New("key", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cfg.Model != "nova-2-phonecall" {
		t.Fatalf("default model = %q", c.cfg.Model)
	}
}

// ---- response parsing ----

func TestParseListenResponse_Interim(t *testing.T) {
	t.Parallel()

	msg := []byte(`{"type":"Results","is_final":false,"speech_final":false,
		"channel":{"alternatives":[{"transcript":"i need an","confidence":0.82}]}}`)

	tr, ok := parseListenResponse(msg)
	if !ok {
		t.Fatal("want a transcript")
	}
	if tr.Type != types.TranscriptInterim || tr.IsFinal || tr.SpeechFinal {
		t.Fatalf("interim flags wrong: %+v", tr)
	}
	if tr.Text != "i need an" || tr.Confidence != 0.82 {
		t.Fatalf("payload wrong: %+v", tr)
	}
}

func TestParseListenResponse_SpeechFinalImpliesFinal(t *testing.T) {
	t.Parallel()

	// A malformed upstream message claiming speech_final without is_final
	// must not surface speech_final.
	msg := []byte(`{"type":"Results","is_final":false,"speech_final":true,
		"channel":{"alternatives":[{"transcript":"oil change","confidence":0.97}]}}`)

	tr, ok := parseListenResponse(msg)
	if !ok {
		t.Fatal("want a transcript")
	}
	if tr.SpeechFinal {
		t.Fatal("speech_final must imply is_final")
	}
}

func TestParseListenResponse_Final(t *testing.T) {
	t.Parallel()

	msg := []byte(`{"type":"Results","is_final":true,"speech_final":true,
		"channel":{"alternatives":[{"transcript":"I need an oil change tomorrow at 9.","confidence":0.99}]}}`)

	tr, ok := parseListenResponse(msg)
	if !ok {
		t.Fatal("want a transcript")
	}
	if tr.Type != types.TranscriptFinal || !tr.IsFinal || !tr.SpeechFinal {
		t.Fatalf("final flags wrong: %+v", tr)
	}
}

func TestParseListenResponse_UtteranceEnd(t *testing.T) {
	t.Parallel()

	tr, ok := parseListenResponse([]byte(`{"type":"UtteranceEnd","last_word_end":4.81}`))
	if !ok {
		t.Fatal("want an event")
	}
	if tr.Type != types.TranscriptUtteranceEnd || tr.Text != "" {
		t.Fatalf("utterance_end wrong: %+v", tr)
	}
}

func TestParseListenResponse_Ignored(t *testing.T) {
	t.Parallel()

	for name, msg := range map[string]string{
		"metadata":        `{"type":"Metadata","request_id":"x"}`,
		"no alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"garbage":         `{{{`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseListenResponse([]byte(msg)); ok {
				t.Fatal("message should be ignored")
			}
		})
	}
}

// ---- SendAudio ----

func TestSendAudio_DropsEmptyFrames(t *testing.T) {
	t.Parallel()

	c, err := New("key", phoneConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendAudio(nil); err != nil {
		t.Fatalf("empty frame should be dropped, got %v", err)
	}
	if err := c.SendAudio([]byte{}); err != nil {
		t.Fatalf("empty frame should be dropped, got %v", err)
	}
	select {
	case <-c.audio:
		t.Fatal("empty frame was queued")
	default:
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	t.Parallel()

	c, err := New("key", phoneConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Close without ever connecting: no socket, no goroutines.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.SendAudio([]byte{0xff}); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
