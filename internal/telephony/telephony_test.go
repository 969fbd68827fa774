package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// ─── frames ──────────────────────────────────────────────────────────────────

func TestParseFrame_Start(t *testing.T) {
	t.Parallel()

	raw := `{
		"event": "start",
		"streamSid": "MZ001",
		"start": {
			"callSid": "CA001",
			"streamSid": "MZ001",
			"from": "+15551234567",
			"customParameters": {"caller_phone": "+15551234567"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		}
	}`

	f, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Event != EventStart || f.Start == nil {
		t.Fatalf("frame = %+v", f)
	}
	if f.Start.CallSID != "CA001" || f.Start.StreamSID != "MZ001" {
		t.Fatalf("start = %+v", f.Start)
	}
	if f.Start.CustomParameters["caller_phone"] != "+15551234567" {
		t.Fatalf("custom parameters = %v", f.Start.CustomParameters)
	}
	if f.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("media format = %+v", f.Start.MediaFormat)
	}
}

func TestParseFrame_MediaDecodes(t *testing.T) {
	t.Parallel()

	audio := []byte{0x7f, 0x80, 0x00, 0xff}
	raw, _ := json.Marshal(map[string]any{
		"event": "media",
		"media": map[string]string{"payload": base64.StdEncoding.EncodeToString(audio)},
	})

	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	decoded, err := f.Media.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(decoded) != string(audio) {
		t.Fatalf("decoded = %x, want %x", decoded, audio)
	}
}

func TestParseFrame_EmptyPayload(t *testing.T) {
	t.Parallel()

	f, err := ParseFrame([]byte(`{"event":"media","media":{"payload":""}}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	decoded, err := f.Media.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("decoded %d bytes from empty payload", len(decoded))
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := ParseFrame([]byte(`{"streamSid":"MZ001"}`)); err == nil {
		t.Error("frame without event accepted")
	}
}

// ─── stream ──────────────────────────────────────────────────────────────────

// startMediaServer runs a WebSocket endpoint whose handler plays the
// provider's side of the stream.
func startMediaServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server) *Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := NewStream(conn)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStream_ReadFrame(t *testing.T) {
	t.Parallel()

	srv := startMediaServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1"}}`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"event":"stop","stop":{"callSid":"CA1"}}`))
	})
	s := dialStream(t, srv)

	f, err := s.ReadFrame(t.Context())
	if err != nil {
		t.Fatalf("first ReadFrame: %v", err)
	}
	if f.Event != EventStart {
		t.Fatalf("event = %q, want start", f.Event)
	}

	f, err = s.ReadFrame(t.Context())
	if err != nil {
		t.Fatalf("second ReadFrame: %v", err)
	}
	if f.Event != EventStop {
		t.Fatalf("event = %q, want stop", f.Event)
	}
}

func TestStream_ReadAfterPeerClose(t *testing.T) {
	t.Parallel()

	srv := startMediaServer(t, func(conn *websocket.Conn) {})
	s := dialStream(t, srv)

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	if _, err := s.ReadFrame(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("want ErrStreamClosed, got %v", err)
	}
}

func TestStream_SendMediaAndClear(t *testing.T) {
	t.Parallel()

	frames := make(chan map[string]any, 4)
	srv := startMediaServer(t, func(conn *websocket.Conn) {
		for range 3 {
			_, raw, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var decoded map[string]any
			json.Unmarshal(raw, &decoded)
			frames <- decoded
		}
	})
	s := dialStream(t, srv)
	s.Begin("MZ42")

	audio := []byte{1, 2, 3, 4}
	if err := s.SendMedia(t.Context(), audio); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if err := s.SendClear(t.Context()); err != nil {
		t.Fatalf("SendClear: %v", err)
	}
	if err := s.SendMark(t.Context(), "turn-1"); err != nil {
		t.Fatalf("SendMark: %v", err)
	}

	media := <-frames
	if media["event"] != "media" || media["streamSid"] != "MZ42" {
		t.Fatalf("media frame = %v", media)
	}
	payload := media["media"].(map[string]any)["payload"].(string)
	if decoded, _ := base64.StdEncoding.DecodeString(payload); string(decoded) != string(audio) {
		t.Fatalf("payload = %q", payload)
	}

	clearFrame := <-frames
	if clearFrame["event"] != "clear" || clearFrame["streamSid"] != "MZ42" {
		t.Fatalf("clear frame = %v", clearFrame)
	}

	mark := <-frames
	if mark["event"] != "mark" || mark["mark"].(map[string]any)["name"] != "turn-1" {
		t.Fatalf("mark frame = %v", mark)
	}
}

func TestStream_WriteAfterClose(t *testing.T) {
	t.Parallel()

	srv := startMediaServer(t, func(conn *websocket.Conn) {
		conn.Read(context.Background())
	})
	s := dialStream(t, srv)
	s.Begin("MZ1")
	s.Close()

	if err := s.SendMedia(t.Context(), []byte{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("want ErrStreamClosed, got %v", err)
	}
	// Close twice is fine.
	s.Close()
}

// ─── twiml ───────────────────────────────────────────────────────────────────

func TestBootstrapTwiML(t *testing.T) {
	t.Parallel()

	body, err := BootstrapTwiML(MediaStreamURL("agent.example.com"), map[string]string{
		"caller_phone":   "+15551234567",
		"appointment_id": "42",
	})
	if err != nil {
		t.Fatalf("BootstrapTwiML: %v", err)
	}
	markup := string(body)

	for _, want := range []string{
		`<Stream url="wss://agent.example.com/media-stream">`,
		`<Parameter name="appointment_id" value="42">`,
		`<Parameter name="caller_phone" value="+15551234567">`,
		"<Connect>",
	} {
		if !strings.Contains(markup, want) {
			t.Errorf("markup missing %q:\n%s", want, markup)
		}
	}
	if !strings.HasPrefix(markup, "<?xml") {
		t.Error("missing XML header")
	}
}

func TestCheckOutboundTarget(t *testing.T) {
	t.Parallel()

	if err := CheckOutboundTarget("+15550001111", "+15550001111"); err != nil {
		t.Fatalf("test number refused: %v", err)
	}
	if err := CheckOutboundTarget("+15550001111", "+15559998888"); !errors.Is(err, ErrOutboundNotAllowed) {
		t.Fatalf("want ErrOutboundNotAllowed, got %v", err)
	}
	// No test number configured means outbound is fully disabled.
	if err := CheckOutboundTarget("", "+15550001111"); !errors.Is(err, ErrOutboundNotAllowed) {
		t.Fatalf("want ErrOutboundNotAllowed with empty config, got %v", err)
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	const token = "12345"
	const webhookURL = "https://agent.example.com/voice/inbound"
	form := url.Values{
		"CallSid": {"CA001"},
		"From":    {"+15551234567"},
		"To":      {"+15550001111"},
	}

	// Sign the canonical payload: URL then name/value pairs in sorted order.
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(webhookURL + "CallSidCA001From+15551234567To+15550001111"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ValidateSignature(token, webhookURL, form, sig) {
		t.Error("valid signature rejected")
	}
	if ValidateSignature("wrong-token", webhookURL, form, sig) {
		t.Error("signature accepted with wrong token")
	}
	if ValidateSignature(token, webhookURL+"?x=1", form, sig) {
		t.Error("signature accepted for different URL")
	}
	if ValidateSignature(token, webhookURL, form, "") {
		t.Error("empty signature accepted")
	}
	if ValidateSignature("", webhookURL, form, sig) {
		t.Error("empty token accepted")
	}
}
