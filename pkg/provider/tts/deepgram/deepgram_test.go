package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/driveline-ai/driveline/pkg/provider/tts"
)

func phoneConfig() tts.Config {
	return tts.Config{Model: "aura-asteria-en", Encoding: "mulaw", SampleRate: 8000}
}

func TestBuildURL_ContainerlessMulaw(t *testing.T) {
	t.Parallel()

	c, err := New("key", phoneConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := c.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("model") != "aura-asteria-en" || q.Get("encoding") != "mulaw" ||
		q.Get("sample_rate") != "8000" || q.Get("container") != "none" {
		t.Fatalf("query = %v", q)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", phoneConfig()); err == nil {
		t.Fatal("want error for empty api key")
	}
}

func TestSendText_DropsEmpty(t *testing.T) {
	t.Parallel()

	c, _ := New("key", phoneConfig())
	if err := c.SendText(""); err != nil {
		t.Fatalf("empty text should be a no-op, got %v", err)
	}
	select {
	case <-c.cmds:
		t.Fatal("empty text was queued")
	default:
	}
}

func TestCommandQueueOrder(t *testing.T) {
	t.Parallel()

	c, _ := New("key", phoneConfig())
	if err := c.SendText("Hello there."); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	first := <-c.cmds
	second := <-c.cmds
	if first.Type != "Speak" || first.Text != "Hello there." {
		t.Fatalf("first command = %+v", first)
	}
	if second.Type != "Flush" {
		t.Fatalf("second command = %+v", second)
	}
}

func TestClear_DrainsAudioAndResetsTTFB(t *testing.T) {
	t.Parallel()

	c, _ := New("key", phoneConfig())
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.audio <- []byte{0xff, 0xfe}
	c.audio <- []byte{0xfd}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	select {
	case frame := <-c.audio:
		t.Fatalf("audio queue not drained, got %v", frame)
	default:
	}

	c.mu.Lock()
	armed := !c.flushedAt.IsZero()
	c.mu.Unlock()
	if armed {
		t.Fatal("TTFB clock should be reset after Clear")
	}
}

func TestObserveFirstByte_ReportsOncePerFlush(t *testing.T) {
	t.Parallel()

	var observed []time.Duration
	c, _ := New("key", phoneConfig(), WithTTFBObserver(func(d time.Duration) {
		observed = append(observed, d)
	}))

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.observeFirstByte()
	c.observeFirstByte() // second audio chunk of the same utterance

	if len(observed) != 1 {
		t.Fatalf("observer called %d times, want 1", len(observed))
	}
}

func TestControl_AfterClose(t *testing.T) {
	t.Parallel()

	c, _ := New("key", phoneConfig())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.SendText("too late"); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := c.Flush(); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
