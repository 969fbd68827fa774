// Package deepgram provides a Deepgram Aura-backed TTS client using the
// streaming speak WebSocket API, configured for containerless mu-law output.
// It implements the tts.Client interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driveline-ai/driveline/internal/resilience"
	"github.com/driveline-ai/driveline/pkg/provider/tts"
)

const (
	speakEndpoint = "wss://api.deepgram.com/v1/speak"
	defaultModel  = "aura-asteria-en"
)

// ErrClosed is returned by control operations after the client has been closed.
var ErrClosed = errors.New("deepgram tts: client is closed")

// command is the JSON control message sent on the speak socket.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// event is the JSON status message received on the speak socket. Binary
// messages carry raw mu-law audio and bypass this type.
type event struct {
	Type string `json:"type"`
}

// Client implements tts.Client backed by the Deepgram Aura streaming API.
// Create one per call with [New]; a Client is not reusable after Close.
type Client struct {
	apiKey string
	cfg    tts.Config

	// ttfbObserver, when set, receives the measured time-to-first-byte of
	// each flushed utterance.
	ttfbObserver func(time.Duration)

	conn    *websocket.Conn
	audio   chan []byte
	drained chan struct{}
	cmds    chan command

	mu        sync.Mutex
	flushedAt time.Time // last Flush call; zero after first byte observed

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithTTFBObserver registers a callback invoked with the time-to-first-byte
// of every flushed utterance.
func WithTTFBObserver(fn func(time.Duration)) Option {
	return func(c *Client) { c.ttfbObserver = fn }
}

// New creates a Deepgram Aura Client for one call. apiKey must be non-empty.
func New(apiKey string, cfg tts.Config, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram tts: apiKey must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	c := &Client{
		apiKey:  apiKey,
		cfg:     cfg,
		audio:   make(chan []byte, 256),
		drained: make(chan struct{}, 4),
		cmds:    make(chan command, 64),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Connect implements tts.Client with the same retry discipline as the STT side.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram tts: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	err = resilience.Retry(ctx, resilience.RetryConfig{Name: "tts.connect"}, func(ctx context.Context) error {
		conn, _, dialErr := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
		if dialErr != nil {
			return dialErr
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return fmt.Errorf("deepgram tts: connect: %w", err)
	}

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	return nil
}

// buildURL constructs the speak endpoint URL for containerless mu-law output.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(speakEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("encoding", c.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("container", "none")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendText implements tts.Client.
func (c *Client) SendText(text string) error {
	if text == "" {
		return nil
	}
	return c.enqueue(command{Type: "Speak", Text: text})
}

// Flush implements tts.Client. It also arms the time-to-first-byte clock.
func (c *Client) Flush() error {
	c.mu.Lock()
	if c.flushedAt.IsZero() {
		c.flushedAt = time.Now()
	}
	c.mu.Unlock()
	return c.enqueue(command{Type: "Flush"})
}

// Clear implements tts.Client. It aborts upstream synthesis, empties the
// local audio queue, and resets the TTFB clock so the next utterance is
// measured from its own flush.
func (c *Client) Clear() error {
	if err := c.enqueue(command{Type: "Clear"}); err != nil {
		return err
	}
	c.drainAudio()
	c.mu.Lock()
	c.flushedAt = time.Time{}
	c.mu.Unlock()
	return nil
}

// Audio implements tts.Client.
func (c *Client) Audio() <-chan []byte { return c.audio }

// Drained implements tts.Client.
func (c *Client) Drained() <-chan struct{} { return c.drained }

// Close implements tts.Client.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Write(context.Background(), websocket.MessageText, mustJSON(command{Type: "Close"}))
		}
		c.wg.Wait()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return nil
}

// enqueue queues a control command for the write loop.
func (c *Client) enqueue(cmd command) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// drainAudio discards everything buffered in the audio queue.
func (c *Client) drainAudio() {
	for {
		select {
		case <-c.audio:
		default:
			return
		}
	}
}

// writeLoop serializes control commands onto the socket.
func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case cmd := <-c.cmds:
			if err := c.conn.Write(ctx, websocket.MessageText, mustJSON(cmd)); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives binary audio and JSON status messages.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.audio)

	for {
		kind, msg, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		if kind == websocket.MessageBinary {
			c.observeFirstByte()
			select {
			case c.audio <- msg:
			case <-c.done:
				return
			}
			continue
		}

		var ev event
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "Flushed":
			select {
			case c.drained <- struct{}{}:
			default:
			}
		case "Warning", "Error":
			slog.Warn("tts upstream status", "type", ev.Type, "raw", string(msg))
		}
	}
}

// observeFirstByte reports TTFB for the current utterance, once.
func (c *Client) observeFirstByte() {
	c.mu.Lock()
	flushedAt := c.flushedAt
	c.flushedAt = time.Time{}
	c.mu.Unlock()

	if flushedAt.IsZero() {
		return
	}
	ttfb := time.Since(flushedAt)
	slog.Debug("tts first byte", "ttfb", ttfb)
	if c.ttfbObserver != nil {
		c.ttfbObserver(ttfb)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// command is a flat struct of strings; marshalling cannot fail.
		panic(err)
	}
	return b
}
