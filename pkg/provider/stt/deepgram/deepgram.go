// Package deepgram provides a Deepgram-backed STT client using the streaming
// WebSocket API, configured for mu-law phone audio. It implements the
// stt.Client interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driveline-ai/driveline/internal/resilience"
	"github.com/driveline-ai/driveline/pkg/provider/stt"
	"github.com/driveline-ai/driveline/pkg/types"
)

const (
	listenEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel   = "nova-2-phonecall"

	// keepaliveInterval is how often a KeepAlive control message is sent so
	// Deepgram does not close the socket with a NET-0001 inactivity timeout
	// while the caller is silent.
	keepaliveInterval = 10 * time.Second
)

// ErrClosed is returned by SendAudio after the client has been closed.
var ErrClosed = errors.New("deepgram: client is closed")

// Client implements stt.Client backed by the Deepgram streaming API.
// Create one per call with [New]; a Client is not reusable after Close.
type Client struct {
	apiKey    string
	cfg       stt.Config
	keepalive time.Duration

	conn   *websocket.Conn
	events chan types.Transcript
	audio  chan []byte

	started time.Time
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithKeepaliveInterval overrides the keepalive cadence. Default 10s.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.keepalive = d
		}
	}
}

// New creates a Deepgram Client for one call. apiKey must be non-empty.
func New(apiKey string, cfg stt.Config, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	c := &Client{
		apiKey:    apiKey,
		cfg:       cfg,
		keepalive: keepaliveInterval,
		events:    make(chan types.Transcript, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Connect implements stt.Client. Dial failures are retried three times with
// exponential backoff before the last error is surfaced.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	err = resilience.Retry(ctx, resilience.RetryConfig{Name: "stt.connect"}, func(ctx context.Context) error {
		conn, _, dialErr := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
		if dialErr != nil {
			return dialErr
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return fmt.Errorf("deepgram: connect: %w", err)
	}

	c.started = time.Now()
	c.wg.Add(3)
	go c.readLoop(ctx)
	go c.writeLoop(ctx)
	go c.keepaliveLoop(ctx)
	return nil
}

// buildURL constructs the streaming endpoint URL from the session config.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(listenEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("encoding", c.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(c.cfg.Channels))
	q.Set("interim_results", strconv.FormatBool(c.cfg.InterimResults))
	q.Set("smart_format", strconv.FormatBool(c.cfg.SmartFormat))
	q.Set("endpointing", strconv.Itoa(c.cfg.EndpointingMs))
	q.Set("utterance_end_ms", strconv.Itoa(c.cfg.UtteranceEndMs))
	q.Set("no_delay", "true")
	q.Set("punctuate", "true")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendAudio implements stt.Client. Empty frames are dropped defensively:
// forwarding them upstream is a known way to wedge the recognizer.
func (c *Client) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.audio <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Transcripts implements stt.Client.
func (c *Client) Transcripts() <-chan types.Transcript { return c.events }

// Close implements stt.Client. It cancels the keepalive, asks Deepgram to
// flush pending audio, and closes the socket.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		}
		c.wg.Wait()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	})
	return nil
}

// ---- wire format ----

// listenResponse is the JSON structure Deepgram sends for Results and
// UtteranceEnd events.
type listenResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// writeLoop reads from the audio channel and sends binary frames upstream.
func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case frame := <-c.audio:
			if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				return
			}
		case <-c.done:
			// Drain buffered audio before exiting so the final utterance
			// is not truncated.
			for {
				select {
				case frame := <-c.audio:
					_ = c.conn.Write(ctx, websocket.MessageBinary, frame)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// keepaliveLoop sends a KeepAlive control message on a fixed cadence.
func (c *Client) keepaliveLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages and dispatches transcript events in
// arrival order.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, msg, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseListenResponse(msg)
		if !ok {
			continue
		}
		t.Timestamp = time.Since(c.started)
		select {
		case c.events <- t:
		case <-c.done:
			return
		}
	}
}

// parseListenResponse converts a raw WebSocket message into a Transcript.
// Returns (zero, false) for messages that should be ignored.
func parseListenResponse(data []byte) (types.Transcript, bool) {
	var resp listenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}

	switch resp.Type {
	case "UtteranceEnd":
		return types.Transcript{Type: types.TranscriptUtteranceEnd}, true

	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return types.Transcript{}, false
		}
		alt := resp.Channel.Alternatives[0]
		t := types.Transcript{
			Text:        alt.Transcript,
			Confidence:  alt.Confidence,
			IsFinal:     resp.IsFinal,
			SpeechFinal: resp.SpeechFinal,
		}
		if resp.IsFinal {
			t.Type = types.TranscriptFinal
		} else {
			t.Type = types.TranscriptInterim
		}
		// speech_final is only meaningful on finals.
		t.SpeechFinal = t.SpeechFinal && t.IsFinal
		return t, true

	default:
		return types.Transcript{}, false
	}
}
