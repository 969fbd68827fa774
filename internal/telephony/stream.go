package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// ErrStreamClosed is returned once the underlying socket is gone.
var ErrStreamClosed = errors.New("telephony: stream closed")

// Stream wraps the provider's duplex media-stream socket. Reads are owned by
// one goroutine (the orchestrator's ingress task); writes come from several
// and are serialized by a mutex.
type Stream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	// streamSID is set by Begin after the start frame arrives.
	streamSID string
}

// NewStream wraps an accepted WebSocket connection.
func NewStream(conn *websocket.Conn) *Stream {
	return &Stream{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Begin records the stream identity from the start frame. Outbound frames
// are tagged with it from then on.
func (s *Stream) Begin(streamSID string) {
	s.streamSID = streamSID
}

// StreamSID returns the identity recorded by Begin, empty before start.
func (s *Stream) StreamSID() string {
	return s.streamSID
}

// ReadFrame blocks for the next inbound frame. Socket closure of any kind is
// reported as ErrStreamClosed.
func (s *Stream) ReadFrame(ctx context.Context) (*Frame, error) {
	typ, raw, err := s.conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	if typ != websocket.MessageText {
		// The provider only sends JSON text frames; skip anything else.
		return s.ReadFrame(ctx)
	}
	return ParseFrame(raw)
}

// SendMedia emits one outbound audio frame.
func (s *Stream) SendMedia(ctx context.Context, audio []byte) error {
	raw, err := marshalMedia(s.streamSID, audio)
	if err != nil {
		return fmt.Errorf("telephony: marshal media: %w", err)
	}
	return s.write(ctx, raw)
}

// SendClear tells the provider to drop all buffered outbound audio. This is
// the first step of barge-in.
func (s *Stream) SendClear(ctx context.Context) error {
	raw, err := marshalClear(s.streamSID)
	if err != nil {
		return fmt.Errorf("telephony: marshal clear: %w", err)
	}
	return s.write(ctx, raw)
}

// SendMark emits a playback marker the provider echoes back once the audio
// queued before it has played out.
func (s *Stream) SendMark(ctx context.Context, name string) error {
	raw, err := marshalMark(s.streamSID, name)
	if err != nil {
		return fmt.Errorf("telephony: marshal mark: %w", err)
	}
	return s.write(ctx, raw)
}

func (s *Stream) write(ctx context.Context, raw []byte) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return nil
}

// Close shuts the socket down. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	return err
}
