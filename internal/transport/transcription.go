package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"meeting-relay/internal/observability/logging"
	"meeting-relay/internal/observability/metrics"
	"meeting-relay/internal/transcript"
	"meeting-relay/internal/wire"
)

// TranscriptionConfig configures the transcription connection.
type TranscriptionConfig struct {
	URL string
}

// TranscriptionHandler receives decoded transcription-connection events.
// Callbacks run on the connection's read goroutine; implementations are
// expected to hand events to the session event loop rather than mutate
// state directly.
type TranscriptionHandler interface {
	// OnTierEvent is called for every decoded transcript tier event.
	OnTierEvent(ev transcript.Event)

	// OnServerError is called when the backend reports an error message.
	OnServerError(msg string)

	// OnClosed is called exactly once when the read loop exits.
	// err is nil for an expected close (after SendStop/ForceClose) and a
	// wrapped ErrTransport for an unexpected one.
	OnClosed(err error)
}

// Transcription is the client end of the transcription connection: raw PCM16
// frames go out as binary messages, tier events come back as JSON text.
type Transcription struct {
	cfg     TranscriptionConfig
	dialer  Dialer
	metrics *metrics.Metrics

	mu       sync.Mutex
	conn     Conn
	state    ConnState
	stopSent bool

	closeOnce sync.Once
}

// NewTranscription creates an unopened transcription connection.
func NewTranscription(cfg TranscriptionConfig, dialer Dialer) *Transcription {
	return &Transcription{
		cfg:     cfg,
		dialer:  dialer,
		metrics: metrics.DefaultMetrics,
		state:   StateClosed,
	}
}

// Open dials the backend and starts the read loop. Frames may be sent as
// soon as Open returns.
func (t *Transcription) Open(ctx context.Context, handler TranscriptionHandler) error {
	t.mu.Lock()
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, t.cfg.URL)
	if err != nil {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	go t.readLoop(conn, handler)
	return nil
}

// State returns the connection state.
func (t *Transcription) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SendFrame writes one audio frame as a raw binary message (no envelope).
func (t *Transcription) SendFrame(pcm []int16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return fmt.Errorf("%w: transcription state=%s", ErrNotOpen, t.state)
	}
	data := wire.EncodePCM16(pcm)
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: send frame: %v", ErrTransport, err)
	}
	t.metrics.RecordFrameSent(len(data))
	return nil
}

// SendStop sends the stop control message and marks the connection closing.
// The connection stays up so the backend can flush its final tier event; the
// session's fallback timer calls ForceClose if that never arrives.
func (t *Transcription) SendStop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen || t.stopSent {
		return nil
	}
	t.stopSent = true
	t.state = StateClosing
	if err := t.conn.WriteMessage(websocket.TextMessage, wire.EncodeStop()); err != nil {
		return fmt.Errorf("%w: send stop: %v", ErrTransport, err)
	}
	return nil
}

// ForceClose tears the connection down. Idempotent; safe to call from the
// fallback timer and from the finalize path at the same time.
func (t *Transcription) ForceClose() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		t.state = StateClosed
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (t *Transcription) readLoop(conn Conn, handler TranscriptionHandler) {
	log := logging.WithComponent("transport.transcription")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			expected := t.state == StateClosing || t.state == StateClosed
			t.state = StateClosed
			t.mu.Unlock()

			if expected {
				handler.OnClosed(nil)
			} else {
				log.Warn().Err(err).Msg("Transcription connection closed unexpectedly")
				handler.OnClosed(fmt.Errorf("%w: transcription read: %v", ErrTransport, err))
			}
			return
		}

		if msgType != websocket.TextMessage {
			log.Warn().Int("messageType", msgType).Msg("Dropping non-text transcription message")
			continue
		}

		in, err := wire.DecodeTranscription(data)
		if err != nil {
			// Recoverable: drop the single malformed message.
			log.Warn().Err(err).Msg("Dropping malformed transcription message")
			t.metrics.RecordMalformedMessage("transcription")
			continue
		}

		switch in.Kind {
		case wire.KindTier:
			t.metrics.RecordTierEvent(in.Tier.Tier.String())
			handler.OnTierEvent(in.Tier)
		case wire.KindError:
			handler.OnServerError(in.Message)
		case wire.KindPong:
			// Keep-alive response; nothing to apply.
		case wire.KindUnknown:
			log.Warn().Str("type", in.RawType).Msg("Dropping unknown transcription message type")
			t.metrics.RecordMalformedMessage("transcription")
		}
	}
}
