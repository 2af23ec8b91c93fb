package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meeting-relay/internal/observability/logging"
	"meeting-relay/internal/observability/metrics"
	"meeting-relay/internal/wire"
)

// BroadcastConfig configures the broadcast connection.
type BroadcastConfig struct {
	URL string

	// PingInterval is the keep-alive cadence. Zero disables pings
	// (hosts publish regularly and do not need them).
	PingInterval time.Duration
}

// BroadcastHandler receives decoded broadcast-connection events.
type BroadcastHandler interface {
	// OnTierBroadcast is called for every relayed tier event.
	OnTierBroadcast(tb wire.TierBroadcast)

	// OnAnalysisComplete is called when the host announces finished analysis.
	OnAnalysisComplete(ac wire.AnalysisComplete)

	// OnClosed is called exactly once when the read loop exits. err is nil
	// for an expected close and a wrapped ErrTransport otherwise.
	OnClosed(err error)
}

// Broadcast is the bidirectional session-control connection. It lives for
// the whole session, not just the recording phase. Hosts publish tier events
// and the analysis-complete notification on it; participants read it and
// send periodic keep-alive pings.
type Broadcast struct {
	cfg     BroadcastConfig
	dialer  Dialer
	metrics *metrics.Metrics

	mu    sync.Mutex
	conn  Conn
	state ConnState

	closeOnce sync.Once
	pingStop  chan struct{}
}

// NewBroadcast creates an unopened broadcast connection.
func NewBroadcast(cfg BroadcastConfig, dialer Dialer) *Broadcast {
	return &Broadcast{
		cfg:      cfg,
		dialer:   dialer,
		metrics:  metrics.DefaultMetrics,
		state:    StateClosed,
		pingStop: make(chan struct{}),
	}
}

// Open dials the backend and starts the read loop plus, when configured,
// the keep-alive pinger.
func (b *Broadcast) Open(ctx context.Context, handler BroadcastHandler) error {
	b.mu.Lock()
	b.state = StateConnecting
	b.mu.Unlock()

	conn, err := b.dialer.Dial(ctx, b.cfg.URL)
	if err != nil {
		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.state = StateOpen
	b.mu.Unlock()

	go b.readLoop(conn, handler)
	if b.cfg.PingInterval > 0 {
		go b.pingLoop()
	}
	return nil
}

// State returns the connection state.
func (b *Broadcast) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Publish writes one envelope of the given type.
func (b *Broadcast) Publish(msgType string, payload any) error {
	data, err := wire.EncodeEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return fmt.Errorf("%w: broadcast state=%s", ErrNotOpen, b.state)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: broadcast publish: %v", ErrTransport, err)
	}
	b.metrics.RecordBroadcastPublished(msgType)
	return nil
}

// PublishTier relays one tier event to participants.
func (b *Broadcast) PublishTier(tb wire.TierBroadcast) error {
	return b.Publish(wire.TypeHostTranscription, tb)
}

// PublishAnalysisComplete announces finished analysis to participants.
func (b *Broadcast) PublishAnalysisComplete(ac wire.AnalysisComplete) error {
	return b.Publish(wire.TypeAnalysisComplete, ac)
}

// Close tears the connection down. Idempotent.
func (b *Broadcast) Close() {
	b.closeOnce.Do(func() {
		close(b.pingStop)
		b.mu.Lock()
		conn := b.conn
		b.state = StateClosed
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (b *Broadcast) pingLoop() {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.pingStop:
			return
		case <-ticker.C:
			b.mu.Lock()
			open := b.state == StateOpen
			conn := b.conn
			b.mu.Unlock()
			if !open {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, wire.EncodePing()); err != nil {
				log := logging.WithComponent("transport.broadcast")
				log.Warn().Err(err).Msg("Keep-alive ping failed")
				return
			}
			b.metrics.RecordBroadcastPublished(wire.TypePing)
		}
	}
}

func (b *Broadcast) readLoop(conn Conn, handler BroadcastHandler) {
	log := logging.WithComponent("transport.broadcast")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			expected := b.state == StateClosed || b.state == StateClosing
			b.state = StateClosed
			b.mu.Unlock()

			if expected {
				handler.OnClosed(nil)
			} else {
				log.Warn().Err(err).Msg("Broadcast connection closed unexpectedly")
				handler.OnClosed(fmt.Errorf("%w: broadcast read: %v", ErrTransport, err))
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		in, err := wire.DecodeBroadcast(data)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed broadcast message")
			b.metrics.RecordMalformedMessage("broadcast")
			continue
		}

		b.metrics.RecordBroadcastReceived(in.RawType)

		switch in.Kind {
		case wire.KindTierBroadcast:
			handler.OnTierBroadcast(in.Tier)
		case wire.KindAnalysisComplete:
			handler.OnAnalysisComplete(in.Analysis)
		case wire.KindKeepAlive:
			// Another participant's ping; nothing to apply.
		case wire.KindUnknownBroadcast:
			log.Warn().Str("type", in.RawType).Msg("Dropping unknown broadcast message type")
		}
	}
}
