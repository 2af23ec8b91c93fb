package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-relay/internal/analysis"
	"meeting-relay/internal/audio"
	"meeting-relay/internal/events"
	"meeting-relay/internal/models"
	"meeting-relay/internal/observability/logging"
	"meeting-relay/internal/observability/metrics"
	"meeting-relay/internal/relay"
	"meeting-relay/internal/transcript"
	"meeting-relay/internal/transport"
	"meeting-relay/internal/wire"
)

// Config holds per-session configuration.
type Config struct {
	Mode      Mode
	Role      Role
	MeetingID string

	TranscribeURL string
	BroadcastURL  string

	// FinalizeGrace bounds how long finalization waits for the backend's
	// final tier event before proceeding with whatever is committed.
	FinalizeGrace time.Duration

	// PingInterval is the participant keep-alive cadence on the broadcast
	// connection.
	PingInterval time.Duration

	MidTierPolicy transcript.MidTierPolicy
	Framer        audio.FramerConfig
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeSolo,
		Role:          RoleNone,
		FinalizeGrace: 30 * time.Second,
		PingInterval:  30 * time.Second,
		MidTierPolicy: transcript.MidAppend,
		Framer:        audio.DefaultFramerConfig(),
	}
}

// Deps are the session's injected collaborators.
type Deps struct {
	Source    audio.CaptureSource // nil for participants
	Dialer    transport.Dialer
	Analysis  *analysis.Client
	Publisher *events.Publisher
}

// sessionEvent is the closed union of everything the event loop consumes.
// Socket callbacks, the framer, and timers only post events; every state
// mutation happens inside the loop's single transition function.
type sessionEvent interface{ isSessionEvent() }

type frameEvent struct{ frame audio.Frame }
type tierEvent struct{ ev transcript.Event }
type serverErrorEvent struct{ message string }
type transcriptionClosed struct{ err error }
type broadcastTierEvent struct{ tb wire.TierBroadcast }
type broadcastAnalysisEvent struct{ ac wire.AnalysisComplete }
type broadcastClosed struct{ err error }
type framerStopped struct{ err error }
type stopRequested struct{}
type resetRequested struct{}
type finalizeTimeout struct{}
type analysisDone struct {
	result *analysis.Result
	err    error
}

func (frameEvent) isSessionEvent()             {}
func (tierEvent) isSessionEvent()              {}
func (serverErrorEvent) isSessionEvent()       {}
func (transcriptionClosed) isSessionEvent()    {}
func (broadcastTierEvent) isSessionEvent()     {}
func (broadcastAnalysisEvent) isSessionEvent() {}
func (broadcastClosed) isSessionEvent()        {}
func (framerStopped) isSessionEvent()          {}
func (stopRequested) isSessionEvent()          {}
func (resetRequested) isSessionEvent()         {}
func (finalizeTimeout) isSessionEvent()        {}
func (analysisDone) isSessionEvent()           {}

// Controller drives one session through
// IDLE → RECORDING → FINALIZING → PROCESSING → ANALYSIS_READY, owning the
// framer, both socket connections, the reconciler, the recorded audio
// chunks, and the monotonic sequence counter. One controller per session;
// a reset session is not restartable, create a fresh one.
type Controller struct {
	id   string
	cfg  Config
	deps Deps

	lifecycle  *Lifecycle
	reconciler *transcript.Reconciler
	recorder   *audio.Recorder
	framer     *audio.Framer

	transcription *transport.Transcription
	broadcast     *transport.Broadcast
	collab        *relay.Relay

	events chan sessionEvent
	done   chan struct{}

	// seq is written only by the event loop; atomic so the status surface
	// can read it.
	seq atomic.Uint64

	// Loop-owned state. Touched only by the event loop goroutine.
	finalizeTimer   *time.Timer
	finalizeHandled bool
	captureReleased bool
	sessionEnded    bool
	startTime       time.Time

	mu      sync.RWMutex
	result  *analysis.Result
	lastErr error

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewController creates a session controller. The session starts in IDLE.
func NewController(cfg Config, deps Deps) *Controller {
	id := uuid.NewString()
	return &Controller{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		lifecycle:  NewLifecycle(),
		reconciler: transcript.NewReconciler(cfg.MidTierPolicy),
		recorder:   audio.NewRecorder(),
		events:     make(chan sessionEvent, 1024),
		done:       make(chan struct{}),
		log:        logging.WithMeeting(id, cfg.MeetingID),
		metrics:    metrics.DefaultMetrics,
	}
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// State returns the current meeting state.
func (c *Controller) State() MeetingState { return c.lifecycle.State() }

// Done is closed when the session loop has exited (after reset or context
// cancellation).
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the analysis result once the session is ANALYSIS_READY.
func (c *Controller) Result() *analysis.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

// Err returns the error that moved the session to ERROR, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Start acquires the capture device, opens the sockets for the session's
// role, and begins recording. On failure the session remains IDLE: a
// device that cannot be acquired or a backend that cannot be reached never
// produces a half-started session.
func (c *Controller) Start(ctx context.Context) error {
	if c.lifecycle.State() != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.lifecycle.State())
	}

	if c.cfg.Role == RoleParticipant {
		if err := c.openBroadcast(ctx, true); err != nil {
			return err
		}
	} else {
		if err := c.deps.Source.Start(ctx); err != nil {
			return fmt.Errorf("acquire capture device: %w", err)
		}

		c.transcription = transport.NewTranscription(
			transport.TranscriptionConfig{URL: c.cfg.TranscribeURL}, c.deps.Dialer)
		if err := c.transcription.Open(ctx, &transcriptionEvents{c}); err != nil {
			_ = c.deps.Source.Close()
			return err
		}

		if c.cfg.Mode == ModeCollaborative && c.cfg.Role == RoleHost {
			// A host that cannot reach the broadcast backend degrades to
			// solo behavior rather than failing the whole session.
			if err := c.openBroadcast(ctx, false); err != nil {
				c.log.Warn().Err(err).Msg("Broadcast unavailable, continuing solo")
			} else {
				c.collab = relay.New(c.broadcast)
			}
		}

		c.framer = audio.NewFramer(c.cfg.Framer, c.deps.Source, func(f audio.Frame) {
			c.post(frameEvent{frame: f})
		}, c.recorder)
	}

	if err := c.lifecycle.Transition(StateRecording); err != nil {
		return err
	}
	c.startTime = time.Now()
	c.metrics.RecordSessionStart()
	c.log.Info().
		Str("mode", c.cfg.Mode.String()).
		Str("role", c.cfg.Role.String()).
		Msg("Session recording started")

	go c.run(ctx)
	if c.framer != nil {
		go func() {
			c.post(framerStopped{err: c.framer.Run(ctx)})
		}()
	}
	return nil
}

// Stop requests finalization: the stop control message is sent, capture
// stops cooperatively, and the session waits for the final tier event.
func (c *Controller) Stop() {
	c.post(stopRequested{})
}

// Reset dismisses a finished or failed session, returning it to IDLE and
// ending the event loop.
func (c *Controller) Reset() {
	c.post(resetRequested{})
}

func (c *Controller) openBroadcast(ctx context.Context, keepAlive bool) error {
	cfg := transport.BroadcastConfig{URL: c.cfg.BroadcastURL}
	if keepAlive {
		cfg.PingInterval = c.cfg.PingInterval
	}
	c.broadcast = transport.NewBroadcast(cfg, c.deps.Dialer)
	return c.broadcast.Open(ctx, &broadcastEvents{c})
}

func (c *Controller) post(ev sessionEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// run is the session event loop: the only goroutine that mutates session
// state.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return

		case ev := <-c.events:
			switch e := ev.(type) {
			case frameEvent:
				c.handleFrame(e.frame)
			case tierEvent:
				c.handleTier(ctx, e.ev)
			case serverErrorEvent:
				c.log.Warn().Str("message", e.message).Msg("Backend reported transcription error")
			case transcriptionClosed:
				c.handleTranscriptionClosed(e.err)
			case broadcastTierEvent:
				c.handleBroadcastTier(e.tb)
			case broadcastAnalysisEvent:
				c.handleBroadcastAnalysis(e.ac)
			case broadcastClosed:
				c.handleBroadcastClosed(e.err)
			case framerStopped:
				c.handleFramerStopped(e.err)
			case stopRequested:
				c.handleStop()
			case finalizeTimeout:
				c.handleFinalizeTimeout(ctx)
			case analysisDone:
				c.handleAnalysisDone(e.result, e.err)
			case resetRequested:
				c.handleReset()
				return
			}
		}
	}
}

func (c *Controller) handleFrame(f audio.Frame) {
	if c.lifecycle.State() != StateRecording {
		return
	}
	c.metrics.RecordFrameCaptured(f.IsSpeaking)
	if err := c.transcription.SendFrame(f.PCM); err != nil {
		c.fail(fmt.Errorf("send frame %d: %w", f.Seq, err))
	}
}

func (c *Controller) handleTier(ctx context.Context, ev transcript.Event) {
	state := c.lifecycle.State()
	if state != StateRecording && state != StateFinalizing {
		c.metrics.RecordTierEventIgnored()
		return
	}

	st, applied := c.reconciler.Apply(ev)
	if !applied {
		c.metrics.RecordTierEventIgnored()
		return
	}

	committed := ev.Tier == transcript.TierMid ||
		ev.Tier == transcript.TierFinal ||
		(ev.Tier == transcript.TierFast && ev.IsFinalForTier)

	var seq uint64
	if committed {
		seq = c.seq.Add(1)
		c.publishCommit(ctx, ev, seq)
	}

	if c.collab != nil {
		_ = c.collab.PublishTier(ev, seq)
	}

	c.log.Debug().
		Str("tier", ev.Tier.String()).
		Bool("committed", committed).
		Int("committedLen", len(st.Committed)).
		Msg("Tier event applied")

	if ev.Tier == transcript.TierFinal {
		c.finalize(ctx, "final")
	}
}

func (c *Controller) handleStop() {
	// Participants have nothing to finalize; they leave via Reset.
	if c.cfg.Role == RoleParticipant {
		return
	}
	if c.lifecycle.State() != StateRecording {
		return
	}
	if err := c.lifecycle.Transition(StateFinalizing); err != nil {
		return
	}

	c.log.Info().Msg("Stop requested, waiting for final transcript")

	if c.framer != nil {
		c.framer.Stop()
	}
	if c.transcription != nil {
		if err := c.transcription.SendStop(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to send stop message")
		}
	}

	c.finalizeTimer = time.AfterFunc(c.cfg.FinalizeGrace, func() {
		c.post(finalizeTimeout{})
	})
}

func (c *Controller) handleFinalizeTimeout(ctx context.Context) {
	if c.lifecycle.State() != StateFinalizing || c.finalizeHandled {
		return
	}
	c.log.Warn().
		Dur("grace", c.cfg.FinalizeGrace).
		Msg("No final transcript within grace window, finalizing with committed text")
	c.finalize(ctx, "timeout")
}

// finalize freezes the transcript and hands the recorded blob to analysis.
// Triggered by the final tier event or by the fallback timeout, whichever
// comes first; the second trigger is a no-op.
func (c *Controller) finalize(ctx context.Context, trigger string) {
	if c.finalizeHandled {
		return
	}
	c.finalizeHandled = true

	if c.finalizeTimer != nil {
		c.finalizeTimer.Stop()
	}
	c.metrics.RecordFinalization(trigger)

	// Socket teardown always precedes local resource release, so no late
	// socket callback can write into a torn-down capture graph.
	if c.transcription != nil {
		c.transcription.ForceClose()
	}
	c.releaseCapture()

	// The final event can overtake the user's stop near the boundary.
	if c.lifecycle.State() == StateRecording {
		_ = c.lifecycle.Transition(StateFinalizing)
	}
	if err := c.lifecycle.Transition(StateProcessing); err != nil {
		c.log.Warn().Err(err).Msg("Finalize transition rejected")
		return
	}

	st := c.reconciler.State()
	c.publishFinal(ctx, st.Committed, trigger)

	c.log.Info().
		Str("trigger", trigger).
		Int("transcriptLen", len(st.Committed)).
		Int64("recordedBytes", c.recorder.Len()).
		Msg("Session finalized, handing off to analysis")

	pcm := c.recorder.Handoff()
	c.metrics.RecordRecordedBytes(len(pcm))
	blob := audio.EncodeWAV(pcm, c.cfg.Framer.SampleRate)
	go func() {
		result, err := c.deps.Analysis.Analyze(ctx, analysis.Request{
			Audio:           blob,
			MimeType:        "audio/wav",
			IsCollaborative: c.cfg.Mode == ModeCollaborative,
			MeetingID:       c.cfg.MeetingID,
		})
		c.post(analysisDone{result: result, err: err})
	}()
}

func (c *Controller) handleAnalysisDone(result *analysis.Result, err error) {
	if c.lifecycle.State() != StateProcessing {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	if err := c.lifecycle.Transition(StateAnalysisReady); err != nil {
		c.log.Warn().Err(err).Msg("Analysis-ready transition rejected")
		return
	}
	c.endSession(false)
	c.log.Info().Msg("Analysis ready")

	if c.collab != nil {
		if err := c.collab.PublishAnalysisComplete(c.cfg.MeetingID, result.Raw()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to broadcast analysis completion")
		}
	}
}

func (c *Controller) handleTranscriptionClosed(err error) {
	if err == nil {
		return
	}
	state := c.lifecycle.State()
	if state == StateRecording || state == StateFinalizing {
		// The audio stream is unrecoverable mid-capture; no reconnect.
		c.fail(err)
	}
}

func (c *Controller) handleBroadcastClosed(err error) {
	if err == nil {
		return
	}
	// Losing the broadcast connection degrades to solo-like behavior;
	// the recording itself is unaffected.
	c.log.Warn().Err(err).Msg("Broadcast connection lost, degrading to solo behavior")
	c.collab = nil
}

func (c *Controller) handleFramerStopped(err error) {
	if err == nil {
		return
	}
	if c.lifecycle.State() == StateRecording {
		c.fail(err)
	}
}

// handleBroadcastTier applies a relayed host event with the exact same
// reconciliation rules the host used, so participant and host converge.
func (c *Controller) handleBroadcastTier(tb wire.TierBroadcast) {
	if c.cfg.Role != RoleParticipant {
		return
	}

	ev, ok := wire.TierEventFromBroadcast(tb)
	if !ok {
		c.log.Warn().Str("tier", tb.Tier).Msg("Dropping broadcast with unknown tier")
		return
	}

	if _, applied := c.reconciler.Apply(ev); !applied {
		c.metrics.RecordTierEventIgnored()
		return
	}
	if tb.Sequence > c.seq.Load() {
		c.seq.Store(tb.Sequence)
	}

	if ev.Tier == transcript.TierFinal {
		// Mirror the host's lifecycle: transcript frozen, waiting for the
		// analysis announcement.
		_ = c.lifecycle.Transition(StateFinalizing)
		_ = c.lifecycle.Transition(StateProcessing)
	}
}

func (c *Controller) handleBroadcastAnalysis(ac wire.AnalysisComplete) {
	if c.cfg.Role != RoleParticipant {
		return
	}

	result, err := analysis.FromRaw(ac.Analysis)
	if err != nil {
		c.log.Warn().Err(err).Msg("Dropping malformed analysis broadcast")
		return
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	// A participant that joined after finalization jumps straight ahead.
	if c.lifecycle.State() == StateRecording {
		_ = c.lifecycle.Transition(StateFinalizing)
		_ = c.lifecycle.Transition(StateProcessing)
	}
	if err := c.lifecycle.Transition(StateAnalysisReady); err != nil {
		return
	}
	c.endSession(false)
	c.log.Info().Msg("Host analysis received")
}

func (c *Controller) handleReset() {
	state := c.lifecycle.State()
	if !state.IsTerminal() {
		c.log.Warn().Str("state", state.String()).Msg("Reset before terminal state, aborting session")
		c.lifecycle.Fail()
		c.endSession(true)
	}
	c.teardown()
	_ = c.lifecycle.Reset()
	c.log.Info().Msg("Session reset")
}

// fail moves the session to ERROR and tears everything down, sockets first.
func (c *Controller) fail(err error) {
	if c.lifecycle.State() == StateError {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.log.Error().Err(err).Str("state", c.lifecycle.State().String()).Msg("Session failed")
	c.lifecycle.Fail()
	c.teardown()
	c.endSession(true)
}

func (c *Controller) teardown() {
	if c.finalizeTimer != nil {
		c.finalizeTimer.Stop()
	}
	if c.transcription != nil {
		c.transcription.ForceClose()
	}
	if c.broadcast != nil {
		c.broadcast.Close()
	}
	c.releaseCapture()
}

// releaseCapture stops the framer and closes the capture device exactly
// once, always after socket teardown.
func (c *Controller) releaseCapture() {
	if c.captureReleased {
		return
	}
	c.captureReleased = true
	if c.framer != nil {
		c.framer.Stop()
	}
	if c.deps.Source != nil {
		_ = c.deps.Source.Close()
	}
}

func (c *Controller) endSession(failed bool) {
	if c.sessionEnded {
		return
	}
	c.sessionEnded = true
	c.metrics.RecordSessionEnd(failed, time.Since(c.startTime).Seconds())
}

func (c *Controller) publishCommit(ctx context.Context, ev transcript.Event, seq uint64) {
	if c.deps.Publisher == nil {
		return
	}
	commit := models.TranscriptCommit{
		EventType: "session.transcript.commit",
		SessionID: c.id,
		MeetingID: c.cfg.MeetingID,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  seq,
		Tier:      ev.Tier.String(),
		Text:      ev.Text,
	}
	if err := c.deps.Publisher.PublishCommit(ctx, c.id, commit); err != nil {
		c.log.Warn().Err(err).Uint64("sequence", seq).Msg("Failed to publish commit event")
	}
}

func (c *Controller) publishFinal(ctx context.Context, text, trigger string) {
	if c.deps.Publisher == nil {
		return
	}
	final := models.TranscriptFinal{
		EventType: "session.transcript.final",
		SessionID: c.id,
		MeetingID: c.cfg.MeetingID,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  c.seq.Load(),
		Text:      text,
		Trigger:   trigger,
	}
	if err := c.deps.Publisher.PublishFinal(ctx, c.id, final); err != nil {
		c.log.Warn().Err(err).Msg("Failed to publish final event")
	}
}

// Snapshot is a read-only view of the session for the status surface.
type Snapshot struct {
	SessionID     string `json:"sessionId"`
	MeetingID     string `json:"meetingId,omitempty"`
	Mode          string `json:"mode"`
	Role          string `json:"role"`
	State         string `json:"state"`
	Committed     string `json:"committedText"`
	Interim       string `json:"interimText"`
	ActiveTier    string `json:"activeTier"`
	Sequence      uint64 `json:"sequence"`
	RecordedBytes int64  `json:"recordedBytes"`
	Error         string `json:"error,omitempty"`
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	st := c.reconciler.State()

	c.mu.RLock()
	lastErr := c.lastErr
	c.mu.RUnlock()

	snap := Snapshot{
		SessionID:     c.id,
		MeetingID:     c.cfg.MeetingID,
		Mode:          c.cfg.Mode.String(),
		Role:          c.cfg.Role.String(),
		State:         c.lifecycle.State().String(),
		Committed:     st.Committed,
		Interim:       st.Interim,
		ActiveTier:    st.ActiveTier.String(),
		Sequence:      c.seq.Load(),
		RecordedBytes: c.recorder.Len(),
	}
	if lastErr != nil {
		snap.Error = lastErr.Error()
	}
	return snap
}

// transcriptionEvents adapts transport callbacks into session events.
type transcriptionEvents struct{ c *Controller }

func (t *transcriptionEvents) OnTierEvent(ev transcript.Event) { t.c.post(tierEvent{ev: ev}) }
func (t *transcriptionEvents) OnServerError(msg string)        { t.c.post(serverErrorEvent{message: msg}) }
func (t *transcriptionEvents) OnClosed(err error)              { t.c.post(transcriptionClosed{err: err}) }

// broadcastEvents adapts broadcast callbacks into session events.
type broadcastEvents struct{ c *Controller }

func (b *broadcastEvents) OnTierBroadcast(tb wire.TierBroadcast) {
	b.c.post(broadcastTierEvent{tb: tb})
}
func (b *broadcastEvents) OnAnalysisComplete(ac wire.AnalysisComplete) {
	b.c.post(broadcastAnalysisEvent{ac: ac})
}
func (b *broadcastEvents) OnClosed(err error) { b.c.post(broadcastClosed{err: err}) }
