package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"meeting-relay/internal/transcript"
	"meeting-relay/internal/wire"
)

type fakeMsg struct {
	typ  int
	data []byte
}

// fakeConn is an in-memory Conn. Reads block until a message is delivered or
// the connection is broken; writes are recorded.
type fakeConn struct {
	mu         sync.Mutex
	writes     []fakeMsg
	closeCount int

	inbound chan fakeMsg
	broken  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeMsg, 16),
		broken:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.inbound:
		return m.typ, m.data, nil
	case <-c.broken:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, fakeMsg{typ: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.once.Do(func() { close(c.broken) })
	return nil
}

func (c *fakeConn) deliver(data []byte) {
	c.inbound <- fakeMsg{typ: websocket.TextMessage, data: data}
}

// breakRead fails the pending and all future reads without counting a close,
// simulating a peer drop.
func (c *fakeConn) breakRead() {
	c.once.Do(func() { close(c.broken) })
}

func (c *fakeConn) written() []fakeMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeMsg, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type transcriptionRecorder struct {
	tiers  chan transcript.Event
	errs   chan string
	closed chan error
}

func newTranscriptionRecorder() *transcriptionRecorder {
	return &transcriptionRecorder{
		tiers:  make(chan transcript.Event, 16),
		errs:   make(chan string, 16),
		closed: make(chan error, 1),
	}
}

func (r *transcriptionRecorder) OnTierEvent(ev transcript.Event) { r.tiers <- ev }
func (r *transcriptionRecorder) OnServerError(msg string)        { r.errs <- msg }
func (r *transcriptionRecorder) OnClosed(err error)              { r.closed <- err }

func waitTier(t *testing.T, r *transcriptionRecorder) transcript.Event {
	t.Helper()
	select {
	case ev := <-r.tiers:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tier event")
		return transcript.Event{}
	}
}

func waitClosed(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback")
		return nil
	}
}

func TestTranscription_DispatchesTierEvents(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{URL: "ws://test/transcribe"}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if tr.State() != StateOpen {
		t.Fatalf("expected open state, got %s", tr.State())
	}

	conn.deliver([]byte(`{"type":"deepgram_transcript","text":"partial","is_final":false}`))
	conn.deliver([]byte(`{"type":"large_result","text":"Full transcript."}`))

	ev := waitTier(t, rec)
	if ev.Tier != transcript.TierFast || ev.Text != "partial" || ev.IsFinalForTier {
		t.Errorf("unexpected fast event: %+v", ev)
	}
	ev = waitTier(t, rec)
	if ev.Tier != transcript.TierFinal || ev.Text != "Full transcript." {
		t.Errorf("unexpected final event: %+v", ev)
	}

	tr.ForceClose()
	waitClosed(t, rec.closed)
}

func TestTranscription_MalformedMessageIsDropped(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	conn.deliver([]byte(`{broken json`))
	conn.deliver([]byte(`{"type":"unknown_thing"}`))
	conn.deliver([]byte(`{"type":"medium_delta","text":"still alive"}`))

	ev := waitTier(t, rec)
	if ev.Tier != transcript.TierMid || ev.Text != "still alive" {
		t.Errorf("read loop did not survive malformed input: %+v", ev)
	}
	tr.ForceClose()
	waitClosed(t, rec.closed)
}

func TestTranscription_ServerError(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	conn.deliver([]byte(`{"type":"error","message":"backend overloaded"}`))

	select {
	case msg := <-rec.errs:
		if msg != "backend overloaded" {
			t.Errorf("unexpected error message: %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server error")
	}
	tr.ForceClose()
	waitClosed(t, rec.closed)
}

func TestTranscription_SendFrameWritesBinary(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})

	if err := tr.SendFrame([]int16{1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen before open, got %v", err)
	}

	rec := newTranscriptionRecorder()
	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pcm := []int16{0, 100, -100}
	if err := tr.SendFrame(pcm); err != nil {
		t.Fatalf("send frame failed: %v", err)
	}

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	if writes[0].typ != websocket.BinaryMessage {
		t.Errorf("expected binary message, got type %d", writes[0].typ)
	}
	if !bytes.Equal(writes[0].data, wire.EncodePCM16(pcm)) {
		t.Errorf("frame bytes mismatch: %v", writes[0].data)
	}
	tr.ForceClose()
	waitClosed(t, rec.closed)
}

func TestTranscription_StopThenCloseIsExpected(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := tr.SendStop(); err != nil {
		t.Fatalf("send stop failed: %v", err)
	}
	if tr.State() != StateClosing {
		t.Errorf("expected closing state after stop, got %s", tr.State())
	}

	// Stop is sent at most once.
	if err := tr.SendStop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("expected exactly 1 stop write, got %d", len(writes))
	}
	if !bytes.Equal(writes[0].data, wire.EncodeStop()) {
		t.Errorf("unexpected stop payload: %s", writes[0].data)
	}

	// Frames are rejected once closing.
	if err := tr.SendFrame([]int16{1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen while closing, got %v", err)
	}

	conn.breakRead()
	if err := waitClosed(t, rec.closed); err != nil {
		t.Errorf("close after stop must be expected, got %v", err)
	}
}

func TestTranscription_UnexpectedCloseReportsError(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	conn.breakRead()
	err := waitClosed(t, rec.closed)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected wrapped ErrTransport, got %v", err)
	}
	if tr.State() != StateClosed {
		t.Errorf("expected closed state, got %s", tr.State())
	}
}

func TestTranscription_ForceCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{conn: conn})
	rec := newTranscriptionRecorder()

	if err := tr.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	tr.ForceClose()
	tr.ForceClose()
	tr.ForceClose()

	if conn.closes() != 1 {
		t.Errorf("expected exactly 1 close, got %d", conn.closes())
	}
	if err := waitClosed(t, rec.closed); err != nil {
		t.Errorf("forced close must be expected, got %v", err)
	}
}

func TestTranscription_DialFailure(t *testing.T) {
	tr := NewTranscription(TranscriptionConfig{}, &fakeDialer{err: errors.New("refused")})
	if err := tr.Open(context.Background(), newTranscriptionRecorder()); err == nil {
		t.Fatal("expected dial error")
	}
	if tr.State() != StateClosed {
		t.Errorf("expected closed state after dial failure, got %s", tr.State())
	}
}

type broadcastRecorder struct {
	tiers    chan wire.TierBroadcast
	analyses chan wire.AnalysisComplete
	closed   chan error
}

func newBroadcastRecorder() *broadcastRecorder {
	return &broadcastRecorder{
		tiers:    make(chan wire.TierBroadcast, 16),
		analyses: make(chan wire.AnalysisComplete, 16),
		closed:   make(chan error, 1),
	}
}

func (r *broadcastRecorder) OnTierBroadcast(tb wire.TierBroadcast)       { r.tiers <- tb }
func (r *broadcastRecorder) OnAnalysisComplete(ac wire.AnalysisComplete) { r.analyses <- ac }
func (r *broadcastRecorder) OnClosed(err error)                          { r.closed <- err }

func TestBroadcast_PublishTier(t *testing.T) {
	conn := newFakeConn()
	b := NewBroadcast(BroadcastConfig{URL: "ws://test/meeting"}, &fakeDialer{conn: conn})
	rec := newBroadcastRecorder()

	if err := b.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	tb := wire.TierBroadcast{Tier: "fast", Text: "hello", IsFinal: true, Sequence: 3}
	if err := b.PublishTier(tb); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	in, err := wire.DecodeBroadcast(writes[0].data)
	if err != nil {
		t.Fatalf("published envelope does not decode: %v", err)
	}
	if in.Kind != wire.KindTierBroadcast || in.Tier != tb {
		t.Errorf("round-trip mismatch: %+v", in)
	}

	b.Close()
	waitClosed(t, rec.closed)
}

func TestBroadcast_DispatchesInbound(t *testing.T) {
	conn := newFakeConn()
	b := NewBroadcast(BroadcastConfig{}, &fakeDialer{conn: conn})
	rec := newBroadcastRecorder()

	if err := b.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	conn.deliver([]byte(`{"type":"host_transcription","data":{"tier":"mid","text":"relayed"}}`))
	conn.deliver([]byte(`{"type":"analysis_complete","data":{"analysis":{"summary":"done"}}}`))
	conn.deliver([]byte(`{"type":"ping"}`))

	select {
	case tb := <-rec.tiers:
		if tb.Tier != "mid" || tb.Text != "relayed" {
			t.Errorf("unexpected tier broadcast: %+v", tb)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tier broadcast")
	}

	select {
	case ac := <-rec.analyses:
		if !bytes.Contains(ac.Analysis, []byte("done")) {
			t.Errorf("unexpected analysis payload: %s", ac.Analysis)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for analysis complete")
	}

	b.Close()
	waitClosed(t, rec.closed)
}

func TestBroadcast_KeepAlivePings(t *testing.T) {
	conn := newFakeConn()
	b := NewBroadcast(BroadcastConfig{PingInterval: 10 * time.Millisecond}, &fakeDialer{conn: conn})
	rec := newBroadcastRecorder()

	if err := b.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(conn.written()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	writes := conn.written()
	if len(writes) < 2 {
		t.Fatalf("expected at least 2 keep-alive pings, got %d", len(writes))
	}
	for _, w := range writes {
		if !bytes.Equal(w.data, wire.EncodePing()) {
			t.Errorf("unexpected keep-alive payload: %s", w.data)
		}
	}

	b.Close()
	waitClosed(t, rec.closed)
}

func TestBroadcast_CloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	b := NewBroadcast(BroadcastConfig{}, &fakeDialer{conn: conn})
	rec := newBroadcastRecorder()

	if err := b.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	b.Close()
	b.Close()

	if conn.closes() != 1 {
		t.Errorf("expected exactly 1 close, got %d", conn.closes())
	}
	if err := waitClosed(t, rec.closed); err != nil {
		t.Errorf("deliberate close must be expected, got %v", err)
	}
	if err := b.Publish(wire.TypePing, nil); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestBroadcast_UnexpectedCloseReportsError(t *testing.T) {
	conn := newFakeConn()
	b := NewBroadcast(BroadcastConfig{}, &fakeDialer{conn: conn})
	rec := newBroadcastRecorder()

	if err := b.Open(context.Background(), rec); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	conn.breakRead()
	if err := waitClosed(t, rec.closed); !errors.Is(err, ErrTransport) {
		t.Errorf("expected wrapped ErrTransport, got %v", err)
	}
}
