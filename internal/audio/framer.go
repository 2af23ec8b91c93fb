package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// FramerConfig controls frame size and silence detection.
type FramerConfig struct {
	SampleRate       int     // capture rate in Hz
	FrameSamples     int     // samples per emitted frame
	SilenceThreshold float32 // peak amplitude above which a frame is speech
}

// DefaultFramerConfig returns the standard 100ms frame at 16 kHz.
func DefaultFramerConfig() FramerConfig {
	return FramerConfig{
		SampleRate:       16000,
		FrameSamples:     1600,
		SilenceThreshold: 0.01,
	}
}

// FrameDuration returns the wall-clock duration of one frame.
func (c FramerConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameSamples) * time.Second / time.Duration(c.SampleRate)
}

// Frame is one fixed-size window of signed 16-bit PCM, tagged with a
// speech/silence flag. Immutable once emitted; consumed exactly once.
type Frame struct {
	PCM        []int16
	IsSpeaking bool
	Seq        uint64
}

// FrameSink receives emitted frames in strict capture order.
type FrameSink func(Frame)

// Framer accumulates raw capture samples into fixed-size frames, converts
// them to PCM16, and computes the speech flag per window. Frames are never
// emitted short: a partial window at end of capture is discarded.
//
// A framer serves exactly one session; it is not restartable mid-session.
type Framer struct {
	cfg      FramerConfig
	source   CaptureSource
	sink     FrameSink
	recorder *Recorder

	active  atomic.Bool
	started atomic.Bool

	mu       sync.RWMutex
	emitted  uint64
	speaking bool
}

// NewFramer creates a framer over the given source. recorder may be nil when
// no playback recording is wanted.
func NewFramer(cfg FramerConfig, source CaptureSource, sink FrameSink, recorder *Recorder) *Framer {
	return &Framer{
		cfg:      cfg,
		source:   source,
		sink:     sink,
		recorder: recorder,
	}
}

// Run captures until the source is exhausted, the context is canceled, or
// Stop is called. The stop flag is checked before each buffer flush; the
// framer is never interrupted mid-window.
func (f *Framer) Run(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("framer already ran; create a new one per session")
	}
	f.active.Store(true)

	window := make([]float32, f.cfg.FrameSamples)
	filled := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := f.source.Read(window[filled:])
		filled += n

		if filled == f.cfg.FrameSamples {
			// Cooperative stop: intent is checked before the flush, never
			// mid-window.
			if !f.active.Load() {
				return nil
			}
			f.flush(window)
			filled = 0
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("capture read: %w", err)
		}
	}
}

// Stop signals the framer to stop before its next flush. Cooperative.
func (f *Framer) Stop() {
	f.active.Store(false)
}

// FramesEmitted returns the number of frames emitted so far.
func (f *Framer) FramesEmitted() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.emitted
}

// IsSpeaking reports the speech flag of the most recent frame.
func (f *Framer) IsSpeaking() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.speaking
}

func (f *Framer) flush(window []float32) {
	pcm := make([]int16, len(window))
	var peak float32
	for i, s := range window {
		// Clamp to [-1, 1] before scaling to the signed 16-bit range.
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if abs := absf(s); abs > peak {
			peak = abs
		}
		pcm[i] = int16(s * 32767)
	}
	speaking := peak > f.cfg.SilenceThreshold

	f.mu.Lock()
	seq := f.emitted
	f.emitted++
	f.speaking = speaking
	f.mu.Unlock()

	frame := Frame{PCM: pcm, IsSpeaking: speaking, Seq: seq}

	if f.recorder != nil {
		f.recorder.Append(pcmLittleEndian(pcm))
	}
	if f.sink != nil {
		f.sink(frame)
	}
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func pcmLittleEndian(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
