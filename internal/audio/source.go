// Package audio provides audio capture, framing, and the raw recording
// buffer that is later handed off to analysis.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// Errors for capture and decode failures.
var (
	// ErrDeviceUnavailable - the capture device could not be acquired
	// (permission denied, missing hardware). Terminal for session start.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDecode - the audio container could not be decoded.
	ErrDecode = errors.New("audio decode failed")
)

// CaptureSource is a live audio input delivering mono float32 samples in
// [-1, 1] at a fixed rate. Implementations are expected to apply echo
// cancellation / noise suppression where the underlying device supports it.
type CaptureSource interface {
	// Start acquires the device. Returns ErrDeviceUnavailable (possibly
	// wrapped) when the device cannot be acquired.
	Start(ctx context.Context) error

	// Read fills buf with captured samples and returns the count.
	// Returns io.EOF when the source is exhausted or closed.
	Read(buf []float32) (int, error)

	// SampleRate returns the capture rate in Hz.
	SampleRate() int

	// Close releases the device. Idempotent.
	Close() error
}

// wavHeaderSize is the standard PCM WAV header length.
const wavHeaderSize = 44

// WAVSource reads a 16-bit PCM mono WAV file as a capture source.
// When Realtime is set, reads are paced to the file's sample rate to
// simulate a live device.
type WAVSource struct {
	path       string
	realtime   bool
	f          *os.File
	sampleRate int
	started    bool
	closed     bool
	lastRead   time.Time
}

// NewWAVSource creates a WAV-file capture source.
func NewWAVSource(path string, realtime bool) *WAVSource {
	return &WAVSource{path: path, realtime: realtime}
}

// Start opens and validates the WAV file.
func (w *WAVSource) Start(ctx context.Context) error {
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return fmt.Errorf("%w: short WAV header: %v", ErrDecode, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		f.Close()
		return fmt.Errorf("%w: not a WAV file", ErrDecode)
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 || bitsPerSample != 16 {
		f.Close()
		return fmt.Errorf("%w: only 16-bit PCM supported (format=%d bits=%d)",
			ErrDecode, audioFormat, bitsPerSample)
	}
	if numChannels != 1 {
		f.Close()
		return fmt.Errorf("%w: only mono supported (channels=%d)", ErrDecode, numChannels)
	}

	w.f = f
	w.sampleRate = int(sampleRate)
	w.started = true
	w.lastRead = time.Now()
	return nil
}

// Read fills buf from the file, converting int16 samples to float32.
func (w *WAVSource) Read(buf []float32) (int, error) {
	if !w.started || w.closed {
		return 0, io.EOF
	}

	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(w.f, raw)
	if n == 0 {
		return 0, io.EOF
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		buf[i] = float32(s) / 32768.0
	}

	if w.realtime {
		// Pace reads to wall-clock so the stream behaves like a live mic.
		elapsed := time.Since(w.lastRead)
		ideal := time.Duration(samples) * time.Second / time.Duration(w.sampleRate)
		if ideal > elapsed {
			time.Sleep(ideal - elapsed)
		}
		w.lastRead = time.Now()
	}

	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return samples, nil
	}
	return samples, err
}

// SampleRate returns the file's sample rate.
func (w *WAVSource) SampleRate() int {
	return w.sampleRate
}

// Close closes the underlying file. Idempotent.
func (w *WAVSource) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.f != nil {
		return w.f.Close()
	}
	return nil
}

// ToneSource synthesizes a sine tone, useful for demos and tests where no
// real capture device exists.
type ToneSource struct {
	sampleRate int
	freq       float64
	amplitude  float64
	realtime   bool
	limit      int // total samples to emit; 0 means unbounded
	emitted    int
	phase      float64
	closed     bool
	lastRead   time.Time
}

// NewToneSource creates a sine source at the given rate and frequency.
// limit bounds the total number of samples emitted (0 = unbounded).
func NewToneSource(sampleRate int, freq, amplitude float64, limit int, realtime bool) *ToneSource {
	return &ToneSource{
		sampleRate: sampleRate,
		freq:       freq,
		amplitude:  amplitude,
		limit:      limit,
		realtime:   realtime,
	}
}

// Start is a no-op for the synthetic source.
func (t *ToneSource) Start(ctx context.Context) error {
	t.lastRead = time.Now()
	return nil
}

// Read fills buf with the next tone samples.
func (t *ToneSource) Read(buf []float32) (int, error) {
	if t.closed {
		return 0, io.EOF
	}
	n := len(buf)
	if t.limit > 0 {
		remaining := t.limit - t.emitted
		if remaining <= 0 {
			return 0, io.EOF
		}
		if n > remaining {
			n = remaining
		}
	}

	step := 2 * math.Pi * t.freq / float64(t.sampleRate)
	for i := 0; i < n; i++ {
		buf[i] = float32(t.amplitude * math.Sin(t.phase))
		t.phase += step
	}
	t.emitted += n

	if t.realtime {
		elapsed := time.Since(t.lastRead)
		ideal := time.Duration(n) * time.Second / time.Duration(t.sampleRate)
		if ideal > elapsed {
			time.Sleep(ideal - elapsed)
		}
		t.lastRead = time.Now()
	}
	return n, nil
}

// SampleRate returns the configured rate.
func (t *ToneSource) SampleRate() int {
	return t.sampleRate
}

// Close stops the source. Idempotent.
func (t *ToneSource) Close() error {
	t.closed = true
	return nil
}
