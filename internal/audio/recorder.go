package audio

import "sync"

// Recorder accumulates the raw recorded media as an ordered, append-only
// sequence of chunks. The session owns the recorder until handoff, at which
// point ownership of the chunks transfers to the analysis pipeline and the
// local buffer is cleared.
type Recorder struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds one chunk. Chunks are kept in arrival order.
func (r *Recorder) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	r.bytes += int64(len(chunk))
}

// Len returns the total recorded bytes.
func (r *Recorder) Len() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// ChunkCount returns the number of recorded chunks.
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Handoff concatenates all chunks into a single blob, clears the local
// buffer, and returns the blob. The caller takes ownership.
func (r *Recorder) Handoff() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob := make([]byte, 0, r.bytes)
	for _, c := range r.chunks {
		blob = append(blob, c...)
	}
	r.chunks = nil
	r.bytes = 0
	return blob
}
