// Package analysis wraps the external analysis backend: transcription and
// diarization of the full recorded blob, followed by language-model analysis
// of the resulting transcript. The backend itself is a black box behind this
// HTTP contract.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"meeting-relay/internal/observability/logging"
	"meeting-relay/internal/observability/metrics"
)

// ErrAnalysisFailed - the backend rejected the analysis call or returned a
// malformed response. Terminal for PROCESSING; the user re-initiates.
var ErrAnalysisFailed = errors.New("analysis failed")

// Config holds analysis client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Sentiment is the overall sentiment block of an analysis result.
type Sentiment struct {
	Overall string  `json:"overall"`
	Score   float64 `json:"score"`
}

// Emotion is one entry of the per-speaker emotion analysis.
type Emotion struct {
	Speaker string `json:"speaker"`
	Emotion string `json:"emotion"`
}

// Result is the structured analysis object returned by the backend.
type Result struct {
	Summary         string    `json:"summary"`
	Sentiment       Sentiment `json:"sentiment"`
	EmotionAnalysis []Emotion `json:"emotionAnalysis"`
	ActionItems     []string  `json:"actionItems"`
	KeyDecisions    []string  `json:"keyDecisions"`
	Transcript      string    `json:"transcript"`
	Speakers        []string  `json:"speakers"`
	SpectrogramURL  string    `json:"spectrogramUrl,omitempty"`
}

// Raw returns the result re-marshaled as JSON, for broadcast to participants.
func (r *Result) Raw() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// FromRaw decodes a broadcast analysis payload back into a Result.
func FromRaw(raw json.RawMessage) (*Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: decode broadcast analysis: %v", ErrAnalysisFailed, err)
	}
	return &r, nil
}

// Client calls the analysis backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewClient creates an analysis client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics.DefaultMetrics,
	}
}

// Request is the analysis handoff: the full recorded audio blob plus
// collaboration flags. The blob, not the live transcript, is authoritative
// because it carries the diarization-relevant signal.
type Request struct {
	Audio           []byte
	MimeType        string
	IsCollaborative bool
	MeetingID       string
}

type transcribeRequest struct {
	AudioBase64     string `json:"audio_base64"`
	MimeType        string `json:"mime_type"`
	IsCollaborative bool   `json:"is_collaborative,omitempty"`
	MeetingID       string `json:"meeting_id,omitempty"`
}

type transcribeResponse struct {
	Success    bool     `json:"success"`
	Transcript string   `json:"transcript"`
	Speakers   []string `json:"speakers"`
	Detail     string   `json:"detail,omitempty"`
}

type analyzeRequest struct {
	Transcript string `json:"transcript"`
}

type analyzeResponse struct {
	Success  bool   `json:"success"`
	Analysis Result `json:"analysis"`
	Detail   string `json:"detail,omitempty"`
}

// Analyze runs the two-step handoff: transcribe+diarize the recorded blob,
// then analyze the diarized transcript. Returns ErrAnalysisFailed (wrapped)
// on any backend rejection.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result, err := c.analyze(ctx, req)
	c.metrics.RecordAnalysis(err, time.Since(start).Seconds())
	return result, err
}

func (c *Client) analyze(ctx context.Context, req Request) (*Result, error) {
	log := logging.WithComponent("analysis")

	var tResp transcribeResponse
	tReq := transcribeRequest{
		AudioBase64:     base64.StdEncoding.EncodeToString(req.Audio),
		MimeType:        req.MimeType,
		IsCollaborative: req.IsCollaborative,
		MeetingID:       req.MeetingID,
	}
	if err := c.post(ctx, "/api/transcribe", tReq, &tResp); err != nil {
		return nil, err
	}
	if !tResp.Success {
		return nil, fmt.Errorf("%w: transcribe rejected: %s", ErrAnalysisFailed, tResp.Detail)
	}

	log.Debug().
		Int("transcriptLen", len(tResp.Transcript)).
		Int("speakers", len(tResp.Speakers)).
		Msg("Diarized transcript received")

	var aResp analyzeResponse
	if err := c.post(ctx, "/api/analyze", analyzeRequest{Transcript: tResp.Transcript}, &aResp); err != nil {
		return nil, err
	}
	if !aResp.Success {
		return nil, fmt.Errorf("%w: analyze rejected: %s", ErrAnalysisFailed, aResp.Detail)
	}

	result := aResp.Analysis
	result.Transcript = tResp.Transcript
	result.Speakers = tResp.Speakers
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", ErrAnalysisFailed, path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", ErrAnalysisFailed, path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrAnalysisFailed, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrAnalysisFailed, path, err)
	}
	return nil
}
