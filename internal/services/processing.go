package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Processing Service client
// Talks to the Python processing sidecar that owns the heavy lifting:
// Whisper transcription, segmentation, ffmpeg extraction, caption generation,
// and final rendering. Viral scoring goes through the Scorer (OpenAI).
// ---------------------------------------------------------------------------

type ProcessingService struct {
	baseURL string
	scorer  Scorer
	client  *http.Client
}

var (
	_ Analyzer = (*ProcessingService)(nil)
	_ Renderer = (*ProcessingService)(nil)
)

// Scorer assigns a 0..1 viral score to each candidate segment.
type Scorer interface {
	ScoreSegments(ctx context.Context, segments []SegmentCandidate) ([]float64, error)
}

// SegmentCandidate is an unscored segment as returned by the segmentation
// endpoint.
type SegmentCandidate struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

func NewProcessingService(baseURL string, scorer Scorer) *ProcessingService {
	return &ProcessingService{
		baseURL: baseURL,
		scorer:  scorer,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Sidecar request/response shapes

type transcribeRequest struct {
	VideoPath string `json:"videoPath"`
	UploadID  string `json:"uploadId"`
}

type transcriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type transcribeResponse struct {
	ID       string              `json:"id"`
	Language string              `json:"language"`
	Segments []transcriptSegment `json:"segments"`
	Duration float64             `json:"duration"`
}

type segmentRequest struct {
	TranscriptResult transcribeResponse `json:"transcriptResult"`
	UploadID         string             `json:"uploadId"`
}

type candidateSegment struct {
	ID     string  `json:"id"`
	StartS float64 `json:"startS"`
	EndS   float64 `json:"endS"`
	Text   string  `json:"text"`
}

type segmentResponse struct {
	Segments []candidateSegment `json:"segments"`
}

type extractRequest struct {
	StorageKey string  `json:"storageKey"`
	StartS     float64 `json:"startS"`
	EndS       float64 `json:"endS"`
}

type extractResponse struct {
	SegmentPath string `json:"segmentPath"`
}

type captionsRequest struct {
	SegmentData map[string]interface{} `json:"segmentData"`
	PresetData  map[string]interface{} `json:"presetData"`
	StartS      float64                `json:"startS"`
	EndS        float64                `json:"endS"`
}

type captionsResponse struct {
	CaptionsPath string `json:"captionsPath"`
}

type renderRequest struct {
	VideoPath    string                 `json:"videoPath"`
	CaptionsPath string                 `json:"captionsPath"`
	PresetData   map[string]interface{} `json:"presetData"`
}

type renderResponse struct {
	RenderedPath    string  `json:"renderedPath"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// TranscribeAndScore runs the analysis pipeline: transcription, candidate
// segmentation, then viral scoring. Progress milestones: 10 when the
// transcription request is accepted, 40 when the transcript is back, 80 when
// scoring finishes. The caller owns 100.
func (s *ProcessingService) TranscribeAndScore(ctx context.Context, sourceRef string, progress ProgressFunc) ([]ScoredSegment, error) {
	progress(10)

	var transcript transcribeResponse
	if err := s.post(ctx, "/transcribe", transcribeRequest{VideoPath: sourceRef, UploadID: sourceRef}, &transcript); err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	progress(40)

	var segmented segmentResponse
	if err := s.post(ctx, "/segment", segmentRequest{TranscriptResult: transcript, UploadID: sourceRef}, &segmented); err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}

	candidates := make([]SegmentCandidate, len(segmented.Segments))
	for i, seg := range segmented.Segments {
		candidates[i] = SegmentCandidate{
			StartSeconds: seg.StartS,
			EndSeconds:   seg.EndS,
			Text:         seg.Text,
		}
	}

	scores, err := s.scorer.ScoreSegments(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("scorer returned %d scores for %d segments", len(scores), len(candidates))
	}

	progress(80)

	out := make([]ScoredSegment, len(candidates))
	for i, c := range candidates {
		out[i] = ScoredSegment{
			StartSeconds:      c.StartSeconds,
			EndSeconds:        c.EndSeconds,
			Score:             scores[i],
			TranscriptExcerpt: c.Text,
		}
	}

	log.Printf("[Processing] analyzed %s: %d segments", sourceRef, len(out))
	return out, nil
}

// RenderClip extracts the segment and generates its captions concurrently
// (they only depend on the source), then renders the final clip.
func (s *ProcessingService) RenderClip(ctx context.Context, sourceRef string, startSeconds, endSeconds float64, preset string, progress ProgressFunc) (*RenderedClip, error) {
	progress(10)

	presetData := map[string]interface{}{"name": preset}

	var (
		extracted extractResponse
		captions  captionsResponse
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		req := extractRequest{StorageKey: sourceRef, StartS: startSeconds, EndS: endSeconds}
		if err := s.post(gctx, "/extract-segment", req, &extracted); err != nil {
			return fmt.Errorf("segment extraction failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		req := captionsRequest{
			SegmentData: map[string]interface{}{"storageKey": sourceRef},
			PresetData:  presetData,
			StartS:      startSeconds,
			EndS:        endSeconds,
		}
		if err := s.post(gctx, "/generate-captions", req, &captions); err != nil {
			return fmt.Errorf("caption generation failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress(60)

	var rendered renderResponse
	req := renderRequest{
		VideoPath:    extracted.SegmentPath,
		CaptionsPath: captions.CaptionsPath,
		PresetData:   presetData,
	}
	if err := s.post(ctx, "/render-video", req, &rendered); err != nil {
		return nil, fmt.Errorf("render failed: %w", err)
	}

	progress(90)

	duration := rendered.DurationSeconds
	if duration == 0 {
		duration = endSeconds - startSeconds
	}

	return &RenderedClip{
		StorageKey:      rendered.RenderedPath,
		DurationSeconds: duration,
	}, nil
}

// post sends one JSON request to the sidecar. 4xx responses are permanent
// (wrapped in ErrRejected); 5xx and transport errors stay retryable.
func (s *ProcessingService) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("processing service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s returned %d: %s", ErrRejected, path, resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}

	return nil
}
