package services

import (
	"context"
	"errors"
)

// ErrRejected marks a permanent collaborator rejection (bad source, invalid
// request). Jobs failing with it are not retried.
var ErrRejected = errors.New("rejected by processing service")

// ProgressFunc receives milestone percentages while a collaborator call is in
// flight. Implementations must tolerate being called from the worker
// goroutine at any time.
type ProgressFunc func(percent int)

// ScoredSegment is one candidate clip interval produced by analysis.
type ScoredSegment struct {
	StartSeconds      float64
	EndSeconds        float64
	Score             float64 // 0..1
	TranscriptExcerpt string
}

// RenderedClip is the finished artifact of one render call.
type RenderedClip struct {
	StorageKey      string
	DurationSeconds float64
}

// Analyzer transcribes, segments, and scores one source video.
type Analyzer interface {
	TranscribeAndScore(ctx context.Context, sourceRef string, progress ProgressFunc) ([]ScoredSegment, error)
}

// Renderer turns one scored segment into a finished clip.
type Renderer interface {
	RenderClip(ctx context.Context, sourceRef string, startSeconds, endSeconds float64, preset string, progress ProgressFunc) (*RenderedClip, error)
}
