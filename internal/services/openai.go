package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const scoringModel = "gpt-5-mini" // best reasoning/cost tradeoff for batch scoring

type OpenAIScorer struct {
	client *openai.Client
}

var _ Scorer = (*OpenAIScorer)(nil)

func NewOpenAIScorer(apiKey string) *OpenAIScorer {
	return &OpenAIScorer{
		client: openai.NewClient(apiKey),
	}
}

type scoredBatch struct {
	Scores []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

// ScoreSegments asks the model for a 0..1 viral-potential score per segment
// using JSON mode. A malformed response or API error falls back to the
// heuristic scorer so analysis never fails on the scoring step alone.
func (s *OpenAIScorer) ScoreSegments(ctx context.Context, segments []SegmentCandidate) ([]float64, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: scoringModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: scoringSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScoringPrompt(segments),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		log.Printf("[Scorer] openai request failed, using heuristic scores: %v", err)
		return heuristicScores(segments), nil
	}

	if len(resp.Choices) == 0 {
		log.Printf("[Scorer] empty openai response, using heuristic scores")
		return heuristicScores(segments), nil
	}

	rawContent := resp.Choices[0].Message.Content

	var batch scoredBatch
	if err := json.Unmarshal([]byte(rawContent), &batch); err != nil {
		log.Printf("[Scorer] parse failed: %v", err)
		const maxLogLen = 2000
		if len(rawContent) > maxLogLen {
			log.Printf("[Scorer] raw response (truncated): %s...", rawContent[:maxLogLen])
		} else {
			log.Printf("[Scorer] raw response: %s", rawContent)
		}
		return heuristicScores(segments), nil
	}

	scores := heuristicScores(segments) // fill gaps the model left out
	for _, s := range batch.Scores {
		if s.Index >= 0 && s.Index < len(scores) {
			scores[s.Index] = clampScore(s.Score)
		}
	}

	return scores, nil
}

const scoringSystemPrompt = `You score short-form video clip candidates for viral potential.
For each numbered segment transcript, return a score between 0 and 1 reflecting
emotional hook strength, curiosity gap, relatability, and shareability.
Respond with JSON: {"scores": [{"index": <int>, "score": <float>}, ...]}
with exactly one entry per input segment.`

func buildScoringPrompt(segments []SegmentCandidate) string {
	var b strings.Builder
	b.WriteString("Score the following segments:\n\n")
	for i, seg := range segments {
		fmt.Fprintf(&b, "[%d] (%.0fs-%.0fs) %s\n", i, seg.StartSeconds, seg.EndSeconds, seg.Text)
	}
	return b.String()
}

// viralTriggers boost the heuristic fallback score, mirroring the phrase list
// the scoring prompt is tuned around.
var viralTriggers = []string{
	"nobody talks about",
	"the secret",
	"what they don't want",
	"this will blow your mind",
	"you won't believe",
	"the truth about",
	"the mistake everyone makes",
	"this changed my life",
}

func heuristicScores(segments []SegmentCandidate) []float64 {
	scores := make([]float64, len(segments))
	for i, seg := range segments {
		score := 0.6
		text := strings.ToLower(seg.Text)
		for _, trigger := range viralTriggers {
			if strings.Contains(text, trigger) {
				score += 0.25
				break
			}
		}
		// Clips in the 15-90s sweet spot score better than outliers.
		duration := seg.EndSeconds - seg.StartSeconds
		if duration >= 15 && duration <= 90 {
			score += 0.05
		}
		scores[i] = clampScore(score)
	}
	return scores
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
