// Package analyze extracts structured insight records from call transcripts
// using an LLM, with strict schema validation and a safe default so that a
// misbehaving model can never fail a call or poison the analytics tables.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/metrics"
)

// ChatProvider produces a completion from a system and user prompt.
type ChatProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Analysis is the validated extraction for one call.
type Analysis struct {
	Sentiment       string  `json:"sentiment"`
	Topic           string  `json:"topic"`
	ProblemResolved bool    `json:"problem_resolved"`
	Summary         string  `json:"summary"`
	Confidence      float32 `json:"confidence"`
}

const (
	// One initial attempt plus two validation retries.
	maxAttempts = 3

	maxSummaryLen = 240

	defaultSummary = "Automated analysis unavailable for this call; transcript requires manual review."
)

var (
	validSentiments = map[string]bool{"positive": true, "neutral": true, "negative": true}
	validTopics     = map[string]bool{"billing_issue": true, "tech_support": true, "cancellation": true, "shipping": true, "other": true}
)

const systemPrompt = `You analyze customer support call transcripts. Respond with JSON only, no prose, matching exactly:
{
  "sentiment": "positive" | "neutral" | "negative",
  "topic": "billing_issue" | "tech_support" | "cancellation" | "shipping" | "other",
  "problem_resolved": true | false,
  "summary": "<one or two sentences, at most 240 characters>",
  "confidence": <number between 0.0 and 1.0>
}`

// Analyzer runs the extraction loop against a chat provider.
type Analyzer struct {
	chat ChatProvider
	log  zerolog.Logger
}

func NewAnalyzer(chat ChatProvider, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		chat: chat,
		log:  log.With().Str("component", "analyze").Logger(),
	}
}

// SafeDefault is the record persisted when the model cannot produce a valid
// analysis. It reads as explicitly unknown rather than as a real signal.
func SafeDefault() Analysis {
	return Analysis{
		Sentiment:       "neutral",
		Topic:           "other",
		ProblemResolved: false,
		Summary:         defaultSummary,
		Confidence:      0.0,
	}
}

// Analyze extracts a validated Analysis from a transcript. Invalid or
// unparseable model output earns up to two retries with the same prompt;
// after the third failure the safe default is returned. Analyze never
// returns an error: a call with a transcript always completes.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) Analysis {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := a.chat.Complete(ctx, systemPrompt, transcript)
		if err != nil {
			a.log.Warn().Err(err).Int("attempt", attempt).Msg("analysis request failed")
			continue
		}

		result, err := parseAnalysis(raw)
		if err != nil {
			a.log.Warn().Err(err).Int("attempt", attempt).Msg("analysis response invalid")
			continue
		}
		return result
	}

	a.log.Error().Int("attempts", maxAttempts).Msg("analysis exhausted retries, using safe default")
	metrics.AnalysisSafeDefaultsTotal.Inc()
	return SafeDefault()
}

// parseAnalysis extracts the JSON object from the model output and
// validates it against the schema. Anything off-schema is rejected whole;
// no field-level repair.
func parseAnalysis(raw string) (Analysis, error) {
	var result Analysis
	if err := json.Unmarshal([]byte(ExtractJSONObject(raw)), &result); err != nil {
		return Analysis{}, fmt.Errorf("parse: %w", err)
	}

	if !validSentiments[result.Sentiment] {
		return Analysis{}, fmt.Errorf("invalid sentiment %q", result.Sentiment)
	}
	if !validTopics[result.Topic] {
		return Analysis{}, fmt.Errorf("invalid topic %q", result.Topic)
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return Analysis{}, fmt.Errorf("empty summary")
	}
	if n := utf8.RuneCountInString(result.Summary); n > maxSummaryLen {
		return Analysis{}, fmt.Errorf("summary too long (%d chars)", n)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return Analysis{}, fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	return result, nil
}

// ExtractJSONObject strips markdown fences and surrounding prose, returning
// the first top-level {...} span. Models wrap JSON despite instructions
// often enough that every response goes through this before unmarshal.
func ExtractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return raw
}
