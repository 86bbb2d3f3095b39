package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/analyze"
)

// ChatClient produces a completion from a system and user prompt.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Summarizer turns a metrics snapshot into a short executive narrative.
// The model only ever sees the snapshot JSON, so every claim in the output
// is traceable to a computed metric. When the model is unavailable or
// returns garbage, a deterministic template takes over.
type Summarizer struct {
	chat ChatClient
	log  zerolog.Logger
}

func NewSummarizer(chat ChatClient, log zerolog.Logger) *Summarizer {
	return &Summarizer{
		chat: chat,
		log:  log.With().Str("component", "summarizer").Logger(),
	}
}

// Summary is the executive summary response body.
type Summary struct {
	Summary     string   `json:"summary"`
	Source      string   `json:"source"` // "llm" or "template"
	GeneratedAt string   `json:"generated_at"`
	Metrics     Snapshot `json:"metrics"`
}

const summarySystemPrompt = `You write executive summaries for a customer support operations team.
You are given a JSON object of computed metrics. Write a 3-5 sentence plain-text
summary for a busy executive. Only state facts present in the metrics. Do not
invent numbers, trends, or topics that are not in the input. Respond with JSON
only: {"summary": "..."}`

// SummaryCacheKey identifies a summary generation: it changes when the ISO
// week rolls over or when a new call completes, and at no other time.
func SummaryCacheKey(now time.Time, latestDone *time.Time) string {
	latest := int64(0)
	if latestDone != nil {
		latest = latestDone.Unix()
	}
	return fmt.Sprintf("exec-summary:%s:%d", isoWeekKey(now), latest)
}

// Summarize builds the narrative for a snapshot. It never fails: any model
// error or malformed response falls back to the deterministic template.
func (s *Summarizer) Summarize(ctx context.Context, snap Snapshot) Summary {
	out := Summary{
		Source:      "template",
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Metrics:     snap,
	}

	if s.chat != nil {
		if text, err := s.generate(ctx, snap); err != nil {
			s.log.Warn().Err(err).Msg("summary generation failed, using template")
		} else {
			out.Summary = text
			out.Source = "llm"
			return out
		}
	}

	out.Summary = TemplateSummary(snap)
	return out
}

func (s *Summarizer) generate(ctx context.Context, snap Snapshot) (string, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}

	raw, err := s.chat.Complete(ctx, summarySystemPrompt, string(payload))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(analyze.ExtractJSONObject(raw)), &parsed); err != nil {
		return "", fmt.Errorf("parse summary response: %w", err)
	}
	text := strings.TrimSpace(parsed.Summary)
	if text == "" {
		return "", fmt.Errorf("empty summary in response")
	}
	return text, nil
}

// TemplateSummary renders the deterministic fallback narrative. Percentages
// are the snapshot's own values, truncated to whole percent.
func TemplateSummary(snap Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Support handled %d calls in the last 7 days.", snap.TotalCalls)
	fmt.Fprintf(&b, " Overall negative sentiment is %d%% and the resolution rate is %d%%.",
		int(snap.OverallNegativeRate*100), int(snap.OverallResolutionRate*100))

	if len(snap.TopTopics) > 0 {
		top := snap.TopTopics[0]
		fmt.Fprintf(&b, " The highest-volume topic is %s with %d calls.", top.Topic, top.Count)
	}
	if g := snap.FastestGrowing; g != nil {
		fmt.Fprintf(&b, " %s is growing fastest, up %d%% week over week.", g.Topic, int(g.PctChange*100))
	}
	if n := snap.MostNegative; n != nil && n.NegativeRate > 0 {
		fmt.Fprintf(&b, " %s has the highest negative-sentiment rate at %d%%.", n.Topic, int(n.NegativeRate*100))
	}
	if len(snap.HighestRisk) > 0 {
		names := make([]string, 0, len(snap.HighestRisk))
		for _, r := range snap.HighestRisk {
			names = append(names, r.Topic)
		}
		fmt.Fprintf(&b, " Elevated escalation risk: %s.", strings.Join(names, ", "))
	}

	return b.String()
}
