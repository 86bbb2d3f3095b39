// Package analytics computes explainable support metrics from completed
// calls. Every computation here is a pure function over analysis records:
// no I/O, no mutation, reproducible from current persisted state.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Record is one completed call's analysis as seen by the engine.
type Record struct {
	Topic      string
	Sentiment  string
	Resolved   bool
	Confidence float32
	CreatedAt  time.Time
}

// TopicTrend is the weekly volume trend for one topic.
type TopicTrend struct {
	Topic               string    `json:"topic"`
	WeeklyCounts        []int     `json:"weekly_counts"`
	WeeklyNegativeRates []float64 `json:"weekly_negative_rates"`
	Trend               string    `json:"trend"` // "up", "down", "flat"
	PctChange           float64   `json:"pct_change"`
}

// ResolutionEffectiveness summarizes how well one topic's calls resolve.
type ResolutionEffectiveness struct {
	Topic          string  `json:"topic"`
	ResolutionRate float64 `json:"resolution_rate"`
	NegativeRate   float64 `json:"negative_rate"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// EscalationRisk is an additive, explainable risk score for one topic.
// The score is always reconstructable from the reported drivers.
type EscalationRisk struct {
	Topic     string   `json:"topic"`
	RiskScore float64  `json:"risk_score"`
	Drivers   []string `json:"drivers"`
}

const (
	trendUpThreshold   = 0.15
	trendDownThreshold = -0.15

	riskNegativeRateThreshold   = 0.60
	riskResolutionRateThreshold = 0.40
	riskGrowthThreshold         = 0.30

	riskNegativeWeight   = 0.4
	riskResolutionWeight = 0.3
	riskGrowthWeight     = 0.3
)

// isoWeekKey formats a timestamp as "2026-W34". Keys sort chronologically.
func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TopicTrends groups records into ISO weeks per topic and classifies the
// volume trend over the two most recent observed weeks. The percentage
// change divides by max(previous, 1), so a brand-new topic with a zero
// previous week still classifies using denominator 1. Fewer than two
// observed weeks yields "flat" with pct_change 0.
func TopicTrends(records []Record) []TopicTrend {
	type weekBucket struct {
		count    int
		negative int
	}
	byTopic := make(map[string]map[string]*weekBucket)

	for _, r := range records {
		weeks := byTopic[r.Topic]
		if weeks == nil {
			weeks = make(map[string]*weekBucket)
			byTopic[r.Topic] = weeks
		}
		key := isoWeekKey(r.CreatedAt)
		b := weeks[key]
		if b == nil {
			b = &weekBucket{}
			weeks[key] = b
		}
		b.count++
		if r.Sentiment == "negative" {
			b.negative++
		}
	}

	trends := make([]TopicTrend, 0, len(byTopic))
	for topic, weeks := range byTopic {
		keys := make([]string, 0, len(weeks))
		for k := range weeks {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		counts := make([]int, len(keys))
		negRates := make([]float64, len(keys))
		for i, k := range keys {
			b := weeks[k]
			counts[i] = b.count
			if b.count > 0 {
				negRates[i] = round2(float64(b.negative) / float64(b.count))
			}
		}

		trend := "flat"
		pctChange := 0.0
		if len(counts) >= 2 {
			current := counts[len(counts)-1]
			previous := counts[len(counts)-2]
			pctChange = float64(current-previous) / math.Max(float64(previous), 1)
			switch {
			case pctChange > trendUpThreshold:
				trend = "up"
			case pctChange < trendDownThreshold:
				trend = "down"
			}
		}

		trends = append(trends, TopicTrend{
			Topic:               topic,
			WeeklyCounts:        counts,
			WeeklyNegativeRates: negRates,
			Trend:               trend,
			PctChange:           round2(pctChange),
		})
	}

	sort.Slice(trends, func(i, j int) bool { return trends[i].Topic < trends[j].Topic })
	return trends
}

// topicStats is the per-topic aggregate shared by effectiveness, risk, and
// snapshot computations.
type topicStats struct {
	total         int
	resolved      int
	negative      int
	confidenceSum float64
}

func aggregateByTopic(records []Record) map[string]*topicStats {
	stats := make(map[string]*topicStats)
	for _, r := range records {
		s := stats[r.Topic]
		if s == nil {
			s = &topicStats{}
			stats[r.Topic] = s
		}
		s.total++
		if r.Resolved {
			s.resolved++
		}
		if r.Sentiment == "negative" {
			s.negative++
		}
		s.confidenceSum += float64(r.Confidence)
	}
	return stats
}

func (s *topicStats) resolutionRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.resolved) / float64(s.total)
}

func (s *topicStats) negativeRate() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.negative) / float64(s.total)
}

// Effectiveness computes per-topic resolution metrics. Topics with zero
// calls never appear; they are excluded, not zero-filled.
func Effectiveness(records []Record) []ResolutionEffectiveness {
	stats := aggregateByTopic(records)

	out := make([]ResolutionEffectiveness, 0, len(stats))
	for topic, s := range stats {
		out = append(out, ResolutionEffectiveness{
			Topic:          topic,
			ResolutionRate: round2(s.resolutionRate()),
			NegativeRate:   round2(s.negativeRate()),
			AvgConfidence:  round2(s.confidenceSum / float64(s.total)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// weeklyGrowth computes per-topic week-over-week growth using rolling 7-day
// windows ending at now. Growth is (current-last)/last, zero when the
// previous window is empty.
func weeklyGrowth(records []Record, now time.Time) map[string]float64 {
	currentStart := now.Add(-7 * 24 * time.Hour)
	lastStart := currentStart.Add(-7 * 24 * time.Hour)

	current := make(map[string]int)
	last := make(map[string]int)
	for _, r := range records {
		switch {
		case !r.CreatedAt.Before(currentStart):
			current[r.Topic]++
		case !r.CreatedAt.Before(lastStart):
			last[r.Topic]++
		}
	}

	growth := make(map[string]float64)
	for topic := range current {
		if l := last[topic]; l > 0 {
			growth[topic] = float64(current[topic]-l) / float64(l)
		}
	}
	return growth
}

// Risk scores each topic's escalation risk. Each driver is evaluated
// independently and reported with its literal measured value when it
// fires; the final score is the clamped sum of the reported weights.
func Risk(records []Record, now time.Time) []EscalationRisk {
	stats := aggregateByTopic(records)
	growth := weeklyGrowth(records, now)

	out := make([]EscalationRisk, 0, len(stats))
	for topic, s := range stats {
		negativeRate := s.negativeRate()
		resolutionRate := s.resolutionRate()
		weeklyGrowth := growth[topic]

		score := 0.0
		var drivers []string

		if negativeRate > riskNegativeRateThreshold {
			score += riskNegativeWeight
			drivers = append(drivers, fmt.Sprintf("Negative sentiment above 60%% (%d%%)", int(negativeRate*100)))
		}
		if resolutionRate < riskResolutionRateThreshold {
			score += riskResolutionWeight
			drivers = append(drivers, fmt.Sprintf("Resolution rate below 40%% (%d%%)", int(resolutionRate*100)))
		}
		if weeklyGrowth > riskGrowthThreshold {
			score += riskGrowthWeight
			drivers = append(drivers, fmt.Sprintf("Week-over-week growth above 30%% (%d%%)", int(weeklyGrowth*100)))
		}

		score = math.Min(score, 1.0)
		if drivers == nil {
			drivers = []string{"No significant risk factors detected"}
		}

		out = append(out, EscalationRisk{
			Topic:     topic,
			RiskScore: round2(score),
			Drivers:   drivers,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}
