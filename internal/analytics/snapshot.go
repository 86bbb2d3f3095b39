package analytics

import (
	"sort"
	"time"
)

// Snapshot is the structured metrics bundle handed to the executive summary
// generator. It is the only thing the generator ever sees; raw transcripts
// never cross this boundary.
type Snapshot struct {
	TimeWindow            string         `json:"time_window"`
	TotalCalls            int            `json:"total_calls"`
	OverallNegativeRate   float64        `json:"overall_negative_rate"`
	OverallResolutionRate float64        `json:"overall_resolution_rate"`
	TopTopics             []TopicVolume  `json:"top_topics"`
	FastestGrowing        *GrowthTopic   `json:"fastest_growing_topic,omitempty"`
	MostNegative          *NegativeTopic `json:"most_negative_topic,omitempty"`
	HighestRisk           []RiskTopic    `json:"highest_risk_topics"`
}

// TopicVolume is a current-window topic with its volume and quality rates.
type TopicVolume struct {
	Topic          string  `json:"topic"`
	Count          int     `json:"count"`
	NegativeRate   float64 `json:"negative_rate"`
	ResolutionRate float64 `json:"resolution_rate"`
}

// GrowthTopic is the fastest-growing topic week over week.
type GrowthTopic struct {
	Topic     string  `json:"topic"`
	PctChange float64 `json:"pct_change"`
}

// NegativeTopic is the topic with the highest negative-sentiment rate.
type NegativeTopic struct {
	Topic        string  `json:"topic"`
	NegativeRate float64 `json:"negative_rate"`
}

// RiskTopic is a topic whose escalation risk crossed the attention line.
type RiskTopic struct {
	Topic     string  `json:"topic"`
	RiskScore float64 `json:"risk_score"`
}

const snapshotRiskFloor = 0.6

// BuildSnapshot assembles the summary input from analysis records. The
// current window is the last 7 days; growth compares the two most recent
// ISO weeks.
func BuildSnapshot(records []Record, now time.Time) Snapshot {
	stats := aggregateByTopic(records)
	currentStart := now.Add(-7 * 24 * time.Hour)

	currentCounts := make(map[string]int)
	currentTotal := 0
	currentNegative := 0
	for _, r := range records {
		if r.CreatedAt.Before(currentStart) {
			continue
		}
		currentCounts[r.Topic]++
		currentTotal++
		if r.Sentiment == "negative" {
			currentNegative++
		}
	}

	snap := Snapshot{
		TimeWindow:  "Last 7 days vs previous 7 days",
		TotalCalls:  currentTotal,
		HighestRisk: []RiskTopic{},
		TopTopics:   []TopicVolume{},
	}
	if currentTotal > 0 {
		snap.OverallNegativeRate = round2(float64(currentNegative) / float64(currentTotal))
	}

	totalAll := 0
	resolvedAll := 0
	for _, s := range stats {
		totalAll += s.total
		resolvedAll += s.resolved
	}
	if totalAll > 0 {
		snap.OverallResolutionRate = round2(float64(resolvedAll) / float64(totalAll))
	}

	// Top topics by current-window volume, enriched with all-time rates.
	type topicCount struct {
		topic string
		count int
	}
	ordered := make([]topicCount, 0, len(currentCounts))
	for topic, count := range currentCounts {
		ordered = append(ordered, topicCount{topic, count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].topic < ordered[j].topic
	})
	for i, tc := range ordered {
		if i >= 5 {
			break
		}
		tv := TopicVolume{Topic: tc.topic, Count: tc.count}
		if s := stats[tc.topic]; s != nil {
			tv.NegativeRate = round2(s.negativeRate())
			tv.ResolutionRate = round2(s.resolutionRate())
		}
		snap.TopTopics = append(snap.TopTopics, tv)
	}

	snap.FastestGrowing = fastestGrowingTopic(records, now)

	for topic, s := range stats {
		rate := s.negativeRate()
		if snap.MostNegative == nil || rate > snap.MostNegative.NegativeRate {
			snap.MostNegative = &NegativeTopic{Topic: topic, NegativeRate: round2(rate)}
		}
	}

	risks := Risk(records, now)
	for i, r := range risks {
		if i >= 3 || r.RiskScore < snapshotRiskFloor {
			break
		}
		snap.HighestRisk = append(snap.HighestRisk, RiskTopic{Topic: r.Topic, RiskScore: r.RiskScore})
	}

	return snap
}

// fastestGrowingTopic compares the two most recent ISO weeks within the
// last 14 days. Only topics with a non-zero previous week and positive
// growth qualify; returns nil when nothing grew.
func fastestGrowingTopic(records []Record, now time.Time) *GrowthTopic {
	windowStart := now.Add(-14 * 24 * time.Hour)

	byTopic := make(map[string]map[string]int)
	for _, r := range records {
		if r.CreatedAt.Before(windowStart) {
			continue
		}
		weeks := byTopic[r.Topic]
		if weeks == nil {
			weeks = make(map[string]int)
			byTopic[r.Topic] = weeks
		}
		weeks[isoWeekKey(r.CreatedAt)]++
	}

	var best *GrowthTopic
	bestPct := 0.0
	topics := make([]string, 0, len(byTopic))
	for topic := range byTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		weeks := byTopic[topic]
		keys := make([]string, 0, len(weeks))
		for k := range weeks {
			keys = append(keys, k)
		}
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		current := weeks[keys[len(keys)-1]]
		previous := weeks[keys[len(keys)-2]]
		if previous == 0 {
			continue
		}
		pct := float64(current-previous) / float64(previous)
		if pct > bestPct {
			bestPct = pct
			best = &GrowthTopic{Topic: topic, PctChange: round2(pct)}
		}
	}
	return best
}
