package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/analytics"
	"github.com/snarg/echolens/internal/dedup"
)

type fakeAnalyticsStore struct {
	records      []analytics.Record
	latestDone   *time.Time
	statusCounts map[string]int
	queries      atomic.Int32
}

func (f *fakeAnalyticsStore) AnalysisRecords(ctx context.Context, since *time.Time) ([]analytics.Record, error) {
	f.queries.Add(1)
	if since == nil {
		return f.records, nil
	}
	var out []analytics.Record
	for _, r := range f.records {
		if !r.CreatedAt.Before(*since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAnalyticsStore) LatestDoneCallTime(ctx context.Context) (*time.Time, error) {
	return f.latestDone, nil
}

func (f *fakeAnalyticsStore) CallStatusCounts(ctx context.Context) (map[string]int, error) {
	if f.statusCounts == nil {
		return map[string]int{}, nil
	}
	return f.statusCounts, nil
}

func analyticsTestRouter(store *fakeAnalyticsStore) http.Handler {
	s := analytics.NewSummarizer(nil, zerolog.Nop())
	return NewAnalyticsRouter(store, s, dedup.New[analytics.Summary](time.Minute))
}

func TestTopicTrendsEndpoint(t *testing.T) {
	now := time.Now()
	store := &fakeAnalyticsStore{records: []analytics.Record{
		{Topic: "billing_issue", Sentiment: "negative", CreatedAt: now.Add(-8 * 24 * time.Hour)},
		{Topic: "billing_issue", Sentiment: "neutral", CreatedAt: now.Add(-24 * time.Hour)},
	}}

	req := httptest.NewRequest(http.MethodGet, "/topic_trends", nil)
	rec := httptest.NewRecorder()
	analyticsTestRouter(store).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Weeks  int                    `json:"weeks"`
		Trends []analytics.TopicTrend `json:"trends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Weeks != 8 {
		t.Errorf("weeks = %d, want default 8", resp.Weeks)
	}
	if len(resp.Trends) != 1 || resp.Trends[0].Topic != "billing_issue" {
		t.Errorf("trends = %+v", resp.Trends)
	}
}

func TestTopicTrendsRejectsBadWeeks(t *testing.T) {
	for _, weeks := range []string{"0", "53", "-1", "abc", "1.5"} {
		req := httptest.NewRequest(http.MethodGet, "/topic_trends?weeks="+weeks, nil)
		rec := httptest.NewRecorder()
		analyticsTestRouter(&fakeAnalyticsStore{}).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("weeks=%s: status = %d, want 400", weeks, rec.Code)
		}
	}
}

func TestCallStatisticsEndpoint(t *testing.T) {
	store := &fakeAnalyticsStore{statusCounts: map[string]int{
		"PENDING":    2,
		"PROCESSING": 1,
		"DONE":       5,
		"FAILED":     1,
	}}

	req := httptest.NewRequest(http.MethodGet, "/call_statistics", nil)
	rec := httptest.NewRecorder()
	analyticsTestRouter(store).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 9 {
		t.Errorf("total = %d, want 9", resp.Total)
	}
	if resp.ByStatus["DONE"] != 5 {
		t.Errorf("by_status[DONE] = %d, want 5", resp.ByStatus["DONE"])
	}
}

func TestEscalationRiskEndpoint(t *testing.T) {
	now := time.Now()
	store := &fakeAnalyticsStore{}
	for i := 0; i < 10; i++ {
		store.records = append(store.records, analytics.Record{
			Topic:     "cancellation",
			Sentiment: "negative",
			CreatedAt: now.Add(-time.Hour),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/escalation_risk", nil)
	rec := httptest.NewRecorder()
	analyticsTestRouter(store).ServeHTTP(rec, req)

	var resp struct {
		Risks []analytics.EscalationRisk `json:"risks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Risks) != 1 || resp.Risks[0].RiskScore != 0.7 {
		t.Errorf("risks = %+v, want cancellation at 0.7", resp.Risks)
	}
}

func TestExecutiveSummaryCached(t *testing.T) {
	done := time.Now().Add(-time.Hour)
	store := &fakeAnalyticsStore{latestDone: &done}
	router := analyticsTestRouter(store)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/executive_summary", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}

	// One records query for the first request; cache hits after.
	if got := store.queries.Load(); got != 1 {
		t.Errorf("records queried %d times, want 1", got)
	}
}

func TestExecutiveSummaryFallbackBody(t *testing.T) {
	now := time.Now()
	done := now.Add(-time.Hour)
	store := &fakeAnalyticsStore{latestDone: &done}
	for i := 0; i < 10; i++ {
		sentiment := "positive"
		if i < 4 {
			sentiment = "negative"
		}
		store.records = append(store.records, analytics.Record{
			Topic:     "shipping",
			Sentiment: sentiment,
			Resolved:  true,
			CreatedAt: now.Add(-time.Hour),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/executive_summary", nil)
	rec := httptest.NewRecorder()
	analyticsTestRouter(store).ServeHTTP(rec, req)

	var resp analytics.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "template" {
		t.Errorf("source = %q, want template without a chat client", resp.Source)
	}
	if resp.Metrics.TotalCalls != 10 {
		t.Errorf("metrics total_calls = %d, want 10", resp.Metrics.TotalCalls)
	}
	if resp.Summary == "" {
		t.Error("empty summary body")
	}
}
