package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/echolens/internal/analytics"
	"github.com/snarg/echolens/internal/dedup"
)

// AnalyticsStore is the database surface for analytics endpoints.
type AnalyticsStore interface {
	AnalysisRecords(ctx context.Context, since *time.Time) ([]analytics.Record, error)
	LatestDoneCallTime(ctx context.Context) (*time.Time, error)
	CallStatusCounts(ctx context.Context) (map[string]int, error)
}

// analyticsHandler computes metrics on demand from persisted analyses. The
// executive summary is the only cached response; everything else is cheap
// enough to recompute per request.
type analyticsHandler struct {
	db         AnalyticsStore
	summarizer *analytics.Summarizer
	cache      *dedup.Cache[analytics.Summary]
	now        func() time.Time
}

// NewAnalyticsRouter mounts the analytics endpoints on a fresh chi router.
func NewAnalyticsRouter(db AnalyticsStore, s *analytics.Summarizer, cache *dedup.Cache[analytics.Summary]) chi.Router {
	h := &analyticsHandler{db: db, summarizer: s, cache: cache, now: time.Now}

	r := chi.NewRouter()
	r.Get("/call_statistics", h.callStatistics)
	r.Get("/topic_trends", h.topicTrends)
	r.Get("/resolution_effectiveness", h.effectiveness)
	r.Get("/escalation_risk", h.risk)
	r.Get("/executive_summary", h.executiveSummary)
	return r
}

// callStatistics reports call counts by lifecycle status, the dashboard's
// cheapest view of pipeline health.
func (h *analyticsHandler) callStatistics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.CallStatusCounts(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("call statistics query failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": counts,
	})
}

const defaultTrendWeeks = 8

func (h *analyticsHandler) records(w http.ResponseWriter, r *http.Request, since *time.Time) ([]analytics.Record, bool) {
	records, err := h.db.AnalysisRecords(r.Context(), since)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("analysis records query failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	return records, true
}

func (h *analyticsHandler) topicTrends(w http.ResponseWriter, r *http.Request) {
	weeks := defaultTrendWeeks
	if v, ok := QueryString(r, "weeks"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 52 {
			WriteError(w, http.StatusBadRequest, "weeks must be an integer between 1 and 52")
			return
		}
		weeks = n
	}

	since := h.now().AddDate(0, 0, -7*weeks)
	records, ok := h.records(w, r, &since)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"weeks":  weeks,
		"trends": analytics.TopicTrends(records),
	})
}

func (h *analyticsHandler) effectiveness(w http.ResponseWriter, r *http.Request) {
	records, ok := h.records(w, r, nil)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"topics": analytics.Effectiveness(records),
	})
}

func (h *analyticsHandler) risk(w http.ResponseWriter, r *http.Request) {
	records, ok := h.records(w, r, nil)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"risks": analytics.Risk(records, h.now()),
	})
}

// executiveSummary is cached per (ISO week, latest completed call): new
// data or a week rollover invalidates, nothing else does.
func (h *analyticsHandler) executiveSummary(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	latest, err := h.db.LatestDoneCallTime(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("latest call query failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	key := analytics.SummaryCacheKey(now, latest)
	summary, err := h.cache.GetOrCompute(key, func() (analytics.Summary, error) {
		records, err := h.db.AnalysisRecords(r.Context(), nil)
		if err != nil {
			return analytics.Summary{}, err
		}
		snap := analytics.BuildSnapshot(records, now)
		return h.summarizer.Summarize(r.Context(), snap), nil
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("summary generation failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	WriteJSON(w, http.StatusOK, summary)
}
