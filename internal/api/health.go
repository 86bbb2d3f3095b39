package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/echolens/internal/ingest"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Watcher       *ingest.Status    `json:"watcher,omitempty"`
}

// Pinger is anything with a bounded liveness check.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter reports broker connectivity (the MQTT queue backend).
type ConnectionReporter interface {
	IsConnected() bool
}

// HealthHandler aggregates component checks. A dead database makes the
// service unhealthy; a disconnected broker only degrades it, since the
// auto-reconnect will usually recover without intervention.
type HealthHandler struct {
	db        Pinger
	broker    ConnectionReporter // nil for the in-memory queue
	storeType string
	watcher   *ingest.Watcher // nil when the inbox watcher is disabled
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, broker ConnectionReporter, storeType string, watcher *ingest.Watcher, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		broker:    broker,
		storeType: storeType,
		watcher:   watcher,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["queue"] = "ok"
		} else {
			checks["queue"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["queue"] = "memory"
	}

	checks["storage"] = h.storeType

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.watcher != nil {
		ws := h.watcher.Stats()
		resp.Watcher = &ws
		checks["inbox_watcher"] = ws.Status
	}

	WriteJSON(w, httpStatus, resp)
}
