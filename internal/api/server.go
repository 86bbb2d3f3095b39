package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/analytics"
	"github.com/snarg/echolens/internal/config"
	"github.com/snarg/echolens/internal/database"
	"github.com/snarg/echolens/internal/dedup"
	"github.com/snarg/echolens/internal/ingest"
	"github.com/snarg/echolens/internal/metrics"
	"github.com/snarg/echolens/internal/queue"
	"github.com/snarg/echolens/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Options wires the server to the rest of the service.
type Options struct {
	Config       *config.Config
	DB           *database.DB
	Store        storage.ObjectStore
	Queue        queue.Queue
	Summarizer   *analytics.Summarizer
	SummaryCache *dedup.Cache[analytics.Summary]
	Watcher      *ingest.Watcher
	Version      string
	StartTime    time.Time
	Log          zerolog.Logger
}

func NewServer(opts Options) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated: health and Prometheus scrape.
	broker, _ := opts.Queue.(ConnectionReporter)
	health := NewHealthHandler(opts.DB, broker, opts.Store.Type(), opts.Watcher, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))
		r.Mount("/api/v1/calls", NewCallsRouter(opts.DB, opts.Store, opts.Queue))
		r.Mount("/api/v1/analytics", NewAnalyticsRouter(opts.DB, opts.Summarizer, opts.SummaryCache))
	})

	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      r,
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
