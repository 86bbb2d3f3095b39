package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	echolens "github.com/snarg/echolens"
	"github.com/snarg/echolens/internal/analytics"
	"github.com/snarg/echolens/internal/analyze"
	"github.com/snarg/echolens/internal/api"
	"github.com/snarg/echolens/internal/config"
	"github.com/snarg/echolens/internal/database"
	"github.com/snarg/echolens/internal/dedup"
	"github.com/snarg/echolens/internal/ingest"
	"github.com/snarg/echolens/internal/metrics"
	"github.com/snarg/echolens/internal/pipeline"
	"github.com/snarg/echolens/internal/queue"
	"github.com/snarg/echolens/internal/storage"
	"github.com/snarg/echolens/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "local recording directory (overrides AUDIO_DIR)")
	flag.StringVar(&overrides.InboxDir, "inbox-dir", "", "inbox directory to watch (overrides INBOX_DIR)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("echolens " + version)
		return
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("echolens starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "database").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, echolens.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Object storage
	var store storage.ObjectStore
	switch cfg.StorageBackend {
	case "local":
		local, err := storage.NewLocalStore(cfg.AudioDir, log)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.AudioDir).Msg("failed to open local storage")
		}
		store = local
	default:
		s3store, err := storage.NewS3Store(cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure s3 storage")
		}
		if err := s3store.HeadBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("bucket check failed, continuing anyway")
		}
		store = s3store
	}
	log.Info().Str("backend", store.Type()).Msg("object storage ready")

	// Job queue
	var q queue.Queue
	switch cfg.QueueBackend {
	case "mqtt":
		mq, err := queue.ConnectMQTT(queue.MQTTOptions{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			QueueSize: cfg.QueueSize,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Str("broker", cfg.MQTTBrokerURL).Msg("failed to connect queue broker")
		}
		q = mq
	default:
		q = queue.NewMemory(cfg.QueueSize)
	}

	// Providers
	transcriber := transcribe.NewAdapter(
		transcribe.NewClient(cfg.TranscribeURL, cfg.TranscribeAPIKey, cfg.TranscribeTimeout, log),
		cfg.TranscribeModel, cfg.TranscribeFallbackModel, log,
	)
	chat := analyze.NewClient(cfg.AnalyzeURL, cfg.AnalyzeAPIKey, cfg.AnalyzeModel, cfg.AnalyzeTimeout, log)
	analyzer := analyze.NewAnalyzer(chat, log)

	// Pipeline
	transcriptCache := dedup.New[transcribe.Result](cfg.TranscriptCacheTTL)
	processor := pipeline.NewProcessor(db, store, transcriber, analyzer, transcriptCache, log)
	pool := pipeline.NewPool(q, processor, cfg.Workers, log)
	pool.Start(ctx)

	prometheus.MustRegister(metrics.NewCollector(db.Pool, pool))

	// Inbox watcher (optional)
	var watcher *ingest.Watcher
	if cfg.InboxDir != "" {
		watcher = ingest.NewWatcher(cfg.InboxDir, db, store, q, log)
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.InboxDir).Msg("failed to start inbox watcher")
		}
	}

	// HTTP server
	srv := api.NewServer(api.Options{
		Config:       cfg,
		DB:           db,
		Store:        store,
		Queue:        q,
		Summarizer:   analytics.NewSummarizer(chat, log),
		SummaryCache: dedup.New[analytics.Summary](cfg.AnalyticsCacheTTL),
		Watcher:      watcher,
		Version:      version,
		StartTime:    startTime,
		Log:          log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if watcher != nil {
		watcher.Stop()
	}
	q.Close()
	pool.Stop()

	log.Info().Msg("echolens stopped")
}
