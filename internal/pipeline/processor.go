// Package pipeline runs the call processing flow: claim, fetch audio,
// transcribe, analyze, persist. Each stage's failure policy differs; the
// comments on Process spell them out.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/analyze"
	"github.com/snarg/echolens/internal/database"
	"github.com/snarg/echolens/internal/dedup"
	"github.com/snarg/echolens/internal/metrics"
	"github.com/snarg/echolens/internal/transcribe"
)

// Store is the database surface the processor needs.
type Store interface {
	ClaimCall(ctx context.Context, id string) (bool, error)
	CallAudioKey(ctx context.Context, id string) (string, error)
	CompleteCall(ctx context.Context, id string, t database.TranscriptRow, a database.AnalysisRow, durationSec *float32) error
	MarkCallFailed(ctx context.Context, id string) error
}

// ObjectFetcher fetches raw audio bytes by object key.
type ObjectFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Transcriber is the model-fallback transcription adapter.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (transcribe.Result, error)
}

// Analyzer extracts a validated analysis. It cannot fail.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) analyze.Analysis
}

// Processor executes the pipeline for one call at a time.
type Processor struct {
	store       Store
	objects     ObjectFetcher
	transcriber Transcriber
	analyzer    Analyzer
	cache       *dedup.Cache[transcribe.Result]
	log         zerolog.Logger
}

func NewProcessor(store Store, objects ObjectFetcher, t Transcriber, a Analyzer, cache *dedup.Cache[transcribe.Result], log zerolog.Logger) *Processor {
	return &Processor{
		store:       store,
		objects:     objects,
		transcriber: t,
		analyzer:    a,
		cache:       cache,
		log:         log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs one call through the pipeline.
//
// The claim is exclusive: losing it means another worker owns the call and
// Process returns nil without side effects. After a successful claim, any
// stage error marks the call FAILED. Analysis is the exception: it degrades
// to a safe default instead of failing, so a claimed call with a transcript
// always reaches DONE unless persistence itself fails.
func (p *Processor) Process(ctx context.Context, callID string) error {
	log := p.log.With().Str("call_id", callID).Logger()

	claimed, err := p.store.ClaimCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		metrics.CallsProcessedTotal.WithLabelValues("skipped").Inc()
		log.Debug().Msg("call not claimable, skipping")
		return nil
	}

	key, err := p.store.CallAudioKey(ctx, callID)
	if err != nil {
		return p.fail(ctx, log, callID, fmt.Errorf("audio key: %w", err))
	}

	fetchStart := time.Now()
	audio, err := p.objects.Fetch(ctx, key)
	if err != nil {
		return p.fail(ctx, log, callID, fmt.Errorf("fetch %s: %w", key, err))
	}
	metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(fetchStart).Seconds())

	result, err := p.transcript(ctx, audio)
	if err != nil {
		return p.fail(ctx, log, callID, fmt.Errorf("transcribe: %w", err))
	}

	analyzeStart := time.Now()
	analysis := p.analyzer.Analyze(ctx, result.Text)
	metrics.StageDuration.WithLabelValues("analyze").Observe(time.Since(analyzeStart).Seconds())

	persistStart := time.Now()
	err = p.store.CompleteCall(ctx, callID,
		database.TranscriptRow{Text: result.Text, Model: result.Model},
		database.AnalysisRow{
			Sentiment:       analysis.Sentiment,
			Topic:           analysis.Topic,
			ProblemResolved: analysis.ProblemResolved,
			Summary:         analysis.Summary,
			Confidence:      analysis.Confidence,
		},
		result.DurationSec,
	)
	if err != nil {
		return p.fail(ctx, log, callID, fmt.Errorf("persist: %w", err))
	}
	metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())

	metrics.CallsProcessedTotal.WithLabelValues("done").Inc()
	log.Info().
		Str("model", result.Model).
		Str("topic", analysis.Topic).
		Str("sentiment", analysis.Sentiment).
		Msg("call processed")
	return nil
}

// transcript returns the transcription for the audio, deduplicated by
// content fingerprint so identical recordings only pay the provider once
// within the cache TTL.
func (p *Processor) transcript(ctx context.Context, audio []byte) (transcribe.Result, error) {
	fp := dedup.Fingerprint(audio)
	if cached, ok := p.cache.Get(fp); ok {
		metrics.TranscriptCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}

	return p.cache.GetOrCompute(fp, func() (transcribe.Result, error) {
		metrics.TranscriptCacheTotal.WithLabelValues("miss").Inc()
		start := time.Now()
		result, err := p.transcriber.Transcribe(ctx, audio)
		if err != nil {
			return transcribe.Result{}, err
		}
		metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(start).Seconds())
		return result, nil
	})
}

// fail marks the call FAILED and returns the original error. The mark uses
// a detached context so a cancelled worker still leaves the call in a
// terminal state instead of stranded PROCESSING.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, callID string, cause error) error {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.store.MarkCallFailed(markCtx, callID); err != nil {
		log.Error().Err(err).Msg("could not mark call failed")
	}
	metrics.CallsProcessedTotal.WithLabelValues("failed").Inc()
	log.Warn().Err(cause).Msg("call failed")
	return cause
}
