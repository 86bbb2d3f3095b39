package transcribe

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/metrics"
)

// Adapter wraps a Provider with the model fallback policy: the preferred
// model goes first, and a format rejection earns exactly one retry with
// the baseline model. Any other error, and any error from the baseline,
// is final.
type Adapter struct {
	provider  Provider
	preferred string
	baseline  string
	log       zerolog.Logger
}

func NewAdapter(provider Provider, preferred, baseline string, log zerolog.Logger) *Adapter {
	return &Adapter{
		provider:  provider,
		preferred: preferred,
		baseline:  baseline,
		log:       log.With().Str("component", "transcribe").Logger(),
	}
}

func (a *Adapter) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	result, err := a.provider.Transcribe(ctx, audio, a.preferred)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrFormat) || a.baseline == "" || a.baseline == a.preferred {
		return Result{}, err
	}

	a.log.Warn().
		Err(err).
		Str("preferred", a.preferred).
		Str("baseline", a.baseline).
		Msg("preferred model rejected audio format, falling back")
	metrics.TranscriptionFallbacksTotal.Inc()

	return a.provider.Transcribe(ctx, audio, a.baseline)
}
