// Package transcribe turns call recordings into text via an
// OpenAI-compatible /v1/audio/transcriptions endpoint.
package transcribe

import (
	"context"
	"errors"
)

// ErrFormat marks a provider rejection caused by the audio payload itself
// (unsupported or corrupt format). It is the only error class that
// justifies retrying with a different model.
var ErrFormat = errors.New("audio format rejected")

// Result is one successful transcription.
type Result struct {
	Text        string
	Model       string // model that actually produced the text
	DurationSec *float32
}

// Provider transcribes audio bytes with a named model.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, model string) (Result, error)
}
