package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxErrorBody = 4 << 10

// Client calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
type Client struct {
	url    string
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

// apiResponse is the parsed transcription response. Duration is only
// present on servers that return verbose metadata; zero means unknown.
type apiResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func NewClient(url, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "transcribe").Logger(),
	}
}

// Transcribe uploads the audio as multipart/form-data and returns the text.
// The file extension is sniffed from the payload's magic bytes because
// object keys carry no reliable extension.
func (c *Client) Transcribe(ctx context.Context, audio []byte, model string) (Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio."+sniffExtension(audio))
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, fmt.Errorf("write audio data: %w", err)
	}

	w.WriteField("model", model)
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isFormatRejection(resp.StatusCode, body) {
			return Result{}, fmt.Errorf("model %s: %s: %w", model, truncate(body), ErrFormat)
		}
		return Result{}, fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, truncate(body))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	result := Result{Text: strings.TrimSpace(parsed.Text), Model: model}
	if parsed.Duration > 0 {
		d := float32(parsed.Duration)
		result.DurationSec = &d
	}

	c.log.Debug().
		Str("model", model).
		Int("audio_bytes", len(audio)).
		Int("text_len", len(result.Text)).
		Dur("elapsed", time.Since(start)).
		Msg("transcription complete")

	return result, nil
}

// isFormatRejection classifies a non-200 response as a payload-format
// complaint. Providers phrase these inconsistently, so this matches the
// common vocabulary in 4xx bodies.
func isFormatRejection(status int, body []byte) bool {
	if status == http.StatusUnsupportedMediaType {
		return true
	}
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(string(body))
	for _, hint := range []string{"format", "decode", "corrupt", "unsupported", "invalid file", "could not process file"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// sniffExtension guesses a filename extension from magic bytes. The
// endpoint uses the extension to pick a decoder, so a wrong guess
// surfaces as a format rejection and triggers the model fallback.
func sniffExtension(audio []byte) string {
	switch {
	case len(audio) >= 12 && bytes.Equal(audio[0:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return "wav"
	case len(audio) >= 3 && bytes.Equal(audio[0:3], []byte("ID3")):
		return "mp3"
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return "mp3"
	case len(audio) >= 12 && bytes.Equal(audio[4:8], []byte("ftyp")):
		return "m4a"
	case len(audio) >= 4 && bytes.Equal(audio[0:4], []byte("OggS")):
		return "ogg"
	case len(audio) >= 4 && bytes.Equal(audio[0:4], []byte("fLaC")):
		return "flac"
	case len(audio) >= 4 && bytes.Equal(audio[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	default:
		return "wav"
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(bytes.TrimSpace(body))
}
