package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	// ReadTimeout must cover direct audio uploads, not just JSON requests.
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"AUTH_TOKEN"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// Object storage. "s3" talks to an S3-compatible endpoint; "local" keeps
	// recordings under AudioDir (useful for development and tests).
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"s3"`
	AudioDir       string `env:"AUDIO_DIR" envDefault:"./audio"`
	S3             S3Config

	// Inbox directory watched for dropped recordings. Empty disables the watcher.
	InboxDir string `env:"INBOX_DIR"`

	// Speech-to-text provider (OpenAI-compatible transcription endpoint).
	TranscribeURL           string        `env:"TRANSCRIBE_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	TranscribeAPIKey        string        `env:"TRANSCRIBE_API_KEY"`
	TranscribeModel         string        `env:"TRANSCRIBE_MODEL" envDefault:"gpt-4o-mini-transcribe"`
	TranscribeFallbackModel string        `env:"TRANSCRIBE_FALLBACK_MODEL" envDefault:"whisper-1"`
	TranscribeTimeout       time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"120s"`

	// Language-model provider (OpenAI-compatible chat completions endpoint).
	AnalyzeURL     string        `env:"ANALYZE_URL" envDefault:"https://api.groq.com/openai/v1/chat/completions"`
	AnalyzeAPIKey  string        `env:"ANALYZE_API_KEY"`
	AnalyzeModel   string        `env:"ANALYZE_MODEL" envDefault:"llama-3.3-70b-versatile"`
	AnalyzeTimeout time.Duration `env:"ANALYZE_TIMEOUT" envDefault:"60s"`

	// Pipeline worker pool.
	Workers   int `env:"PIPELINE_WORKERS" envDefault:"4"`
	QueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"256"`

	// Job queue transport. "memory" is the in-process channel queue; "mqtt"
	// distributes call IDs through a broker (at-least-once).
	QueueBackend  string `env:"QUEUE_BACKEND" envDefault:"memory"`
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"echolens"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"echolens/calls"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	// Dedup caches. The transcript cache is effectively permanent per audio
	// fingerprint; the analytics cache only needs to span dashboard polling.
	TranscriptCacheTTL time.Duration `env:"TRANSCRIPT_CACHE_TTL" envDefault:"720h"`
	AnalyticsCacheTTL  time.Duration `env:"ANALYTICS_CACHE_TTL" envDefault:"5m"`
}

type S3Config struct {
	Endpoint      string        `env:"S3_ENDPOINT"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Bucket        string        `env:"S3_BUCKET"`
	Prefix        string        `env:"S3_PREFIX"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
	InboxDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}

	return cfg, nil
}
