package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStore keeps call recordings on the local filesystem. Used in
// development and by tests; presigned uploads are not available.
type LocalStore struct {
	dir string
	log zerolog.Logger
}

func NewLocalStore(dir string, log zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &LocalStore{
		dir: dir,
		log: log.With().Str("component", "local-store").Logger(),
	}, nil
}

func (l *LocalStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (l *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *LocalStore) Exists(ctx context.Context, key string) bool {
	path, err := l.path(key)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func (l *LocalStore) PresignPut(ctx context.Context, key string, contentType string) (string, error) {
	return "", ErrPresignUnsupported
}

func (l *LocalStore) Type() string { return "local" }

// path resolves a key under the store directory, rejecting traversal.
func (l *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.dir, clean), nil
}
