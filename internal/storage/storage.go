package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist.
// The pipeline treats it as fatal for the owning call.
var ErrNotFound = errors.New("object not found")

// ObjectStore is where call recordings live. The pipeline only ever reads;
// writes come from the inbox watcher and (indirectly) presigned uploads.
type ObjectStore interface {
	// Fetch reads the full object. Returns ErrNotFound if the key is absent.
	Fetch(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) bool
	// PresignPut returns a URL a client can PUT the recording to directly.
	// Stores that cannot presign return an empty string and ErrPresignUnsupported.
	PresignPut(ctx context.Context, key string, contentType string) (string, error)
	Type() string
}

// ErrPresignUnsupported is returned by stores without presigned-upload support.
var ErrPresignUnsupported = errors.New("presigned uploads not supported by this store")
