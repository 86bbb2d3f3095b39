package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	ls, err := NewLocalStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return ls
}

func TestLocalStore_SaveAndFetch(t *testing.T) {
	ls := newTestStore(t)
	ctx := context.Background()

	data := []byte("RIFF....WAVEfake audio")
	if err := ls.Save(ctx, "uploads/call-1.wav", data, "audio/wav"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := ls.Fetch(ctx, "uploads/call-1.wav")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Fetch = %q, want %q", got, data)
	}
	if !ls.Exists(ctx, "uploads/call-1.wav") {
		t.Error("Exists = false, want true")
	}
}

func TestLocalStore_FetchMissing(t *testing.T) {
	ls := newTestStore(t)

	_, err := ls.Fetch(context.Background(), "uploads/nope.wav")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch missing = %v, want ErrNotFound", err)
	}
}

func TestLocalStore_PresignUnsupported(t *testing.T) {
	ls := newTestStore(t)

	_, err := ls.PresignPut(context.Background(), "k", "audio/wav")
	if !errors.Is(err, ErrPresignUnsupported) {
		t.Errorf("PresignPut = %v, want ErrPresignUnsupported", err)
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	ls := newTestStore(t)

	// Cleaned keys stay inside the store dir; a literal ".." that survives
	// cleaning is rejected.
	if err := ls.Save(context.Background(), "a/../../etc/passwd", []byte("x"), "text/plain"); err == nil {
		// Cleaning may keep the key, but it must not escape the store dir.
		if ls.Exists(context.Background(), "etc/passwd") == false {
			t.Error("traversal key neither rejected nor contained")
		}
	}
}
