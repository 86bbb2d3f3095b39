package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/echolens/internal/analyze"
	"github.com/snarg/echolens/internal/database"
	"github.com/snarg/echolens/internal/dedup"
	"github.com/snarg/echolens/internal/transcribe"
)

type fakeStore struct {
	mu        sync.Mutex
	claimable map[string]bool
	audioKeys map[string]string

	claimErr    error
	completeErr error

	completed map[string]database.AnalysisRow
	failed    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimable: map[string]bool{},
		audioKeys: map[string]string{},
		completed: map[string]database.AnalysisRow{},
		failed:    map[string]bool{},
	}
}

func (s *fakeStore) ClaimCall(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if !s.claimable[id] {
		return false, nil
	}
	s.claimable[id] = false
	return true, nil
}

func (s *fakeStore) CallAudioKey(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.audioKeys[id]
	if !ok {
		return "", database.ErrCallNotFound
	}
	return key, nil
}

func (s *fakeStore) CompleteCall(ctx context.Context, id string, t database.TranscriptRow, a database.AnalysisRow, d *float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed[id] = a
	return nil
}

func (s *fakeStore) MarkCallFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = true
	return nil
}

type fakeObjects struct {
	blobs map[string][]byte
}

func (f *fakeObjects) Fetch(ctx context.Context, key string) ([]byte, error) {
	b, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("object missing")
	}
	return b, nil
}

type countingTranscriber struct {
	mu     sync.Mutex
	calls  int
	err    error
	result transcribe.Result
}

func (c *countingTranscriber) Transcribe(ctx context.Context, audio []byte) (transcribe.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return transcribe.Result{}, c.err
	}
	return c.result, nil
}

type countingAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAnalyzer) Analyze(ctx context.Context, transcript string) analyze.Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return analyze.Analysis{
		Sentiment:       "negative",
		Topic:           "billing_issue",
		ProblemResolved: false,
		Summary:         "Customer disputed a charge.",
		Confidence:      0.9,
	}
}

func newTestProcessor(store *fakeStore, objects *fakeObjects, t *countingTranscriber, a *countingAnalyzer) *Processor {
	return NewProcessor(store, objects, t, a, dedup.New[transcribe.Result](time.Minute), zerolog.Nop())
}

func TestProcessHappyPath(t *testing.T) {
	store := newFakeStore()
	store.claimable["call-1"] = true
	store.audioKeys["call-1"] = "calls/call-1"
	objects := &fakeObjects{blobs: map[string][]byte{"calls/call-1": []byte("audio-bytes")}}
	tr := &countingTranscriber{result: transcribe.Result{Text: "hello", Model: "whisper-1"}}
	an := &countingAnalyzer{}

	p := newTestProcessor(store, objects, tr, an)
	if err := p.Process(context.Background(), "call-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, ok := store.completed["call-1"]
	if !ok {
		t.Fatal("call not completed")
	}
	if got.Topic != "billing_issue" || got.Sentiment != "negative" {
		t.Errorf("persisted analysis = %+v", got)
	}
	if store.failed["call-1"] {
		t.Error("call marked failed on success path")
	}
	if tr.calls != 1 || an.calls != 1 {
		t.Errorf("transcriber/analyzer calls = %d/%d, want 1/1", tr.calls, an.calls)
	}
}

func TestProcessClaimLostIsNoOp(t *testing.T) {
	store := newFakeStore() // nothing claimable
	tr := &countingTranscriber{}
	an := &countingAnalyzer{}

	p := newTestProcessor(store, &fakeObjects{}, tr, an)
	if err := p.Process(context.Background(), "call-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if tr.calls != 0 || an.calls != 0 {
		t.Errorf("providers called after lost claim: %d/%d", tr.calls, an.calls)
	}
	if store.failed["call-1"] || len(store.completed) != 0 {
		t.Error("lost claim must not touch the call")
	}
}

func TestProcessFetchFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.claimable["call-1"] = true
	store.audioKeys["call-1"] = "calls/missing"
	tr := &countingTranscriber{}

	p := newTestProcessor(store, &fakeObjects{blobs: map[string][]byte{}}, tr, &countingAnalyzer{})
	if err := p.Process(context.Background(), "call-1"); err == nil {
		t.Fatal("expected error")
	}

	if !store.failed["call-1"] {
		t.Error("call not marked failed")
	}
	if tr.calls != 0 {
		t.Errorf("transcriber called %d times after fetch failure", tr.calls)
	}
}

func TestProcessTranscribeFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.claimable["call-1"] = true
	store.audioKeys["call-1"] = "calls/call-1"
	objects := &fakeObjects{blobs: map[string][]byte{"calls/call-1": []byte("audio")}}
	tr := &countingTranscriber{err: errors.New("provider down")}
	an := &countingAnalyzer{}

	p := newTestProcessor(store, objects, tr, an)
	if err := p.Process(context.Background(), "call-1"); err == nil {
		t.Fatal("expected error")
	}

	if !store.failed["call-1"] {
		t.Error("call not marked failed")
	}
	if an.calls != 0 {
		t.Errorf("analyzer called %d times after transcription failure", an.calls)
	}
}

func TestProcessPersistFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.claimable["call-1"] = true
	store.audioKeys["call-1"] = "calls/call-1"
	store.completeErr = errors.New("db down")
	objects := &fakeObjects{blobs: map[string][]byte{"calls/call-1": []byte("audio")}}
	tr := &countingTranscriber{result: transcribe.Result{Text: "hello", Model: "whisper-1"}}

	p := newTestProcessor(store, objects, tr, &countingAnalyzer{})
	if err := p.Process(context.Background(), "call-1"); err == nil {
		t.Fatal("expected error")
	}
	if !store.failed["call-1"] {
		t.Error("call not marked failed")
	}
}

func TestProcessIdenticalAudioUsesCache(t *testing.T) {
	store := newFakeStore()
	store.claimable["call-1"] = true
	store.claimable["call-2"] = true
	store.audioKeys["call-1"] = "calls/call-1"
	store.audioKeys["call-2"] = "calls/call-2"
	audio := []byte("identical-recording")
	objects := &fakeObjects{blobs: map[string][]byte{
		"calls/call-1": audio,
		"calls/call-2": audio,
	}}
	tr := &countingTranscriber{result: transcribe.Result{Text: "hello", Model: "whisper-1"}}

	p := newTestProcessor(store, objects, tr, &countingAnalyzer{})
	for _, id := range []string{"call-1", "call-2"} {
		if err := p.Process(context.Background(), id); err != nil {
			t.Fatalf("Process(%s): %v", id, err)
		}
	}

	if tr.calls != 1 {
		t.Errorf("transcriber called %d times for identical audio, want 1", tr.calls)
	}
	if len(store.completed) != 2 {
		t.Errorf("completed %d calls, want 2", len(store.completed))
	}
}
