// Package ingest watches a local inbox directory for dropped call
// recordings. Each stable audio file is uploaded to the object store,
// registered as a PENDING call, enqueued for processing, and removed from
// the inbox. This is the operator-friendly alternative to the upload API.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CallCreator registers a new call row.
type CallCreator interface {
	CreateCall(ctx context.Context, id, audioObjectKey string) error
}

// ObjectSaver uploads recording bytes.
type ObjectSaver interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Enqueuer submits a call ID for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, callID string) error
}

var audioContentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

const debounceDelay = 500 * time.Millisecond

// Watcher monitors the inbox directory.
type Watcher struct {
	dir   string
	db    CallCreator
	store ObjectSaver
	queue Enqueuer
	log   zerolog.Logger

	ctx     context.Context
	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file and
	// give the writer time to finish before we read.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesIngested atomic.Int64
	filesSkipped  atomic.Int64
	status        atomic.Value // "starting", "watching", "stopped"
}

func NewWatcher(dir string, db CallCreator, store ObjectSaver, q Enqueuer, log zerolog.Logger) *Watcher {
	w := &Watcher{
		dir:            dir,
		db:             db,
		store:          store,
		queue:          q,
		log:            log.With().Str("component", "ingest").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start begins watching. Files already sitting in the inbox are swept in a
// background goroutine so a restart picks up anything dropped while down.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.ctx = ctx
	w.watcher = fw

	w.log.Info().Str("dir", w.dir).Msg("inbox watcher started")
	go w.watchLoop()
	go w.sweepExisting()

	w.status.Store("watching")
	return nil
}

// Stop closes the fsnotify watcher.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("files_ingested", w.filesIngested.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("inbox watcher stopped")
}

// Status describes the watcher for the health endpoint.
type Status struct {
	Status        string `json:"status"`
	Dir           string `json:"dir"`
	FilesIngested int64  `json:"files_ingested"`
	FilesSkipped  int64  `json:"files_skipped"`
}

func (w *Watcher) Stats() Status {
	s, _ := w.status.Load().(string)
	return Status{
		Status:        s,
		Dir:           w.dir,
		FilesIngested: w.filesIngested.Load(),
		FilesSkipped:  w.filesSkipped.Load(),
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isAudioFile(event.Name) {
				continue
			}
			w.scheduleIngest(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// sweepExisting ingests files already present at startup.
func (w *Watcher) sweepExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Msg("inbox sweep failed")
		return
	}
	for _, e := range entries {
		if w.ctx.Err() != nil {
			return
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if !isAudioFile(path) {
			w.filesSkipped.Add(1)
			continue
		}
		w.ingestFile(path)
	}
}

// scheduleIngest debounces ingestion so partially written files settle
// before being read.
func (w *Watcher) scheduleIngest(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(debounceDelay)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.ingestFile(path)
	})
}

// ingestFile uploads one recording, creates its call, enqueues it, and
// removes the inbox file. The file is only removed after the call row
// exists, so a crash mid-ingest re-ingests rather than loses the file.
func (w *Watcher) ingestFile(path string) {
	log := w.log.With().Str("path", path).Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read inbox file")
		return
	}
	if len(data) == 0 {
		w.filesSkipped.Add(1)
		log.Debug().Msg("skipping empty file")
		return
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(path))
	key := id + ext

	if err := w.store.Save(w.ctx, key, data, audioContentTypes[ext]); err != nil {
		log.Warn().Err(err).Msg("failed to upload recording")
		return
	}
	if err := w.db.CreateCall(w.ctx, id, key); err != nil {
		log.Warn().Err(err).Msg("failed to create call")
		return
	}
	if err := w.queue.Enqueue(w.ctx, id); err != nil {
		// The call row exists; it stays PENDING and can be re-enqueued
		// via the reprocess endpoint.
		log.Warn().Err(err).Str("call_id", id).Msg("failed to enqueue call")
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Msg("failed to remove ingested file")
	}

	w.filesIngested.Add(1)
	log.Info().Str("call_id", id).Int("bytes", len(data)).Msg("recording ingested")
}

func isAudioFile(path string) bool {
	_, ok := audioContentTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}
