package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/echolens/internal/database"
	"github.com/snarg/echolens/internal/storage"
)

// CallStore is the database surface for call endpoints.
type CallStore interface {
	CreateCall(ctx context.Context, id, audioObjectKey string) error
	GetCall(ctx context.Context, id string) (*database.CallAPI, error)
	ListCalls(ctx context.Context, filter database.CallFilter) ([]database.CallAPI, int, error)
	CallStatus(ctx context.Context, id string) (string, error)
	ResetCall(ctx context.Context, id string) (bool, error)
}

// Enqueuer submits a call ID for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, callID string) error
}

// callsHandler serves call CRUD and upload endpoints.
type callsHandler struct {
	db    CallStore
	store storage.ObjectStore
	queue Enqueuer
}

// NewCallsRouter mounts the call endpoints on a fresh chi router.
func NewCallsRouter(db CallStore, store storage.ObjectStore, q Enqueuer) chi.Router {
	h := &callsHandler{db: db, store: store, queue: q}

	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/reprocess", h.reprocess)
	return r
}

var extByContentType = map[string]string{
	"audio/wav":  ".wav",
	"audio/wave": ".wav",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/ogg":  ".ogg",
	"audio/flac": ".flac",
	"audio/webm": ".webm",
}

const maxUploadBytes = 100 << 20

func (h *callsHandler) list(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := database.CallFilter{Limit: p.Limit, Offset: p.Offset}
	if status, ok := QueryString(r, "status"); ok {
		status = strings.ToUpper(status)
		switch status {
		case database.StatusPending, database.StatusProcessing, database.StatusDone, database.StatusFailed:
			filter.Status = status
		default:
			WriteError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	calls, total, err := h.db.ListCalls(r.Context(), filter)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list calls failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"calls":  calls,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

func (h *callsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	call, err := h.db.GetCall(r.Context(), id)
	if errors.Is(err, database.ErrCallNotFound) {
		WriteError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("get call failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}
	WriteJSON(w, http.StatusOK, call)
}

// create registers a new call. Two upload modes:
//
//   - audio/* body: the recording is stored server-side and the call is
//     enqueued immediately.
//   - JSON body {"content_type": "..."}: a presigned PUT URL is returned;
//     the caller uploads directly to object storage and then hits
//     /reprocess to start processing.
func (h *callsHandler) create(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "audio/") {
		h.createDirect(w, r, contentType)
		return
	}
	h.createPresigned(w, r)
}

func (h *callsHandler) createDirect(w http.ResponseWriter, r *http.Request, contentType string) {
	ext, ok := extByContentType[contentType]
	if !ok {
		WriteError(w, http.StatusUnsupportedMediaType, "unsupported audio content type")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty audio body")
		return
	}
	if len(data) > maxUploadBytes {
		WriteError(w, http.StatusRequestEntityTooLarge, "audio exceeds upload limit")
		return
	}

	id := uuid.NewString()
	key := id + ext

	if err := h.store.Save(r.Context(), key, data, contentType); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("upload failed")
		WriteError(w, http.StatusBadGateway, "storage error")
		return
	}
	if err := h.db.CreateCall(r.Context(), id, key); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("create call failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}
	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("call_id", id).Msg("enqueue failed, call stays pending")
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"id":               id,
		"status":           database.StatusPending,
		"audio_object_key": key,
	})
}

func (h *callsHandler) createPresigned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentType string `json:"content_type"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ext, ok := extByContentType[req.ContentType]
	if !ok {
		WriteError(w, http.StatusBadRequest, "unsupported content_type")
		return
	}

	id := uuid.NewString()
	key := id + ext

	uploadURL, err := h.store.PresignPut(r.Context(), key, req.ContentType)
	if errors.Is(err, storage.ErrPresignUnsupported) {
		WriteError(w, http.StatusNotImplemented, "presigned uploads not supported; POST the audio body directly")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("presign failed")
		WriteError(w, http.StatusBadGateway, "storage error")
		return
	}

	if err := h.db.CreateCall(r.Context(), id, key); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("create call failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"id":               id,
		"status":           database.StatusPending,
		"audio_object_key": key,
		"upload_url":       uploadURL,
	})
}

// reprocess re-enqueues a call. Terminal calls reset to PENDING first, so
// this both retries FAILED calls and starts processing after a presigned
// upload. PROCESSING calls are refused.
func (h *callsHandler) reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.db.CallStatus(r.Context(), id)
	if errors.Is(err, database.ErrCallNotFound) {
		WriteError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("call status failed")
		WriteError(w, http.StatusInternalServerError, "database error")
		return
	}

	switch status {
	case database.StatusProcessing:
		WriteError(w, http.StatusConflict, "call is currently processing")
		return
	case database.StatusDone, database.StatusFailed:
		if _, err := h.db.ResetCall(r.Context(), id); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("reset call failed")
			WriteError(w, http.StatusInternalServerError, "database error")
			return
		}
	}

	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("call_id", id).Msg("enqueue failed")
		WriteError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": database.StatusPending,
	})
}
