package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Call lifecycle statuses. Transitions are monotonic: PENDING → PROCESSING →
// DONE, with FAILED reachable from PENDING or PROCESSING only. DONE and
// FAILED are terminal until an explicit reset.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// ErrCallNotFound is returned when a call ID does not exist.
var ErrCallNotFound = errors.New("call not found")

// TranscriptRow is the input for persisting a transcript.
type TranscriptRow struct {
	Text  string
	Model string // model actually used, post-fallback
}

// AnalysisRow is the input for persisting an analysis. Values are assumed
// schema-valid; the adapter never hands the pipeline anything else.
type AnalysisRow struct {
	Sentiment       string
	Topic           string
	ProblemResolved bool
	Summary         string
	Confidence      float32
}

// TranscriptAPI is the transcript representation for API responses.
type TranscriptAPI struct {
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisAPI is the analysis representation for API responses.
type AnalysisAPI struct {
	Sentiment       string    `json:"sentiment"`
	Topic           string    `json:"topic"`
	ProblemResolved bool      `json:"problem_resolved"`
	Summary         string    `json:"summary"`
	Confidence      float32   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// CallAPI is the call representation for API responses. Transcript and
// Analysis are nil for calls that have not completed. FAILED calls list
// with neither.
type CallAPI struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	AudioObjectKey string         `json:"audio_object_key"`
	DurationSec    *float32       `json:"duration_sec,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Transcript     *TranscriptAPI `json:"transcript,omitempty"`
	Analysis       *AnalysisAPI   `json:"analysis,omitempty"`
}

// CreateCall inserts a new PENDING call.
func (db *DB) CreateCall(ctx context.Context, id, audioObjectKey string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO calls (id, status, audio_object_key)
		VALUES ($1, $2, $3)
	`, id, StatusPending, audioObjectKey)
	return err
}

// CallStatus returns the current lifecycle status of a call.
func (db *DB) CallStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := db.Pool.QueryRow(ctx, `SELECT status FROM calls WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCallNotFound
	}
	return status, err
}

// CallAudioKey returns the storage object key for a call's recording.
func (db *DB) CallAudioKey(ctx context.Context, id string) (string, error) {
	var key string
	err := db.Pool.QueryRow(ctx, `SELECT audio_object_key FROM calls WHERE id = $1`, id).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCallNotFound
	}
	return key, err
}

// ClaimCall atomically moves a PENDING call to PROCESSING. Exactly one
// concurrent caller wins; everyone else sees claimed=false and must not
// touch the call further.
func (db *DB) ClaimCall(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls SET status = $1
		WHERE id = $2 AND status = $3
	`, StatusProcessing, id, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCallFailed flips a non-terminal call to FAILED. A call already DONE
// stays DONE; failure is only reachable from PENDING or PROCESSING.
func (db *DB) MarkCallFailed(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE calls SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`, StatusFailed, id, StatusPending, StatusProcessing)
	return err
}

// CompleteCall persists the transcript, the analysis, and the DONE status in
// a single transaction. Either all three land or none do; the analytics
// engine never observes a partially-written call. Upserts allow an explicit
// reprocess to overwrite a previous attempt's children.
func (db *DB) CompleteCall(ctx context.Context, id string, t TranscriptRow, a AnalysisRow, durationSec *float32) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO transcripts (call_id, text, model, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (call_id) DO UPDATE
		SET text = EXCLUDED.text, model = EXCLUDED.model, created_at = now()
	`, id, t.Text, t.Model); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO analyses (call_id, sentiment, topic, problem_resolved, summary, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (call_id) DO UPDATE
		SET sentiment = EXCLUDED.sentiment, topic = EXCLUDED.topic,
		    problem_resolved = EXCLUDED.problem_resolved, summary = EXCLUDED.summary,
		    confidence = EXCLUDED.confidence, created_at = now()
	`, id, a.Sentiment, a.Topic, a.ProblemResolved, a.Summary, a.Confidence); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE calls SET status = $1, duration_sec = COALESCE($2, duration_sec)
		WHERE id = $3
	`, StatusDone, durationSec, id); err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	return tx.Commit(ctx)
}

// ResetCall moves a terminal call back to PENDING for an explicit
// reprocess. Returns false if the call was not in a terminal state.
func (db *DB) ResetCall(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`, StatusPending, id, StatusDone, StatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CallFilter specifies filters for call listings.
type CallFilter struct {
	Status string
	Limit  int
	Offset int
}

// GetCall returns one call with its transcript and analysis when present.
func (db *DB) GetCall(ctx context.Context, id string) (*CallAPI, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT c.id, c.status, c.audio_object_key, c.duration_sec, c.created_at,
			t.text, t.model, t.created_at,
			a.sentiment, a.topic, a.problem_resolved, a.summary, a.confidence, a.created_at
		FROM calls c
		LEFT JOIN transcripts t ON t.call_id = c.id
		LEFT JOIN analyses a ON a.call_id = c.id
		WHERE c.id = $1
	`, id)

	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCalls returns calls newest-first with optional status filter.
func (db *DB) ListCalls(ctx context.Context, filter CallFilter) ([]CallAPI, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	where := ""
	args := []any{}
	if filter.Status != "" {
		where = "WHERE c.status = $1"
		args = append(args, filter.Status)
	}

	var total int
	countQuery := "SELECT count(*) FROM calls c " + where
	if err := db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.status, c.audio_object_key, c.duration_sec, c.created_at,
			t.text, t.model, t.created_at,
			a.sentiment, a.topic, a.problem_resolved, a.summary, a.confidence, a.created_at
		FROM calls c
		LEFT JOIN transcripts t ON t.call_id = c.id
		LEFT JOIN analyses a ON a.call_id = c.id
		%s
		ORDER BY c.created_at DESC
		LIMIT %d OFFSET %d
	`, where, limit, filter.Offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []CallAPI
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, *c)
	}
	if calls == nil {
		calls = []CallAPI{}
	}
	return calls, total, rows.Err()
}

// LatestDoneCallTime returns the created_at of the most recently completed
// call, or nil if none exist. Used to key the executive summary cache.
func (db *DB) LatestDoneCallTime(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	err := db.Pool.QueryRow(ctx,
		`SELECT max(created_at) FROM calls WHERE status = $1`, StatusDone,
	).Scan(&ts)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func scanCall(row pgx.Row) (*CallAPI, error) {
	var c CallAPI
	var tText, tModel *string
	var tCreated *time.Time
	var aSentiment, aTopic, aSummary *string
	var aResolved *bool
	var aConfidence *float32
	var aCreated *time.Time

	if err := row.Scan(
		&c.ID, &c.Status, &c.AudioObjectKey, &c.DurationSec, &c.CreatedAt,
		&tText, &tModel, &tCreated,
		&aSentiment, &aTopic, &aResolved, &aSummary, &aConfidence, &aCreated,
	); err != nil {
		return nil, err
	}

	if tText != nil {
		c.Transcript = &TranscriptAPI{Text: *tText, CreatedAt: derefTime(tCreated)}
		if tModel != nil {
			c.Transcript.Model = *tModel
		}
	}
	if aSentiment != nil {
		c.Analysis = &AnalysisAPI{
			Sentiment:       *aSentiment,
			Topic:           derefString(aTopic),
			ProblemResolved: aResolved != nil && *aResolved,
			Summary:         derefString(aSummary),
			CreatedAt:       derefTime(aCreated),
		}
		if aConfidence != nil {
			c.Analysis.Confidence = *aConfidence
		}
	}
	return &c, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
