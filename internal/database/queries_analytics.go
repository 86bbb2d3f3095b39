package database

import (
	"context"
	"time"

	"github.com/snarg/echolens/internal/analytics"
)

// AnalysisRecords returns the analysis rows of completed calls for the
// analytics engine, oldest first. A non-nil since restricts to calls
// created at or after that time.
func (db *DB) AnalysisRecords(ctx context.Context, since *time.Time) ([]analytics.Record, error) {
	query := `
		SELECT a.topic, a.sentiment, a.problem_resolved, a.confidence, c.created_at
		FROM analyses a
		JOIN calls c ON c.id = a.call_id
		WHERE c.status = $1
	`
	args := []any{StatusDone}
	if since != nil {
		query += " AND c.created_at >= $2"
		args = append(args, *since)
	}
	query += " ORDER BY c.created_at ASC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []analytics.Record
	for rows.Next() {
		var r analytics.Record
		if err := rows.Scan(&r.Topic, &r.Sentiment, &r.Resolved, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CallStatusCounts returns the number of calls in each lifecycle status.
// Statuses with no calls are zero-filled so the response shape is stable.
func (db *DB) CallStatusCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusDone:       0,
		StatusFailed:     0,
	}

	rows, err := db.Pool.Query(ctx, `SELECT status, count(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
