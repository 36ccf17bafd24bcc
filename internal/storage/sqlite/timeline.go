package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/pkg/types"
)

// AppendSample validates and stores one metric sample.
func (s *Store) AppendSample(ctx context.Context, smp *types.MetricSample) error {
	if err := smp.Validate(); err != nil {
		return err
	}
	if smp.ID == "" {
		smp.ID = uuid.NewString()
	}
	if smp.RecordedAt.IsZero() {
		smp.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_samples (id, user_id, metric, value, context, memory_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		smp.ID, smp.UserID, smp.Metric, smp.Value,
		nullableString(smp.Context), nullableString(smp.MemoryID), encodeTime(smp.RecordedAt))
	return wrapErr("append sample", err)
}

// ListSamples returns samples recorded at or after since, oldest first.
// An empty metric matches every metric.
func (s *Store) ListSamples(ctx context.Context, userID, metric string, since time.Time) ([]*types.MetricSample, error) {
	query := `SELECT id, user_id, metric, value, context, memory_id, recorded_at
		FROM metric_samples WHERE user_id = ? AND recorded_at >= ?`
	args := []any{userID, encodeTime(since)}
	if metric != "" {
		query += ` AND metric = ?`
		args = append(args, metric)
	}
	query += ` ORDER BY recorded_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list samples", err)
	}
	defer rows.Close()

	var out []*types.MetricSample
	for rows.Next() {
		var (
			smp          types.MetricSample
			note, memory sql.NullString
			recorded     string
		)
		if err := rows.Scan(&smp.ID, &smp.UserID, &smp.Metric, &smp.Value, &note, &memory, &recorded); err != nil {
			return nil, wrapErr("scan sample", err)
		}
		smp.Context = note.String
		smp.MemoryID = memory.String
		if smp.RecordedAt, err = decodeTime(recorded); err != nil {
			return nil, wrapErr("decode sample", err)
		}
		out = append(out, &smp)
	}
	return out, wrapErr("iterate samples", rows.Err())
}
