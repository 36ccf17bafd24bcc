package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

const triggerColumns = `id, user_id, type, scheduled_for, message, memory_id, confidence, sent, sent_at, created_at`

// CreateTrigger validates and inserts an engagement trigger.
func (s *Store) CreateTrigger(ctx context.Context, t *types.EngagementTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Type), encodeTime(t.ScheduledFor), t.Message,
		nullableString(t.MemoryID), t.Confidence, t.Sent, nullableTime(t.SentAt), encodeTime(t.CreatedAt))
	return wrapErr("create trigger", err)
}

func scanTrigger(row interface{ Scan(...any) error }) (*types.EngagementTrigger, error) {
	var (
		t                       types.EngagementTrigger
		typ, scheduled, created string
		memoryID, sentAt        sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &typ, &scheduled, &t.Message, &memoryID,
		&t.Confidence, &t.Sent, &sentAt, &created); err != nil {
		return nil, err
	}
	t.Type = types.TriggerType(typ)
	t.MemoryID = memoryID.String

	var err error
	if t.ScheduledFor, err = decodeTime(scheduled); err != nil {
		return nil, err
	}
	if t.SentAt, err = decodeNullTime(sentAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]*types.EngagementTrigger, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list triggers", err)
	}
	defer rows.Close()

	var out []*types.EngagementTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, wrapErr("scan trigger", err)
		}
		out = append(out, t)
	}
	return out, wrapErr("iterate triggers", rows.Err())
}

// GetTrigger retrieves a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, id string) (*types.EngagementTrigger, error) {
	t, err := scanTrigger(s.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM engagement_triggers WHERE id = ?`, id))
	if err != nil {
		return nil, wrapErr("get trigger", err)
	}
	return t, nil
}

// ListDueTriggers returns unsent triggers scheduled in [from, now],
// earliest first.
func (s *Store) ListDueTriggers(ctx context.Context, from, now time.Time, limit int) ([]*types.EngagementTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM engagement_triggers
		WHERE sent = 0 AND scheduled_for <= ?`
	args := []any{encodeTime(now)}
	if !from.IsZero() {
		query += ` AND scheduled_for >= ?`
		args = append(args, encodeTime(from))
	}
	query += ` ORDER BY scheduled_for ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTriggers(ctx, query, args...)
}

// ListUserTriggers returns a user's triggers matching filter.
func (s *Store) ListUserTriggers(ctx context.Context, userID string, filter storage.TriggerFilter) ([]*types.EngagementTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM engagement_triggers WHERE user_id = ?`
	args := []any{userID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Sent != nil {
		query += ` AND sent = ?`
		args = append(args, *filter.Sent)
	}
	if !filter.ScheduledFrom.IsZero() {
		query += ` AND scheduled_for >= ?`
		args = append(args, encodeTime(filter.ScheduledFrom))
	}
	if !filter.ScheduledTo.IsZero() {
		query += ` AND scheduled_for <= ?`
		args = append(args, encodeTime(filter.ScheduledTo))
	}
	if !filter.SentAfter.IsZero() {
		query += ` AND sent_at IS NOT NULL AND sent_at > ?`
		args = append(args, encodeTime(filter.SentAfter))
	}
	query += ` ORDER BY scheduled_for ASC`
	return s.queryTriggers(ctx, query, args...)
}

// MarkTriggerSent flips sent from false to true exactly once. Losers of a
// race get ErrAlreadySent.
func (s *Store) MarkTriggerSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE engagement_triggers SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
		encodeTime(sentAt), id)
	if err != nil {
		return wrapErr("mark trigger sent", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := s.exists(ctx, "engagement_triggers", id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return storage.ErrAlreadySent
}
