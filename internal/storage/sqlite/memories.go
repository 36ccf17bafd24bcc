package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

const memoryColumns = `id, user_id, session_id, surface, emotional, contextual, predictive,
	reference_count, last_referenced_at, verification_status, clarification_note,
	transcript, created_at, updated_at`

// CreateMemory validates and inserts a memory. The four layers are stored
// as JSON columns; life_area, significance and importance are denormalised
// for filtering.
func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.VerificationStatus == "" {
		m.VerificationStatus = types.VerificationNotVerified
	}

	layers := make([]string, 0, 4)
	for _, l := range []any{m.Surface, m.Emotional, m.Contextual, m.Predictive} {
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal memory layer: %w", err)
		}
		layers = append(layers, string(b))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, session_id, surface, emotional, contextual, predictive,
			life_area, significance, importance, reference_count, last_referenced_at,
			verification_status, clarification_note, transcript, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, nullableString(m.SessionID),
		layers[0], layers[1], layers[2], layers[3],
		string(m.Contextual.LifeArea), string(m.Contextual.Significance), m.Importance(),
		m.ReferenceCount, nullableTime(m.LastReferencedAt),
		string(m.VerificationStatus), nullableString(m.ClarificationNote), nullableString(m.Transcript),
		encodeTime(m.CreatedAt), encodeTime(m.UpdatedAt),
	)
	return wrapErr("create memory", err)
}

func scanMemory(row interface{ Scan(...any) error }) (*types.Memory, error) {
	var m types.Memory
	var sessionID, note, transcript, lastRef sql.NullString
	var surface, emotional, contextual, predictive string
	var status, created, updated string
	if err := row.Scan(&m.ID, &m.UserID, &sessionID, &surface, &emotional, &contextual, &predictive,
		&m.ReferenceCount, &lastRef, &status, &note, &transcript, &created, &updated); err != nil {
		return nil, err
	}

	m.Surface = &types.SurfaceLayer{}
	m.Emotional = &types.EmotionalLayer{}
	m.Contextual = &types.ContextualLayer{}
	m.Predictive = &types.PredictiveLayer{}
	for _, p := range []struct {
		raw string
		dst any
	}{
		{surface, m.Surface},
		{emotional, m.Emotional},
		{contextual, m.Contextual},
		{predictive, m.Predictive},
	} {
		if err := json.Unmarshal([]byte(p.raw), p.dst); err != nil {
			return nil, fmt.Errorf("decode memory %s layer: %w", m.ID, err)
		}
	}

	m.SessionID = sessionID.String
	m.ClarificationNote = note.String
	m.Transcript = transcript.String
	m.VerificationStatus = types.VerificationStatus(status)

	var err error
	if m.LastReferencedAt, err = decodeNullTime(lastRef); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = decodeTime(created); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if err != nil {
		return nil, wrapErr("get memory", err)
	}
	return m, nil
}

// ListMemories returns a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, filter storage.MemoryFilter) ([]*types.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{userID}

	if len(filter.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(filter.IDs)-1) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, encodeTime(filter.CreatedAfter))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapErr("scan memory", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("iterate memories", rows.Err())
}

// TouchMemories bumps reference_count and last_referenced_at for the
// user's memories among ids. Unknown or foreign ids are ignored.
func (s *Store) TouchMemories(ctx context.Context, userID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{encodeTime(at), userID}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET reference_count = reference_count + 1, last_referenced_at = ?
		 WHERE user_id = ? AND id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, args...)
	return wrapErr("touch memories", err)
}

// UpdateVerification writes a verification outcome. With OnlyIfAutomatic
// the write is skipped when a human already set the status; the returned
// bool reports whether a row changed.
func (s *Store) UpdateVerification(ctx context.Context, id string, upd storage.VerificationUpdate) (bool, error) {
	if !upd.Status.IsValid() {
		return false, storage.ErrInvalidInput
	}

	query := `UPDATE memories
		SET verification_status = ?,
		    clarification_note = CASE WHEN ? = '' THEN clarification_note ELSE ? END,
		    updated_at = ?
		WHERE id = ?`
	args := []any{string(upd.Status), upd.Note, upd.Note, encodeTime(time.Now()), id}
	if upd.OnlyIfAutomatic {
		query += ` AND verification_status NOT IN (?, ?)`
		args = append(args, string(types.VerificationUserConfirmed), string(types.VerificationDisputed))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrapErr("update verification", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	ok, err := s.exists(ctx, "memories", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// DeleteMemory removes a memory along with its samples and any unsent
// triggers that reference it. Embeddings go by foreign-key cascade.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metric_samples WHERE memory_id = ?`, id); err != nil {
		return wrapErr("delete samples", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM engagement_triggers WHERE memory_id = ? AND sent = 0`, id); err != nil {
		return wrapErr("delete triggers", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return wrapErr("delete memory", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return wrapErr("commit delete", tx.Commit())
}
