package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

const memoryColumns = `id, user_id, session_id, surface, emotional, contextual, predictive,
	reference_count, last_referenced_at, verification_status, clarification_note,
	transcript, created_at, updated_at`

// CreateMemory validates and inserts a memory with its layers as JSONB.
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

	var layers [4][]byte
	for i, l := range []any{m.Surface, m.Emotional, m.Contextual, m.Predictive} {
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal memory layer: %w", err)
		}
		layers[i] = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, session_id, surface, emotional, contextual, predictive,
			life_area, significance, importance, reference_count, last_referenced_at,
			verification_status, clarification_note, transcript, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, m.UserID, nullString(m.SessionID),
		string(layers[0]), string(layers[1]), string(layers[2]), string(layers[3]),
		string(m.Contextual.LifeArea), string(m.Contextual.Significance), m.Importance(),
		m.ReferenceCount, nullTime(m.LastReferencedAt),
		string(m.VerificationStatus), nullString(m.ClarificationNote), nullString(m.Transcript),
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return wrapErr("create memory", err)
}

func scanMemory(row interface{ Scan(...any) error }) (*types.Memory, error) {
	var m types.Memory
	var sessionID, note, transcript sql.NullString
	var lastRef sql.NullTime
	var surface, emotional, contextual, predictive []byte
	var status string
	if err := row.Scan(&m.ID, &m.UserID, &sessionID, &surface, &emotional, &contextual, &predictive,
		&m.ReferenceCount, &lastRef, &status, &note, &transcript, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}

	m.Surface = &types.SurfaceLayer{}
	m.Emotional = &types.EmotionalLayer{}
	m.Contextual = &types.ContextualLayer{}
	m.Predictive = &types.PredictiveLayer{}
	if err := json.Unmarshal(surface, m.Surface); err != nil {
		return nil, fmt.Errorf("decode surface layer: %w", err)
	}
	if err := json.Unmarshal(emotional, m.Emotional); err != nil {
		return nil, fmt.Errorf("decode emotional layer: %w", err)
	}
	if err := json.Unmarshal(contextual, m.Contextual); err != nil {
		return nil, fmt.Errorf("decode contextual layer: %w", err)
	}
	if err := json.Unmarshal(predictive, m.Predictive); err != nil {
		return nil, fmt.Errorf("decode predictive layer: %w", err)
	}

	m.SessionID = sessionID.String
	m.ClarificationNote = note.String
	m.Transcript = transcript.String
	m.VerificationStatus = types.VerificationStatus(status)
	m.LastReferencedAt = timePtr(lastRef)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("get memory", err)
	}
	return m, nil
}

// ListMemories returns a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, filter storage.MemoryFilter) ([]*types.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = $1`
	args := []any{userID}

	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		query += fmt.Sprintf(` AND id = ANY($%d)`, len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter.UTC())
		query += fmt.Sprintf(` AND created_at > $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
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
// user's memories among ids.
func (s *Store) TouchMemories(ctx context.Context, userID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET reference_count = reference_count + 1, last_referenced_at = $1
		WHERE user_id = $2 AND id = ANY($3)`,
		at.UTC(), userID, pq.Array(ids))
	return wrapErr("touch memories", err)
}

// UpdateVerification writes a verification outcome, optionally only when
// the stored status was not set by a human.
func (s *Store) UpdateVerification(ctx context.Context, id string, upd storage.VerificationUpdate) (bool, error) {
	if !upd.Status.IsValid() {
		return false, storage.ErrInvalidInput
	}

	query := `UPDATE memories
		SET verification_status = $1,
		    clarification_note = COALESCE(NULLIF($2, ''), clarification_note),
		    updated_at = $3
		WHERE id = $4`
	args := []any{string(upd.Status), upd.Note, time.Now().UTC(), id}
	if upd.OnlyIfAutomatic {
		query += ` AND verification_status <> ALL($5)`
		args = append(args, pq.Array([]string{
			string(types.VerificationUserConfirmed), string(types.VerificationDisputed),
		}))
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

// DeleteMemory removes a memory, its samples and its unsent triggers in one
// transaction. Embeddings go by foreign-key cascade.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metric_samples WHERE memory_id = $1`, id); err != nil {
		return wrapErr("delete samples", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM engagement_triggers WHERE memory_id = $1 AND NOT sent`, id); err != nil {
		return wrapErr("delete triggers", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
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
