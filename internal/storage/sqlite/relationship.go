package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// GetDepth returns the stored relationship depth for a user.
func (s *Store) GetDepth(ctx context.Context, userID string) (*types.RelationshipDepth, error) {
	var (
		d                 types.RelationshipDepth
		stage, milestones string
		computed          string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, intimacy_score, trust_score, vulnerability_level, stage,
		       inside_jokes_count, milestones, computed_at
		FROM relationship_depth WHERE user_id = ?`, userID,
	).Scan(&d.UserID, &d.IntimacyScore, &d.TrustScore, &d.VulnerabilityLevel, &stage,
		&d.InsideJokesCount, &milestones, &computed)
	if err != nil {
		return nil, wrapErr("get depth", err)
	}
	d.Stage = types.RelationshipStage(stage)
	if err := json.Unmarshal([]byte(milestones), &d.Milestones); err != nil {
		return nil, fmt.Errorf("sqlite: failed to decode milestones: %w", err)
	}
	if d.ComputedAt, err = decodeTime(computed); err != nil {
		return nil, wrapErr("decode depth", err)
	}
	return &d, nil
}

// UpsertDepth replaces the stored depth for d.UserID.
func (s *Store) UpsertDepth(ctx context.Context, d *types.RelationshipDepth) error {
	if d == nil || d.UserID == "" {
		return storage.ErrInvalidInput
	}
	milestones := d.Milestones
	if milestones == nil {
		milestones = []types.Milestone{}
	}
	raw, err := json.Marshal(milestones)
	if err != nil {
		return fmt.Errorf("sqlite: failed to encode milestones: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationship_depth (user_id, intimacy_score, trust_score, vulnerability_level,
			stage, inside_jokes_count, milestones, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			intimacy_score = excluded.intimacy_score,
			trust_score = excluded.trust_score,
			vulnerability_level = excluded.vulnerability_level,
			stage = excluded.stage,
			inside_jokes_count = excluded.inside_jokes_count,
			milestones = excluded.milestones,
			computed_at = excluded.computed_at`,
		d.UserID, d.IntimacyScore, d.TrustScore, d.VulnerabilityLevel, string(d.Stage),
		d.InsideJokesCount, string(raw), encodeTime(d.ComputedAt))
	return wrapErr("upsert depth", err)
}
