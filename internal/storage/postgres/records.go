package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// UpsertNode inserts a node or refreshes last_updated on the existing
// (user_id, name, type) row, returning the stored row.
func (s *Store) UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error) {
	if node == nil || node.UserID == "" || node.Name == "" || node.Type == "" {
		return nil, storage.ErrInvalidInput
	}
	id := node.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := node.LastUpdated
	if now.IsZero() {
		now = time.Now()
	}

	out := types.GraphNode{UserID: node.UserID, Name: node.Name, Type: node.Type}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (id, user_id, name, type, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, name, type) DO UPDATE SET last_updated = EXCLUDED.last_updated
		RETURNING id, created_at, last_updated`,
		id, node.UserID, node.Name, node.Type, now.UTC(),
	).Scan(&out.ID, &out.CreatedAt, &out.LastUpdated)
	if err != nil {
		return nil, wrapErr("upsert node", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.LastUpdated = out.LastUpdated.UTC()
	return &out, nil
}

// UpsertEdge inserts or updates an edge. The insert only happens when both
// endpoints belong to edge.UserID; otherwise ErrInvalidInput.
func (s *Store) UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error) {
	if edge == nil || edge.UserID == "" || edge.Relationship == "" {
		return nil, storage.ErrInvalidInput
	}
	id := edge.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := edge.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	out := types.GraphEdge{
		UserID: edge.UserID, SourceID: edge.SourceID, TargetID: edge.TargetID,
		Relationship: edge.Relationship,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO graph_edges (id, user_id, source_id, target_id, relationship, strength, created_at, updated_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::int, $7::timestamptz, $7::timestamptz
		WHERE EXISTS (SELECT 1 FROM graph_nodes WHERE id = $3 AND user_id = $2)
		  AND EXISTS (SELECT 1 FROM graph_nodes WHERE id = $4 AND user_id = $2)
		ON CONFLICT (source_id, target_id, relationship)
		DO UPDATE SET strength = EXCLUDED.strength, updated_at = EXCLUDED.updated_at
		RETURNING id, strength, created_at, updated_at`,
		id, edge.UserID, edge.SourceID, edge.TargetID, edge.Relationship,
		types.ClampStrength(edge.Strength), now.UTC(),
	).Scan(&out.ID, &out.Strength, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInvalidInput
	}
	if err != nil {
		return nil, wrapErr("upsert edge", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return &out, nil
}

// ListNodes returns a user's nodes ordered by name then type.
func (s *Store) ListNodes(ctx context.Context, userID string) ([]*types.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, created_at, last_updated
		FROM graph_nodes WHERE user_id = $1 ORDER BY name, type`, userID)
	if err != nil {
		return nil, wrapErr("list nodes", err)
	}
	defer rows.Close()

	var out []*types.GraphNode
	for rows.Next() {
		var n types.GraphNode
		if err := rows.Scan(&n.ID, &n.UserID, &n.Name, &n.Type, &n.CreatedAt, &n.LastUpdated); err != nil {
			return nil, wrapErr("scan node", err)
		}
		out = append(out, &n)
	}
	return out, wrapErr("iterate nodes", rows.Err())
}

// ListEdges returns a user's edges, oldest first.
func (s *Store) ListEdges(ctx context.Context, userID string) ([]*types.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_id, target_id, relationship, strength, created_at, updated_at
		FROM graph_edges WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, wrapErr("list edges", err)
	}
	defer rows.Close()

	var out []*types.GraphEdge
	for rows.Next() {
		var e types.GraphEdge
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.TargetID, &e.Relationship,
			&e.Strength, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wrapErr("scan edge", err)
		}
		out = append(out, &e)
	}
	return out, wrapErr("iterate edges", rows.Err())
}

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
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		smp.ID, smp.UserID, smp.Metric, smp.Value,
		nullString(smp.Context), nullString(smp.MemoryID), smp.RecordedAt.UTC())
	return wrapErr("append sample", err)
}

// ListSamples returns samples recorded at or after since, oldest first.
func (s *Store) ListSamples(ctx context.Context, userID, metric string, since time.Time) ([]*types.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, metric, value, context, memory_id, recorded_at
		FROM metric_samples
		WHERE user_id = $1 AND recorded_at >= $2 AND ($3 = '' OR metric = $3)
		ORDER BY recorded_at ASC, seq ASC`,
		userID, since.UTC(), metric)
	if err != nil {
		return nil, wrapErr("list samples", err)
	}
	defer rows.Close()

	var out []*types.MetricSample
	for rows.Next() {
		var smp types.MetricSample
		var note, memory sql.NullString
		if err := rows.Scan(&smp.ID, &smp.UserID, &smp.Metric, &smp.Value, &note, &memory, &smp.RecordedAt); err != nil {
			return nil, wrapErr("scan sample", err)
		}
		smp.Context = note.String
		smp.MemoryID = memory.String
		smp.RecordedAt = smp.RecordedAt.UTC()
		out = append(out, &smp)
	}
	return out, wrapErr("iterate samples", rows.Err())
}

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, string(t.Type), t.ScheduledFor.UTC(), t.Message,
		nullString(t.MemoryID), t.Confidence, t.Sent, nullTime(t.SentAt), t.CreatedAt.UTC())
	return wrapErr("create trigger", err)
}

func scanTrigger(row interface{ Scan(...any) error }) (*types.EngagementTrigger, error) {
	var t types.EngagementTrigger
	var typ string
	var memoryID sql.NullString
	var sentAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &typ, &t.ScheduledFor, &t.Message, &memoryID,
		&t.Confidence, &t.Sent, &sentAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = types.TriggerType(typ)
	t.MemoryID = memoryID.String
	t.SentAt = timePtr(sentAt)
	t.ScheduledFor = t.ScheduledFor.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
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
		`SELECT `+triggerColumns+` FROM engagement_triggers WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("get trigger", err)
	}
	return t, nil
}

// ListDueTriggers returns unsent triggers scheduled in [from, now].
func (s *Store) ListDueTriggers(ctx context.Context, from, now time.Time, limit int) ([]*types.EngagementTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM engagement_triggers WHERE NOT sent AND scheduled_for <= $1`
	args := []any{now.UTC()}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += fmt.Sprintf(` AND scheduled_for >= $%d`, len(args))
	}
	query += ` ORDER BY scheduled_for ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryTriggers(ctx, query, args...)
}

// ListUserTriggers returns a user's triggers matching filter.
func (s *Store) ListUserTriggers(ctx context.Context, userID string, filter storage.TriggerFilter) ([]*types.EngagementTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM engagement_triggers WHERE user_id = $1`
	args := []any{userID}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if filter.Type != "" {
		add(` AND type = $%d`, string(filter.Type))
	}
	if filter.Sent != nil {
		add(` AND sent = $%d`, *filter.Sent)
	}
	if !filter.ScheduledFrom.IsZero() {
		add(` AND scheduled_for >= $%d`, filter.ScheduledFrom.UTC())
	}
	if !filter.ScheduledTo.IsZero() {
		add(` AND scheduled_for <= $%d`, filter.ScheduledTo.UTC())
	}
	if !filter.SentAfter.IsZero() {
		add(` AND sent_at > $%d`, filter.SentAfter.UTC())
	}
	query += ` ORDER BY scheduled_for ASC`
	return s.queryTriggers(ctx, query, args...)
}

// MarkTriggerSent flips sent exactly once; concurrent callers that lose get
// ErrAlreadySent.
func (s *Store) MarkTriggerSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE engagement_triggers SET sent = TRUE, sent_at = $1 WHERE id = $2 AND NOT sent`,
		sentAt.UTC(), id)
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

// GetDepth returns the stored relationship depth for a user.
func (s *Store) GetDepth(ctx context.Context, userID string) (*types.RelationshipDepth, error) {
	var d types.RelationshipDepth
	var stage string
	var milestones []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, intimacy_score, trust_score, vulnerability_level, stage,
		       inside_jokes_count, milestones, computed_at
		FROM relationship_depth WHERE user_id = $1`, userID,
	).Scan(&d.UserID, &d.IntimacyScore, &d.TrustScore, &d.VulnerabilityLevel, &stage,
		&d.InsideJokesCount, &milestones, &d.ComputedAt)
	if err != nil {
		return nil, wrapErr("get depth", err)
	}
	d.Stage = types.RelationshipStage(stage)
	d.ComputedAt = d.ComputedAt.UTC()
	if err := json.Unmarshal(milestones, &d.Milestones); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode milestones: %w", err)
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
		return fmt.Errorf("postgres: failed to encode milestones: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationship_depth (user_id, intimacy_score, trust_score, vulnerability_level,
			stage, inside_jokes_count, milestones, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			intimacy_score = EXCLUDED.intimacy_score,
			trust_score = EXCLUDED.trust_score,
			vulnerability_level = EXCLUDED.vulnerability_level,
			stage = EXCLUDED.stage,
			inside_jokes_count = EXCLUDED.inside_jokes_count,
			milestones = EXCLUDED.milestones,
			computed_at = EXCLUDED.computed_at`,
		d.UserID, d.IntimacyScore, d.TrustScore, d.VulnerabilityLevel, string(d.Stage),
		d.InsideJokesCount, string(raw), d.ComputedAt.UTC())
	return wrapErr("upsert depth", err)
}
