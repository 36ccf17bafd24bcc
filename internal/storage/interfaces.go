// Package storage provides composable repository interfaces for the Riya engine.
//
// The storage layer is designed with small, focused interfaces, one per
// entity, composed into Repository. Writes that can race between concurrent
// workers (graph upserts, relationship depth, trigger marking, verification
// updates) are single-statement conditional operations so that no
// application-level locking is needed.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/riya/pkg/types"
)

// UserRepository stores the minimal user record.
type UserRepository interface {
	// EnsureUser creates the user if missing. Existing users are left untouched.
	EnsureUser(ctx context.Context, user *types.User) error

	// GetUser retrieves a user by ID. Returns ErrNotFound if missing.
	GetUser(ctx context.Context, id string) (*types.User, error)

	// ListUserIDs returns all user IDs, used to pick prediction candidates.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// SessionRepository stores chat sessions and their messages.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// EndSession sets ended_at if the session is still active.
	// Ending an already ended session is a no-op.
	EndSession(ctx context.Context, id string, endedAt time.Time) error

	// ListSessions returns a user's sessions ordered by started_at ascending.
	ListSessions(ctx context.Context, userID string) ([]*types.Session, error)

	// LatestActiveSession returns the most recently started session with no
	// ended_at, or ErrNotFound.
	LatestActiveSession(ctx context.Context, userID string) (*types.Session, error)

	// AppendMessage inserts a message and bumps the session's message_count.
	// Inserting a message whose ID already exists is a no-op and reports
	// inserted=false, which makes emission idempotent on the message ID.
	AppendMessage(ctx context.Context, msg *types.Message) (inserted bool, err error)

	// ListMessages returns a session's messages in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// ListUserMessages returns a user's messages created at or after since,
	// ordered by created_at.
	ListUserMessages(ctx context.Context, userID string, since time.Time) ([]*types.Message, error)
}

// MemoryRepository stores four-layer memories.
type MemoryRepository interface {
	// CreateMemory persists a complete memory. Incomplete memories are
	// rejected with a *types.ValidationError.
	CreateMemory(ctx context.Context, m *types.Memory) error

	// GetMemory returns ErrNotFound if missing.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// ListMemories returns a user's memories, newest first.
	ListMemories(ctx context.Context, userID string, filter MemoryFilter) ([]*types.Memory, error)

	// TouchMemories increments reference_count and sets last_referenced_at
	// for each ID owned by userID.
	TouchMemories(ctx context.Context, userID string, ids []string, at time.Time) error

	// UpdateVerification writes a verification status. With
	// OnlyIfAutomatic the write is skipped when the stored status is
	// human-set; updated reports whether a row changed.
	// Returns ErrNotFound if the memory doesn't exist.
	UpdateVerification(ctx context.Context, id string, upd VerificationUpdate) (updated bool, err error)

	// DeleteMemory hard-deletes a memory together with the metric samples
	// and unsent triggers that reference it. Returns ErrNotFound if missing.
	DeleteMemory(ctx context.Context, id string) error
}

// GraphRepository stores the per-user knowledge graph.
type GraphRepository interface {
	// UpsertNode inserts the node or, when (user_id, name, type) exists,
	// bumps last_updated only. The stored node (with its ID) is returned.
	UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error)

	// UpsertEdge inserts the edge or overwrites strength when
	// (source_id, target_id, relationship) exists. Both endpoints must belong
	// to edge.UserID, otherwise ErrInvalidInput is returned and nothing is written.
	UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error)

	ListNodes(ctx context.Context, userID string) ([]*types.GraphNode, error)
	ListEdges(ctx context.Context, userID string) ([]*types.GraphEdge, error)
}

// TimelineRepository stores append-only metric samples.
type TimelineRepository interface {
	AppendSample(ctx context.Context, s *types.MetricSample) error

	// ListSamples returns samples recorded at or after since, oldest first.
	// An empty metric returns all metrics.
	ListSamples(ctx context.Context, userID, metric string, since time.Time) ([]*types.MetricSample, error)
}

// TriggerRepository stores engagement triggers.
type TriggerRepository interface {
	CreateTrigger(ctx context.Context, t *types.EngagementTrigger) error

	// GetTrigger returns ErrNotFound if missing.
	GetTrigger(ctx context.Context, id string) (*types.EngagementTrigger, error)

	// ListDueTriggers returns unsent triggers with from <= scheduled_for <= now,
	// oldest first, at most limit (0 = unlimited). A zero from is unbounded.
	ListDueTriggers(ctx context.Context, from, now time.Time, limit int) ([]*types.EngagementTrigger, error)

	// ListUserTriggers returns a user's triggers matching filter.
	ListUserTriggers(ctx context.Context, userID string, filter TriggerFilter) ([]*types.EngagementTrigger, error)

	// MarkTriggerSent atomically flips sent from false to true.
	// Returns ErrAlreadySent if another caller won, ErrNotFound if missing.
	MarkTriggerSent(ctx context.Context, id string, sentAt time.Time) error
}

// RelationshipRepository stores the materialized relationship depth.
type RelationshipRepository interface {
	// GetDepth returns ErrNotFound when the user has no stored depth.
	GetDepth(ctx context.Context, userID string) (*types.RelationshipDepth, error)

	// UpsertDepth inserts or replaces the user's row in one statement.
	UpsertDepth(ctx context.Context, d *types.RelationshipDepth) error
}

// VectorIndex stores memory embeddings for nearest-neighbour pre-filtering.
type VectorIndex interface {
	StoreEmbedding(ctx context.Context, memoryID, userID string, vec []float32) error

	// NearestMemories returns up to k memory IDs of userID ordered by
	// cosine similarity to vec, most similar first.
	NearestMemories(ctx context.Context, userID string, vec []float32, k int) ([]string, error)
}

// Repository composes every entity repository.
type Repository interface {
	UserRepository
	SessionRepository
	MemoryRepository
	GraphRepository
	TimelineRepository
	TriggerRepository
	RelationshipRepository
	VectorIndex

	// Close releases any resources held by the store.
	Close() error
}
