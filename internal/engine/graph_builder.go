package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

type graphResponse struct {
	Entities      []graphEntity   `json:"entities"`
	Relationships []graphRelation `json:"relationships"`
}

type graphEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type graphRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Strength int    `json:"strength"`
}

// GraphUpdate summarises one Build call.
type GraphUpdate struct {
	Nodes   []*types.GraphNode `json:"nodes"`
	Edges   []*types.GraphEdge `json:"edges"`
	Dropped int                `json:"dropped"` // entities or relations skipped
}

// GraphBuilder maintains a user's knowledge graph from free text.
type GraphBuilder struct {
	repo     storage.GraphRepository
	reasoner llm.Reasoner
	clock    clock.Clock
	metrics  *observe.Metrics
	logger   zerolog.Logger
}

// NewGraphBuilder creates a graph builder.
func NewGraphBuilder(repo storage.GraphRepository, reasoner llm.Reasoner, clk clock.Clock, metrics *observe.Metrics, logger zerolog.Logger) *GraphBuilder {
	return &GraphBuilder{
		repo:     repo,
		reasoner: reasoner,
		clock:    clk,
		metrics:  metrics,
		logger:   logger.With().Str("component", "graph_builder").Logger(),
	}
}

// Build extracts entities and relationships from text and upserts them.
// Relationships may only reference entities from the same response. A
// failed inference yields an empty update.
func (g *GraphBuilder) Build(ctx context.Context, userID, text string) (*GraphUpdate, error) {
	if userID == "" {
		return nil, storage.ErrInvalidInput
	}
	update := &GraphUpdate{}
	if strings.TrimSpace(text) == "" {
		return update, nil
	}
	log := g.logger.With().Str("user_id", userID).Logger()

	var resp graphResponse
	if err := g.reasoner.Infer(ctx, llm.Request{
		Op:     llm.OpGraph,
		System: llm.GraphSystemPrompt,
		User:   llm.GraphPrompt(text),
	}, &resp); err != nil {
		log.Warn().Err(err).Int("text_len", len(text)).Msg("graph inference failed, skipping")
		return update, nil
	}

	now := g.clock.Now()
	ids := make(map[string]string, len(resp.Entities))

	for _, e := range resp.Entities {
		name := strings.TrimSpace(e.Name)
		typ := types.NormalizeNodeType(e.Type)
		if name == "" || typ == "" {
			update.Dropped++
			continue
		}

		var stored *types.GraphNode
		err := retryOnConflict(func() error {
			var err error
			stored, err = g.repo.UpsertNode(ctx, &types.GraphNode{
				ID:          uuid.NewString(),
				UserID:      userID,
				Name:        name,
				Type:        typ,
				CreatedAt:   now,
				LastUpdated: now,
			})
			return err
		})
		g.metrics.RecordGraphUpsert(ctx, "node", err)
		if err != nil {
			update.Dropped++
			log.Error().Err(err).Str("entity", name).Str("type", typ).Msg("node upsert failed")
			continue
		}
		ids[nameKey(name)] = stored.ID
		update.Nodes = append(update.Nodes, stored)
	}

	for _, r := range resp.Relationships {
		src, okSrc := ids[nameKey(r.Source)]
		dst, okDst := ids[nameKey(r.Target)]
		relation := types.NormalizeRelationship(r.Relation)
		if !okSrc || !okDst || relation == "" || src == dst {
			update.Dropped++
			log.Debug().
				Str("source", r.Source).
				Str("target", r.Target).
				Str("relation", r.Relation).
				Msg("dropping unresolved relationship")
			continue
		}

		var stored *types.GraphEdge
		err := retryOnConflict(func() error {
			var err error
			stored, err = g.repo.UpsertEdge(ctx, &types.GraphEdge{
				ID:           uuid.NewString(),
				UserID:       userID,
				SourceID:     src,
				TargetID:     dst,
				Relationship: relation,
				Strength:     types.ClampStrength(r.Strength),
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			return err
		})
		g.metrics.RecordGraphUpsert(ctx, "edge", err)
		if err != nil {
			update.Dropped++
			log.Error().Err(err).
				Str("source", r.Source).
				Str("target", r.Target).
				Str("relation", relation).
				Msg("edge upsert failed")
			continue
		}
		update.Edges = append(update.Edges, stored)
	}

	log.Debug().
		Int("nodes", len(update.Nodes)).
		Int("edges", len(update.Edges)).
		Int("dropped", update.Dropped).
		Msg("graph updated")
	return update, nil
}

// Graph returns a user's nodes and edges.
func (g *GraphBuilder) Graph(ctx context.Context, userID string) (*GraphUpdate, error) {
	nodes, err := g.repo.ListNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := g.repo.ListEdges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	if nodes == nil {
		nodes = []*types.GraphNode{}
	}
	if edges == nil {
		edges = []*types.GraphEdge{}
	}
	return &GraphUpdate{Nodes: nodes, Edges: edges}, nil
}

// retryOnConflict runs fn and retries once if it failed with a storage conflict.
func retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, storage.ErrConflict) {
		err = fn()
	}
	return err
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
