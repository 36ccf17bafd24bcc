package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Composite score weights.
const (
	weightRelevance  = 0.4
	weightImportance = 0.3
	weightRecency    = 0.2
	weightEmotional  = 0.1

	// recencyHorizonDays is the age after which recency contributes nothing.
	recencyHorizonDays = 30

	// minFinalScore is the exclusive floor for returned memories.
	minFinalScore = 20
)

type relevanceResponse struct {
	Relevance float64 `json:"relevance"`
}

// Validate implements llm.Validator.
func (r *relevanceResponse) Validate() error {
	if r.Relevance < 0 || r.Relevance > 100 {
		return fmt.Errorf("relevance %v outside 0-100", r.Relevance)
	}
	return nil
}

// ScoredMemory is one retrieval result with its score breakdown.
type ScoredMemory struct {
	Memory      *types.Memory `json:"memory"`
	Relevance   float64       `json:"relevance"`
	Importance  float64       `json:"importance"`
	RecencyDays float64       `json:"recency_days"`
	FinalScore  float64       `json:"final_score"`
}

// FinalScore combines relevance (0-100), importance (0-10) and recency in
// days into the composite retrieval score. Importance is counted twice: once
// as importance and once as emotional weight, which share a field.
func FinalScore(relevance, importance, recencyDays float64) float64 {
	imp := importance / 10 * 100
	recency := max(0, (recencyHorizonDays-min(recencyDays, recencyHorizonDays))/recencyHorizonDays) * 100
	return relevance*weightRelevance + imp*weightImportance + recency*weightRecency + imp*weightEmotional
}

// Retriever ranks a user's memories against what they just said.
type Retriever struct {
	repo     storage.Repository
	reasoner llm.Reasoner
	embedder llm.EmbeddingGenerator
	clock    clock.Clock
	cfg      Config
	metrics  *observe.Metrics
	logger   zerolog.Logger
}

// NewRetriever creates a retriever. embedder may be nil.
func NewRetriever(repo storage.Repository, reasoner llm.Reasoner, embedder llm.EmbeddingGenerator, clk clock.Clock, cfg Config, metrics *observe.Metrics, logger zerolog.Logger) *Retriever {
	return &Retriever{
		repo:     repo,
		reasoner: reasoner,
		embedder: embedder,
		clock:    clk,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns up to limit memories scoring above the floor, best first.
// Selected memories have their reference count bumped. A memory whose
// relevance scoring fails is left out; the others are still ranked.
func (r *Retriever) Retrieve(ctx context.Context, userID, utterance string, limit int) ([]*ScoredMemory, error) {
	start := time.Now()
	defer func() { r.metrics.RecordRetrieval(ctx, time.Since(start)) }()

	if userID == "" {
		return nil, storage.ErrInvalidInput
	}
	if limit <= 0 {
		limit = r.cfg.RetrievalLimit
	}
	if strings.TrimSpace(utterance) == "" {
		return []*ScoredMemory{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RetrievalTimeout)
	defer cancel()
	emitToContext(ctx, EventRetrievalStarted(userID, utterance))

	candidates, source, err := r.candidates(ctx, userID, utterance)
	if err != nil {
		return nil, err
	}
	emitToContext(ctx, EventCandidatesFound(len(candidates), source))

	now := r.clock.Now()
	scored := make([]*ScoredMemory, len(candidates))

	var g errgroup.Group
	g.SetLimit(r.cfg.ScoringConcurrency)
	for i, m := range candidates {
		g.Go(func() error {
			var resp relevanceResponse
			err := r.reasoner.Infer(ctx, llm.Request{
				Op:     llm.OpRelevance,
				System: llm.RelevanceSystemPrompt,
				User:   llm.RelevancePrompt(utterance, m.SearchText()),
			}, &resp)
			if err != nil {
				r.logger.Warn().Err(err).
					Str("user_id", userID).
					Str("memory_id", m.ID).
					Msg("relevance scoring failed, excluding memory")
				emitToContext(ctx, EventFilteredOut(m.ID, "relevance scoring failed"))
				return nil
			}
			recency := max(0, now.Sub(m.LastMentionedAt()).Hours()/24)
			scored[i] = &ScoredMemory{
				Memory:      m,
				Relevance:   resp.Relevance,
				Importance:  m.Importance(),
				RecencyDays: recency,
				FinalScore:  FinalScore(resp.Relevance, m.Importance(), recency),
			}
			emitToContext(ctx, EventScoredCandidate(scored[i]))
			return nil
		})
	}
	_ = g.Wait()

	results := rank(scored, limit)
	if _, tracing := TraceCollectorFromContext(ctx); tracing {
		traceFiltered(ctx, scored, results)
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, s := range results {
			ids[i] = s.Memory.ID
			s.Memory.ReferenceCount++
			s.Memory.LastReferencedAt = &now
		}
		if err := r.repo.TouchMemories(ctx, userID, ids, now); err != nil {
			r.logger.Warn().Err(err).Str("user_id", userID).Int("count", len(ids)).Msg("failed to bump memory references")
		}
	}

	ids := make([]string, len(results))
	for i, s := range results {
		ids[i] = s.Memory.ID
	}
	emitToContext(ctx, EventResultsReturned(ids))

	r.logger.Debug().
		Str("user_id", userID).
		Int("candidates", len(candidates)).
		Int("returned", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("retrieval complete")
	return results, nil
}

// rank drops failed and low-scoring entries, sorts by final score and
// truncates to limit.
func rank(scored []*ScoredMemory, limit int) []*ScoredMemory {
	out := make([]*ScoredMemory, 0, len(scored))
	for _, s := range scored {
		if s != nil && s.FinalScore > minFinalScore {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// traceFiltered reports every scored candidate that did not make the result.
func traceFiltered(ctx context.Context, scored, results []*ScoredMemory) {
	kept := make(map[string]bool, len(results))
	for _, s := range results {
		kept[s.Memory.ID] = true
	}
	for _, s := range scored {
		if s == nil || kept[s.Memory.ID] {
			continue
		}
		reason := "over limit"
		if s.FinalScore <= minFinalScore {
			reason = fmt.Sprintf("final score %.1f not above %d", s.FinalScore, minFinalScore)
		}
		emitToContext(ctx, EventFilteredOut(s.Memory.ID, reason))
	}
}

// candidates returns the working set to score and how it was chosen. Large
// memory sets are narrowed by embedding similarity when an embedder is
// configured, else by most recent mention.
func (r *Retriever) candidates(ctx context.Context, userID, utterance string) ([]*types.Memory, string, error) {
	all, err := r.repo.ListMemories(ctx, userID, storage.MemoryFilter{})
	if err != nil {
		return nil, "", fmt.Errorf("list memories: %w", err)
	}
	if len(all) <= r.cfg.MaxCandidates {
		return all, "all", nil
	}

	if r.embedder != nil {
		if narrowed, err := r.nearest(ctx, userID, utterance, all); err == nil && len(narrowed) > 0 {
			return narrowed, "embedding", nil
		} else if err != nil {
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("embedding pre-filter failed, using recency")
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastMentionedAt().After(all[j].LastMentionedAt())
	})
	return all[:r.cfg.MaxCandidates], "recency", nil
}

func (r *Retriever) nearest(ctx context.Context, userID, utterance string, all []*types.Memory) ([]*types.Memory, error) {
	vec, err := r.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, err
	}
	ids, err := r.repo.NearestMemories(ctx, userID, vec, r.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Memory, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}
	out := make([]*types.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
