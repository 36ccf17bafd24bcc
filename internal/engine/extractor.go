package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// minTranscriptTurns is the shortest conversation worth analysing.
const minTranscriptTurns = 2

// checkInDelay is how long after a negative-mood conversation the check-in fires.
const checkInDelay = 24 * time.Hour

// extractionResponse is the envelope the extraction prompt asks for.
// Memories stay raw so that each candidate is decoded on its own.
type extractionResponse struct {
	Memories       []json.RawMessage `json:"memories"`
	EmotionalState *emotionalState   `json:"emotional_state"`
}

type emotionalState struct {
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity"`
}

type memoryCandidate struct {
	Surface    *types.SurfaceLayer    `json:"surface"`
	Emotional  *types.EmotionalLayer  `json:"emotional"`
	Contextual *types.ContextualLayer `json:"contextual"`
	Predictive *types.PredictiveLayer `json:"predictive"`
}

// Extractor turns a conversation transcript into four-layer memories and
// the follow-up and check-in triggers they imply.
type Extractor struct {
	repo     storage.Repository
	reasoner llm.Reasoner
	embedder llm.EmbeddingGenerator
	bus      *bus.Bus
	clock    clock.Clock
	policy   *policy.Policy
	metrics  *observe.Metrics
	logger   zerolog.Logger
}

// NewExtractor creates an extractor. embedder may be nil.
func NewExtractor(repo storage.Repository, reasoner llm.Reasoner, embedder llm.EmbeddingGenerator, b *bus.Bus, clk clock.Clock, pol *policy.Policy, metrics *observe.Metrics, logger zerolog.Logger) *Extractor {
	return &Extractor{
		repo:     repo,
		reasoner: reasoner,
		embedder: embedder,
		bus:      b,
		clock:    clk,
		policy:   pol,
		metrics:  metrics,
		logger:   logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract runs one extraction inference over transcript and persists every
// valid candidate. Invalid candidates are dropped without affecting their
// siblings; a failed inference yields no memories and no error.
func (x *Extractor) Extract(ctx context.Context, userID, sessionID string, transcript types.Transcript) ([]*types.Memory, error) {
	if userID == "" {
		return nil, storage.ErrInvalidInput
	}
	log := x.logger.With().Str("user_id", userID).Str("session_id", sessionID).Logger()

	if len(transcript) < minTranscriptTurns {
		log.Debug().Int("turns", len(transcript)).Msg("transcript too short, skipping extraction")
		return nil, nil
	}

	now := x.clock.Now()
	raw := transcript.String()

	var resp extractionResponse
	err := x.reasoner.Infer(ctx, llm.Request{
		Op:     llm.OpExtract,
		System: llm.ExtractionSystemPrompt,
		User:   llm.ExtractionPrompt(raw, now.Format(time.RFC3339)),
	}, &resp)
	if err != nil {
		log.Warn().Err(err).Int("turns", len(transcript)).Msg("extraction inference failed, no memories created")
		return nil, nil
	}

	var (
		persisted []*types.Memory
		dropped   int
	)
	for i, item := range resp.Memories {
		m, err := x.buildMemory(item, userID, sessionID, raw, now)
		if err != nil {
			dropped++
			log.Warn().Err(err).Int("candidate", i).Msg("dropping invalid memory candidate")
			continue
		}
		if err := x.repo.CreateMemory(ctx, m); err != nil {
			dropped++
			log.Error().Err(err).Str("event", m.Summary()).Msg("failed to persist memory")
			continue
		}
		persisted = append(persisted, m)
		x.embed(ctx, m)
		x.scheduleFollowUp(ctx, m, now)
	}
	x.metrics.RecordExtraction(ctx, len(persisted), dropped)

	if resp.EmotionalState != nil && x.policy.IsNegativeMood(resp.EmotionalState.Mood) {
		x.scheduleCheckIn(ctx, userID, resp.EmotionalState, persisted, now)
	}

	for _, m := range persisted {
		x.bus.Publish(ctx, bus.MemoryCreated{Memory: m})
	}

	log.Info().
		Int("persisted", len(persisted)).
		Int("dropped", dropped).
		Msg("extraction complete")
	return persisted, nil
}

func (x *Extractor) buildMemory(item json.RawMessage, userID, sessionID, transcript string, now time.Time) (*types.Memory, error) {
	var c memoryCandidate
	if err := llm.DecodeItem(item, &c); err != nil {
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, &types.ValidationError{Reason: fmt.Sprintf("malformed candidate: %v", err)}
	}

	m := &types.Memory{
		ID:                 uuid.NewString(),
		UserID:             userID,
		SessionID:          sessionID,
		Surface:            c.Surface,
		Emotional:          c.Emotional,
		Contextual:         c.Contextual,
		Predictive:         c.Predictive,
		VerificationStatus: types.VerificationNotVerified,
		Transcript:         transcript,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *Extractor) embed(ctx context.Context, m *types.Memory) {
	if x.embedder == nil {
		return
	}
	vec, err := x.embedder.Embed(ctx, m.SearchText())
	if err != nil {
		x.logger.Warn().Err(err).Str("user_id", m.UserID).Str("memory_id", m.ID).Msg("embedding failed")
		return
	}
	if err := x.repo.StoreEmbedding(ctx, m.ID, m.UserID, vec); err != nil {
		x.logger.Warn().Err(err).Str("user_id", m.UserID).Str("memory_id", m.ID).Msg("failed to store embedding")
	}
}

func (x *Extractor) scheduleFollowUp(ctx context.Context, m *types.Memory, now time.Time) {
	at, ok := ResolveFollowUpTiming(m.Predictive.BestFollowUpTiming, now)
	if !ok {
		return
	}
	x.createTrigger(ctx, &types.EngagementTrigger{
		ID:           uuid.NewString(),
		UserID:       m.UserID,
		Type:         types.TriggerFollowUp,
		ScheduledFor: at,
		Message:      x.policy.Template(types.TriggerFollowUp, map[string]string{"event": m.Summary()}),
		MemoryID:     m.ID,
		Confidence:   clampScore(m.Predictive.Confidence * 100),
		CreatedAt:    now,
	})
}

func (x *Extractor) scheduleCheckIn(ctx context.Context, userID string, state *emotionalState, persisted []*types.Memory, now time.Time) {
	t := &types.EngagementTrigger{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         types.TriggerCheckIn,
		ScheduledFor: now.Add(checkInDelay),
		Message:      x.policy.Template(types.TriggerCheckIn, map[string]string{"mood": state.Mood}),
		Confidence:   clampScore(50 + state.Intensity*5),
		CreatedAt:    now,
	}
	if len(persisted) > 0 {
		t.MemoryID = persisted[0].ID
	}
	x.createTrigger(ctx, t)
}

func (x *Extractor) createTrigger(ctx context.Context, t *types.EngagementTrigger) {
	if err := x.repo.CreateTrigger(ctx, t); err != nil {
		x.logger.Error().Err(err).
			Str("user_id", t.UserID).
			Str("trigger_type", string(t.Type)).
			Msg("failed to create trigger")
		return
	}
	x.metrics.RecordTriggerCreated(ctx, string(t.Type))
	x.logger.Debug().
		Str("user_id", t.UserID).
		Str("trigger_type", string(t.Type)).
		Time("scheduled_for", t.ScheduledFor).
		Msg("trigger scheduled")
}

// clampScore keeps a 0-100 score in range.
func clampScore(v float64) float64 {
	return max(0, min(100, v))
}
