package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Overall confidence thresholds for automatic statuses.
const (
	highConfidenceThreshold = 80
	inferredThreshold       = 60
)

// confidenceResponse is the five-axis rating the scorer prompt asks for.
type confidenceResponse struct {
	EventClarity         float64  `json:"event_clarity"`
	DateAccuracy         float64  `json:"date_accuracy"`
	EmotionalAccuracy    float64  `json:"emotional_accuracy"`
	RelationshipAccuracy float64  `json:"relationship_accuracy"`
	SignificanceAccuracy float64  `json:"significance_accuracy"`
	Uncertainties        []string `json:"uncertainties"`
}

func (r *confidenceResponse) axes() []float64 {
	return []float64{r.EventClarity, r.DateAccuracy, r.EmotionalAccuracy, r.RelationshipAccuracy, r.SignificanceAccuracy}
}

// Validate implements llm.Validator.
func (r *confidenceResponse) Validate() error {
	for _, v := range r.axes() {
		if v < 0 || v > 100 {
			return fmt.Errorf("axis score %v outside 0-100", v)
		}
	}
	return nil
}

// MemoryConfidence is the outcome of scoring one memory.
type MemoryConfidence struct {
	MemoryID string `json:"memory_id"`

	EventClarity         float64 `json:"event_clarity"`
	DateAccuracy         float64 `json:"date_accuracy"`
	EmotionalAccuracy    float64 `json:"emotional_accuracy"`
	RelationshipAccuracy float64 `json:"relationship_accuracy"`
	SignificanceAccuracy float64 `json:"significance_accuracy"`

	// Overall is the unweighted mean of the five axes (0-100).
	Overall float64 `json:"overall"`

	Uncertainties []string                 `json:"uncertainties,omitempty"`
	Status        types.VerificationStatus `json:"status"`

	// Applied is false when the stored status was human-set and the write
	// was skipped.
	Applied bool `json:"applied"`
}

// RescoreSummary counts the outcome of RescoreUser.
type RescoreSummary struct {
	Scored  int `json:"scored"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ConfidenceScorer rates how faithfully a memory reflects its transcript
// and records user confirmations.
type ConfidenceScorer struct {
	repo     storage.MemoryRepository
	reasoner llm.Reasoner
	logger   zerolog.Logger
}

// NewConfidenceScorer creates a new confidence scorer.
func NewConfidenceScorer(repo storage.MemoryRepository, reasoner llm.Reasoner, logger zerolog.Logger) *ConfidenceScorer {
	return &ConfidenceScorer{
		repo:     repo,
		reasoner: reasoner,
		logger:   logger.With().Str("component", "confidence_scorer").Logger(),
	}
}

// StatusForScore maps an overall confidence to an automatic status.
func StatusForScore(overall float64) types.VerificationStatus {
	switch {
	case overall > highConfidenceThreshold:
		return types.VerificationHighConfidence
	case overall > inferredThreshold:
		return types.VerificationInferred
	default:
		return types.VerificationNotVerified
	}
}

// Score rates a memory and stores the resulting status. Memories with a
// human-set status are reported but never overwritten; the storage write is
// conditional so a confirmation racing with scoring still wins.
func (c *ConfidenceScorer) Score(ctx context.Context, memoryID string) (*MemoryConfidence, error) {
	m, err := c.repo.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	if m.VerificationStatus.IsHumanSet() {
		return &MemoryConfidence{MemoryID: m.ID, Status: m.VerificationStatus}, nil
	}

	payload, err := json.Marshal(struct {
		Surface    *types.SurfaceLayer    `json:"surface"`
		Emotional  *types.EmotionalLayer  `json:"emotional"`
		Contextual *types.ContextualLayer `json:"contextual"`
	}{m.Surface, m.Emotional, m.Contextual})
	if err != nil {
		return nil, fmt.Errorf("encode memory: %w", err)
	}

	var resp confidenceResponse
	if err := c.reasoner.Infer(ctx, llm.Request{
		Op:     llm.OpConfidence,
		System: llm.ConfidenceSystemPrompt,
		User:   llm.ConfidencePrompt(string(payload), m.Transcript),
	}, &resp); err != nil {
		c.logger.Warn().Err(err).
			Str("user_id", m.UserID).
			Str("memory_id", m.ID).
			Str("event", m.Summary()).
			Msg("confidence inference failed")
		return nil, err
	}

	axes := resp.axes()
	sum := 0.0
	for _, v := range axes {
		sum += v
	}
	result := &MemoryConfidence{
		MemoryID:             m.ID,
		EventClarity:         resp.EventClarity,
		DateAccuracy:         resp.DateAccuracy,
		EmotionalAccuracy:    resp.EmotionalAccuracy,
		RelationshipAccuracy: resp.RelationshipAccuracy,
		SignificanceAccuracy: resp.SignificanceAccuracy,
		Overall:              sum / float64(len(axes)),
		Uncertainties:        resp.Uncertainties,
	}
	result.Status = StatusForScore(result.Overall)

	updated, err := c.repo.UpdateVerification(ctx, m.ID, storage.VerificationUpdate{
		Status:          result.Status,
		Note:            strings.Join(resp.Uncertainties, "; "),
		OnlyIfAutomatic: true,
	})
	if err != nil {
		return nil, fmt.Errorf("update verification: %w", err)
	}
	result.Applied = updated
	if !updated {
		// A user confirmed or disputed the memory while we were scoring.
		if fresh, err := c.repo.GetMemory(ctx, m.ID); err == nil {
			result.Status = fresh.VerificationStatus
		}
	}

	c.logger.Debug().
		Str("user_id", m.UserID).
		Str("memory_id", m.ID).
		Float64("overall", result.Overall).
		Str("status", string(result.Status)).
		Bool("applied", result.Applied).
		Msg("memory scored")
	return result, nil
}

// Confirm records the user's verdict on a memory. A non-empty clarification
// replaces the stored clarification note.
func (c *ConfidenceScorer) Confirm(ctx context.Context, memoryID string, affirmed bool, clarification string) (*types.Memory, error) {
	status := types.VerificationDisputed
	if affirmed {
		status = types.VerificationUserConfirmed
	}
	if _, err := c.repo.UpdateVerification(ctx, memoryID, storage.VerificationUpdate{
		Status: status,
		Note:   strings.TrimSpace(clarification),
	}); err != nil {
		return nil, fmt.Errorf("update verification: %w", err)
	}
	return c.repo.GetMemory(ctx, memoryID)
}

// RescoreUser scores every automatically rated memory of a user.
func (c *ConfidenceScorer) RescoreUser(ctx context.Context, userID string) (RescoreSummary, error) {
	var sum RescoreSummary
	memories, err := c.repo.ListMemories(ctx, userID, storage.MemoryFilter{})
	if err != nil {
		return sum, fmt.Errorf("list memories: %w", err)
	}
	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if m.VerificationStatus.IsHumanSet() {
			sum.Skipped++
			continue
		}
		res, err := c.Score(ctx, m.ID)
		switch {
		case err != nil:
			sum.Failed++
		case !res.Applied:
			sum.Skipped++
		default:
			sum.Scored++
		}
	}
	c.logger.Info().
		Str("user_id", userID).
		Int("scored", sum.Scored).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("rescore complete")
	return sum, nil
}
