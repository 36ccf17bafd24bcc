package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

type sentimentResponse struct {
	Score float64 `json:"score"`
}

// Validate implements llm.Validator.
func (r *sentimentResponse) Validate() error {
	if r.Score < 1 || r.Score > 10 {
		return fmt.Errorf("score %v outside 1-10", r.Score)
	}
	return nil
}

type insightResponse struct {
	Insight string `json:"insight"`
}

// TrendTracker records metric samples derived from memories and classifies
// their movement over time.
type TrendTracker struct {
	repo       storage.TimelineRepository
	reasoner   llm.Reasoner
	clock      clock.Clock
	policy     *policy.Policy
	windowDays int
	logger     zerolog.Logger
}

// NewTrendTracker creates a trend tracker. windowDays is the default window.
func NewTrendTracker(repo storage.TimelineRepository, reasoner llm.Reasoner, clk clock.Clock, pol *policy.Policy, windowDays int, logger zerolog.Logger) *TrendTracker {
	return &TrendTracker{
		repo:       repo,
		reasoner:   reasoner,
		clock:      clk,
		policy:     pol,
		windowDays: windowDays,
		logger:     logger.With().Str("component", "trend_tracker").Logger(),
	}
}

// RecordFromMemory appends one sample for every metric rule the memory
// matches. Values come from sentiment inference, falling back to the
// emotion-tag heuristic when inference fails.
func (t *TrendTracker) RecordFromMemory(ctx context.Context, m *types.Memory) ([]*types.MetricSample, error) {
	var out []*types.MetricSample
	for _, rule := range t.policy.Metrics {
		if !rule.Matches(m) {
			continue
		}

		value, source := t.score(ctx, rule, m)
		recordedAt := m.CreatedAt
		if recordedAt.IsZero() {
			recordedAt = t.clock.Now()
		}
		s := &types.MetricSample{
			ID:         uuid.NewString(),
			UserID:     m.UserID,
			Metric:     rule.Metric,
			Value:      value,
			Context:    m.Summary(),
			MemoryID:   m.ID,
			RecordedAt: recordedAt,
		}
		if err := t.repo.AppendSample(ctx, s); err != nil {
			return out, fmt.Errorf("append %s sample: %w", rule.Metric, err)
		}
		t.logger.Debug().
			Str("user_id", m.UserID).
			Str("metric", rule.Metric).
			Float64("value", value).
			Str("source", source).
			Msg("metric sample recorded")
		out = append(out, s)
	}
	return out, nil
}

func (t *TrendTracker) score(ctx context.Context, rule policy.MetricRule, m *types.Memory) (float64, string) {
	var resp sentimentResponse
	err := t.reasoner.Infer(ctx, llm.Request{
		Op:     llm.OpSentiment,
		System: llm.SentimentSystemPrompt,
		User:   llm.SentimentPrompt(rule.Metric, m.SearchText()),
	}, &resp)
	if err == nil {
		return math.Round(resp.Score*10) / 10, "inference"
	}

	t.logger.Debug().Err(err).Str("user_id", m.UserID).Str("metric", rule.Metric).Msg("sentiment inference failed, using heuristic")
	v := t.policy.Valence(m)
	if !rule.HigherIsBetter {
		v = 11 - v
	}
	return math.Round(v*10) / 10, "heuristic"
}

// Trend returns the samples of a metric within the last windowDays (the
// default window when <= 0) and classifies the change from oldest to newest.
// Fewer than two samples yield TrendNotEnoughData with no error.
func (t *TrendTracker) Trend(ctx context.Context, userID, metric string, windowDays int) (*types.Trend, error) {
	if windowDays <= 0 {
		windowDays = t.windowDays
	}
	since := t.clock.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)

	samples, err := t.repo.ListSamples(ctx, userID, metric, since)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	if samples == nil {
		samples = []*types.MetricSample{}
	}

	trend := &types.Trend{
		UserID:     userID,
		Metric:     metric,
		WindowDays: windowDays,
		Samples:    samples,
		Direction:  types.TrendNotEnoughData,
	}
	if len(samples) < 2 {
		return trend, nil
	}

	trend.Change = samples[len(samples)-1].Value - samples[0].Value
	trend.Direction = t.classify(metric, trend.Change)
	return trend, nil
}

// classify applies the threshold and the metric's polarity to a change.
func (t *TrendTracker) classify(metric string, change float64) types.TrendDirection {
	higherIsBetter := true
	if rule, ok := t.policy.MetricRule(metric); ok {
		higherIsBetter = rule.HigherIsBetter
	}
	if math.Abs(change) <= t.policy.TrendThreshold {
		return types.TrendStable
	}
	if (change > 0) == higherIsBetter {
		return types.TrendImproving
	}
	return types.TrendDeclining
}

// Insight asks for a one-sentence description of a trend. It returns ""
// when there is nothing to describe or the call fails.
func (t *TrendTracker) Insight(ctx context.Context, trend *types.Trend) string {
	if trend == nil || trend.Direction == types.TrendNotEnoughData {
		return ""
	}
	values := make([]float64, len(trend.Samples))
	for i, s := range trend.Samples {
		values[i] = s.Value
	}

	var resp insightResponse
	if err := t.reasoner.Infer(ctx, llm.Request{
		Op:     llm.OpInsight,
		System: llm.InsightSystemPrompt,
		User:   llm.InsightPrompt(trend.Metric, string(trend.Direction), values),
	}, &resp); err != nil {
		t.logger.Debug().Err(err).Str("user_id", trend.UserID).Str("metric", trend.Metric).Msg("insight inference failed")
		return ""
	}
	return resp.Insight
}
