package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/pkg/types"
)

const confidenceFixture = `{"event_clarity":90,"date_accuracy":80,"emotional_accuracy":85,
"relationship_accuracy":95,"significance_accuracy":90,"uncertainties":["exact date unclear"]}`

func newTestScorer(env *testEnv) *ConfidenceScorer {
	return NewConfidenceScorer(env.repo, env.reasoner, zerolog.Nop())
}

func TestStatusForScore(t *testing.T) {
	tests := []struct {
		overall float64
		want    types.VerificationStatus
	}{
		{100, types.VerificationHighConfidence},
		{80.5, types.VerificationHighConfidence},
		{80, types.VerificationInferred},
		{61, types.VerificationInferred},
		{60, types.VerificationNotVerified},
		{0, types.VerificationNotVerified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForScore(tt.overall), "overall %v", tt.overall)
	}
}

func TestScore_StoresStatusAndUncertainties(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.respond(llm.OpConfidence, confidenceFixture)
	m := env.seedMemory(t, "u1", "job interview at Acme", 7, testNow, nil)

	res, err := newTestScorer(env).Score(context.Background(), m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 88, res.Overall, 0.001)
	assert.Equal(t, types.VerificationHighConfidence, res.Status)
	assert.True(t, res.Applied)

	stored, err := env.repo.GetMemory(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationHighConfidence, stored.VerificationStatus)
	assert.Equal(t, "exact date unclear", stored.ClarificationNote)
}

func TestScore_NeverOverwritesHumanStatus(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.respond(llm.OpConfidence, confidenceFixture)
	m := env.seedMemory(t, "u1", "moved to Pune", 6, testNow, func(m *types.Memory) {
		m.VerificationStatus = types.VerificationUserConfirmed
	})

	res, err := newTestScorer(env).Score(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, types.VerificationUserConfirmed, res.Status)
	assert.Equal(t, 0, env.reasoner.callCount(llm.OpConfidence))
}

func TestScore_OutOfRangeAxisIsMalformed(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.respond(llm.OpConfidence, `{"event_clarity":120,"date_accuracy":80,"emotional_accuracy":85,
"relationship_accuracy":95,"significance_accuracy":90,"uncertainties":[]}`)
	m := env.seedMemory(t, "u1", "job interview at Acme", 7, testNow, nil)

	_, err := newTestScorer(env).Score(context.Background(), m.ID)
	var ie *llm.InferenceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, llm.KindMalformed, ie.Kind)

	stored, err := env.repo.GetMemory(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationNotVerified, stored.VerificationStatus)
}

func TestConfirm(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedMemory(t, "u1", "job interview at Acme", 7, testNow, nil)
	s := newTestScorer(env)

	got, err := s.Confirm(context.Background(), m.ID, false, "  it was on Tuesday ")
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisputed, got.VerificationStatus)
	assert.Equal(t, "it was on Tuesday", got.ClarificationNote)

	got, err = s.Confirm(context.Background(), m.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, types.VerificationUserConfirmed, got.VerificationStatus)
	assert.Equal(t, "it was on Tuesday", got.ClarificationNote)
}

func TestRescoreUser_SkipsDisputedAndCountsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.handle(llm.OpConfidence, func(req llm.Request) (string, error) {
		if strings.Contains(req.User, "broken") {
			return "", errors.New("connection reset")
		}
		return confidenceFixture, nil
	})
	env.seedMemory(t, "u1", "job interview at Acme", 7, testNow, nil)
	env.seedMemory(t, "u1", "adopted a cat", 5, testNow, nil)
	env.seedMemory(t, "u1", "broken record", 3, testNow, nil)
	disputed := env.seedMemory(t, "u1", "never went to Goa", 4, testNow, func(m *types.Memory) {
		m.VerificationStatus = types.VerificationDisputed
	})

	sum, err := newTestScorer(env).RescoreUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, RescoreSummary{Scored: 2, Skipped: 1, Failed: 1}, sum)
	assert.Equal(t, 3, env.reasoner.callCount(llm.OpConfidence))

	stored, err := env.repo.GetMemory(context.Background(), disputed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisputed, stored.VerificationStatus)
}

func TestConfidence_DisputeSurvivesRescore(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.respond(llm.OpConfidence, `{"event_clarity":70,"date_accuracy":70,"emotional_accuracy":70,
"relationship_accuracy":70,"significance_accuracy":70,"uncertainties":["who was there"]}`)
	m := env.seedMemory(t, "u1", "dinner with Kabir", 5, testNow, nil)
	s := newTestScorer(env)
	ctx := context.Background()

	res, err := s.Score(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 70, res.Overall, 0.001)
	assert.Equal(t, types.VerificationInferred, res.Status)
	assert.True(t, res.Applied)

	got, err := s.Confirm(ctx, m.ID, false, "it was lunch, not dinner")
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisputed, got.VerificationStatus)

	sum, err := s.RescoreUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, RescoreSummary{Scored: 0, Skipped: 1}, sum)
	assert.Equal(t, 1, env.reasoner.callCount(llm.OpConfidence))

	stored, err := env.repo.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisputed, stored.VerificationStatus)
	assert.Equal(t, "it was lunch, not dinner", stored.ClarificationNote)
}
