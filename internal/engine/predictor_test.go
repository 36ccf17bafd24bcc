package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/pkg/types"
)

func newTestPredictor(env *testEnv) *Predictor {
	return NewPredictor(env.repo, newTestTrendTracker(env), env.clock, env.policy, env.cfg, nil, zerolog.Nop())
}

func triggerTypes(ts []*types.EngagementTrigger) []types.TriggerType {
	out := make([]types.TriggerType, len(ts))
	for i, t := range ts {
		out[i] = t.Type
	}
	return out
}

func TestInactivityThreshold(t *testing.T) {
	pred := policy.DefaultPolicy().Prediction
	sessionsAt := func(hours ...int) []*types.Session {
		var out []*types.Session
		for _, h := range hours {
			out = append(out, &types.Session{StartedAt: testNow.Add(time.Duration(h) * time.Hour)})
		}
		return out
	}

	tests := []struct {
		name     string
		sessions []*types.Session
		want     time.Duration
	}{
		{"too few sessions", sessionsAt(0, 30), 48 * time.Hour},
		{"median doubled", sessionsAt(0, 30, 70, 120), 80 * time.Hour},
		{"clamped to minimum", sessionsAt(0, 10, 20, 40), 24 * time.Hour},
		{"clamped to maximum", sessionsAt(0, 100, 200, 300), 7 * 24 * time.Hour},
		{"unordered input", sessionsAt(120, 0, 70, 30), 80 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InactivityThreshold(tt.sessions, pred))
		})
	}
}

func TestPredictUser_MissYouAfterInactivity(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	env.seedSession(t, "u1", testNow.Add(-51*time.Hour), testNow.Add(-50*time.Hour), 2, "see you soon")
	p := newTestPredictor(env)

	created, err := p.PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, types.TriggerMissYou, created[0].Type)
	assert.True(t, testNow.Equal(created[0].ScheduledFor))
	assert.GreaterOrEqual(t, created[0].Confidence, 60.0)
	assert.NotEmpty(t, created[0].Message)

	// The unsent trigger blocks a duplicate.
	created, err = p.PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestPredictUser_NoMissYouInsideThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	env.seedSession(t, "u1", testNow.Add(-48*time.Hour), testNow.Add(-47*time.Hour), 2, "see you soon")

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestPredictUser_Cooldown(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	env.seedSession(t, "u1", testNow.Add(-51*time.Hour), testNow.Add(-50*time.Hour), 2, "see you soon")
	sent := env.seedTrigger(t, "u1", types.TriggerMissYou, testNow.Add(-12*time.Hour))
	require.NoError(t, env.repo.MarkTriggerSent(context.Background(), sent.ID, testNow.Add(-10*time.Hour)))

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, created)

	// Past the 24h cooldown the candidate is allowed again.
	env.clock.Advance(15 * time.Hour)
	created, err = newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []types.TriggerType{types.TriggerMissYou}, triggerTypes(created))
}

func TestPredictUser_Celebration(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	m := env.seedMemory(t, "u1", "got the offer from Acme", 8, testNow.Add(-10*time.Hour), func(m *types.Memory) {
		m.Emotional.Emotions = []string{"proud", "excited"}
	})

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, types.TriggerCelebration, created[0].Type)
	assert.Equal(t, m.ID, created[0].MemoryID)
	assert.InDelta(t, 86, created[0].Confidence, 0.001)
	assert.Contains(t, created[0].Message, "got the offer from Acme")
}

func TestPredictUser_CelebrationWindowExpired(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	env.seedMemory(t, "u1", "got the offer from Acme", 8, testNow.Add(-80*time.Hour), func(m *types.Memory) {
		m.Emotional.Emotions = []string{"proud"}
	})

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestPredictUser_StressClusterSchedulesSupport(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	// Two high-stress Tuesdays.
	env.seedSample(t, "u1", types.MetricStressLevel, 8, time.Date(2026, 2, 17, 18, 0, 0, 0, time.UTC))
	env.seedSample(t, "u1", types.MetricStressLevel, 8, time.Date(2026, 2, 24, 18, 0, 0, 0, time.UTC))
	env.seedSample(t, "u1", types.MetricStressLevel, 3, time.Date(2026, 2, 26, 18, 0, 0, 0, time.UTC))

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)

	var support *types.EngagementTrigger
	for _, c := range created {
		if c.Type == types.TriggerSupport {
			support = c
		}
	}
	require.NotNil(t, support)
	assert.True(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC).Equal(support.ScheduledFor))
	assert.InDelta(t, 75, support.Confidence, 0.001)
	assert.Contains(t, support.Message, "Tuesday")
}

func TestPredictUser_DecliningTrendSchedulesCheckIn(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	env.seedSample(t, "u1", types.MetricWorkSatisfaction, 8, testNow.Add(-10*oneDay))
	env.seedSample(t, "u1", types.MetricWorkSatisfaction, 4, testNow.Add(-1*oneDay))

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []types.TriggerType{types.TriggerCheckIn}, triggerTypes(created))
	assert.InDelta(t, 70, created[0].Confidence, 0.001)
}

func TestPredictUser_Advice(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	for i, event := range []string{"argued with manager", "missed promotion"} {
		env.seedMemory(t, "u1", event, 6, testNow.Add(-time.Duration(2-i)*oneDay), func(m *types.Memory) {
			m.Emotional.Emotions = []string{"frustrated"}
			m.Contextual.Significance = types.SignificanceModerate
		})
	}

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []types.TriggerType{types.TriggerAdvice}, triggerTypes(created))
	assert.InDelta(t, 80, created[0].Confidence, 0.001)
	assert.Contains(t, created[0].Message, "missed promotion")
}

func TestPredictUser_GoodMorningHabit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	for d := 6; d >= 1; d-- {
		start := time.Date(2026, 3, 2-d, 7, 0, 0, 0, time.UTC)
		env.seedSession(t, "u1", start, start.Add(30*time.Minute), 1, "morning!")
	}

	created, err := newTestPredictor(env).PredictUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []types.TriggerType{types.TriggerGoodMorning}, triggerTypes(created))
	assert.True(t, time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC).Equal(created[0].ScheduledFor))
	assert.InDelta(t, 95, created[0].Confidence, 0.001)
}

func TestPredictAll(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "quiet")
	env.seedUser(t, "away")
	env.seedSession(t, "away", testNow.Add(-80*time.Hour), testNow.Add(-79*time.Hour), 2, "bye")

	sum, err := newTestPredictor(env).PredictAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PredictSummary{Users: 2, Created: 1}, sum)
}
