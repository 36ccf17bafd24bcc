package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage/storagetest"
	"github.com/scrypster/riya/pkg/types"
)

func newTestDepth(env *testEnv) *DepthCalculator {
	return NewDepthCalculator(env.repo, env.bus, env.clock, env.policy, zerolog.Nop())
}

// seedDailySessions stores n ended sessions of ten messages, one per day,
// the last one today.
func seedDailySessions(t *testing.T, env *testEnv, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		start := testNow.Add(-time.Duration(n-1-i) * oneDay).Add(-2 * time.Hour)
		env.seedSession(t, userID, start, start.Add(30*time.Minute), 10, "work was busy")
	}
}

func TestComputeDepth_Empty(t *testing.T) {
	d, sc := ComputeDepth(History{Now: testNow}, policy.DefaultPolicy())
	assert.Equal(t, 0, d.IntimacyScore)
	assert.Equal(t, 0, d.TrustScore)
	assert.Equal(t, 0, d.VulnerabilityLevel)
	assert.Equal(t, types.StageAcquainted, d.Stage)
	assert.Empty(t, d.Milestones)
	assert.Equal(t, 0, sc.ConsecutiveDays)
}

func TestComputeDepth_Components(t *testing.T) {
	m := storagetest.NewMemory("u1", "told a silly story", 5)
	m.Emotional.Vulnerability = 8
	m.Emotional.Emotions = []string{"funny"}

	h := History{
		Sessions: []*types.Session{{ID: "s1", UserID: "u1", StartedAt: testNow, MessageCount: 2}},
		Messages: []*types.Message{
			{SessionID: "s1", Role: types.RoleUser, Text: "I'm scared and lonely", CreatedAt: testNow},
			{SessionID: "s1", Role: types.RoleAssistant, Text: "you are not lonely, I'm scared for you", CreatedAt: testNow},
		},
		Memories: []*types.Memory{m},
		Now:      testNow,
	}
	d, sc := ComputeDepth(h, policy.DefaultPolicy())

	assert.InDelta(t, 2, sc.Conversation, 0.001)
	assert.InDelta(t, 6, sc.Engagement, 0.001)
	assert.Equal(t, 1, sc.ConsecutiveDays)
	assert.InDelta(t, 0.6, sc.Topic, 0.001) // career weighs 3
	assert.Equal(t, 2, sc.VulnerabilityMentions)

	assert.Equal(t, 9, d.IntimacyScore)
	assert.Equal(t, 13, d.TrustScore)         // 5*2 + 2*1 + 1*1
	assert.Equal(t, 16, d.VulnerabilityLevel) // 3*2 + 10*1
	assert.Equal(t, 1, d.InsideJokesCount)
	assert.Equal(t, types.StageAcquainted, d.Stage)
	require.Len(t, d.Milestones, 1)
	assert.Equal(t, MilestoneFirstSession, d.Milestones[0].Name)
}

func TestComputeDepth_ScoresAreClamped(t *testing.T) {
	var sessions []*types.Session
	var messages []*types.Message
	for i := 0; i < 80; i++ {
		at := testNow.Add(-time.Duration(i) * oneDay)
		sessions = append(sessions, &types.Session{StartedAt: at, MessageCount: 40})
		messages = append(messages, &types.Message{Role: types.RoleUser, Text: "scared afraid lonely insecure", CreatedAt: at})
	}
	d, _ := ComputeDepth(History{Sessions: sessions, Messages: messages, Now: testNow}, policy.DefaultPolicy())
	assert.LessOrEqual(t, d.IntimacyScore, 100)
	assert.Equal(t, 100, d.TrustScore)
	assert.Equal(t, 100, d.VulnerabilityLevel)
}

func TestConsecutiveActiveDays_StopsAtGap(t *testing.T) {
	at := func(d int) time.Time { return testNow.Add(-time.Duration(d) * oneDay) }
	h := History{Sessions: []*types.Session{
		{StartedAt: at(0)}, {StartedAt: at(1)}, {StartedAt: at(3)}, {StartedAt: at(4)},
	}}
	assert.Equal(t, 2, consecutiveActiveDays(h))
}

func TestMergeMilestones_KeepsEarliest(t *testing.T) {
	early := testNow.Add(-10 * oneDay)
	got := mergeMilestones(
		[]types.Milestone{{Name: "reached_friendly", ReachedAt: early}},
		[]types.Milestone{
			{Name: "reached_friendly", ReachedAt: testNow},
			{Name: MilestoneFirstSession, ReachedAt: early.Add(-oneDay)},
		},
	)
	require.Len(t, got, 2)
	assert.Equal(t, MilestoneFirstSession, got[0].Name)
	assert.Equal(t, "reached_friendly", got[1].Name)
	assert.True(t, early.Equal(got[1].ReachedAt))
}

func TestDepthGet_ColdStart(t *testing.T) {
	env := newTestEnv(t)
	d, err := newTestDepth(env).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StageAcquainted, d.Stage)
	assert.Equal(t, 0, d.IntimacyScore)
	assert.NotNil(t, d.Milestones)
}

func TestRecompute_ReachesFriendlyAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	seedDailySessions(t, env, "u1", 10)

	var mu sync.Mutex
	var changes []bus.StageChanged
	bus.Subscribe(env.bus, func(_ context.Context, ev bus.StageChanged) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, ev)
		return nil
	})

	calc := newTestDepth(env)
	d, err := calc.Recompute(context.Background(), "u1")
	require.NoError(t, err)

	// 20 conversation + 30 engagement + 6.7 consistency.
	assert.Equal(t, 57, d.IntimacyScore)
	assert.Equal(t, types.StageFriendly, d.Stage)
	assert.Equal(t, 30, d.TrustScore)

	mu.Lock()
	require.Len(t, changes, 1)
	assert.Equal(t, types.StageAcquainted, changes[0].From)
	assert.Equal(t, types.StageFriendly, changes[0].To)
	mu.Unlock()

	names := make([]string, len(d.Milestones))
	for i, m := range d.Milestones {
		names[i] = m.Name
	}
	assert.ElementsMatch(t, []string{MilestoneFirstSession, MilestoneSessions10, "reached_friendly"}, names)

	stored, err := calc.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, d.IntimacyScore, stored.IntimacyScore)
}

func TestRecompute_SameStageDoesNotRepublish(t *testing.T) {
	env := newTestEnv(t)
	seedDailySessions(t, env, "u1", 10)

	var count int
	var mu sync.Mutex
	bus.Subscribe(env.bus, func(_ context.Context, ev bus.StageChanged) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	calc := newTestDepth(env)
	_, err := calc.Recompute(context.Background(), "u1")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	d, err := calc.Recompute(context.Background(), "u1")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()

	for _, m := range d.Milestones {
		if m.Name == "reached_friendly" {
			assert.True(t, testNow.Equal(m.ReachedAt), "milestone keeps its first timestamp")
		}
	}
}
