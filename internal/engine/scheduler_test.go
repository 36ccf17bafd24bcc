package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	got   []notify.Notification
	fails error
}

func (d *recordingDispatcher) Deliver(_ context.Context, userID string, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, n)
	return d.fails
}

func (d *recordingDispatcher) delivered() []notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Notification(nil), d.got...)
}

func newTestScheduler(env *testEnv, d notify.Dispatcher) *Scheduler {
	p := NewPredictor(env.repo, nil, env.clock, env.policy, env.cfg, nil, zerolog.Nop())
	return NewScheduler(env.repo, env.bus, d, p, env.clock, env.cfg, nil, zerolog.Nop())
}

func triggerMessages(t *testing.T, env *testEnv, userID string) []*types.Message {
	t.Helper()
	msgs, err := env.repo.ListUserMessages(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	var out []*types.Message
	for _, m := range msgs {
		if strings.HasPrefix(m.ID, "trigger-") {
			out = append(out, m)
		}
	}
	return out
}

func TestDispatchDue_SendsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	tr := env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(-time.Hour))
	env.seedTrigger(t, "u1", types.TriggerCheckIn, testNow.Add(time.Hour))

	s := newTestScheduler(env, nil)
	sum, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Sent: 1}, sum)

	stored, err := env.repo.GetTrigger(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent)
	require.NotNil(t, stored.SentAt)
	assert.True(t, testNow.Equal(*stored.SentAt))

	msgs := triggerMessages(t, env, "u1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "trigger-"+tr.ID, msgs[0].ID)
	assert.Equal(t, types.RoleAssistant, msgs[0].Role)
	assert.Equal(t, tr.Message, msgs[0].Text)

	sum, err = s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{}, sum)
	assert.Len(t, triggerMessages(t, env, "u1"), 1)
}

func TestDispatchDue_UsesActiveSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	active := env.seedSession(t, "u1", testNow.Add(-10*time.Minute), time.Time{}, 2, "hey")
	env.seedTrigger(t, "u1", types.TriggerCheckIn, testNow)

	_, err := newTestScheduler(env, nil).DispatchDue(context.Background())
	require.NoError(t, err)

	msgs := triggerMessages(t, env, "u1")
	require.Len(t, msgs, 1)
	assert.Equal(t, active.ID, msgs[0].SessionID)
}

func TestDispatchDue_CreatesSessionWhenNoneActive(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	ended := env.seedSession(t, "u1", testNow.Add(-5*time.Hour), testNow.Add(-4*time.Hour), 2, "bye")
	env.seedTrigger(t, "u1", types.TriggerMissYou, testNow)

	_, err := newTestScheduler(env, nil).DispatchDue(context.Background())
	require.NoError(t, err)

	msgs := triggerMessages(t, env, "u1")
	require.Len(t, msgs, 1)
	assert.NotEqual(t, ended.ID, msgs[0].SessionID)

	sessions, err := env.repo.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestDispatchDue_SkipsStale(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	stale := env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(-100*time.Hour))
	fresh := env.seedTrigger(t, "u1", types.TriggerCheckIn, testNow.Add(-time.Hour))

	s := newTestScheduler(env, nil)
	sum, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Sent: 1, Stale: 1}, sum)

	got, err := env.repo.GetTrigger(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent)
	got, err = env.repo.GetTrigger(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)

	sum, err = s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{}, sum, "stale triggers are reported once")
}

func TestDispatchDue_TriggerCrossingStaleCeilingReportedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	s := newTestScheduler(env, nil)

	sum, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{}, sum)

	// Seeded in the future so it is not due at the first tick.
	tr := env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(time.Hour))
	env.clock.Advance(env.cfg.StaleAfter + 2*time.Hour)

	sum, err = s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Stale: 1}, sum)

	for i := 0; i < 3; i++ {
		env.clock.Advance(time.Minute)
		sum, err = s.DispatchDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DispatchSummary{}, sum)
	}

	got, err := env.repo.GetTrigger(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent)
}

func TestDispatchDue_StaleBacklogDoesNotStarveFreshTriggers(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DispatchBatch = 2
	env.seedUser(t, "u1")
	for i := 0; i < 5; i++ {
		env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(-100*time.Hour-time.Duration(i)*time.Minute))
	}
	fresh := env.seedTrigger(t, "u1", types.TriggerCheckIn, testNow.Add(-time.Minute))

	sum, err := newTestScheduler(env, nil).DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Sent: 1, Stale: 5}, sum)

	got, err := env.repo.GetTrigger(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)
}

func TestDispatchDue_MissingUserStaysUnsent(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTrigger(t, "ghost", types.TriggerCheckIn, testNow)

	s := newTestScheduler(env, nil)
	sum, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Failed: 1}, sum)

	outcome, err := s.dispatchOne(context.Background(), tr, testNow)
	assert.Equal(t, dispatchFailed, outcome)
	var se *SchedulingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "resolve_user", se.Step)
	assert.Equal(t, tr.ID, se.TriggerID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := env.repo.GetTrigger(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent)
}

func TestDispatchDue_NotifiesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	tr := env.seedTrigger(t, "u1", types.TriggerCelebration, testNow)

	var published []bus.TriggerDispatched
	bus.Subscribe(env.bus, func(_ context.Context, ev bus.TriggerDispatched) error {
		published = append(published, ev)
		return nil
	})

	d := &recordingDispatcher{fails: notify.ErrUserOffline}
	sum, err := newTestScheduler(env, d).DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent, "delivery failure does not undo the send")

	got := d.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, tr.ID, got[0].TriggerID)
	assert.Equal(t, types.TriggerCelebration, got[0].Type)
	assert.NotEmpty(t, got[0].SessionID)

	require.Len(t, published, 1)
	assert.Equal(t, tr.ID, published[0].Trigger.ID)
	assert.True(t, published[0].Trigger.Sent)
	assert.Equal(t, got[0].SessionID, published[0].SessionID)
}

func TestDispatchDue_BatchLimit(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DispatchBatch = 2
	env.seedUser(t, "u1")
	for i := 0; i < 3; i++ {
		env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(-time.Duration(i+1)*time.Minute))
	}

	s := newTestScheduler(env, nil)
	sum, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)

	sum, err = s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
}

func TestDispatchDue_ConcurrentSchedulersSendEachTriggerOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	const n = 20
	for i := 0; i < n; i++ {
		env.seedTrigger(t, "u1", types.TriggerFollowUp, testNow.Add(-time.Duration(i+1)*time.Minute))
	}

	d := &recordingDispatcher{}
	a := newTestScheduler(env, d)
	b := newTestScheduler(env, d)

	var wg sync.WaitGroup
	sums := make([]DispatchSummary, 2)
	for i, s := range []*Scheduler{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := s.DispatchDue(context.Background())
			assert.NoError(t, err)
			sums[i] = sum
		}()
	}
	wg.Wait()

	assert.Equal(t, n, sums[0].Sent+sums[1].Sent)
	assert.Zero(t, sums[0].Failed+sums[1].Failed)
	assert.Len(t, d.delivered(), n)
	assert.Len(t, triggerMessages(t, env, "u1"), n)

	seen := make(map[string]bool)
	for _, note := range d.delivered() {
		assert.False(t, seen[note.TriggerID], "trigger %s delivered twice", note.TriggerID)
		seen[note.TriggerID] = true
	}
}

func TestScheduler_ReentrancyGuard(t *testing.T) {
	env := newTestEnv(t)
	s := newTestScheduler(env, nil)

	s.dispatching.Store(true)
	_, err := s.DispatchDue(context.Background())
	assert.True(t, errors.Is(err, ErrTickInProgress))
	s.dispatching.Store(false)

	s.predicting.Store(true)
	_, err = s.Predict(context.Background())
	assert.True(t, errors.Is(err, ErrTickInProgress))
	s.predicting.Store(false)

	_, err = s.DispatchDue(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	tr := env.seedTrigger(t, "u1", types.TriggerCheckIn, testNow)
	env.cfg.DispatchInterval = 10 * time.Millisecond
	env.cfg.PredictInterval = time.Hour

	s := newTestScheduler(env, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := env.repo.GetTrigger(context.Background(), tr.ID)
		return err == nil && got.Sent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
