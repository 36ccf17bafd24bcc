package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

func newTestEngine(t *testing.T, env *testEnv) *Engine {
	t.Helper()
	env.cfg.SchedulerEnabled = false
	env.cfg.NumWorkers = 1
	env.cfg.ShutdownTimeout = 5 * time.Second
	e, err := New(env.cfg, Deps{
		Repo:     env.repo,
		Reasoner: env.reasoner,
		Bus:      env.bus,
		Clock:    env.clock,
		Policy:   env.policy,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Reasoner: newFakeReasoner()})
	assert.Error(t, err)

	env := newTestEnv(t)
	_, err = New(DefaultConfig(), Deps{Repo: env.repo})
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.NumWorkers = 0
	_, err = New(bad, Deps{Repo: env.repo, Reasoner: env.reasoner})
	assert.Error(t, err)
}

func TestEngine_EndSessionRunsPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.
		respond(llm.OpExtract, extractionFixture).
		respond(llm.OpGraph, graphFixture).
		respond(llm.OpConfidence, confidenceFixture).
		respond(llm.OpSentiment, `{"score":8}`)

	e := newTestEngine(t, env)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	first, err := e.RecordMessage(ctx, "u1", "", types.RoleUser, "I have a job interview at Acme tomorrow. Priya works there.")
	require.NoError(t, err)
	_, err = e.RecordMessage(ctx, "u1", first.SessionID, types.RoleAssistant, "That's exciting! How are you feeling?")
	require.NoError(t, err)

	ended, err := e.EndSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.False(t, ended.Active())

	assert.Eventually(t, func() bool {
		_, err := env.repo.GetDepth(ctx, "u1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Shutdown(ctx))

	memories, err := e.ListMemories(ctx, "u1", storage.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, memories, 2)
	for _, m := range memories {
		assert.Equal(t, types.VerificationHighConfidence, m.VerificationStatus)
		assert.Equal(t, first.SessionID, m.SessionID)
	}

	graph, err := e.Graph.Graph(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2)
	assert.Len(t, graph.Edges, 1)

	samples, err := env.repo.ListSamples(ctx, "u1", "", time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, samples)

	triggers, err := env.repo.ListUserTriggers(ctx, "u1", storage.TriggerFilter{})
	require.NoError(t, err)
	assert.Len(t, triggers, 2)
}

func TestEngine_SubmitBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)

	ok := e.Submit(&AnalysisJob{UserID: "u1", Transcript: transcriptOf("a", "b")})
	assert.False(t, ok)
	assert.ErrorIs(t, e.Shutdown(context.Background()), ErrNotStarted)
}

func TestEngine_QueueFullDropsJob(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.QueueSize = 1

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	env.reasoner.handle(llm.OpExtract, func(llm.Request) (string, error) {
		entered <- struct{}{}
		<-release
		return `{"memories":[]}`, nil
	})

	e := newTestEngine(t, env)
	require.NoError(t, e.Start(context.Background()))

	job := func() *AnalysisJob {
		return &AnalysisJob{UserID: "u1", SessionID: "s1", Transcript: transcriptOf("a", "b")}
	}
	require.True(t, e.Submit(job()))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first job")
	}

	assert.True(t, e.Submit(job()), "queue has one free slot")
	assert.Equal(t, 1, e.QueueLength())
	assert.False(t, e.Submit(job()), "queue is full")

	close(release)
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 2, env.reasoner.callCount(llm.OpExtract))
}

func TestEngine_StartTwiceAndRestart(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	assert.Error(t, e.Start(ctx))
	require.NoError(t, e.Shutdown(ctx))

	require.NoError(t, e.Start(ctx))
	assert.True(t, e.Submit(&AnalysisJob{UserID: "u1", Transcript: transcriptOf("a")}))
	require.NoError(t, e.Shutdown(ctx))
}

func TestEngine_EndSessionTwicePublishesOnce(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)
	ctx := context.Background()

	var published atomic.Int32
	bus.Subscribe(env.bus, func(_ context.Context, ev bus.AnalyzeInteraction) error {
		published.Add(1)
		return nil
	})

	msg, err := e.RecordMessage(ctx, "u1", "", types.RoleUser, "hello")
	require.NoError(t, err)

	_, err = e.EndSession(ctx, msg.SessionID)
	require.NoError(t, err)
	_, err = e.EndSession(ctx, msg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), published.Load())

	_, err = e.EndSession(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_RecordMessage(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)
	ctx := context.Background()

	first, err := e.RecordMessage(ctx, "u1", "", types.RoleUser, "hi")
	require.NoError(t, err)
	second, err := e.RecordMessage(ctx, "u1", "", types.RoleAssistant, "hello!")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID, "active session is reused")

	named, err := e.RecordMessage(ctx, "u1", "chat-42", types.RoleUser, "new thread")
	require.NoError(t, err)
	assert.Equal(t, "chat-42", named.SessionID)

	_, err = e.RecordMessage(ctx, "u2", "chat-42", types.RoleUser, "not mine")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.RecordMessage(ctx, "u1", "", "system", "nope")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.RecordMessage(ctx, "u1", "", types.RoleUser, "   ")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	user, err := env.repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestEngine_Trend(t *testing.T) {
	env := newTestEnv(t)
	env.reasoner.respond(llm.OpInsight, `{"insight":"Stress has eased since last week."}`)
	env.seedSample(t, "u1", types.MetricStressLevel, 8, testNow.Add(-5*oneDay))
	env.seedSample(t, "u1", types.MetricStressLevel, 4, testNow.Add(-1*oneDay))
	e := newTestEngine(t, env)

	trend, err := e.Trend(context.Background(), "u1", types.MetricStressLevel, 0)
	require.NoError(t, err)
	assert.Equal(t, types.TrendImproving, trend.Direction)
	assert.Equal(t, "Stress has eased since last week.", trend.Insight)
}

func TestEngine_DeleteMemory(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)
	m := env.seedMemory(t, "u1", "job interview at Acme", 7, testNow, nil)

	require.NoError(t, e.DeleteMemory(context.Background(), m.ID))
	_, err := env.repo.GetMemory(context.Background(), m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, e.DeleteMemory(context.Background(), m.ID), storage.ErrNotFound)
}

func TestEngine_PublishInteractionValidates(t *testing.T) {
	env := newTestEnv(t)
	e := newTestEngine(t, env)
	assert.ErrorIs(t, e.PublishInteraction(context.Background(), "", "s1", transcriptOf("a", "b")), storage.ErrInvalidInput)
	assert.ErrorIs(t, e.PublishInteraction(context.Background(), "u1", "s1", nil), storage.ErrInvalidInput)
	assert.NoError(t, e.PublishInteraction(context.Background(), "u1", "s1", transcriptOf("a", "b")))
}
