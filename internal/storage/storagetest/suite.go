// Package storagetest is a conformance suite run against every
// storage.Repository backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// Factory returns a fresh, empty repository. The suite closes it.
type Factory func(t *testing.T) storage.Repository

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run executes the full conformance suite.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo storage.Repository)
	}{
		{"Users", testUsers},
		{"Sessions", testSessions},
		{"AppendMessageIdempotent", testAppendMessageIdempotent},
		{"MemoryRoundTrip", testMemoryRoundTrip},
		{"MemoryRejectsPartial", testMemoryRejectsPartial},
		{"ListMemories", testListMemories},
		{"TouchMemories", testTouchMemories},
		{"UpdateVerification", testUpdateVerification},
		{"DeleteMemoryCascades", testDeleteMemoryCascades},
		{"UpsertNodeIdempotent", testUpsertNodeIdempotent},
		{"UpsertNodeConcurrent", testUpsertNodeConcurrent},
		{"UpsertEdge", testUpsertEdge},
		{"UpsertEdgeRejectsForeignNodes", testUpsertEdgeRejectsForeignNodes},
		{"Timeline", testTimeline},
		{"Triggers", testTriggers},
		{"MarkTriggerSentOnce", testMarkTriggerSentOnce},
		{"RelationshipDepth", testRelationshipDepth},
		{"NearestMemories", testNearestMemories},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			t.Cleanup(func() { _ = repo.Close() })
			tt.fn(t, repo)
		})
	}
}

// NewMemory returns a complete memory for userID.
func NewMemory(userID, event string, weight float64) *types.Memory {
	return &types.Memory{
		ID:     uuid.NewString(),
		UserID: userID,
		Surface: &types.SurfaceLayer{
			Event:    event,
			Date:     "2026-03-01",
			People:   []string{"Asha"},
			Location: "Pune",
		},
		Emotional: &types.EmotionalLayer{
			Weight:        weight,
			Emotions:      []string{"anxious"},
			Trajectory:    "rising",
			Vulnerability: 4,
			Confidence:    0.8,
		},
		Contextual: &types.ContextualLayer{
			LifeArea:       types.LifeAreaCareer,
			RecurringTheme: true,
			Significance:   types.SignificanceMajor,
		},
		Predictive: &types.PredictiveLayer{
			FollowUpNeeded:     true,
			BestFollowUpTiming: "in 2 days",
			SuggestedAngle:     "ask how it went",
			TriggerKeywords:    []string{"interview"},
			Confidence:         0.6,
		},
		VerificationStatus: types.VerificationNotVerified,
		Transcript:         "user: I have an interview\nassistant: good luck",
		CreatedAt:          base,
		UpdatedAt:          base,
	}
}

func seedUser(t *testing.T, repo storage.Repository, id string) {
	t.Helper()
	require.NoError(t, repo.EnsureUser(context.Background(), &types.User{ID: id, Name: id, CreatedAt: base}))
}

func seedSession(t *testing.T, repo storage.Repository, userID string, start time.Time) *types.Session {
	t.Helper()
	s := &types.Session{ID: uuid.NewString(), UserID: userID, StartedAt: start}
	require.NoError(t, repo.CreateSession(context.Background(), s))
	return s
}

func testUsers(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	_, err := repo.GetUser(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	seedUser(t, repo, "u1")
	require.NoError(t, repo.EnsureUser(ctx, &types.User{ID: "u1", Name: "renamed"}))
	seedUser(t, repo, "u2")

	u, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Name, "EnsureUser must not overwrite an existing user")

	ids, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func testSessions(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	_, err := repo.LatestActiveSession(ctx, "u1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	first := seedSession(t, repo, "u1", base)
	second := seedSession(t, repo, "u1", base.Add(time.Hour))

	latest, err := repo.LatestActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	require.NoError(t, repo.EndSession(ctx, second.ID, base.Add(2*time.Hour)))
	require.NoError(t, repo.EndSession(ctx, second.ID, base.Add(5*time.Hour)), "ending twice is a no-op")

	got, err := repo.GetSession(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, base.Add(2*time.Hour), *got.EndedAt, time.Millisecond)

	latest, err = repo.LatestActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	sessions, err := repo.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)

	assert.True(t, errors.Is(repo.EndSession(ctx, "missing", base), storage.ErrNotFound))
}

func testAppendMessageIdempotent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	sess := seedSession(t, repo, "u1", base)

	for i, text := range []string{"hi", "hello", "how are you"} {
		ok, err := repo.AppendMessage(ctx, &types.Message{
			ID: fmt.Sprintf("m%d", i), SessionID: sess.ID, UserID: "u1",
			Role: types.RoleUser, Text: text, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := repo.AppendMessage(ctx, &types.Message{
		ID: "m0", SessionID: sess.ID, UserID: "u1", Role: types.RoleUser, Text: "dup", CreatedAt: base,
	})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate message id must be a no-op")

	msgs, err := repo.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "how are you", msgs[2].Text)

	got, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)

	recent, err := repo.ListUserMessages(ctx, "u1", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func testMemoryRoundTrip(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	m := NewMemory("u1", "Interview at Acme", 7)
	require.NoError(t, repo.CreateMemory(ctx, m))

	got, err := repo.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Surface, got.Surface)
	assert.Equal(t, m.Emotional, got.Emotional)
	assert.Equal(t, m.Contextual, got.Contextual)
	assert.Equal(t, m.Predictive, got.Predictive)
	assert.Equal(t, types.VerificationNotVerified, got.VerificationStatus)
	assert.Equal(t, m.Transcript, got.Transcript)
	assert.Nil(t, got.LastReferencedAt)
	assert.WithinDuration(t, base, got.CreatedAt, time.Millisecond)

	_, err = repo.GetMemory(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testMemoryRejectsPartial(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	m := NewMemory("u1", "Partial", 5)
	m.Predictive = nil

	err := repo.CreateMemory(ctx, m)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))

	list, err := repo.ListMemories(ctx, "u1", storage.MemoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testListMemories(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")

	var ids []string
	for i := 0; i < 3; i++ {
		m := NewMemory("u1", fmt.Sprintf("event %d", i), 5)
		m.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.CreateMemory(ctx, m))
		ids = append(ids, m.ID)
	}
	require.NoError(t, repo.CreateMemory(ctx, NewMemory("u2", "other user", 5)))

	all, err := repo.ListMemories(ctx, "u1", storage.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	some, err := repo.ListMemories(ctx, "u1", storage.MemoryFilter{IDs: []string{ids[0], ids[1]}})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	limited, err := repo.ListMemories(ctx, "u1", storage.MemoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	recent, err := repo.ListMemories(ctx, "u1", storage.MemoryFilter{CreatedAfter: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func testTouchMemories(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	m := NewMemory("u1", "Touched", 5)
	require.NoError(t, repo.CreateMemory(ctx, m))

	at := base.Add(24 * time.Hour)
	require.NoError(t, repo.TouchMemories(ctx, "u1", []string{m.ID}, at))
	require.NoError(t, repo.TouchMemories(ctx, "u1", []string{m.ID}, at.Add(time.Hour)))
	require.NoError(t, repo.TouchMemories(ctx, "someone-else", []string{m.ID}, at.Add(2*time.Hour)))

	got, err := repo.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReferenceCount)
	require.NotNil(t, got.LastReferencedAt)
	assert.WithinDuration(t, at.Add(time.Hour), *got.LastReferencedAt, time.Millisecond)
}

func testUpdateVerification(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	m := NewMemory("u1", "Verified", 5)
	require.NoError(t, repo.CreateMemory(ctx, m))

	ok, err := repo.UpdateVerification(ctx, m.ID, storage.VerificationUpdate{
		Status: types.VerificationInferred, OnlyIfAutomatic: true,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateVerification(ctx, m.ID, storage.VerificationUpdate{
		Status: types.VerificationDisputed, Note: "it was Tuesday",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateVerification(ctx, m.ID, storage.VerificationUpdate{
		Status: types.VerificationHighConfidence, Note: "auto", OnlyIfAutomatic: true,
	})
	require.NoError(t, err)
	assert.False(t, ok, "automatic update must not replace a human-set status")

	got, err := repo.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisputed, got.VerificationStatus)
	assert.Equal(t, "it was Tuesday", got.ClarificationNote)

	_, err = repo.UpdateVerification(ctx, "missing", storage.VerificationUpdate{Status: types.VerificationInferred})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testDeleteMemoryCascades(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	m := NewMemory("u1", "Forget me", 5)
	require.NoError(t, repo.CreateMemory(ctx, m))

	require.NoError(t, repo.AppendSample(ctx, &types.MetricSample{
		UserID: "u1", Metric: types.MetricStressLevel, Value: 7, MemoryID: m.ID, RecordedAt: base,
	}))
	trig := &types.EngagementTrigger{
		ID: uuid.NewString(), UserID: "u1", Type: types.TriggerFollowUp, ScheduledFor: base.Add(time.Hour),
		Message: "how did it go?", MemoryID: m.ID, Confidence: 70, CreatedAt: base,
	}
	require.NoError(t, repo.CreateTrigger(ctx, trig))

	require.NoError(t, repo.DeleteMemory(ctx, m.ID))

	_, err := repo.GetMemory(ctx, m.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	samples, err := repo.ListSamples(ctx, "u1", "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = repo.GetTrigger(ctx, trig.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.True(t, errors.Is(repo.DeleteMemory(ctx, m.ID), storage.ErrNotFound))
}

func testUpsertNodeIdempotent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	first, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Asha", Type: "person", LastUpdated: base})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Asha", Type: "person", LastUpdated: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.WithinDuration(t, base, second.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, base.Add(time.Hour), second.LastUpdated, time.Millisecond)

	_, err = repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Asha", Type: "place", LastUpdated: base})
	require.NoError(t, err)

	nodes, err := repo.ListNodes(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, nodes, 2, "same name with a different type is a different node")
}

func testUpsertNodeConcurrent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := repo.UpsertNode(ctx, &types.GraphNode{
				UserID: "u1", Name: "Mumbai", Type: "place", LastUpdated: base.Add(time.Duration(i) * time.Second),
			})
			errs[i] = err
			if err == nil {
				ids[i] = n.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	nodes, err := repo.ListNodes(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func testUpsertEdge(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	a, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Asha", Type: "person", LastUpdated: base})
	require.NoError(t, err)
	b, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Acme", Type: "organization", LastUpdated: base})
	require.NoError(t, err)

	e1, err := repo.UpsertEdge(ctx, &types.GraphEdge{
		UserID: "u1", SourceID: a.ID, TargetID: b.ID, Relationship: "works_at", Strength: 6, UpdatedAt: base,
	})
	require.NoError(t, err)

	e2, err := repo.UpsertEdge(ctx, &types.GraphEdge{
		UserID: "u1", SourceID: a.ID, TargetID: b.ID, Relationship: "works_at", Strength: 9, UpdatedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)

	edges, err := repo.ListEdges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 9, edges[0].Strength, "strength is overwritten, not summed")
}

func testUpsertEdgeRejectsForeignNodes(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")

	mine, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: "Asha", Type: "person", LastUpdated: base})
	require.NoError(t, err)
	theirs, err := repo.UpsertNode(ctx, &types.GraphNode{UserID: "u2", Name: "Ravi", Type: "person", LastUpdated: base})
	require.NoError(t, err)

	_, err = repo.UpsertEdge(ctx, &types.GraphEdge{
		UserID: "u1", SourceID: mine.ID, TargetID: theirs.ID, Relationship: "knows", Strength: 5, UpdatedAt: base,
	})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	edges, err := repo.ListEdges(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func testTimeline(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	for i, v := range []float64{8, 6, 4} {
		require.NoError(t, repo.AppendSample(ctx, &types.MetricSample{
			UserID: "u1", Metric: types.MetricStressLevel, Value: v,
			RecordedAt: base.Add(time.Duration(2-i) * -24 * time.Hour),
		}))
	}
	require.NoError(t, repo.AppendSample(ctx, &types.MetricSample{
		UserID: "u1", Metric: types.MetricWorkSatisfaction, Value: 5, RecordedAt: base,
	}))

	err := repo.AppendSample(ctx, &types.MetricSample{UserID: "u1", Metric: types.MetricStressLevel, Value: 0})
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))

	stress, err := repo.ListSamples(ctx, "u1", types.MetricStressLevel, time.Time{})
	require.NoError(t, err)
	require.Len(t, stress, 3)
	assert.Equal(t, 8.0, stress[0].Value, "oldest first")
	assert.Equal(t, 4.0, stress[2].Value)

	recent, err := repo.ListSamples(ctx, "u1", types.MetricStressLevel, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	all, err := repo.ListSamples(ctx, "u1", "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testTriggers(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	due := &types.EngagementTrigger{
		ID: uuid.NewString(), UserID: "u1", Type: types.TriggerCheckIn,
		ScheduledFor: base.Add(-time.Hour), Message: "hey", Confidence: 70, CreatedAt: base,
	}
	later := &types.EngagementTrigger{
		ID: uuid.NewString(), UserID: "u1", Type: types.TriggerMissYou,
		ScheduledFor: base.Add(time.Hour), Message: "miss you", Confidence: 80, CreatedAt: base,
	}
	require.NoError(t, repo.CreateTrigger(ctx, due))
	require.NoError(t, repo.CreateTrigger(ctx, later))

	got, err := repo.ListDueTriggers(ctx, time.Time{}, base, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	got, err = repo.ListDueTriggers(ctx, base.Add(-30*time.Minute), base, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.ListDueTriggers(ctx, base.Add(-time.Hour), base.Add(2*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	unsentMissYou, err := repo.ListUserTriggers(ctx, "u1", storage.TriggerFilter{
		Type: types.TriggerMissYou, Sent: storage.Bool(false),
		ScheduledFrom: base, ScheduledTo: base.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, unsentMissYou, 1)
	assert.Equal(t, later.ID, unsentMissYou[0].ID)

	require.NoError(t, repo.MarkTriggerSent(ctx, due.ID, base))

	sent, err := repo.ListUserTriggers(ctx, "u1", storage.TriggerFilter{SentAfter: base.Add(-time.Minute)})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, due.ID, sent[0].ID)

	got, err = repo.ListDueTriggers(ctx, time.Time{}, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, later.ID, got[0].ID)
}

func testMarkTriggerSentOnce(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")
	trig := &types.EngagementTrigger{
		ID: uuid.NewString(), UserID: "u1", Type: types.TriggerCheckIn,
		ScheduledFor: base, Message: "hey", Confidence: 70, CreatedAt: base,
	}
	require.NoError(t, repo.CreateTrigger(ctx, trig))

	const racers = 6
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.MarkTriggerSent(ctx, trig.ID, base.Add(time.Duration(i)*time.Second))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, storage.ErrAlreadySent), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	got, err := repo.GetTrigger(ctx, trig.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent)
	assert.NotNil(t, got.SentAt)

	assert.True(t, errors.Is(repo.MarkTriggerSent(ctx, "missing", base), storage.ErrNotFound))
}

func testRelationshipDepth(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	_, err := repo.GetDepth(ctx, "u1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	d := &types.RelationshipDepth{
		UserID: "u1", IntimacyScore: 35, TrustScore: 20, VulnerabilityLevel: 10,
		Stage: types.StageFriendly, InsideJokesCount: 1,
		Milestones: []types.Milestone{{Name: "first_session", ReachedAt: base}},
		ComputedAt: base,
	}
	require.NoError(t, repo.UpsertDepth(ctx, d))

	d.IntimacyScore = 62
	d.Stage = types.StageIntimate
	d.ComputedAt = base.Add(time.Hour)
	require.NoError(t, repo.UpsertDepth(ctx, d))

	got, err := repo.GetDepth(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 62, got.IntimacyScore)
	assert.Equal(t, types.StageIntimate, got.Stage)
	require.Len(t, got.Milestones, 1)
	assert.Equal(t, "first_session", got.Milestones[0].Name)
	assert.WithinDuration(t, base, got.Milestones[0].ReachedAt, time.Millisecond)
}

func testNearestMemories(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	seedUser(t, repo, "u1")

	exam := NewMemory("u1", "Exam", 5)
	trip := NewMemory("u1", "Trip", 5)
	require.NoError(t, repo.CreateMemory(ctx, exam))
	require.NoError(t, repo.CreateMemory(ctx, trip))

	require.NoError(t, repo.StoreEmbedding(ctx, exam.ID, "u1", []float32{1, 0, 0}))
	require.NoError(t, repo.StoreEmbedding(ctx, trip.ID, "u1", []float32{0, 1, 0}))

	ids, err := repo.NearestMemories(ctx, "u1", []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{exam.ID}, ids)

	ids, err = repo.NearestMemories(ctx, "u2", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
