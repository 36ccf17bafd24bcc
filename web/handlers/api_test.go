package handlers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/pkg/types"
	"github.com/scrypster/riya/web/handlers"
)

func newAPI(t *testing.T, reasoner stubReasoner) (*handlers.APIHandlers, *fixture) {
	t.Helper()
	f := newFixture(t, reasoner)
	return handlers.NewAPIHandlers(f.engine, zerolog.Nop()), f
}

func TestRecordMessage(t *testing.T) {
	api, _ := newAPI(t, stubReasoner{})

	w := call(api.RecordMessage, "POST", "/api/users/u1/messages",
		handlers.MessageRequest{Role: types.RoleUser, Text: "I have an interview tomorrow"}, "user_id", "u1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[types.Message](t, w)
	assert.Equal(t, "u1", msg.UserID)
	assert.NotEmpty(t, msg.SessionID)

	w = call(api.RecordMessage, "POST", "/api/users/u1/messages",
		handlers.MessageRequest{Role: types.RoleAssistant, Text: "Good luck!"}, "user_id", "u1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, msg.SessionID, decode[types.Message](t, w).SessionID)
}

func TestRecordMessage_BadRequests(t *testing.T) {
	api, _ := newAPI(t, stubReasoner{})

	tests := []struct {
		name string
		body any
	}{
		{"unknown role", handlers.MessageRequest{Role: "system", Text: "hi"}},
		{"empty text", handlers.MessageRequest{Role: types.RoleUser, Text: "  "}},
		{"unknown field", `{"role":"user","text":"hi","mood":"ok"}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(api.RecordMessage, "POST", "/api/users/u1/messages", tt.body, "user_id", "u1")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Bad Request", decode[handlers.ErrorResponse](t, w).Code)
		})
	}
}

func TestEndSession(t *testing.T) {
	api, f := newAPI(t, stubReasoner{})

	msg, err := f.engine.RecordMessage(context.Background(), "u1", "", types.RoleUser, "bye for now")
	require.NoError(t, err)

	w := call(api.EndSession, "POST", "/api/sessions/x/end", nil, "id", msg.SessionID)
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[types.Session](t, w)
	require.NotNil(t, s.EndedAt)
	assert.True(t, testNow.Equal(*s.EndedAt))

	w = call(api.EndSession, "POST", "/api/sessions/missing/end", nil, "id", "missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishInteraction(t *testing.T) {
	api, _ := newAPI(t, stubReasoner{})

	w := call(api.PublishInteraction, "POST", "/api/users/u1/interactions", handlers.InteractionRequest{
		SessionID: "s1",
		Transcript: types.Transcript{
			{Role: types.RoleUser, Text: "My sister is visiting"},
			{Role: types.RoleAssistant, Text: "How lovely!"},
		},
	}, "user_id", "u1")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", decode[handlers.AcceptedResponse](t, w).Status)

	w = call(api.PublishInteraction, "POST", "/api/users/u1/interactions",
		handlers.InteractionRequest{SessionID: "s1"}, "user_id", "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMemories(t *testing.T) {
	api, f := newAPI(t, stubReasoner{})
	f.seedMemory(t, "u1", "job interview at Acme", 8)
	f.seedMemory(t, "u1", "started guitar lessons", 5)
	f.seedMemory(t, "u2", "someone else's memory", 5)

	w := call(api.ListMemories, "GET", "/api/users/u1/memories", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[handlers.MemoryListResponse](t, w)
	assert.Equal(t, 2, list.Total)
	for _, m := range list.Memories {
		assert.Equal(t, "u1", m.UserID)
	}

	w = call(api.ListMemories, "GET", "/api/users/u1/memories?limit=1", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[handlers.MemoryListResponse](t, w).Total)

	w = call(api.ListMemories, "GET", "/api/users/nobody/memories", nil, "user_id", "nobody")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"memories":[],"total":0}`, w.Body.String())

	w = call(api.ListMemories, "GET", "/api/users/u1/memories?since=yesterday", nil, "user_id", "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmMemory(t *testing.T) {
	api, f := newAPI(t, stubReasoner{})
	m := f.seedMemory(t, "u1", "job interview at Acme", 8)

	w := call(api.ConfirmMemory, "POST", "/api/memories/x/confirm",
		`{"affirmed":false,"clarification":"it was at Globex"}`, "id", m.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[types.Memory](t, w)
	assert.Equal(t, types.VerificationDisputed, got.VerificationStatus)
	assert.Equal(t, "it was at Globex", got.ClarificationNote)

	w = call(api.ConfirmMemory, "POST", "/api/memories/x/confirm", `{"clarification":"?"}`, "id", m.ID)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(api.ConfirmMemory, "POST", "/api/memories/x/confirm", `{"affirmed":true}`, "id", "missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMemory(t *testing.T) {
	api, f := newAPI(t, stubReasoner{})
	m := f.seedMemory(t, "u1", "job interview at Acme", 8)

	w := call(api.DeleteMemory, "DELETE", "/api/memories/x", nil, "id", m.ID)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(api.DeleteMemory, "DELETE", "/api/memories/x", nil, "id", m.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelationship(t *testing.T) {
	api, f := newAPI(t, stubReasoner{})

	w := call(api.GetRelationship, "GET", "/api/users/u1/relationship", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handlers.RelationshipResponse](t, w)
	assert.Equal(t, types.StageAcquainted, resp.Depth.Stage)
	assert.Equal(t, types.StageAcquainted.Guidance().Tone, resp.Guidance.Tone)

	_, err := f.engine.RecordMessage(context.Background(), "u1", "", types.RoleUser, "I feel lonely lately")
	require.NoError(t, err)

	w = call(api.RecomputeRelationship, "POST", "/api/users/u1/relationship", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[handlers.RelationshipResponse](t, w)
	assert.Equal(t, "u1", resp.Depth.UserID)
	assert.Positive(t, resp.Depth.IntimacyScore)
}

func TestGetTrend(t *testing.T) {
	api, f := newAPI(t, stubReasoner{llm.OpInsight: `{"insight":"Work feels heavier lately."}`})
	ctx := context.Background()
	for i, v := range []float64{8, 4} {
		require.NoError(t, f.repo.AppendSample(ctx, &types.MetricSample{
			ID:         "s" + string(rune('a'+i)),
			UserID:     "u1",
			Metric:     types.MetricWorkSatisfaction,
			Value:      v,
			RecordedAt: testNow.Add(-time.Duration(5-i*3) * 24 * time.Hour),
		}))
	}

	w := call(api.GetTrend, "GET", "/api/users/u1/trends/work_satisfaction", nil,
		"user_id", "u1", "metric", types.MetricWorkSatisfaction)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	trend := decode[types.Trend](t, w)
	assert.Equal(t, types.TrendDeclining, trend.Direction)
	assert.Equal(t, "Work feels heavier lately.", trend.Insight)
	assert.Len(t, trend.Samples, 2)

	w = call(api.GetTrend, "GET", "/api/users/u1/trends/work_satisfaction?window_days=-3", nil,
		"user_id", "u1", "metric", types.MetricWorkSatisfaction)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
