package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/pkg/types"
	"github.com/scrypster/riya/web/handlers"
)

func TestRetrieve(t *testing.T) {
	f := newFixture(t, stubReasoner{llm.OpRelevance: `{"relevance":90}`})
	m := f.seedMemory(t, "u1", "job interview at Acme", 8)
	h := handlers.NewSearchHandler(f.engine.Retriever, zerolog.Nop())

	w := call(h.Retrieve, "POST", "/api/users/u1/retrieve",
		handlers.RetrieveRequest{Utterance: "I'm nervous about tomorrow"}, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.RetrieveResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, m.ID, resp.Results[0].Memory.ID)
	assert.Greater(t, resp.Results[0].FinalScore, 20.0)
	assert.Nil(t, resp.Debug)

	stored, err := f.repo.GetMemory(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ReferenceCount)
}

func TestRetrieve_EmptyUtterance(t *testing.T) {
	f := newFixture(t, stubReasoner{})
	f.seedMemory(t, "u1", "job interview at Acme", 8)
	h := handlers.NewSearchHandler(f.engine.Retriever, zerolog.Nop())

	w := call(h.Retrieve, "POST", "/api/users/u1/retrieve", handlers.RetrieveRequest{Utterance: "   "}, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestRetrieve_BadRequests(t *testing.T) {
	f := newFixture(t, stubReasoner{})
	h := handlers.NewSearchHandler(f.engine.Retriever, zerolog.Nop())

	w := call(h.Retrieve, "POST", "/api/users/u1/retrieve", handlers.RetrieveRequest{Utterance: "hi", Limit: -1}, "user_id", "u1")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(h.Retrieve, "POST", "/api/users//retrieve", handlers.RetrieveRequest{Utterance: "hi"}, "user_id", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetrievalTrace(t *testing.T) {
	f := newFixture(t, stubReasoner{llm.OpRelevance: `{"relevance":90}`})
	m := f.seedMemory(t, "u1", "job interview at Acme", 8)
	h := handlers.NewDebugHandler(f.engine.Retriever)

	w := call(h.RetrievalTrace, "GET", "/api/debug/retrieval-trace?user_id=u1&q=nervous", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.RetrieveResponse](t, w)
	require.NotNil(t, resp.Debug)
	assert.Equal(t, "u1", resp.Debug.UserID)
	assert.Equal(t, 1, resp.Debug.CandidatesFound)
	assert.Equal(t, []string{m.ID}, resp.Debug.Returned)

	w = call(h.RetrievalTrace, "GET", "/api/debug/retrieval-trace?q=nervous", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t, stubReasoner{})
	ctx := context.Background()
	node := func(name, typ string) *types.GraphNode {
		n, err := f.repo.UpsertNode(ctx, &types.GraphNode{UserID: "u1", Name: name, Type: typ})
		require.NoError(t, err)
		return n
	}
	edge := func(a, b *types.GraphNode, rel string) {
		_, err := f.repo.UpsertEdge(ctx, &types.GraphEdge{UserID: "u1", SourceID: a.ID, TargetID: b.ID, Relationship: rel, Strength: 5})
		require.NoError(t, err)
	}
	priya, acme, pune := node("Priya", "person"), node("Acme", "organization"), node("Pune", "place")
	edge(priya, acme, "works_at")
	edge(acme, pune, "located_in")
	h := handlers.NewEntityHandler(f.engine.Graph)

	w := call(h.GetGraph, "GET", "/api/users/u1/graph", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	full := decode[handlers.GraphResponse](t, w)
	assert.Equal(t, 3, full.Meta.NodeCount)
	assert.Equal(t, 2, full.Meta.EdgeCount)

	w = call(h.GetGraph, "GET", "/api/users/u1/graph?around=priya&depth=1", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	sub := decode[handlers.GraphResponse](t, w)
	assert.Equal(t, 2, sub.Meta.NodeCount)
	assert.Equal(t, 1, sub.Meta.EdgeCount)
	assert.Equal(t, 0, sub.Hops[priya.ID])
	assert.Equal(t, 1, sub.Hops[acme.ID])

	w = call(h.GetGraph, "GET", "/api/users/u1/graph?around=Priya&depth=9", nil, "user_id", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	sub = decode[handlers.GraphResponse](t, w)
	assert.Equal(t, 3, sub.Meta.Depth)
	assert.Equal(t, 3, sub.Meta.NodeCount)

	w = call(h.GetGraph, "GET", "/api/users/u1/graph?around=Globex", nil, "user_id", "u1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, stubReasoner{})
	for _, id := range []string{"u1", "u2"} {
		_, err := f.engine.RecordMessage(context.Background(), id, "", types.RoleUser, "hello")
		require.NoError(t, err)
	}
	hub := newHub(t)
	h := handlers.NewStatsHandler(f.repo, f.engine, hub)

	w := call(h.GetStats, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, handlers.StatsResponse{Users: 2}, decode[handlers.StatsResponse](t, w))
}
