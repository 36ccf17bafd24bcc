package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/storage/memstore"
	"github.com/scrypster/riya/internal/storage/storagetest"
	"github.com/scrypster/riya/pkg/types"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// stubReasoner answers each operation with a canned response.
type stubReasoner map[string]string

func (s stubReasoner) Infer(_ context.Context, req llm.Request, out any) error {
	raw, ok := s[req.Op]
	if !ok {
		return &llm.InferenceError{Op: req.Op, Kind: llm.KindUpstream, Err: errors.New("offline")}
	}
	return llm.DecodeStrict(req.Op, raw, out)
}

type fixture struct {
	engine *engine.Engine
	repo   *memstore.Store
	clock  *clock.Fake
}

func newFixture(t *testing.T, reasoner stubReasoner) *fixture {
	t.Helper()
	clk := clock.NewFake(testNow)
	repo := memstore.New().WithClock(clk.Now)
	cfg := engine.DefaultConfig()
	cfg.SchedulerEnabled = false

	eng, err := engine.New(cfg, engine.Deps{
		Repo:     repo,
		Reasoner: reasoner,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return &fixture{engine: eng, repo: repo, clock: clk}
}

func (f *fixture) seedMemory(t *testing.T, userID, event string, weight float64) *types.Memory {
	t.Helper()
	m := storagetest.NewMemory(userID, event, weight)
	require.NoError(t, f.repo.CreateMemory(context.Background(), m))
	return m
}

// call invokes a handler with path values set as the router would.
func call(h http.HandlerFunc, method, target string, body any, pathValues ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
