package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/clock"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/storage/memstore"
	"github.com/scrypster/riya/internal/storage/storagetest"
	"github.com/scrypster/riya/pkg/types"
)

// testNow is a Monday.
var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeReasoner answers by operation. A handler takes precedence over a
// canned response; an operation with neither fails as upstream.
type fakeReasoner struct {
	mu        sync.Mutex
	responses map[string]string
	handlers  map[string]func(llm.Request) (string, error)
	calls     map[string]int
}

func newFakeReasoner() *fakeReasoner {
	return &fakeReasoner{
		responses: make(map[string]string),
		handlers:  make(map[string]func(llm.Request) (string, error)),
		calls:     make(map[string]int),
	}
}

func (f *fakeReasoner) respond(op, raw string) *fakeReasoner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op] = raw
	return f
}

func (f *fakeReasoner) handle(op string, h func(llm.Request) (string, error)) *fakeReasoner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
	return f
}

func (f *fakeReasoner) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeReasoner) Infer(ctx context.Context, req llm.Request, out any) error {
	f.mu.Lock()
	f.calls[req.Op]++
	raw, ok := f.responses[req.Op]
	h := f.handlers[req.Op]
	f.mu.Unlock()

	if h != nil {
		var err error
		if raw, err = h(req); err != nil {
			return &llm.InferenceError{Op: req.Op, Kind: llm.KindUpstream, Err: err}
		}
		ok = true
	}
	if !ok {
		return &llm.InferenceError{Op: req.Op, Kind: llm.KindUpstream, Err: errors.New("model unavailable")}
	}
	return llm.DecodeStrict(req.Op, raw, out)
}

type testEnv struct {
	repo     *memstore.Store
	clock    *clock.Fake
	bus      *bus.Bus
	reasoner *fakeReasoner
	policy   *policy.Policy
	cfg      Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFake(testNow)
	return &testEnv{
		repo:     memstore.New().WithClock(clk.Now),
		clock:    clk,
		bus:      bus.New(nil, zerolog.Nop()),
		reasoner: newFakeReasoner(),
		policy:   policy.DefaultPolicy(),
		cfg:      DefaultConfig(),
	}
}

func (e *testEnv) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.repo.EnsureUser(context.Background(), &types.User{ID: id, Name: id, CreatedAt: testNow}))
}

// seedSession stores a session starting at start with n alternating
// user/assistant messages one minute apart. A non-zero end closes it.
func (e *testEnv) seedSession(t *testing.T, userID string, start, end time.Time, n int, userText string) *types.Session {
	t.Helper()
	ctx := context.Background()
	s := &types.Session{ID: uuid.NewString(), UserID: userID, StartedAt: start}
	require.NoError(t, e.repo.CreateSession(ctx, s))
	for i := 0; i < n; i++ {
		role, text := types.RoleUser, userText
		if i%2 == 1 {
			role, text = types.RoleAssistant, "tell me more"
		}
		_, err := e.repo.AppendMessage(ctx, &types.Message{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			UserID:    userID,
			Role:      role,
			Text:      text,
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	if !end.IsZero() {
		require.NoError(t, e.repo.EndSession(ctx, s.ID, end))
	}
	return s
}

// seedMemory stores a complete memory created at createdAt.
func (e *testEnv) seedMemory(t *testing.T, userID, event string, weight float64, createdAt time.Time, mutate func(*types.Memory)) *types.Memory {
	t.Helper()
	m := storagetest.NewMemory(userID, event, weight)
	m.CreatedAt = createdAt
	m.UpdatedAt = createdAt
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, e.repo.CreateMemory(context.Background(), m))
	return m
}

func (e *testEnv) seedSample(t *testing.T, userID, metric string, value float64, at time.Time) {
	t.Helper()
	require.NoError(t, e.repo.AppendSample(context.Background(), &types.MetricSample{
		ID:         uuid.NewString(),
		UserID:     userID,
		Metric:     metric,
		Value:      value,
		RecordedAt: at,
	}))
}

func (e *testEnv) seedTrigger(t *testing.T, userID string, typ types.TriggerType, at time.Time) *types.EngagementTrigger {
	t.Helper()
	tr := &types.EngagementTrigger{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         typ,
		ScheduledFor: at,
		Message:      fmt.Sprintf("%s message", typ),
		Confidence:   80,
		CreatedAt:    at.Add(-time.Hour),
	}
	require.NoError(t, e.repo.CreateTrigger(context.Background(), tr))
	return tr
}

func transcriptOf(lines ...string) types.Transcript {
	t := make(types.Transcript, 0, len(lines))
	for i, l := range lines {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		t = append(t, types.Turn{Role: role, Text: l})
	}
	return t
}
