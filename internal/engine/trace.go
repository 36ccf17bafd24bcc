package engine

import (
	"context"
	"sync"
	"time"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindRetrievalStarted is emitted at the beginning of a retrieval.
	KindRetrievalStarted TraceEventKind = "retrieval_started"

	// KindCandidatesFound is emitted after the candidate set is resolved.
	KindCandidatesFound TraceEventKind = "candidates_found"

	// KindScoredCandidate is emitted once per candidate that received a score.
	KindScoredCandidate TraceEventKind = "scored_candidate"

	// KindFilteredOut is emitted for every candidate that was discarded.
	KindFilteredOut TraceEventKind = "filtered_out"

	// KindResultsReturned is emitted with the final ranked set.
	KindResultsReturned TraceEventKind = "results_returned"
)

// TraceEvent is a single structured event emitted during a retrieval.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`
	At   time.Time      `json:"at"`

	// MemoryID is populated for per-memory events.
	MemoryID string `json:"memory_id,omitempty"`

	// Source names how candidates were selected ("all", "embedding", "recency").
	Source string `json:"source,omitempty"`

	Count        int          `json:"count,omitempty"`
	Scores       *TraceScores `json:"scores,omitempty"`
	TotalScore   float64      `json:"total_score,omitempty"`
	FilterReason string       `json:"filter_reason,omitempty"`
	Utterance    string       `json:"utterance,omitempty"`
	UserID       string       `json:"user_id,omitempty"`
	MemoryIDs    []string     `json:"memory_ids,omitempty"`
}

// TraceScores breaks down a scored candidate's components.
type TraceScores struct {
	Relevance   float64 `json:"relevance"`
	Importance  float64 `json:"importance"`
	RecencyDays float64 `json:"recency_days"`
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventRetrievalStarted creates a retrieval_started trace event.
func EventRetrievalStarted(userID, utterance string) TraceEvent {
	e := newTraceEvent(KindRetrievalStarted)
	e.UserID = userID
	e.Utterance = utterance
	return e
}

// EventCandidatesFound creates a candidates_found trace event.
func EventCandidatesFound(count int, source string) TraceEvent {
	e := newTraceEvent(KindCandidatesFound)
	e.Count = count
	e.Source = source
	return e
}

// EventScoredCandidate creates a scored_candidate trace event.
func EventScoredCandidate(s *ScoredMemory) TraceEvent {
	e := newTraceEvent(KindScoredCandidate)
	e.MemoryID = s.Memory.ID
	e.TotalScore = s.FinalScore
	e.Scores = &TraceScores{
		Relevance:   s.Relevance,
		Importance:  s.Importance,
		RecencyDays: s.RecencyDays,
	}
	return e
}

// EventFilteredOut creates a filtered_out trace event.
func EventFilteredOut(memoryID, reason string) TraceEvent {
	e := newTraceEvent(KindFilteredOut)
	e.MemoryID = memoryID
	e.FilterReason = reason
	return e
}

// EventResultsReturned creates a results_returned trace event.
func EventResultsReturned(memoryIDs []string) TraceEvent {
	e := newTraceEvent(KindResultsReturned)
	e.MemoryIDs = memoryIDs
	e.Count = len(memoryIDs)
	return e
}

type contextKey string

const traceKey contextKey = "retrieval_trace"

// TraceCollector accumulates TraceEvents for a single retrieval. Emit is
// safe for concurrent use.
type TraceCollector struct {
	mu        sync.Mutex
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.mu.Unlock()
}

// Events returns a copy of the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]TraceEvent(nil), tc.events...)
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}
