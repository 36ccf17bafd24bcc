package engine

import "context"

// DebugRetrievalResult is the structured response of a traced retrieval.
type DebugRetrievalResult struct {
	UserID          string          `json:"user_id"`
	Utterance       string          `json:"utterance"`
	CandidateSource string          `json:"candidate_source"`
	CandidatesFound int             `json:"candidates_found"`
	ScoredResults   []ScoredEntry   `json:"scored_results"`
	FilteredOut     []FilteredEntry `json:"filtered_out"`
	Returned        []string        `json:"returned"`
	TimingMS        int64           `json:"timing_ms"`
}

// ScoredEntry is a candidate that received a score.
type ScoredEntry struct {
	MemoryID string      `json:"memory_id"`
	Scores   TraceScores `json:"scores"`
	Total    float64     `json:"total"`
}

// FilteredEntry is a candidate that was discarded.
type FilteredEntry struct {
	MemoryID string `json:"memory_id"`
	Reason   string `json:"reason"`
}

// BuildDebugResult converts collected trace events into a DebugRetrievalResult.
func BuildDebugResult(events []TraceEvent, elapsedMS int64) *DebugRetrievalResult {
	result := &DebugRetrievalResult{TimingMS: elapsedMS}

	for _, e := range events {
		switch e.Kind {
		case KindRetrievalStarted:
			result.UserID = e.UserID
			result.Utterance = e.Utterance
		case KindCandidatesFound:
			result.CandidatesFound += e.Count
			result.CandidateSource = e.Source
		case KindScoredCandidate:
			if e.Scores != nil {
				result.ScoredResults = append(result.ScoredResults, ScoredEntry{
					MemoryID: e.MemoryID,
					Scores:   *e.Scores,
					Total:    e.TotalScore,
				})
			}
		case KindFilteredOut:
			result.FilteredOut = append(result.FilteredOut, FilteredEntry{
				MemoryID: e.MemoryID,
				Reason:   e.FilterReason,
			})
		case KindResultsReturned:
			result.Returned = e.MemoryIDs
		}
	}

	// Guarantee non-nil slices for clean JSON output.
	if result.ScoredResults == nil {
		result.ScoredResults = []ScoredEntry{}
	}
	if result.FilteredOut == nil {
		result.FilteredOut = []FilteredEntry{}
	}
	if result.Returned == nil {
		result.Returned = []string{}
	}
	return result
}

// DebugRetrieve runs a fully traced retrieval. It is a real retrieval:
// returned memories have their reference counts bumped.
func (r *Retriever) DebugRetrieve(ctx context.Context, userID, utterance string, limit int) ([]*ScoredMemory, *DebugRetrievalResult, error) {
	tc := NewTraceCollector()
	results, err := r.Retrieve(WithTraceCollector(ctx, tc), userID, utterance, limit)
	if err != nil {
		return nil, nil, err
	}
	return results, BuildDebugResult(tc.Events(), tc.ElapsedMS()), nil
}
