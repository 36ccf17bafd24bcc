package handlers

import (
	"net/http"

	"github.com/scrypster/riya/internal/engine"
)

// DebugHandler exposes retrieval debug endpoints.
type DebugHandler struct {
	retriever *engine.Retriever
}

// NewDebugHandler creates a DebugHandler backed by the given retriever.
func NewDebugHandler(retriever *engine.Retriever) *DebugHandler {
	return &DebugHandler{retriever: retriever}
}

// RetrievalTrace handles GET /api/debug/retrieval-trace
//
// Query parameters:
//   - user_id (string) – the user whose memories are searched (required)
//   - q       (string) – the utterance to retrieve for
//   - limit   (int)    – max results (default from config, max 50)
//
// This runs a real retrieval, so returned memories have their reference
// counts bumped.
func (h *DebugHandler) RetrievalTrace(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	limit := parseInt(q.Get("limit"), 0)
	if limit < 0 {
		limit = 0
	}
	limit = min(limit, maxRetrieveLimit)

	results, trace, err := h.retriever.DebugRetrieve(r.Context(), userID, q.Get("q"), limit)
	if err != nil {
		respondError(w, statusForError(err), "debug retrieval failed", err)
		return
	}
	if results == nil {
		results = []*engine.ScoredMemory{}
	}
	respondJSON(w, http.StatusOK, RetrieveResponse{Results: results, Debug: trace})
}
