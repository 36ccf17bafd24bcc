package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/engine"
)

// maxRetrieveLimit caps the limit a client may request.
const maxRetrieveLimit = 50

// SearchHandler serves semantic memory retrieval.
type SearchHandler struct {
	retriever *engine.Retriever
	logger    zerolog.Logger
}

// NewSearchHandler creates a new SearchHandler instance.
func NewSearchHandler(retriever *engine.Retriever, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{
		retriever: retriever,
		logger:    logger.With().Str("component", "search").Logger(),
	}
}

// Retrieve handles POST /api/users/{user_id}/retrieve: the memories most
// relevant to what the user just said, best first. Returned memories count
// as referenced.
func (h *SearchHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		respondError(w, http.StatusBadRequest, "limit must not be negative", nil)
		return
	}
	limit := min(req.Limit, maxRetrieveLimit)

	results, err := h.retriever.Retrieve(r.Context(), extractID(r, "user_id"), strings.TrimSpace(req.Utterance), limit)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("retrieval failed")
		}
		respondError(w, status, "retrieval failed", err)
		return
	}
	if results == nil {
		results = []*engine.ScoredMemory{}
	}
	respondJSON(w, http.StatusOK, RetrieveResponse{Results: results})
}
