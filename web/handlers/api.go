package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

// maxBodyBytes bounds request bodies; transcripts are the largest payload.
const maxBodyBytes = 1 << 20

// APIHandlers contains HTTP handlers for sessions, memories, trends and
// relationship depth.
type APIHandlers struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(eng *engine.Engine, logger zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		engine: eng,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// RecordMessage handles POST /api/users/{user_id}/messages.
func (h *APIHandlers) RecordMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.engine.RecordMessage(r.Context(), extractID(r, "user_id"), req.SessionID, req.Role, req.Text)
	if err != nil {
		h.fail(w, "failed to record message", err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// PublishInteraction handles POST /api/users/{user_id}/interactions. The
// transcript is analysed in the background.
func (h *APIHandlers) PublishInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.PublishInteraction(r.Context(), extractID(r, "user_id"), req.SessionID, req.Transcript); err != nil {
		h.fail(w, "failed to publish interaction", err)
		return
	}
	respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "queued"})
}

// EndSession handles POST /api/sessions/{id}/end.
func (h *APIHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.EndSession(r.Context(), extractID(r, "id"))
	if err != nil {
		h.fail(w, "failed to end session", err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// ListMemories handles GET /api/users/{user_id}/memories.
//
// Query parameters:
//   - limit (int)     – max memories, newest first (default all, max 1000)
//   - since (RFC3339) – only memories created after this time
func (h *APIHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	filter := storage.MemoryFilter{Limit: min(parseInt(r.URL.Query().Get("limit"), 0), 1000)}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		filter.CreatedAfter = since
	}

	memories, err := h.engine.ListMemories(r.Context(), extractID(r, "user_id"), filter)
	if err != nil {
		h.fail(w, "failed to list memories", err)
		return
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	respondJSON(w, http.StatusOK, MemoryListResponse{Memories: memories, Total: len(memories)})
}

// ConfirmMemory handles POST /api/memories/{id}/confirm.
func (h *APIHandlers) ConfirmMemory(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Affirmed == nil {
		respondError(w, http.StatusBadRequest, "affirmed is required", nil)
		return
	}
	m, err := h.engine.Confidence.Confirm(r.Context(), extractID(r, "id"), *req.Affirmed, req.Clarification)
	if err != nil {
		h.fail(w, "failed to confirm memory", err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *APIHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteMemory(r.Context(), extractID(r, "id")); err != nil {
		h.fail(w, "failed to delete memory", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRelationship handles GET /api/users/{user_id}/relationship.
func (h *APIHandlers) GetRelationship(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Depth.Get(r.Context(), extractID(r, "user_id"))
	if err != nil {
		h.fail(w, "failed to load relationship", err)
		return
	}
	respondJSON(w, http.StatusOK, RelationshipResponse{Depth: d, Guidance: d.Stage.Guidance()})
}

// RecomputeRelationship handles POST /api/users/{user_id}/relationship.
func (h *APIHandlers) RecomputeRelationship(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Depth.Recompute(r.Context(), extractID(r, "user_id"))
	if err != nil {
		h.fail(w, "failed to recompute relationship", err)
		return
	}
	respondJSON(w, http.StatusOK, RelationshipResponse{Depth: d, Guidance: d.Stage.Guidance()})
}

// GetTrend handles GET /api/users/{user_id}/trends/{metric}?window_days=N.
func (h *APIHandlers) GetTrend(w http.ResponseWriter, r *http.Request) {
	window := parseInt(r.URL.Query().Get("window_days"), 0)
	if window < 0 || window > 365 {
		respondError(w, http.StatusBadRequest, "window_days must be between 1 and 365", nil)
		return
	}
	trend, err := h.engine.Trend(r.Context(), extractID(r, "user_id"), extractID(r, "metric"), window)
	if err != nil {
		h.fail(w, "failed to compute trend", err)
		return
	}
	respondJSON(w, http.StatusOK, trend)
}

// fail maps an engine error to a status code and writes it.
func (h *APIHandlers) fail(w http.ResponseWriter, message string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(message)
	}
	respondError(w, status, message, err)
}

func statusForError(err error) int {
	var ve *types.ValidationError
	var ie *llm.InferenceError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ie):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return false
	}
	return true
}

// extractID extracts a path parameter from the request.
func extractID(r *http.Request, key string) string {
	return strings.TrimSpace(r.PathValue(key))
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]any{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
