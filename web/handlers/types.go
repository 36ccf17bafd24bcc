package handlers

import (
	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// MessageRequest is the body of POST /api/users/{user_id}/messages.
// An empty session ID appends to the user's active session.
type MessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

// InteractionRequest is the body of POST /api/users/{user_id}/interactions.
type InteractionRequest struct {
	SessionID  string           `json:"session_id,omitempty"`
	Transcript types.Transcript `json:"transcript"`
}

// RetrieveRequest is the body of POST /api/users/{user_id}/retrieve.
type RetrieveRequest struct {
	Utterance string `json:"utterance"`
	Limit     int    `json:"limit,omitempty"`
}

// RetrieveResponse lists retrieved memories, best first.
type RetrieveResponse struct {
	Results []*engine.ScoredMemory       `json:"results"`
	Debug   *engine.DebugRetrievalResult `json:"debug,omitempty"`
}

// ConfirmRequest is the body of POST /api/memories/{id}/confirm.
type ConfirmRequest struct {
	Affirmed      *bool  `json:"affirmed"`
	Clarification string `json:"clarification,omitempty"`
}

// MemoryListResponse is the response format for GET /api/users/{user_id}/memories.
type MemoryListResponse struct {
	Memories []*types.Memory `json:"memories"`
	Total    int             `json:"total"`
}

// RelationshipResponse pairs the depth with the guidance for its stage.
type RelationshipResponse struct {
	Depth    *types.RelationshipDepth `json:"depth"`
	Guidance types.StageGuidance      `json:"guidance"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Users            int `json:"users"`
	QueueSize        int `json:"queue_size"`
	ConnectedClients int `json:"connected_clients"`
}

// AcceptedResponse acknowledges asynchronous work.
type AcceptedResponse struct {
	Status string `json:"status"`
}
