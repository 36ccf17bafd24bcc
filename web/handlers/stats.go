package handlers

import (
	"context"
	"net/http"
)

// QueueSizeGetter defines the interface for getting queue size.
type QueueSizeGetter interface {
	QueueLength() int
}

// UserLister lists known user IDs.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// StatsHandler handles statistics endpoint requests.
type StatsHandler struct {
	users       UserLister
	queueGetter QueueSizeGetter
	hub         *WebSocketHub
}

// NewStatsHandler creates a new StatsHandler instance. queueGetter and hub
// may be nil.
func NewStatsHandler(users UserLister, queueGetter QueueSizeGetter, hub *WebSocketHub) *StatsHandler {
	return &StatsHandler{
		users:       users,
		queueGetter: queueGetter,
		hub:         hub,
	}
}

// GetStats handles GET /api/stats - returns system statistics.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ids, err := h.users.ListUserIDs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count users", err)
		return
	}

	stats := StatsResponse{Users: len(ids)}
	if h.queueGetter != nil {
		stats.QueueSize = h.queueGetter.QueueLength()
	}
	if h.hub != nil {
		stats.ConnectedClients = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, stats)
}
