package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/pkg/types"
)

// GraphMeta contains metadata about the graph response.
type GraphMeta struct {
	Center    string `json:"center,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// GraphResponse is the response format for GET /api/users/{user_id}/graph.
type GraphResponse struct {
	Nodes []*types.GraphNode `json:"nodes"`
	Edges []*types.GraphEdge `json:"edges"`
	Hops  map[string]int     `json:"hops,omitempty"`
	Meta  GraphMeta          `json:"meta"`
}

// EntityHandler serves a user's knowledge graph.
type EntityHandler struct {
	graph *engine.GraphBuilder
}

// NewEntityHandler creates a new EntityHandler instance.
func NewEntityHandler(graph *engine.GraphBuilder) *EntityHandler {
	return &EntityHandler{graph: graph}
}

// GetGraph handles GET /api/users/{user_id}/graph.
// Query params:
//   - around: entity name to centre on; omitted returns the whole graph
//   - depth: traversal depth when around is set (1-3, default 1)
//   - max_nodes: node cap when around is set (default 50)
func (h *EntityHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := extractID(r, "user_id")

	around := strings.TrimSpace(r.URL.Query().Get("around"))
	if around == "" {
		g, err := h.graph.Graph(ctx, userID)
		if err != nil {
			respondError(w, statusForError(err), "failed to load graph", err)
			return
		}
		respondJSON(w, http.StatusOK, GraphResponse{
			Nodes: g.Nodes,
			Edges: g.Edges,
			Meta:  GraphMeta{NodeCount: len(g.Nodes), EdgeCount: len(g.Edges)},
		})
		return
	}

	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	if depth < 1 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}

	sub, err := h.graph.Neighborhood(ctx, userID, around, engine.GraphBounds{
		MaxHops:  depth,
		MaxNodes: parseInt(r.URL.Query().Get("max_nodes"), 0),
	})
	if err != nil {
		respondError(w, statusForError(err), "failed to traverse graph", err)
		return
	}
	if len(sub.Nodes) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("entity '%s' not found", around), nil)
		return
	}

	respondJSON(w, http.StatusOK, GraphResponse{
		Nodes: sub.Nodes,
		Edges: sub.Edges,
		Hops:  sub.Depth,
		Meta: GraphMeta{
			Center:    around,
			Depth:     depth,
			NodeCount: len(sub.Nodes),
			EdgeCount: len(sub.Edges),
			Truncated: sub.Truncated,
		},
	})
}
