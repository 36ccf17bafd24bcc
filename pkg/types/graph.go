package types

import (
	"strings"
	"time"
)

// Edge strength bounds.
const (
	MinEdgeStrength = 1
	MaxEdgeStrength = 10
)

// GraphNode is a named entity in a user's knowledge graph.
// (UserID, Name, Type) is unique; Name and Type never change after creation.
type GraphNode struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"` // Bumped on every re-mention
}

// GraphEdge is a typed, weighted relationship between two nodes of the same user.
// (SourceID, TargetID, Relationship) is unique; Strength is overwritten on re-observation.
type GraphEdge struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	Relationship string    `json:"relationship"`
	Strength     int       `json:"strength"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeNodeType lower-cases and trims an entity type so that "Person"
// and "person " key the same node.
func NormalizeNodeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// NormalizeRelationship converts a free-form relation into snake_case.
func NormalizeRelationship(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	return strings.Join(strings.Fields(r), "_")
}

// ClampStrength keeps an edge strength inside [MinEdgeStrength, MaxEdgeStrength].
// Zero (unspecified) maps to the midpoint.
func ClampStrength(s int) int {
	if s == 0 {
		return 5
	}
	return max(MinEdgeStrength, min(MaxEdgeStrength, s))
}
