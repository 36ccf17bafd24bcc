package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/scrypster/riya/pkg/types"
)

// ErrGraphBoundsExceeded is wrapped when a traversal hits one of its limits.
var ErrGraphBoundsExceeded = errors.New("graph traversal bounds exceeded")

// GraphBounds limits a traversal of a user's knowledge graph.
type GraphBounds struct {
	MaxHops  int           // default 2, max 5
	MaxNodes int           // default 50, max 500
	Timeout  time.Duration // default 2s
}

// Normalize applies defaults and caps.
func (b *GraphBounds) Normalize() {
	if b.MaxHops <= 0 {
		b.MaxHops = 2
	}
	b.MaxHops = min(b.MaxHops, 5)
	if b.MaxNodes <= 0 {
		b.MaxNodes = 50
	}
	b.MaxNodes = min(b.MaxNodes, 500)
	if b.Timeout <= 0 {
		b.Timeout = 2 * time.Second
	}
}

// boundsChecker tracks traversal progress against GraphBounds.
type boundsChecker struct {
	bounds       GraphBounds
	nodesVisited int
	startTime    time.Time
}

func newBoundsChecker(bounds GraphBounds) *boundsChecker {
	bounds.Normalize()
	return &boundsChecker{bounds: bounds, startTime: time.Now()}
}

// canContinue checks context, node budget and timeout.
func (b *boundsChecker) canContinue(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during graph traversal: %w", ctx.Err())
	default:
	}
	if b.nodesVisited >= b.bounds.MaxNodes {
		return fmt.Errorf("%w: max nodes (%d) exceeded", ErrGraphBoundsExceeded, b.bounds.MaxNodes)
	}
	if elapsed := time.Since(b.startTime); elapsed >= b.bounds.Timeout {
		return fmt.Errorf("%w: timeout (%v) exceeded after %v", ErrGraphBoundsExceeded, b.bounds.Timeout, elapsed)
	}
	return nil
}

// Subgraph is the part of a user's graph reachable from a starting entity.
type Subgraph struct {
	Nodes []*types.GraphNode `json:"nodes"`
	Edges []*types.GraphEdge `json:"edges"`

	// Depth maps node ID to its hop distance from the start.
	Depth map[string]int `json:"depth"`

	// Truncated is set when a bound stopped the traversal early.
	Truncated bool `json:"truncated"`
}

// Neighborhood runs a bounded breadth-first search from every node named
// name (case-insensitive), following edges in both directions. Hitting a
// bound truncates the result instead of failing; a cancelled context fails.
func (g *GraphBuilder) Neighborhood(ctx context.Context, userID, name string, bounds GraphBounds) (*Subgraph, error) {
	bounds.Normalize()
	checker := newBoundsChecker(bounds)

	nodes, err := g.repo.ListNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := g.repo.ListEdges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}

	byID := make(map[string]*types.GraphNode, len(nodes))
	type queueItem struct {
		id    string
		depth int
	}
	var queue []queueItem
	for _, n := range nodes {
		byID[n.ID] = n
		if nameKey(n.Name) == nameKey(name) {
			queue = append(queue, queueItem{n.ID, 0})
		}
	}

	adjacent := make(map[string][]*types.GraphEdge)
	for _, e := range edges {
		adjacent[e.SourceID] = append(adjacent[e.SourceID], e)
		adjacent[e.TargetID] = append(adjacent[e.TargetID], e)
	}

	sub := &Subgraph{
		Nodes: []*types.GraphNode{},
		Edges: []*types.GraphEdge{},
		Depth: make(map[string]int),
	}
	seenEdges := make(map[string]bool)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, visited := sub.Depth[current.id]; visited {
			continue
		}

		if err := checker.canContinue(ctx); err != nil {
			if errors.Is(err, ErrGraphBoundsExceeded) {
				sub.Truncated = true
				break
			}
			return nil, err
		}
		checker.nodesVisited++
		sub.Depth[current.id] = current.depth
		sub.Nodes = append(sub.Nodes, byID[current.id])

		if current.depth >= bounds.MaxHops {
			continue
		}
		for _, e := range adjacent[current.id] {
			next := e.TargetID
			if next == current.id {
				next = e.SourceID
			}
			if _, visited := sub.Depth[next]; !visited {
				queue = append(queue, queueItem{next, current.depth + 1})
			}
		}
	}

	// Keep only edges whose endpoints were both reached.
	for _, e := range edges {
		_, okSrc := sub.Depth[e.SourceID]
		_, okDst := sub.Depth[e.TargetID]
		if okSrc && okDst && !seenEdges[e.ID] {
			seenEdges[e.ID] = true
			sub.Edges = append(sub.Edges, e)
		}
	}
	sort.SliceStable(sub.Nodes, func(i, j int) bool {
		return sub.Depth[sub.Nodes[i].ID] < sub.Depth[sub.Nodes[j].ID]
	})
	return sub, nil
}
