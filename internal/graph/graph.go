// Package graph derives connectivity and ranking signal from relation edges.
package graph

import (
	"github.com/rcliao/memkeeper/internal/model"
)

// Graph is an undirected view of the edges among active records. Directed
// relation kinds still connect both endpoints.
type Graph struct {
	importance map[string]float64
	adjacent   map[string][]model.Relation
}

// Build indexes edges whose endpoints are both in records and whose weight
// is positive. Records are expected to be active; soft-deleted ones are
// dropped so callers may pass unfiltered input.
func Build(records []model.Record, edges []model.Relation) *Graph {
	g := &Graph{
		importance: make(map[string]float64, len(records)),
		adjacent:   make(map[string][]model.Relation),
	}
	for _, r := range records {
		if r.SoftDeleted {
			continue
		}
		g.importance[r.ID] = r.Importance
	}
	for _, e := range edges {
		if e.Weight <= 0 || e.FromID == e.ToID {
			continue
		}
		if _, ok := g.importance[e.FromID]; !ok {
			continue
		}
		if _, ok := g.importance[e.ToID]; !ok {
			continue
		}
		g.adjacent[e.FromID] = append(g.adjacent[e.FromID], e)
		g.adjacent[e.ToID] = append(g.adjacent[e.ToID], e)
	}
	return g
}

// Contains reports whether id is an active record in the graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.importance[id]
	return ok
}

// Connectivity returns the number of live edges touching id.
func (g *Graph) Connectivity(id string) int {
	return len(g.adjacent[id])
}

// IsOrphan reports whether id has no live edge to another active record.
func (g *Graph) IsOrphan(id string) bool {
	return g.Connectivity(id) == 0
}

// Neighbours returns the distinct ids connected to id.
func (g *Graph) Neighbours(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range g.adjacent[id] {
		other := e.Other(id)
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// Scores returns, per record, the sum over its live edges of neighbour
// importance times edge weight, clamped to [0,1]. Records without edges
// are absent from the map.
func (g *Graph) Scores() map[string]float64 {
	scores := make(map[string]float64, len(g.adjacent))
	for id, edges := range g.adjacent {
		var sum float64
		for _, e := range edges {
			sum += clamp(g.importance[e.Other(id)]) * clamp(e.Weight)
		}
		if sum > 0 {
			scores[id] = clamp(sum)
		}
	}
	return scores
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
