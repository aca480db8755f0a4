package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memkeeper/internal/model"
)

func rec(id string, importance float64) model.Record {
	return model.Record{ID: id, Importance: importance}
}

func edge(from, to string, weight float64) model.Relation {
	return model.Relation{FromID: from, ToID: to, Kind: model.RelRelatesTo, Weight: weight}
}

func TestConnectivityCountsBothDirections(t *testing.T) {
	g := Build(
		[]model.Record{rec("a", 0.5), rec("b", 0.5), rec("c", 0.5)},
		[]model.Relation{{FromID: "a", ToID: "b", Kind: model.RelDependsOn, Weight: 1}},
	)

	assert.Equal(t, 1, g.Connectivity("a"))
	assert.Equal(t, 1, g.Connectivity("b"))
	assert.True(t, g.IsOrphan("c"))
	assert.False(t, g.IsOrphan("b"))
}

func TestBuildDropsDeadEdges(t *testing.T) {
	deleted := rec("gone", 0.9)
	deleted.SoftDeleted = true

	g := Build(
		[]model.Record{rec("a", 0.5), rec("b", 0.5), deleted},
		[]model.Relation{
			edge("a", "gone", 1),
			edge("a", "missing", 1),
			edge("a", "b", 0),
			edge("a", "a", 1),
		},
	)

	assert.True(t, g.IsOrphan("a"))
	assert.False(t, g.Contains("gone"))
	assert.Empty(t, g.Scores())
}

func TestScores(t *testing.T) {
	g := Build(
		[]model.Record{rec("a", 0.8), rec("b", 0.4), rec("c", 0.9), rec("d", 0.2)},
		[]model.Relation{edge("a", "b", 0.5), edge("c", "a", 1.0)},
	)

	scores := g.Scores()
	require.Len(t, scores, 3)
	// a: 0.4*0.5 + 0.9*1.0 = 1.1, clamped
	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.4, scores["b"], 1e-9)
	assert.InDelta(t, 0.8, scores["c"], 1e-9)
	_, ok := scores["d"]
	assert.False(t, ok)
}

func TestNeighboursDistinct(t *testing.T) {
	g := Build(
		[]model.Record{rec("a", 0.5), rec("b", 0.5)},
		[]model.Relation{
			edge("a", "b", 1),
			{FromID: "b", ToID: "a", Kind: model.RelSupports, Weight: 1},
		},
	)
	assert.Equal(t, []string{"b"}, g.Neighbours("a"))
	assert.Equal(t, 2, g.Connectivity("a"))
}
