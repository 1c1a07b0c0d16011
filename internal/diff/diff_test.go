package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
)

func graph(nodes []string, links ...domain.GraphLink) *domain.Graph {
	g := domain.NewGraph("OLSR", "0.8", "ETX")
	for _, id := range nodes {
		g.AddNode(domain.GraphNode{ID: id})
	}
	for _, l := range links {
		g.AddLink(l)
	}
	return g
}

func link(source, target string, cost float64) domain.GraphLink {
	return domain.GraphLink{Source: source, Target: target, Cost: cost}
}

func TestComputeIdentical(t *testing.T) {
	g := graph([]string{"a", "b"}, link("a", "b", 1))
	d := Compute(g, g)
	assert.True(t, d.Empty())
}

func TestComputeFromEmpty(t *testing.T) {
	next := graph([]string{"a", "b"}, link("a", "b", 1))

	d := Compute(nil, next)

	require.Len(t, d.Added.Nodes, 2)
	require.Len(t, d.Added.Links, 1)
	assert.True(t, d.Changed.Empty())
	assert.True(t, d.Removed.Empty())
}

func TestComputeLinkSymmetry(t *testing.T) {
	current := graph([]string{"a", "b"}, link("a", "b", 1))
	next := graph([]string{"a", "b"}, link("b", "a", 1))

	d := Compute(current, next)

	assert.True(t, d.Empty(), "reversed endpoints must match the stored link")
}

func TestComputeChanged(t *testing.T) {
	current := graph([]string{"a", "b"}, link("a", "b", 1))

	t.Run("cost change keeps new value", func(t *testing.T) {
		next := graph([]string{"a", "b"}, link("b", "a", 2))
		d := Compute(current, next)
		require.Len(t, d.Changed.Links, 1)
		assert.Equal(t, 2.0, d.Changed.Links[0].Cost)
		assert.Empty(t, d.Added.Links)
		assert.Empty(t, d.Removed.Links)
	})

	t.Run("cost text change", func(t *testing.T) {
		l := link("a", "b", 1)
		l.CostText = "1 hop"
		d := Compute(current, graph([]string{"a", "b"}, l))
		require.Len(t, d.Changed.Links, 1)
	})

	t.Run("property change", func(t *testing.T) {
		l := link("a", "b", 1)
		l.Properties = map[string]any{"signal": -55}
		d := Compute(current, graph([]string{"a", "b"}, l))
		require.Len(t, d.Changed.Links, 1)
	})

	t.Run("numeric types compare by value", func(t *testing.T) {
		stored := link("a", "b", 1)
		stored.Properties = map[string]any{"signal": float64(-55)}
		fresh := link("a", "b", 1)
		fresh.Properties = map[string]any{"signal": -55}
		d := Compute(graph([]string{"a", "b"}, stored), graph([]string{"a", "b"}, fresh))
		assert.True(t, d.Empty())
	})

	t.Run("node label and addresses", func(t *testing.T) {
		next := graph(nil, link("a", "b", 1))
		next.AddNode(domain.GraphNode{ID: "a", Label: "A"})
		next.AddNode(domain.GraphNode{ID: "b", LocalAddresses: []string{"b2"}})
		d := Compute(current, next)
		require.Len(t, d.Changed.Nodes, 2)
		assert.Equal(t, "A", d.Changed.Nodes[0].Label)
	})
}

func TestComputeRemoved(t *testing.T) {
	l := link("a", "c", 2)
	l.Properties = map[string]any{"weight": 1}
	current := graph([]string{"a", "b", "c"}, link("a", "b", 1), l)
	next := graph([]string{"a", "b"}, link("a", "b", 1))

	d := Compute(current, next)

	require.Len(t, d.Removed.Links, 1)
	assert.Equal(t, domain.GraphLink{Source: "a", Target: "c"}, d.Removed.Links[0])
	require.Len(t, d.Removed.Nodes, 1)
	assert.Equal(t, "c", d.Removed.Nodes[0].ID)
}

func TestComputeDuplicatesCollapse(t *testing.T) {
	next := graph([]string{"a", "b", "a"}, link("a", "b", 1), link("b", "a", 3))

	d := Compute(nil, next)

	assert.Len(t, d.Added.Nodes, 2)
	require.Len(t, d.Added.Links, 1)
	assert.Equal(t, 1.0, d.Added.Links[0].Cost, "first report of an edge wins")
}
