package community

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"
)

// Edge is one half of an undirected weighted edge.
type Edge struct {
	To     int
	Weight float64
}

// Graph is an undirected weighted graph over the node indices [0, N).
//
// Adjacency lists are sorted by neighbor index and never contain the node
// itself. Weight collapsed into a node by aggregation is kept as a self loop.
type Graph struct {
	adj    [][]Edge
	self   []float64
	degree []float64
	total  float64
	edges  int
}

// N returns the number of nodes.
func (g *Graph) N() int {
	return len(g.adj)
}

// Edges returns the number of undirected edges between distinct nodes.
func (g *Graph) Edges() int {
	return g.edges
}

// Neighbors returns the adjacency list of node i.
func (g *Graph) Neighbors(i int) []Edge {
	return g.adj[i]
}

// Degree returns the weighted degree of node i, counting its self loop twice.
func (g *Graph) Degree(i int) float64 {
	return g.degree[i]
}

// TotalWeight returns the sum of all degrees (2m).
func (g *Graph) TotalWeight() float64 {
	return g.total
}

// Builder accumulates edges for a Graph. Adding the same pair twice sums
// the weights.
type Builder struct {
	n     int
	pairs []map[int]float64
	self  []float64
}

// NewBuilder returns a Builder for n nodes.
func NewBuilder(n int) *Builder {
	return &Builder{
		n:     n,
		pairs: make([]map[int]float64, n),
		self:  make([]float64, n),
	}
}

// AddEdge adds weight w between u and v. A loop (u == v) adds to the self
// loop of u.
func (b *Builder) AddEdge(u, v int, w float64) {
	if w == 0 {
		return
	}
	if u == v {
		b.self[u] += w
		return
	}
	if u > v {
		u, v = v, u
	}
	if b.pairs[u] == nil {
		b.pairs[u] = make(map[int]float64)
	}
	b.pairs[u][v] += w
}

// Build freezes the accumulated edges into a Graph.
func (b *Builder) Build() *Graph {
	g := &Graph{
		adj:    make([][]Edge, b.n),
		self:   b.self,
		degree: make([]float64, b.n),
	}
	for u, m := range b.pairs {
		for v, w := range m {
			g.adj[u] = append(g.adj[u], Edge{To: v, Weight: w})
			g.adj[v] = append(g.adj[v], Edge{To: u, Weight: w})
			g.degree[u] += w
			g.degree[v] += w
			g.edges++
		}
	}
	for i := range g.adj {
		slices.SortFunc(g.adj[i], func(a, b Edge) int { return a.To - b.To })
		g.degree[i] += 2 * g.self[i]
		g.total += g.degree[i]
	}
	return g
}

// BuildOptions controls similarity graph construction.
type BuildOptions struct {
	// Threshold is the score an entity pair must exceed to be connected.
	Threshold float64
	// MaxEdgesPerNode keeps only the strongest k edges of every node (an
	// edge survives when either endpoint ranks it). Zero keeps all edges.
	MaxEdgesPerNode int
}

// SimilarityGraph is a graph over entities together with the entity id of
// every node. Nodes are ordered by ascending entity id.
type SimilarityGraph struct {
	*Graph
	IDs []string
}

// BuildSimilarityGraph connects every pair of embedded entities whose score
// exceeds opts.Threshold, weighted by that score. Entities without an
// embedding are left out. Cancellation is checked once per row.
func BuildSimilarityGraph(
	ctx context.Context,
	entities []common.Entity,
	scorer similarity.Scorer,
	opts BuildOptions,
) (*SimilarityGraph, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, common.InvalidConfig("edge threshold %v outside [0,1]", opts.Threshold)
	}
	if opts.MaxEdgesPerNode < 0 {
		return nil, common.InvalidConfig("max edges per node must not be negative")
	}

	nodes := make([]*common.Entity, 0, len(entities))
	for i := range entities {
		if entities[i].HasEmbedding() {
			nodes = append(nodes, &entities[i])
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	ids := make([]string, len(nodes))
	unit := make([][]float32, len(nodes))
	for i, e := range nodes {
		ids[i] = e.ID
		if i > 0 && ids[i-1] == e.ID {
			return nil, fmt.Errorf("duplicate entity id %q", e.ID)
		}
		if len(e.Embedding) != len(nodes[0].Embedding) {
			return nil, fmt.Errorf("%w: entity %q has %d dimensions, expected %d",
				common.ErrDimensionMismatch, e.ID, len(e.Embedding), len(nodes[0].Embedding))
		}
		unit[i] = similarity.Normalize(e.Embedding)
	}

	type candidate struct {
		u, v int
		w    float64
	}
	var found []candidate
	for i := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(nodes); j++ {
			cos := max(-1, min(1, similarity.Dot(unit[i], unit[j])))
			score := scorer.Combine(similarity.Rescale(cos), nodes[i].RevenueBucket, nodes[j].RevenueBucket)
			if score > opts.Threshold {
				found = append(found, candidate{u: i, v: j, w: score})
			}
		}
	}

	keep := make([]bool, len(found))
	if opts.MaxEdgesPerNode > 0 {
		incident := make([][]int, len(nodes))
		for idx, c := range found {
			incident[c.u] = append(incident[c.u], idx)
			incident[c.v] = append(incident[c.v], idx)
		}
		for node, list := range incident {
			other := func(idx int) int {
				if found[idx].u == node {
					return found[idx].v
				}
				return found[idx].u
			}
			sort.Slice(list, func(a, b int) bool {
				ea, eb := found[list[a]], found[list[b]]
				if ea.w != eb.w {
					return ea.w > eb.w
				}
				return other(list[a]) < other(list[b])
			})
			for _, idx := range list[:min(len(list), opts.MaxEdgesPerNode)] {
				keep[idx] = true
			}
		}
	} else {
		for i := range keep {
			keep[i] = true
		}
	}

	b := NewBuilder(len(nodes))
	for idx, c := range found {
		if keep[idx] {
			b.AddEdge(c.u, c.v, c.w)
		}
	}
	return &SimilarityGraph{Graph: b.Build(), IDs: ids}, nil
}
