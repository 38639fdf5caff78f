// Package community partitions a similarity graph into communities by
// modularity maximization, using Leiden or Louvain.
//
// Runs are deterministic: nodes are visited in index order and ties between
// equally good communities go to the lowest community label.
package community

import (
	"context"
	"fmt"
	"sort"
)

// Algorithm selects the community detection procedure.
type Algorithm string

const (
	Leiden  Algorithm = "leiden"
	Louvain Algorithm = "louvain"
)

const (
	gainTolerance    = 1e-12
	defaultMaxLevels = 32
)

// Options tunes community detection.
type Options struct {
	Algorithm  Algorithm
	Resolution float64
	MaxLevels  int
}

func (o Options) withDefaults() Options {
	if o.Algorithm == "" {
		o.Algorithm = Leiden
	}
	if o.Resolution == 0 {
		o.Resolution = 1
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = defaultMaxLevels
	}
	return o
}

// Validate rejects unknown algorithms and non-positive resolutions.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch o.Algorithm {
	case Leiden, Louvain:
	default:
		return fmt.Errorf("unknown community algorithm %q", o.Algorithm)
	}
	if o.Resolution < 0 {
		return fmt.Errorf("resolution must be positive, got %v", o.Resolution)
	}
	return nil
}

// Result is a partition of the nodes of the input graph.
type Result struct {
	// Membership holds the community of every node. Communities are
	// numbered 0..Communities-1 in order of their lowest node index.
	Membership  []int
	Communities int
	Modularity  float64
	Levels      int
}

// Detect partitions g. Cancellation is checked before every level, so a
// cancelled run returns ctx.Err() and no partial result.
func Detect(ctx context.Context, g *Graph, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := g.N()
	if n == 0 {
		return &Result{Membership: []int{}}, nil
	}
	if g.TotalWeight() == 0 {
		return singletons(n), nil
	}

	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	current := g
	partition := identity(current.N())
	levels := 0
	for levels < opts.MaxLevels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		levels++

		localMove(current, partition, opts.Resolution)
		if countLabels(partition) == current.N() {
			break
		}

		grouping := partition
		if opts.Algorithm == Leiden {
			grouping = refine(current, partition, opts.Resolution)
		}

		aggregated, nodeOf := aggregate(current, grouping)
		if aggregated.N() == current.N() {
			break
		}

		next := make([]int, aggregated.N())
		if opts.Algorithm == Leiden {
			// Aggregate nodes start in the community their members were
			// moved to, not in singletons.
			for v := range current.N() {
				next[nodeOf[v]] = partition[v]
			}
			renumber(next)
		} else {
			next = identity(aggregated.N())
		}

		for i := range membership {
			membership[i] = nodeOf[membership[i]]
		}
		current = aggregated
		partition = next
	}

	final := make([]int, n)
	for i := range final {
		final[i] = partition[membership[i]]
	}
	count := renumber(final)
	return &Result{
		Membership:  final,
		Communities: count,
		Modularity:  Modularity(g, final, opts.Resolution),
		Levels:      levels,
	}, nil
}

// localMove moves single nodes between communities until no move improves
// modularity. Nodes whose neighborhood changed are revisited via a queue.
func localMove(g *Graph, comm []int, gamma float64) bool {
	n := g.N()
	m2 := g.TotalWeight()
	tot := make([]float64, n)
	for i := range n {
		tot[comm[i]] += g.Degree(i)
	}

	queue := make([]int, 0, n)
	queued := make([]bool, n)
	for i := range n {
		queue = append(queue, i)
		queued[i] = true
	}

	weightTo := make([]float64, n)
	touched := make([]int, 0, 16)
	moved := false

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		queued[i] = false

		cur := comm[i]
		ki := g.Degree(i)

		touched = touched[:0]
		for _, e := range g.Neighbors(i) {
			c := comm[e.To]
			if weightTo[c] == 0 {
				touched = append(touched, c)
			}
			weightTo[c] += e.Weight
		}
		sort.Ints(touched)

		tot[cur] -= ki
		stayGain := weightTo[cur] - gamma*tot[cur]*ki/m2

		best := -1
		bestGain := 0.0
		for _, c := range touched {
			if c == cur {
				continue
			}
			gain := weightTo[c] - gamma*tot[c]*ki/m2
			if best == -1 || gain > bestGain+gainTolerance {
				best = c
				bestGain = gain
			}
		}

		target := cur
		if best != -1 && bestGain > stayGain+gainTolerance {
			target = best
		}
		tot[target] += ki
		for _, c := range touched {
			weightTo[c] = 0
		}

		if target == cur {
			continue
		}
		comm[i] = target
		moved = true
		for _, e := range g.Neighbors(i) {
			if comm[e.To] != target && !queued[e.To] {
				queued[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return moved
}

// refine splits every community of comm into well-connected sub-communities.
// Each sub-community starts as a singleton; a singleton node that is well
// connected to its community merges into the well-connected sub-community
// with the largest non-negative modularity gain.
func refine(g *Graph, comm []int, gamma float64) []int {
	n := g.N()
	m2 := g.TotalWeight()

	members := make(map[int][]int)
	for i := range n {
		members[comm[i]] = append(members[comm[i]], i)
	}
	labels := make([]int, 0, len(members))
	for c := range members {
		labels = append(labels, c)
	}
	sort.Ints(labels)

	ref := identity(n)
	refTot := make([]float64, n)
	refSize := make([]int, n)
	refExt := make([]float64, n)
	innerDeg := make([]float64, n)
	for i := range n {
		refTot[i] = g.Degree(i)
		refSize[i] = 1
		for _, e := range g.Neighbors(i) {
			if comm[e.To] == comm[i] {
				innerDeg[i] += e.Weight
			}
		}
		refExt[i] = innerDeg[i]
	}

	weightTo := make([]float64, n)
	touched := make([]int, 0, 16)

	for _, c := range labels {
		nodes := members[c]
		if len(nodes) == 1 {
			continue
		}
		var totC float64
		for _, v := range nodes {
			totC += g.Degree(v)
		}

		for _, v := range nodes {
			if refSize[ref[v]] != 1 {
				continue
			}
			kv := g.Degree(v)
			if innerDeg[v] < gamma*kv*(totC-kv)/m2 {
				continue
			}

			touched = touched[:0]
			for _, e := range g.Neighbors(v) {
				if comm[e.To] != c {
					continue
				}
				s := ref[e.To]
				if weightTo[s] == 0 {
					touched = append(touched, s)
				}
				weightTo[s] += e.Weight
			}
			sort.Ints(touched)

			best := -1
			bestGain := 0.0
			for _, s := range touched {
				if s == ref[v] {
					continue
				}
				if refExt[s] < gamma*refTot[s]*(totC-refTot[s])/m2 {
					continue
				}
				gain := weightTo[s] - gamma*kv*refTot[s]/m2
				if gain < 0 {
					continue
				}
				if best == -1 || gain > bestGain+gainTolerance {
					best = s
					bestGain = gain
				}
			}

			if best != -1 {
				own := ref[v]
				refSize[own] = 0
				refTot[own] = 0
				refExt[best] = refExt[best] + innerDeg[v] - 2*weightTo[best]
				refTot[best] += kv
				refSize[best]++
				ref[v] = best
			}
			for _, s := range touched {
				weightTo[s] = 0
			}
		}
	}
	return ref
}

// aggregate collapses every group of nodes into one node. It returns the
// aggregated graph and the aggregated node of every input node. Aggregated
// nodes are numbered in order of their group label.
func aggregate(g *Graph, groups []int) (*Graph, []int) {
	n := g.N()
	labels := make([]int, 0)
	seen := make(map[int]int)
	for i := range n {
		if _, ok := seen[groups[i]]; !ok {
			seen[groups[i]] = -1
			labels = append(labels, groups[i])
		}
	}
	sort.Ints(labels)
	for idx, l := range labels {
		seen[l] = idx
	}

	nodeOf := make([]int, n)
	for i := range n {
		nodeOf[i] = seen[groups[i]]
	}

	b := NewBuilder(len(labels))
	for u := range n {
		cu := nodeOf[u]
		b.AddEdge(cu, cu, g.self[u])
		for _, e := range g.Neighbors(u) {
			if e.To < u {
				continue
			}
			b.AddEdge(cu, nodeOf[e.To], e.Weight)
		}
	}
	return b.Build(), nodeOf
}

// Modularity returns the modularity of partition comm on g at resolution gamma.
func Modularity(g *Graph, comm []int, gamma float64) float64 {
	m2 := g.TotalWeight()
	if m2 == 0 {
		return 0
	}
	internal := make(map[int]float64)
	tot := make(map[int]float64)
	for u := range g.N() {
		c := comm[u]
		tot[c] += g.Degree(u)
		internal[c] += 2 * g.self[u]
		for _, e := range g.Neighbors(u) {
			if comm[e.To] == c {
				internal[c] += e.Weight
			}
		}
	}
	var q float64
	for c, t := range tot {
		q += internal[c]/m2 - gamma*(t/m2)*(t/m2)
	}
	return q
}

func singletons(n int) *Result {
	return &Result{Membership: identity(n), Communities: n, Levels: 0}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func countLabels(comm []int) int {
	seen := make(map[int]struct{}, len(comm))
	for _, c := range comm {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// renumber relabels comm in place to 0..k-1 by first appearance and returns k.
func renumber(comm []int) int {
	next := make(map[int]int)
	for i, c := range comm {
		id, ok := next[c]
		if !ok {
			id = len(next)
			next[c] = id
		}
		comm[i] = id
	}
	return len(next)
}
