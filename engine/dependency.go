package engine

import (
	"sort"

	"github.com/VanDung-dev/Seamless-Engine/types"
)

// DependencyKind classifies an edge of the dependency graph.
type DependencyKind uint8

const (
	// DependencyRAW: the later transaction reads a key the earlier one writes.
	DependencyRAW DependencyKind = iota
	// DependencyWAW: both transactions write a common key.
	DependencyWAW
	// DependencyWAR: the later transaction writes a key the earlier one reads.
	DependencyWAR
)

// String returns the short name of the kind.
func (k DependencyKind) String() string {
	switch k {
	case DependencyRAW:
		return "raw"
	case DependencyWAW:
		return "waw"
	case DependencyWAR:
		return "war"
	default:
		return "unknown"
	}
}

// DependencyEdge says that transaction To must follow transaction From.
type DependencyEdge struct {
	From int
	To   int
	Kind DependencyKind
}

// DependencyGraph records the read-write dependencies between transactions
// in a fixed order. Edges only point forward, so the graph is acyclic.
type DependencyGraph struct {
	forward  [][]DependencyEdge
	backward [][]int
	edges    int
}

// BuildDependencyGraph builds the graph of sets, which must be in commit
// order. A pair gets one edge per kind of conflict it has. Only pairs
// that share a key are compared.
func BuildDependencyGraph(sets []*types.RWSet) *DependencyGraph {
	n := len(sets)
	g := &DependencyGraph{
		forward:  make([][]DependencyEdge, n),
		backward: make([][]int, n),
	}

	touched := make(map[types.Hash][]int)
	for j, rw := range sets {
		if rw == nil {
			continue
		}
		candidates := make(map[int]struct{})
		for _, k := range rw.AllKeys() {
			for _, i := range touched[k] {
				candidates[i] = struct{}{}
			}
		}
		earlier := make([]int, 0, len(candidates))
		for i := range candidates {
			earlier = append(earlier, i)
		}
		sort.Ints(earlier)

		for _, i := range earlier {
			c := rw.Conflicts(sets[i])
			if c.RAW {
				g.add(i, j, DependencyRAW)
			}
			if c.WAW {
				g.add(i, j, DependencyWAW)
			}
			if c.WAR {
				g.add(i, j, DependencyWAR)
			}
			if c.Any() {
				g.backward[j] = append(g.backward[j], i)
			}
		}
		for _, k := range rw.AllKeys() {
			touched[k] = append(touched[k], j)
		}
	}
	return g
}

func (g *DependencyGraph) add(from, to int, kind DependencyKind) {
	g.forward[from] = append(g.forward[from], DependencyEdge{From: from, To: to, Kind: kind})
	g.edges++
}

// Len returns the number of transactions.
func (g *DependencyGraph) Len() int { return len(g.forward) }

// EdgeCount returns the number of edges.
func (g *DependencyGraph) EdgeCount() int { return g.edges }

// Edges returns the outgoing edges of transaction i.
func (g *DependencyGraph) Edges(i int) []DependencyEdge { return g.forward[i] }

// Dependencies returns the transactions i depends on, ascending.
func (g *DependencyGraph) Dependencies(i int) []int { return g.backward[i] }

// Batches groups transactions into levels. Every transaction of a batch
// depends only on transactions of earlier batches, so a batch can run in
// parallel. Indices inside a batch are ascending.
func (g *DependencyGraph) Batches() [][]int {
	level := make([]int, g.Len())
	var batches [][]int
	for j := range level {
		for _, i := range g.backward[j] {
			if level[i]+1 > level[j] {
				level[j] = level[i] + 1
			}
		}
		if level[j] == len(batches) {
			batches = append(batches, nil)
		}
		batches[level[j]] = append(batches[level[j]], j)
	}
	return batches
}

// DependencyStats summarizes a dependency graph.
type DependencyStats struct {
	Edges          int `json:"edges"`
	Batches        int `json:"batches"`
	MaxParallelism int `json:"max_parallelism"`
}

// ParallelismRatio returns transactions per batch. 1 means fully serial.
func (s DependencyStats) ParallelismRatio(transactions int) float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(transactions) / float64(s.Batches)
}

// Stats computes the graph summary.
func (g *DependencyGraph) Stats() DependencyStats {
	batches := g.Batches()
	s := DependencyStats{Edges: g.edges, Batches: len(batches)}
	for _, b := range batches {
		if len(b) > s.MaxParallelism {
			s.MaxParallelism = len(b)
		}
	}
	return s
}

// analyzeDependencies builds the graph of confirmed transactions, which
// must already be in priority order.
func analyzeDependencies(confirmed []*ExecutedTransaction) DependencyStats {
	sets := make([]*types.RWSet, len(confirmed))
	for i, tx := range confirmed {
		sets[i] = tx.RWSet
	}
	return BuildDependencyGraph(sets).Stats()
}
