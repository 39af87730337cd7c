package model

import (
	"math"
	"math/rand/v2"

	"txn-anomaly-lab/internal/matrix"
)

// LeafFeature marks a leaf node.
const LeafFeature = -1

// Node is one node of an isolation tree. Branch nodes send a row left when
// float32(row[Feature]) <= Threshold. Leaves carry the number of training
// samples that reached them.
type Node struct {
	Feature   int
	Threshold float32
	Left      int
	Right     int
	Depth     int
	Size      int
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Feature == LeafFeature
}

// PathLength is the isolation depth credited to rows ending in leaf n:
// its depth plus the expected depth of the unbuilt subtree below it.
func (n *Node) PathLength() float64 {
	return float64(n.Depth) + averagePathLength(n.Size)
}

// Tree is an isolation tree stored as a flat node list; node 0 is the root
// and nodes appear in pre-order.
type Tree struct {
	Nodes []Node
}

// PathLength returns the path length of row through t.
func (t *Tree) PathLength(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.PathLength()
		}
		if float32(row[n.Feature]) <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeGrower builds one isolation tree from a subsample.
type treeGrower struct {
	data     *matrix.FeatureMatrix
	rng      *rand.Rand
	maxDepth int
	nodes    []Node

	// scratch buffers reused across nodes
	candidates []int
	lo, hi     []float32
}

func growTree(data *matrix.FeatureMatrix, sample []int, maxDepth int, rng *rand.Rand) *Tree {
	g := &treeGrower{
		data:     data,
		rng:      rng,
		maxDepth: maxDepth,
		lo:       make([]float32, data.Cols()),
		hi:       make([]float32, data.Cols()),
	}
	g.grow(sample, 0)
	return &Tree{Nodes: g.nodes}
}

// grow appends the subtree for idx and returns its root node index.
func (g *treeGrower) grow(idx []int, depth int) int {
	self := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: LeafFeature, Left: -1, Right: -1, Depth: depth, Size: len(idx)})

	if depth >= g.maxDepth || len(idx) <= 1 {
		return self
	}

	feature, threshold, ok := g.chooseSplit(idx)
	if !ok {
		return self
	}

	// Partition in place: rows with value <= threshold first.
	split := 0
	for i, r := range idx {
		if float32(g.data.At(r, feature)) <= threshold {
			idx[i], idx[split] = idx[split], idx[i]
			split++
		}
	}

	left := g.grow(idx[:split], depth+1)
	right := g.grow(idx[split:], depth+1)

	g.nodes[self] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      left,
		Right:     right,
		Depth:     depth,
		Size:      len(idx),
	}
	return self
}

// chooseSplit picks a feature uniformly among those that are not constant
// over idx and a threshold uniformly in [min, max). Both sides of the split
// are guaranteed non-empty.
func (g *treeGrower) chooseSplit(idx []int) (int, float32, bool) {
	cols := g.data.Cols()
	for j := 0; j < cols; j++ {
		g.lo[j] = float32(math.Inf(1))
		g.hi[j] = float32(math.Inf(-1))
	}
	for _, r := range idx {
		row := g.data.Row(r)
		for j := 0; j < cols; j++ {
			v := float32(row[j])
			if v < g.lo[j] {
				g.lo[j] = v
			}
			if v > g.hi[j] {
				g.hi[j] = v
			}
		}
	}

	g.candidates = g.candidates[:0]
	for j := 0; j < cols; j++ {
		if g.hi[j] > g.lo[j] {
			g.candidates = append(g.candidates, j)
		}
	}
	if len(g.candidates) == 0 {
		return 0, 0, false
	}

	feature := g.candidates[g.rng.IntN(len(g.candidates))]
	lo, hi := float64(g.lo[feature]), float64(g.hi[feature])
	threshold := float32(lo + g.rng.Float64()*(hi-lo))
	if threshold >= g.hi[feature] || threshold < g.lo[feature] {
		threshold = g.lo[feature]
	}
	return feature, threshold, true
}
