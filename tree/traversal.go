package tree

import (
	"errors"
	"fmt"
)

// edgeIndex is a validated view of ancestor/descendant lists.
type edgeIndex struct {
	root     int
	parent   []int
	children [][]int
}

func newEdgeIndex(anc, desc []int, nNodes int) (*edgeIndex, error) {
	if len(anc) != len(desc) {
		return nil, fmt.Errorf("ancestor list length %d != descendant list length %d", len(anc), len(desc))
	}
	if nNodes <= 0 {
		return nil, ErrNoRoot
	}
	idx := &edgeIndex{
		root:     -1,
		parent:   make([]int, nNodes),
		children: make([][]int, nNodes),
	}
	for i := range idx.parent {
		idx.parent[i] = -1
	}
	for i, a := range anc {
		d := desc[i]
		if a < 0 || a >= nNodes || d < 0 || d >= nNodes {
			return nil, fmt.Errorf("edge %d (%d->%d) is out of range [0, %d)", i, a, d, nNodes)
		}
		if idx.parent[d] != -1 {
			return nil, fmt.Errorf("node %d has multiple parents", d)
		}
		idx.parent[d] = a
		idx.children[a] = append(idx.children[a], d)
	}
	for i, p := range idx.parent {
		if p != -1 {
			continue
		}
		if idx.root != -1 {
			return nil, fmt.Errorf("multiple roots: %d and %d", idx.root, i)
		}
		idx.root = i
	}
	if idx.root == -1 {
		return nil, ErrNoRoot
	}
	return idx, nil
}

// orderBuilder accumulates a traversal sequence.
type orderBuilder struct {
	children [][]int
	seq      []int
}

func (b *orderBuilder) pre(node int) {
	b.seq = append(b.seq, node)
	for _, child := range b.children[node] {
		b.pre(child)
	}
}

func (b *orderBuilder) post(node int) {
	for _, child := range b.children[node] {
		b.post(child)
	}
	b.seq = append(b.seq, node)
}

func traverse(anc, desc []int, nNodes int, post bool) ([]int, error) {
	idx, err := newEdgeIndex(anc, desc, nNodes)
	if err != nil {
		return nil, err
	}
	b := &orderBuilder{
		children: idx.children,
		seq:      make([]int, 0, nNodes),
	}
	if post {
		b.post(idx.root)
	} else {
		b.pre(idx.root)
	}
	if len(b.seq) != nNodes {
		return nil, fmt.Errorf("%d nodes are not reachable from the root", nNodes-len(b.seq))
	}
	return b.seq, nil
}

// PreOrder returns node ids with every node preceding its
// descendants. Children are visited in the edge list order.
func PreOrder(anc, desc []int, nNodes int) ([]int, error) {
	return traverse(anc, desc, nNodes, false)
}

// PostOrder returns node ids with every node following its
// descendants. Children are visited in the edge list order.
func PostOrder(anc, desc []int, nNodes int) ([]int, error) {
	return traverse(anc, desc, nNodes, true)
}

// MRCA returns the most recent common ancestor of nodes a and b.
func MRCA(anc, desc []int, nNodes int, a, b int) (int, error) {
	idx, err := newEdgeIndex(anc, desc, nNodes)
	if err != nil {
		return -1, err
	}
	if a < 0 || a >= nNodes || b < 0 || b >= nNodes {
		return -1, errors.New("node id is out of range")
	}
	ancestors := make([]bool, nNodes)
	// steps bounds walks through cycles detached from the root.
	for n, steps := a, 0; n != -1 && steps <= nNodes; n, steps = idx.parent[n], steps+1 {
		ancestors[n] = true
	}
	for n, steps := b, 0; n != -1 && steps <= nNodes; n, steps = idx.parent[n], steps+1 {
		if ancestors[n] {
			return n, nil
		}
	}
	return -1, fmt.Errorf("nodes %d and %d have no common ancestor", a, b)
}
