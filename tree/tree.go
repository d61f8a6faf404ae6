// Package tree implements a fixed rooted phylogeny with the map-time
// layout used to place rate-shift events along its branches.
package tree

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tree is a frozen rooted tree. All the derived orders and times are
// computed once by freeze and never change afterwards.
type Tree struct {
	*Node
	nodes     []*Node
	preOrder  []*Node
	postOrder []*Node
	// mapOrder are non-root nodes in the map layout order,
	// mapEnds[i] is the end of mapOrder[i] branch.
	mapOrder     []*Node
	mapEnds      []float64
	mapLength    float64
	maxRootToTip float64
	nLeaves      int
}

// Node is a tree vertex together with its parent branch.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	Id           int
	LeafId       int
	// Time is the distance from the root to the node.
	Time float64
	// MapStart and MapEnd define the map interval of the branch
	// leading to the node, MapStart is the rootward end.
	MapStart float64
	MapEnd   float64
}

// NewNode creates a node with a given id.
func NewNode(parent *Node, nodeId int) (node *Node) {
	node = &Node{Parent: parent, Id: nodeId, LeafId: -1}
	return
}

// AddChild attaches subNode as the last child.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// ChildNodes returns node children in the input order.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// Walk sends node and all its descendants in pre-order to ch.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// FirstTip returns the first tip of the subtree.
func (node *Node) FirstTip() *Node {
	for !node.IsTerminal() {
		node = node.childNodes[0]
	}
	return node
}

// LastTip returns the last tip of the subtree. Together with FirstTip
// of an internal node it identifies the node by tip names.
func (node *Node) LastTip() *Node {
	for !node.IsTerminal() {
		node = node.childNodes[len(node.childNodes)-1]
	}
	return node
}

func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// Contains returns true if the map position is strictly inside the
// node branch.
func (node *Node) Contains(mapTime float64) bool {
	return mapTime > node.MapStart && mapTime < node.MapEnd
}

func (node *Node) String() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s:%0.6f", node.Name, node.BranchLength)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.String()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += ")" + node.Name
	if node.IsRoot() {
		return s + ";"
	}
	return s + fmt.Sprintf(":%0.6f", node.BranchLength)
}

// BrString returns newick string with node ids instead of branch
// lengths.
func (node *Node) BrString() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s#%d", node.Name, node.Id)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.BrString()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf(")#%d", node.Id)
	if node.IsRoot() {
		s += ";"
	}
	return s
}

func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("Id=%v, BranchLength=%v, Time=%v, Map=[%v, %v)",
		node.Id, node.BranchLength, node.Time, node.MapStart, node.MapEnd)
	if node.IsTerminal() {
		s += fmt.Sprintf(", TipId=%v", node.LeafId)
	}
	s += ">"
	return
}

func (node *Node) FullString() string {
	return strings.TrimSpace(node.prefixString(""))
}

func (node *Node) prefixString(prefix string) (s string) {
	s = prefix + node.LongString() + "\n"
	for _, node := range node.childNodes {
		s += node.prefixString(prefix + "    ")
	}
	return
}

// freeze validates the tree and computes ids, orders, times and the
// map layout. Node ids are reassigned in pre-order, so the root
// always has id 0.
func (tree *Tree) freeze() error {
	if tree.Node == nil {
		return ErrNoRoot
	}
	// all holds nodes in breadth-first order, pre-order is derived
	// from its edge lists.
	all := []*Node{tree.Node}
	var edgeAnc, edgeDesc []int
	for i := 0; i < len(all); i++ {
		for _, child := range all[i].childNodes {
			edgeAnc = append(edgeAnc, i)
			edgeDesc = append(edgeDesc, len(all))
			all = append(all, child)
		}
	}
	pre, err := PreOrder(edgeAnc, edgeDesc, len(all))
	if err != nil {
		return err
	}
	tree.preOrder = make([]*Node, len(pre))
	tree.nodes = make([]*Node, len(pre))
	for i, id := range pre {
		node := all[id]
		node.Id = i
		tree.preOrder[i] = node
		tree.nodes[i] = node
	}

	tree.nLeaves = 0
	tree.maxRootToTip = 0
	tree.mapLength = 0
	tree.mapOrder = make([]*Node, 0, len(tree.nodes)-1)
	tree.mapEnds = make([]float64, 0, len(tree.nodes)-1)
	for _, node := range tree.preOrder {
		if node.IsTerminal() {
			node.LeafId = tree.nLeaves
			tree.nLeaves++
		}
		if node.IsRoot() {
			node.Time = 0
			node.MapStart, node.MapEnd = 0, 0
			continue
		}
		if node.BranchLength < 0 || math.IsNaN(node.BranchLength) || math.IsInf(node.BranchLength, 0) {
			return fmt.Errorf("node %d: invalid branch length %v", node.Id, node.BranchLength)
		}
		node.Time = node.Parent.Time + node.BranchLength
		node.MapStart = tree.mapLength
		tree.mapLength += node.BranchLength
		node.MapEnd = tree.mapLength
		tree.mapOrder = append(tree.mapOrder, node)
		tree.mapEnds = append(tree.mapEnds, node.MapEnd)
		if node.Time > tree.maxRootToTip {
			tree.maxRootToTip = node.Time
		}
	}
	if tree.mapLength <= 0 {
		return errors.New("tree has zero total branch length")
	}

	anc, desc := tree.Edges()
	post, err := PostOrder(anc, desc, len(tree.nodes))
	if err != nil {
		return err
	}
	tree.postOrder = make([]*Node, len(post))
	for i, id := range post {
		tree.postOrder[i] = tree.nodes[id]
	}
	return nil
}

// NNodes returns the number of nodes including the root.
func (tree *Tree) NNodes() int {
	return len(tree.nodes)
}

// NLeaves returns the number of tips.
func (tree *Tree) NLeaves() int {
	return tree.nLeaves
}

// Nodes returns nodes indexed by id.
func (tree *Tree) Nodes() []*Node {
	return tree.nodes
}

// PreOrder returns nodes with every node preceding its descendants.
func (tree *Tree) PreOrder() []*Node {
	return tree.preOrder
}

// PostOrder returns nodes with every node following its descendants.
func (tree *Tree) PostOrder() []*Node {
	return tree.postOrder
}

// MapLength is the total length of the map, i.e. the sum of all the
// branch lengths.
func (tree *Tree) MapLength() float64 {
	return tree.mapLength
}

// MaxRootToTip returns the largest root to tip distance.
func (tree *Tree) MaxRootToTip() float64 {
	return tree.maxRootToTip
}

// IsUltrametric checks that all the tips are at the same distance
// from the root with a relative tolerance.
func (tree *Tree) IsUltrametric(tol float64) bool {
	for _, node := range tree.nodes {
		if node.IsTerminal() && math.Abs(node.Time-tree.maxRootToTip) > tol*tree.maxRootToTip {
			return false
		}
	}
	return true
}

// Walker returns a channel with all the nodes satisfying filter in
// pre-order.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NSubNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// Terminals returns a channel with all the tips.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return node.IsTerminal()
	})
}

// Edges returns ancestor and descendant lists of all the branches in
// pre-order.
func (tree *Tree) Edges() (anc, desc []int) {
	anc = make([]int, 0, len(tree.preOrder)-1)
	desc = make([]int, 0, len(tree.preOrder)-1)
	for _, node := range tree.preOrder {
		if node.IsRoot() {
			continue
		}
		anc = append(anc, node.Parent.Id)
		desc = append(desc, node.Id)
	}
	return
}

// MapToNode returns the node whose branch contains mapTime. Positions
// outside of [0, MapLength) return nil.
func (tree *Tree) MapToNode(mapTime float64) *Node {
	if mapTime < 0 || mapTime >= tree.mapLength {
		return nil
	}
	i := sort.Search(len(tree.mapEnds), func(i int) bool {
		return tree.mapEnds[i] > mapTime
	})
	if i == len(tree.mapEnds) {
		return nil
	}
	return tree.mapOrder[i]
}

// AbsoluteTime converts the map position on a node branch to the time
// since the root.
func (tree *Tree) AbsoluteTime(node *Node, mapTime float64) float64 {
	if node.IsRoot() {
		return 0
	}
	return node.Parent.Time + (mapTime - node.MapStart)
}

// FromEdges creates a tree from branch lists. lengths[i] is the length
// of a branch from anc[i] to desc[i]. Ids of the resulting tree follow
// pre-order, so names carry the original ids as strings for tips
// without name.
func FromEdges(anc, desc []int, lengths []float64, nNodes int, names []string) (*Tree, error) {
	if len(lengths) != len(desc) {
		return nil, fmt.Errorf("%d branch lengths for %d branches", len(lengths), len(desc))
	}
	idx, err := newEdgeIndex(anc, desc, nNodes)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, nNodes)
	for i := range nodes {
		nodes[i] = NewNode(nil, i)
		if i < len(names) {
			nodes[i].Name = names[i]
		}
	}
	for i := range anc {
		nodes[anc[i]].AddChild(nodes[desc[i]])
		nodes[desc[i]].BranchLength = lengths[i]
	}
	for i, node := range nodes {
		if node.IsTerminal() && node.Name == "" {
			node.Name = fmt.Sprint(i)
		}
	}
	tree := &Tree{Node: nodes[idx.root]}
	if err := tree.freeze(); err != nil {
		return nil, err
	}
	return tree, nil
}
