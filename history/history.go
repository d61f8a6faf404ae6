// Package history keeps track of which event governs every branch of
// the tree.
package history

import (
	"fmt"
	"sort"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/tree"
)

// History stores per-node branch histories of one chain.
type History struct {
	tree  *tree.Tree
	arena *event.Arena
	// onBranch[n] are events on the branch leading to n, sorted by
	// map time.
	onBranch [][]event.Handle
	// nodeEvent[n] governs the tipward end of the branch leading to n.
	nodeEvent []event.Handle
}

// Segment is a piece of a branch between two consecutive nodes or
// events.
type Segment struct {
	// Start and End are absolute times, Start is rootward.
	Start float64
	End   float64
	// Event governs the segment.
	Event event.Handle
}

// New creates a history where every node is governed by the root event.
func New(t *tree.Tree, arena *event.Arena) *History {
	h := &History{
		tree:      t,
		arena:     arena,
		onBranch:  make([][]event.Handle, t.NNodes()),
		nodeEvent: make([]event.Handle, t.NNodes()),
	}
	for i := range h.nodeEvent {
		h.nodeEvent[i] = event.Root
	}
	return h
}

func (h *History) mapTime(e event.Handle) float64 {
	return h.arena.Get(e).MapTime
}

// Add registers an event on its branch; Propagate must follow.
func (h *History) Add(e event.Handle) {
	node := h.arena.Get(e).Node
	list := h.onBranch[node]
	mt := h.mapTime(e)
	i := sort.Search(len(list), func(i int) bool {
		return h.mapTime(list[i]) > mt
	})
	list = append(list, event.None)
	copy(list[i+1:], list[i:])
	list[i] = e
	h.onBranch[node] = list
}

// Remove unregisters an event from its branch; Propagate must follow.
// The event must still hold the node it was added with.
func (h *History) Remove(e event.Handle) {
	node := h.arena.Get(e).Node
	list := h.onBranch[node]
	for i, o := range list {
		if o == e {
			h.onBranch[node] = append(list[:i], list[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("event %d is not on branch %d", e, node))
}

// Propagate recomputes the governing event of node from its own
// branch and its parent, and pushes it down the subtree. Subtrees
// below branches hosting events are not visited.
func (h *History) Propagate(node int) {
	n := h.tree.Nodes()[node]
	switch {
	case len(h.onBranch[node]) > 0:
		list := h.onBranch[node]
		h.nodeEvent[node] = list[len(list)-1]
	case n.IsRoot():
		h.nodeEvent[node] = event.Root
	default:
		h.nodeEvent[node] = h.nodeEvent[n.Parent.Id]
	}
	governing := h.nodeEvent[node]
	for _, child := range n.ChildNodes() {
		h.inherit(child, governing)
	}
}

func (h *History) inherit(n *tree.Node, governing event.Handle) {
	if len(h.onBranch[n.Id]) > 0 {
		return
	}
	h.nodeEvent[n.Id] = governing
	for _, child := range n.ChildNodes() {
		h.inherit(child, governing)
	}
}

// PropagateMove propagates after an event moved from branch oldNode
// to branch newNode, the rootward node first. Node ids follow
// pre-order, so a smaller id is never a descendant of a larger one.
func (h *History) PropagateMove(oldNode, newNode int) {
	if oldNode > newNode {
		oldNode, newNode = newNode, oldNode
	}
	h.Propagate(oldNode)
	if newNode != oldNode {
		h.Propagate(newNode)
	}
}

// Rebuild registers all the events of c and propagates from the root.
func (h *History) Rebuild(c *event.Collection) {
	for i := range h.onBranch {
		h.onBranch[i] = h.onBranch[i][:0]
	}
	c.Ascend(func(e event.Handle) bool {
		h.Add(e)
		return true
	})
	h.Propagate(h.tree.Id)
}

// NodeEvent returns the event governing the tipward end of the
// branch leading to node.
func (h *History) NodeEvent(node int) event.Handle {
	return h.nodeEvent[node]
}

// AncestralEvent returns the event governing the rootward end of the
// branch leading to node, i.e. the node event of its parent.
func (h *History) AncestralEvent(node int) event.Handle {
	n := h.tree.Nodes()[node]
	if n.IsRoot() {
		return event.Root
	}
	return h.nodeEvent[n.Parent.Id]
}

// Previous returns the event immediately rootward of e.
func (h *History) Previous(e event.Handle) event.Handle {
	if e == event.Root {
		return event.None
	}
	node := h.arena.Get(e).Node
	list := h.onBranch[node]
	for i, o := range list {
		if o == e {
			if i > 0 {
				return list[i-1]
			}
			break
		}
	}
	return h.AncestralEvent(node)
}

// Segments returns pieces of the branch leading to node from the
// rootward end to the tipward end. The root has no segments.
func (h *History) Segments(node int) []Segment {
	n := h.tree.Nodes()[node]
	if n.IsRoot() {
		return nil
	}
	list := h.onBranch[node]
	segs := make([]Segment, 0, len(list)+1)
	start := n.Parent.Time
	governing := h.AncestralEvent(node)
	for _, e := range list {
		t := h.arena.Get(e).Time
		segs = append(segs, Segment{Start: start, End: t, Event: governing})
		start = t
		governing = e
	}
	segs = append(segs, Segment{Start: start, End: n.Time, Event: governing})
	return segs
}

// NodeEvents returns a copy of all node events indexed by node id.
func (h *History) NodeEvents() []event.Handle {
	return append([]event.Handle(nil), h.nodeEvent...)
}

// Check compares every node event with a root to tip scan and
// verifies branch lists. It returns the first inconsistency found.
func (h *History) Check() error {
	nodes := h.tree.Nodes()
	for _, n := range nodes {
		list := h.onBranch[n.Id]
		for i, e := range list {
			ev := h.arena.Get(e)
			if !h.arena.Live(e) {
				return fmt.Errorf("node %d: dead event %d", n.Id, e)
			}
			if ev.Node != n.Id {
				return fmt.Errorf("node %d: event %d belongs to node %d", n.Id, e, ev.Node)
			}
			if !n.Contains(ev.MapTime) {
				return fmt.Errorf("node %d: event %d at %v is outside of [%v, %v]",
					n.Id, e, ev.MapTime, n.MapStart, n.MapEnd)
			}
			if i > 0 && h.mapTime(list[i-1]) >= ev.MapTime {
				return fmt.Errorf("node %d: events %d and %d are not ordered", n.Id, list[i-1], e)
			}
		}

		expected := event.Root
		for m := n; m != nil; m = m.Parent {
			if l := h.onBranch[m.Id]; len(l) > 0 {
				expected = l[len(l)-1]
				break
			}
		}
		if h.nodeEvent[n.Id] != expected {
			return fmt.Errorf("node %d: governed by %d, expected %d", n.Id, h.nodeEvent[n.Id], expected)
		}
	}
	return nil
}
