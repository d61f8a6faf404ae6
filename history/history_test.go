package history

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/tree"
)

const (
	tree1 = "((((a001:0.242690,a002:0.268555):0.073424,a003:0.252510):0.198740,((((((a004:0.001000,a005:0.014869):0.045007,a006:0.050606):0.056908,a007:0.166439):0.023217,a008:0.094788):0.429852,a009:0.558116):0.130317,(a010:0.009332,a011:0.024271):0.315124):0.217376):0.464470,a012:0.144369);"
	tree2 = "((a:1,b:2)ab:1,c:3);"
)

type fixture struct {
	t     *tree.Tree
	arena *event.Arena
	c     *event.Collection
	h     *History
}

func newFixture(tst *testing.T, s string) *fixture {
	t, err := tree.ParseNewick(bytes.NewBufferString(s))
	if err != nil {
		tst.Fatal(err)
	}
	arena := event.NewArena(event.Event{Node: t.Id})
	return &fixture{
		t:     t,
		arena: arena,
		c:     event.NewCollection(arena),
		h:     New(t, arena),
	}
}

func (f *fixture) add(mapTime float64) event.Handle {
	node := f.t.MapToNode(mapTime)
	e := f.arena.Alloc(event.Event{
		Node:    node.Id,
		MapTime: mapTime,
		Time:    f.t.AbsoluteTime(node, mapTime),
	})
	f.c.Insert(e)
	f.h.Add(e)
	f.h.Propagate(node.Id)
	return e
}

func (f *fixture) remove(e event.Handle) {
	node := f.arena.Get(e).Node
	f.c.Remove(e)
	f.h.Remove(e)
	f.h.Propagate(node)
	f.arena.Free(e)
}

func TestEmpty(tst *testing.T) {
	f := newFixture(tst, tree1)
	if err := f.h.Check(); err != nil {
		tst.Error(err)
	}
	for _, n := range f.t.Nodes() {
		if f.h.NodeEvent(n.Id) != event.Root {
			tst.Error("Node is not governed by the root", n.Id)
		}
	}
}

func TestPropagateRandom(tst *testing.T) {
	f := newFixture(tst, tree1)
	rng := rand.New(rand.NewSource(5))
	var live []event.Handle
	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Float64() < 0.4 {
			j := rng.Intn(len(live))
			f.remove(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			x := rng.Float64() * f.t.MapLength()
			if f.c.Has(x) || x == f.t.MapToNode(x).MapStart {
				continue
			}
			live = append(live, f.add(x))
		}
		if err := f.h.Check(); err != nil {
			tst.Fatalf("Iteration %d: %v", i, err)
		}
	}
}

func TestMove(tst *testing.T) {
	f := newFixture(tst, tree1)
	rng := rand.New(rand.NewSource(7))
	var live []event.Handle
	for len(live) < 10 {
		live = append(live, f.add(0.001+rng.Float64()*(f.t.MapLength()-0.002)))
	}
	for i := 0; i < 200; i++ {
		e := live[rng.Intn(len(live))]
		ev := f.arena.Get(e)
		oldNode := ev.Node
		f.c.Remove(e)
		f.h.Remove(e)
		x := 0.001 + rng.Float64()*(f.t.MapLength()-0.002)
		node := f.t.MapToNode(x)
		ev.MapTime, ev.Node, ev.Time = x, node.Id, f.t.AbsoluteTime(node, x)
		f.c.Insert(e)
		f.h.Add(e)
		f.h.PropagateMove(oldNode, node.Id)
		if err := f.h.Check(); err != nil {
			tst.Fatalf("Iteration %d: %v", i, err)
		}
	}
}

func TestRoundTrip(tst *testing.T) {
	f := newFixture(tst, tree1)
	rng := rand.New(rand.NewSource(11))
	var live []event.Handle
	for len(live) < 8 {
		live = append(live, f.add(0.001+rng.Float64()*(f.t.MapLength()-0.002)))
	}
	before := f.h.NodeEvents()
	e := live[3]
	saved := *f.arena.Get(e)
	f.remove(e)
	e2 := f.add(saved.MapTime)
	if e2 != e {
		tst.Error("Handle is not reused")
	}
	after := f.h.NodeEvents()
	for i := range before {
		if before[i] != after[i] {
			tst.Errorf("Node %d: %d != %d", i, before[i], after[i])
		}
	}
}

func TestSegments(tst *testing.T) {
	f := newFixture(tst, tree2)
	// branch to b spans map [2, 4) and time [1, 3)
	e1 := f.add(2.5)
	e2 := f.add(3)
	segs := f.h.Segments(3)
	if len(segs) != 3 {
		tst.Fatal("Expected 3 segments, got", len(segs))
	}
	exp := []Segment{{1, 1.5, event.Root}, {1.5, 2, e1}, {2, 3, e2}}
	for i := range exp {
		if segs[i] != exp[i] {
			tst.Errorf("Segment %d: %v, expected %v", i, segs[i], exp[i])
		}
	}
	if f.h.NodeEvent(3) != e2 || f.h.AncestralEvent(3) != event.Root {
		tst.Error("Wrong node events")
	}
	if f.h.Previous(e2) != e1 || f.h.Previous(e1) != event.Root {
		tst.Error("Wrong previous events")
	}

	// event on the ab branch governs a, but not b
	e3 := f.add(0.5)
	if f.h.NodeEvent(2) != e3 || f.h.NodeEvent(3) != e2 || f.h.NodeEvent(4) != event.Root {
		tst.Error("Wrong propagation")
	}
	if f.h.Previous(e1) != e3 {
		tst.Error("Previous should cross branches")
	}
	if len(f.h.Segments(0)) != 0 {
		tst.Error("Root has segments")
	}
}

func TestCheckDetects(tst *testing.T) {
	f := newFixture(tst, tree2)
	e := f.add(0.5)
	// bypass propagation
	f.h.nodeEvent[2] = event.Root
	if f.h.Check() == nil {
		tst.Error("Inconsistent history is not detected")
	}
	f.h.Propagate(1)
	if err := f.h.Check(); err != nil {
		tst.Error(err)
	}
	f.arena.Get(e).MapTime = 5
	if f.h.Check() == nil {
		tst.Error("Event outside of its branch is not detected")
	}
}
