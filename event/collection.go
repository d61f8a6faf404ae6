package event

import (
	"math"

	"github.com/google/btree"
)

// item is a collection key ordered by map time, handles break ties
// only for the sentinel pivots used in neighbor queries.
type item struct {
	mapTime float64
	h       Handle
}

func itemLess(a, b item) bool {
	if a.mapTime != b.mapTime {
		return a.mapTime < b.mapTime
	}
	return a.h < b.h
}

// Collection is the set of non-root events ordered by map time. It
// also keeps a dense slice of handles for uniform random choice.
type Collection struct {
	arena   *Arena
	ordered *btree.BTreeG[item]
	handles []Handle
	// slots[h] is the position of h in handles or -1.
	slots []int
}

// NewCollection creates an empty collection of events stored in arena.
func NewCollection(arena *Arena) *Collection {
	return &Collection{
		arena:   arena,
		ordered: btree.NewG(16, itemLess),
	}
}

func (c *Collection) setSlot(h Handle, slot int) {
	for int(h) >= len(c.slots) {
		c.slots = append(c.slots, -1)
	}
	c.slots[h] = slot
}

// Len returns the number of events.
func (c *Collection) Len() int {
	return len(c.handles)
}

// At returns the i-th handle in the random choice order.
func (c *Collection) At(i int) Handle {
	return c.handles[i]
}

// Contains returns true if h is in the collection.
func (c *Collection) Contains(h Handle) bool {
	return int(h) < len(c.slots) && h >= 0 && c.slots[h] >= 0
}

// Insert adds an event using its current map time. It returns false
// if another event occupies exactly the same position.
func (c *Collection) Insert(h Handle) bool {
	e := c.arena.Get(h)
	if c.Has(e.MapTime) {
		log.Debugf("Position collision at %v", e.MapTime)
		return false
	}
	c.ordered.ReplaceOrInsert(item{e.MapTime, h})
	c.setSlot(h, len(c.handles))
	c.handles = append(c.handles, h)
	return true
}

// Remove deletes an event. The event map time must not have changed
// since Insert. The returned slot allows Restore to undo the removal
// exactly.
func (c *Collection) Remove(h Handle) (slot int) {
	if !c.Contains(h) {
		panic("removing event which is not in the collection")
	}
	e := c.arena.Get(h)
	if _, ok := c.ordered.Delete(item{e.MapTime, h}); !ok {
		panic("event map time changed while in the collection")
	}
	slot = c.slots[h]
	last := len(c.handles) - 1
	moved := c.handles[last]
	c.handles[slot] = moved
	c.slots[moved] = slot
	c.handles = c.handles[:last]
	c.slots[h] = -1
	return slot
}

// Restore reverses Remove(h) which returned slot. It must be called
// before any other modification of the collection.
func (c *Collection) Restore(h Handle, slot int) {
	e := c.arena.Get(h)
	c.ordered.ReplaceOrInsert(item{e.MapTime, h})
	if slot == len(c.handles) {
		c.handles = append(c.handles, h)
	} else {
		moved := c.handles[slot]
		c.handles = append(c.handles, moved)
		c.slots[moved] = len(c.handles) - 1
		c.handles[slot] = h
	}
	c.setSlot(h, slot)
}

// Has returns true if an event is located exactly at mapTime.
func (c *Collection) Has(mapTime float64) (found bool) {
	c.ordered.AscendGreaterOrEqual(item{mapTime, math.MinInt}, func(it item) bool {
		found = it.mapTime == mapTime
		return false
	})
	return
}

// Before returns the event with the greatest map time strictly less
// than mapTime.
func (c *Collection) Before(mapTime float64) (h Handle, ok bool) {
	h = None
	c.ordered.DescendLessOrEqual(item{mapTime, math.MinInt}, func(it item) bool {
		if it.mapTime < mapTime {
			h, ok = it.h, true
			return false
		}
		return true
	})
	return
}

// After returns the event with the smallest map time strictly greater
// than mapTime.
func (c *Collection) After(mapTime float64) (h Handle, ok bool) {
	h = None
	c.ordered.AscendGreaterOrEqual(item{mapTime, math.MaxInt}, func(it item) bool {
		if it.mapTime > mapTime {
			h, ok = it.h, true
			return false
		}
		return true
	})
	return
}

// Ascend calls fn for every event in map time order until fn returns
// false.
func (c *Collection) Ascend(fn func(Handle) bool) {
	c.ordered.Ascend(func(it item) bool {
		return fn(it.h)
	})
}

// Handles returns a copy of the handles in map time order.
func (c *Collection) Handles() []Handle {
	hs := make([]Handle, 0, c.Len())
	c.Ascend(func(h Handle) bool {
		hs = append(hs, h)
		return true
	})
	return hs
}
