package event

// Arena stores events of one chain. Handles stay valid until freed,
// freed handles are reused in LIFO order.
type Arena struct {
	events []Event
	live   []bool
	free   []Handle
}

// NewArena creates an arena holding the root event.
func NewArena(root Event) *Arena {
	return &Arena{
		events: []Event{root},
		live:   []bool{true},
	}
}

// Alloc stores a new event and returns its handle.
func (a *Arena) Alloc(e Event) Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.events[h] = e
		a.live[h] = true
		return h
	}
	a.events = append(a.events, e)
	a.live = append(a.live, true)
	return Handle(len(a.events) - 1)
}

// Free releases a handle. The root event cannot be freed.
func (a *Arena) Free(h Handle) {
	if h == Root {
		panic("freeing the root event")
	}
	if !a.Live(h) {
		panic("freeing a dead event handle")
	}
	a.live[h] = false
	a.free = append(a.free, h)
}

// Get returns a pointer to the event, it is valid until the next Alloc.
func (a *Arena) Get(h Handle) *Event {
	return &a.events[h]
}

// Live returns true if handle refers to an allocated event.
func (a *Arena) Live(h Handle) bool {
	return h >= 0 && int(h) < len(a.live) && a.live[h]
}

// Cap returns the number of slots in the arena.
func (a *Arena) Cap() int {
	return len(a.events)
}
