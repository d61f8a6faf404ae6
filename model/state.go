package model

import (
	"fmt"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/history"
)

// EventState is a serializable event.
type EventState struct {
	Node    int       `json:"node"`
	MapTime float64   `json:"mapTime"`
	Time    float64   `json:"time"`
	Values  []float64 `json:"values"`
}

// State is a serializable chain state.
type State struct {
	Generation    int          `json:"generation"`
	Temperature   float64      `json:"temperature"`
	EventRate     float64      `json:"eventRate"`
	Root          EventState   `json:"root"`
	Events        []EventState `json:"events"`
	NodeStates    []float64    `json:"nodeStates,omitempty"`
	LogLikelihood float64      `json:"lnL"`
	LogPrior      float64      `json:"lnPrior"`
}

func eventState(e event.Event) EventState {
	return EventState{
		Node:    e.Node,
		MapTime: e.MapTime,
		Time:    e.Time,
		Values:  append([]float64(nil), e.Slice()...),
	}
}

// State returns the current chain state, events are in map time
// order.
func (m *Model) State() *State {
	s := &State{
		Generation:    m.generation,
		Temperature:   m.temperature,
		EventRate:     m.eventRate,
		Root:          eventState(*m.arena.Get(event.Root)),
		Events:        make([]EventState, 0, m.events.Len()),
		NodeStates:    m.NodeStates(),
		LogLikelihood: m.logLikelihood,
		LogPrior:      m.logPrior,
	}
	for _, h := range m.events.Handles() {
		s.Events = append(s.Events, eventState(*m.arena.Get(h)))
	}
	return s
}

func (m *Model) params(values []float64) (event.Params, error) {
	p := event.Params{Kind: m.cfg.Kind}
	if len(values) != m.cfg.Kind.NValues() {
		return p, fmt.Errorf("%d event parameters, expected %d", len(values), m.cfg.Kind.NValues())
	}
	copy(p.Values[:], values)
	return p, nil
}

// Restore replaces the chain state. Event positions are validated
// and the likelihood is recomputed.
func (m *Model) Restore(s *State) error {
	root, err := m.params(s.Root.Values)
	if err != nil {
		return err
	}
	if m.nodeState != nil {
		if len(s.NodeStates) != len(m.nodeState) {
			return fmt.Errorf("%d node states, expected %d", len(s.NodeStates), len(m.nodeState))
		}
	}

	arena := event.NewArena(event.Event{Node: m.tree.Id, Params: root})
	events := event.NewCollection(arena)
	for i, es := range s.Events {
		p, err := m.params(es.Values)
		if err != nil {
			return err
		}
		node := m.tree.MapToNode(es.MapTime)
		if node == nil || node.Id != es.Node || !node.Contains(es.MapTime) {
			return fmt.Errorf("event %d at %v is not on branch %d", i, es.MapTime, es.Node)
		}
		h := arena.Alloc(event.Event{
			Node:    node.Id,
			MapTime: es.MapTime,
			Time:    m.tree.AbsoluteTime(node, es.MapTime),
			Params:  p,
		})
		if !events.Insert(h) {
			return fmt.Errorf("event %d position %v is not unique", i, es.MapTime)
		}
	}
	m.arena = arena
	m.events = events
	m.history = history.New(m.tree, arena)
	m.history.Rebuild(events)

	if m.nodeState != nil {
		copy(m.nodeState, s.NodeStates)
	}
	m.eventRate = s.EventRate
	m.generation = s.Generation
	m.temperature = s.Temperature
	m.logLikelihood = m.ComputeLogLikelihood()
	m.logPrior = m.ComputeLogPrior()
	m.pending = pending{}
	if !finite(m.LogPosterior()) {
		return fmt.Errorf("%w: lnL=%v, lnPrior=%v", ErrLikelihood, m.logLikelihood, m.logPrior)
	}
	return nil
}
