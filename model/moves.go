package model

import (
	"math"
	"sort"

	"github.com/mrrlab/rjshift/event"
)

// change is the kind of state modification done by a proposal.
type change int

const (
	noChange change = iota
	added
	removed
	moved
	parameter
	eventRate
	nodeState
)

// pending records everything needed to revert the proposal in
// flight.
type pending struct {
	change change
	handle event.Handle
	slot   int
	old    event.Event
	index  int
	value  float64

	logLikelihood float64
	logPrior      float64
}

// reflectRange folds v back into [min, max].
func reflectRange(v, min, max float64) float64 {
	for v < min || v > max {
		if v < min {
			v = min + (min - v)
		}
		if v > max {
			v = max - (v - max)
		}
	}
	return v
}

// chooseMove selects a move proportionally to its weight.
func (m *Model) chooseMove() Move {
	u := m.rng.Float64() * m.cumWeights[NMoves-1]
	i := sort.Search(NMoves, func(i int) bool {
		return m.cumWeights[i] > u
	})
	if i == NMoves {
		i = NMoves - 1
	}
	return Move(i)
}

// Step performs one generation: proposes a move and accepts or
// rejects it.
func (m *Model) Step() {
	move := m.chooseMove()
	m.Propose(move)
	m.generation++
	if m.cfg.Validate {
		if err := m.Validate(); err != nil {
			log.Criticalf("Generation %d, move %s: %v", m.generation, MoveName(m.cfg.Kind, move), err)
			panic(err)
		}
	}
}

// Run performs n generations.
func (m *Model) Run(n int) {
	for i := 0; i < n; i++ {
		m.Step()
	}
}

// Propose performs a single proposal of a given move and either
// commits or reverts it. It returns true if the proposal was
// accepted.
func (m *Model) Propose(move Move) bool {
	m.proposed[move]++
	m.pending = pending{
		logLikelihood: m.logLikelihood,
		logPrior:      m.logPrior,
	}

	var logQ float64
	var ok bool
	switch {
	case move == EventNumber:
		logQ, ok = m.proposeEventNumber()
	case move == EventPosition:
		ok = m.proposeEventPosition()
	case move == EventRate:
		ok = m.proposeEventRate()
	case move == NodeState:
		ok = m.proposeNodeState()
	default:
		ok = m.proposeParameter(int(move - moveParameter))
	}
	if !ok {
		m.reject()
		return false
	}

	newLogLikelihood := m.logLikelihood
	if m.pending.change != eventRate {
		newLogLikelihood = m.ComputeLogLikelihood()
	}
	newLogPrior := m.ComputeLogPrior()
	newLogPost := newLogLikelihood + newLogPrior
	if math.IsNaN(newLogPost) || math.IsInf(newLogPost, 1) {
		m.reject()
		return false
	}

	logA := m.temperature*(newLogPost-m.LogPosterior()) + logQ
	if math.Log(m.rng.Float64()) < logA {
		m.logLikelihood = newLogLikelihood
		m.logPrior = newLogPrior
		m.commit()
		m.accepted[move]++
		return true
	}
	m.reject()
	return false
}

// commit finalizes the pending change.
func (m *Model) commit() {
	if m.pending.change == removed {
		m.arena.Free(m.pending.handle)
	}
	m.pending = pending{}
}

// reject reverts the pending change and restores cached values.
func (m *Model) reject() {
	p := &m.pending
	switch p.change {
	case added:
		node := m.arena.Get(p.handle).Node
		m.history.Remove(p.handle)
		m.events.Remove(p.handle)
		m.history.Propagate(node)
		m.arena.Free(p.handle)
	case removed:
		m.events.Restore(p.handle, p.slot)
		m.history.Add(p.handle)
		m.history.Propagate(p.old.Node)
	case moved:
		e := m.arena.Get(p.handle)
		newNode := e.Node
		m.history.Remove(p.handle)
		m.events.Remove(p.handle)
		*e = p.old
		m.events.Restore(p.handle, p.slot)
		m.history.Add(p.handle)
		m.history.PropagateMove(newNode, p.old.Node)
	case parameter:
		m.arena.Get(p.handle).Values[p.index] = p.value
	case eventRate:
		m.eventRate = p.value
	case nodeState:
		m.nodeState[p.index] = p.value
	}
	m.logLikelihood = p.logLikelihood
	m.logPrior = p.logPrior
	m.pending = pending{}
}

// randomPosition draws a uniform map position. It returns false if
// the position is not strictly inside a branch or is occupied.
func (m *Model) randomPosition() (float64, bool) {
	x := m.rng.Float64() * m.tree.MapLength()
	return x, m.validPosition(-1, x)
}

// validPosition checks that x is strictly inside the branch of node
// (or any branch if node is negative) and not occupied.
func (m *Model) validPosition(node int, x float64) bool {
	n := m.tree.MapToNode(x)
	if n == nil || !n.Contains(x) || (node >= 0 && n.Id != node) {
		return false
	}
	return !m.events.Has(x)
}

// proposeEventNumber adds or removes an event.
func (m *Model) proposeEventNumber() (logQ float64, ok bool) {
	k := m.events.Len()
	if k == 0 || m.rng.Float64() < 0.5 {
		x, ok := m.randomPosition()
		if !ok {
			return 0, false
		}
		node := m.tree.MapToNode(x)
		params := m.cfg.Prior.Draw(m.rng)
		m.pending.handle = m.insert(event.Event{
			Node:    node.Id,
			MapTime: x,
			Time:    m.tree.AbsoluteTime(node, x),
			Params:  params,
		})
		m.pending.change = added
		if k == 0 {
			logQ = -math.Ln2
		}
		return logQ - m.cfg.Prior.LogProb(params), true
	}

	h := m.events.At(m.rng.Intn(k))
	e := *m.arena.Get(h)
	m.pending.change = removed
	m.pending.handle = h
	m.pending.old = e
	m.pending.slot = m.events.Remove(h)
	m.history.Remove(h)
	m.history.Propagate(e.Node)
	if k == 1 {
		logQ = math.Ln2
	}
	return logQ + m.cfg.Prior.LogProb(e.Params), true
}

// proposeEventPosition moves a random event either within its branch
// or anywhere on the tree.
func (m *Model) proposeEventPosition() bool {
	k := m.events.Len()
	if k == 0 {
		return false
	}
	h := m.events.At(m.rng.Intn(k))
	e := m.arena.Get(h)
	r := m.cfg.LocalGlobalRatio

	var x float64
	if m.rng.Float64() < r/(1+r) {
		node := m.tree.Nodes()[e.Node]
		width := m.cfg.LocationScale * m.tree.MaxRootToTip()
		x = reflectRange(e.MapTime+(m.rng.Float64()-0.5)*width, node.MapStart, node.MapEnd)
		if !m.validPosition(node.Id, x) {
			return false
		}
	} else {
		var ok bool
		if x, ok = m.randomPosition(); !ok {
			return false
		}
	}

	m.pending.change = moved
	m.pending.handle = h
	m.pending.old = *e
	m.pending.slot = m.events.Remove(h)
	m.history.Remove(h)

	node := m.tree.MapToNode(x)
	e.MapTime = x
	e.Node = node.Id
	e.Time = m.tree.AbsoluteTime(node, x)
	m.events.Insert(h)
	m.history.Add(h)
	m.history.PropagateMove(m.pending.old.Node, node.Id)
	return true
}

// proposeParameter updates i-th regime parameter of the root or a
// random event.
func (m *Model) proposeParameter(i int) bool {
	k := m.events.Len()
	h := event.Root
	if j := m.rng.Intn(k + 1); j < k {
		h = m.events.At(j)
	}
	e := m.arena.Get(h)
	old := e.Values[i]
	v := old + m.rng.NormFloat64()*m.cfg.Scales[i]
	if event.IsInit(i) {
		v = math.Abs(v)
	}
	m.pending.change = parameter
	m.pending.handle = h
	m.pending.index = i
	m.pending.value = old
	e.Values[i] = v
	return true
}

// proposeEventRate updates the Poisson event rate.
func (m *Model) proposeEventRate() bool {
	m.pending.change = eventRate
	m.pending.value = m.eventRate
	m.eventRate = math.Abs(m.eventRate + m.rng.NormFloat64()*m.cfg.EventRateScale)
	return true
}

// proposeNodeState updates the trait value of a random internal node.
func (m *Model) proposeNodeState() bool {
	internal := m.tree.NNodes() - m.tree.NLeaves()
	if internal == 0 {
		return false
	}
	// internal nodes are taken in pre-order
	j := m.rng.Intn(internal)
	var id int
	for _, node := range m.tree.PreOrder() {
		if node.IsTerminal() {
			continue
		}
		if j == 0 {
			id = node.Id
			break
		}
		j--
	}
	old := m.nodeState[id]
	v := old + (2*m.rng.Float64()-1)*m.cfg.NodeStateScale
	if v < m.cfg.TraitMin || v > m.cfg.TraitMax {
		return false
	}
	m.pending.change = nodeState
	m.pending.index = id
	m.pending.value = old
	m.nodeState[id] = v
	return true
}
