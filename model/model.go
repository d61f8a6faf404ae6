// Package model implements a single reversible-jump MCMC chain over
// rate-shift event configurations.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/op/go-logging"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/history"
	"github.com/mrrlab/rjshift/prior"
	"github.com/mrrlab/rjshift/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("model")

// Move is a proposal type.
type Move int

const (
	// EventNumber adds or deletes an event.
	EventNumber Move = iota
	// EventPosition moves an event locally or globally.
	EventPosition
	// EventRate updates the Poisson event rate.
	EventRate
	// NodeState updates a trait value of an internal node.
	NodeState
	// moveParameter+i updates i-th regime parameter.
	moveParameter
)

// NMoves is the number of move types.
const NMoves = int(moveParameter) + event.MaxValues

// ParameterMove returns the move updating i-th regime parameter.
func ParameterMove(i int) Move {
	return moveParameter + Move(i)
}

// MoveName returns a human readable move name for a model kind.
func MoveName(kind event.Kind, move Move) string {
	switch move {
	case EventNumber:
		return "eventNumber"
	case EventPosition:
		return "eventPosition"
	case EventRate:
		return "eventRate"
	case NodeState:
		return "nodeState"
	}
	i := int(move - moveParameter)
	if i >= 0 && i < kind.NValues() {
		return kind.ParameterNames()[i]
	}
	return fmt.Sprintf("Move(%d)", int(move))
}

// ErrLikelihood is returned when the initial state has no finite
// posterior.
var ErrLikelihood = errors.New("initial log posterior is not finite")

// Config contains all the model settings.
type Config struct {
	Kind  event.Kind
	Prior prior.Prior
	// Initial are the root event parameters at the start.
	Initial event.Params
	// InitialEventRate overrides the prior mean if positive.
	InitialEventRate    float64
	InitialNumberEvents int

	// Weights are relative move frequencies.
	Weights [NMoves]float64

	// Scales[i] is the random walk standard deviation of i-th
	// regime parameter.
	Scales         [event.MaxValues]float64
	EventRateScale float64
	// LocationScale is the local move width relative to the maximum
	// root to tip distance.
	LocationScale    float64
	LocalGlobalRatio float64

	// SegLength is the likelihood integration step relative to the
	// maximum root to tip distance, zero disables subdivision.
	SegLength           float64
	SamplingFraction    float64
	ConditionOnSurvival bool
	ExtinctionProbMax   float64
	SampleFromPriorOnly bool

	// Traits are tip values by tip name.
	Traits         map[string]float64
	TraitMin       float64
	TraitMax       float64
	NodeStateScale float64

	// Validate checks the history and the cached likelihood after
	// every generation.
	Validate bool
}

// Model is a single chain.
type Model struct {
	cfg        *Config
	tree       *tree.Tree
	likelihood Likelihood
	rng        *rand.Rand

	arena   *event.Arena
	events  *event.Collection
	history *history.History

	eventRate float64
	// nodeState are trait values by node id, nil for diversification.
	nodeState []float64

	logLikelihood float64
	logPrior      float64
	temperature   float64
	generation    int

	accepted [NMoves]int
	proposed [NMoves]int

	// cumulative move weights
	cumWeights [NMoves]float64

	pending pending
}

// New creates a chain. The tree is shared between chains and must not
// be modified.
func New(t *tree.Tree, cfg *Config, rng *rand.Rand) (*Model, error) {
	m := &Model{
		cfg:         cfg,
		tree:        t,
		rng:         rng,
		temperature: 1,
	}

	if cfg.Initial.Kind != cfg.Kind || cfg.Prior.Kind != cfg.Kind {
		return nil, errors.New("prior and initial parameters kind mismatch")
	}

	switch cfg.Kind {
	case event.Diversification:
		m.likelihood = diversification{}
	case event.Trait:
		m.likelihood = trait{}
		if err := m.initNodeState(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported model kind: %v", cfg.Kind)
	}

	if err := m.setWeights(); err != nil {
		return nil, err
	}

	m.arena = event.NewArena(event.Event{Node: t.Id, Params: cfg.Initial})
	m.events = event.NewCollection(m.arena)
	m.history = history.New(t, m.arena)

	m.eventRate = cfg.InitialEventRate
	if m.eventRate <= 0 {
		m.eventRate = cfg.Prior.InitialEventRate()
	}

	for i := 0; i < cfg.InitialNumberEvents; i++ {
		m.addInitialEvent()
	}

	m.logLikelihood = m.ComputeLogLikelihood()
	m.logPrior = m.ComputeLogPrior()
	log.Debugf("Initial lnL=%v, lnPrior=%v, %d events", m.logLikelihood, m.logPrior, m.events.Len())
	if !finite(m.logLikelihood + m.logPrior) {
		return nil, fmt.Errorf("%w: lnL=%v, lnPrior=%v", ErrLikelihood, m.logLikelihood, m.logPrior)
	}
	return m, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// setWeights computes cumulative move weights, moves which do not
// apply to the model get zero weight.
func (m *Model) setWeights() error {
	total := 0.0
	for i := 0; i < NMoves; i++ {
		w := m.cfg.Weights[i]
		move := Move(i)
		switch {
		case w < 0:
			return fmt.Errorf("negative weight for %s move", MoveName(m.cfg.Kind, move))
		case move == NodeState && m.cfg.Kind != event.Trait:
			w = 0
		case move >= moveParameter && int(move-moveParameter) >= m.cfg.Kind.NValues():
			w = 0
		}
		total += w
		m.cumWeights[i] = total
	}
	if total <= 0 {
		return errors.New("all move weights are zero")
	}
	return nil
}

// addInitialEvent places an event with the initial parameters at a
// random position.
func (m *Model) addInitialEvent() {
	for {
		x := m.rng.Float64() * m.tree.MapLength()
		node := m.tree.MapToNode(x)
		if node == nil || !node.Contains(x) || m.events.Has(x) {
			continue
		}
		m.insert(event.Event{
			Node:    node.Id,
			MapTime: x,
			Time:    m.tree.AbsoluteTime(node, x),
			Params:  m.cfg.Initial,
		})
		return
	}
}

// insert adds a valid non-colliding event and propagates.
func (m *Model) insert(e event.Event) event.Handle {
	h := m.arena.Alloc(e)
	if !m.events.Insert(h) {
		panic("inserting an event at an occupied position")
	}
	m.history.Add(h)
	m.history.Propagate(e.Node)
	return h
}

// initNodeState sets tip values from traits and internal nodes to
// the mean of their children.
func (m *Model) initNodeState() error {
	m.nodeState = make([]float64, m.tree.NNodes())
	for _, node := range m.tree.PostOrder() {
		if node.IsTerminal() {
			v, ok := m.cfg.Traits[node.Name]
			if !ok {
				return fmt.Errorf("no trait value for tip %s", node.Name)
			}
			if v < m.cfg.TraitMin || v > m.cfg.TraitMax {
				return fmt.Errorf("trait value %v for tip %s is outside of the prior bounds", v, node.Name)
			}
			m.nodeState[node.Id] = v
			continue
		}
		sum := 0.0
		for _, child := range node.ChildNodes() {
			sum += m.nodeState[child.Id]
		}
		m.nodeState[node.Id] = sum / float64(len(node.ChildNodes()))
	}
	return nil
}

// ComputeLogLikelihood recomputes the log likelihood from scratch.
func (m *Model) ComputeLogLikelihood() float64 {
	if m.cfg.SampleFromPriorOnly {
		return 0
	}
	return m.likelihood.LogLikelihood(m)
}

// ComputeLogPrior recomputes the log prior from scratch.
func (m *Model) ComputeLogPrior() float64 {
	p := &m.cfg.Prior
	res := p.LogProb(m.arena.Get(event.Root).Params)
	m.events.Ascend(func(h event.Handle) bool {
		res += p.LogProb(m.arena.Get(h).Params)
		return true
	})
	res += p.EventRateLogProb(m.eventRate)
	res += p.EventCountLogProb(m.events.Len(), m.eventRate)
	return res
}

// LogLikelihood returns the cached log likelihood.
func (m *Model) LogLikelihood() float64 {
	return m.logLikelihood
}

// LogPrior returns the cached log prior.
func (m *Model) LogPrior() float64 {
	return m.logPrior
}

// LogPosterior returns the cached unnormalized log posterior.
func (m *Model) LogPosterior() float64 {
	return m.logLikelihood + m.logPrior
}

func (m *Model) Temperature() float64 {
	return m.temperature
}

func (m *Model) SetTemperature(t float64) {
	m.temperature = t
}

func (m *Model) Generation() int {
	return m.generation
}

func (m *Model) EventRate() float64 {
	return m.eventRate
}

// NumberOfEvents returns number of non-root events.
func (m *Model) NumberOfEvents() int {
	return m.events.Len()
}

func (m *Model) Tree() *tree.Tree {
	return m.tree
}

func (m *Model) Kind() event.Kind {
	return m.cfg.Kind
}

// History returns the branch history, it must not be modified.
func (m *Model) History() *history.History {
	return m.history
}

// Event returns a copy of the event.
func (m *Model) Event(h event.Handle) event.Event {
	return *m.arena.Get(h)
}

// Events returns non-root event handles in map time order.
func (m *Model) Events() []event.Handle {
	return m.events.Handles()
}

// NodeStates returns a copy of trait values by node id.
func (m *Model) NodeStates() []float64 {
	return append([]float64(nil), m.nodeState...)
}

// Proposed returns the number of proposals of a move.
func (m *Model) Proposed(move Move) int {
	return m.proposed[move]
}

// Accepted returns the number of accepted proposals of a move.
func (m *Model) Accepted(move Move) int {
	return m.accepted[move]
}

// AcceptanceRate returns the fraction of accepted proposals since the
// last reset.
func (m *Model) AcceptanceRate() float64 {
	acc, prop := 0, 0
	for i := range m.proposed {
		acc += m.accepted[i]
		prop += m.proposed[i]
	}
	if prop == 0 {
		return 0
	}
	return float64(acc) / float64(prop)
}

// ResetCounters resets acceptance counters.
func (m *Model) ResetCounters() {
	m.accepted = [NMoves]int{}
	m.proposed = [NMoves]int{}
}

// Validate checks the branch history invariants and that the cached
// likelihood and prior agree with recomputation.
func (m *Model) Validate() error {
	if err := m.history.Check(); err != nil {
		return err
	}
	prev := event.None
	for _, h := range m.events.Handles() {
		e := m.arena.Get(h)
		node := m.tree.Nodes()[e.Node]
		if m.tree.MapToNode(e.MapTime) != node || !node.Contains(e.MapTime) {
			return fmt.Errorf("event %d at %v is not on branch %d", h, e.MapTime, e.Node)
		}
		// neighbours in the map order must be strict
		if before, ok := m.events.Before(e.MapTime); before != prev || ok != (prev != event.None) {
			return fmt.Errorf("event %d position is not unique", h)
		}
		if prev != event.None {
			if after, _ := m.events.After(m.arena.Get(prev).MapTime); after != h {
				return fmt.Errorf("event %d position is not unique", h)
			}
		}
		if up := m.history.Previous(h); up == event.None || m.arena.Get(up).MapTime >= e.MapTime {
			return fmt.Errorf("event %d is not tipward of its rootward event %d", h, up)
		}
		prev = h
	}
	if ll := m.ComputeLogLikelihood(); ll != m.logLikelihood {
		return fmt.Errorf("cached lnL=%v, recomputed lnL=%v", m.logLikelihood, ll)
	}
	if lp := m.ComputeLogPrior(); lp != m.logPrior {
		return fmt.Errorf("cached lnPrior=%v, recomputed lnPrior=%v", m.logPrior, lp)
	}
	return nil
}
