package model

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mrrlab/rjshift/history"
)

// Likelihood is a model variant likelihood.
type Likelihood interface {
	LogLikelihood(m *Model) float64
}

// pieces calls fn for subintervals of a segment from its tipward end
// to its rootward end. Times passed are relative to the governing
// event. A zero length segment yields one zero length piece.
func (m *Model) pieces(seg history.Segment, fn func(t1, t2 float64) bool) bool {
	step := 0.0
	if m.cfg.SegLength > 0 {
		step = m.cfg.SegLength * m.tree.MaxRootToTip()
	}
	origin := m.arena.Get(seg.Event).Time
	end := seg.End
	for {
		start := seg.Start
		if step > 0 && end-seg.Start > step {
			start = end - step
		}
		if !fn(start-origin, end-origin) {
			return false
		}
		end = start
		if end <= seg.Start {
			return true
		}
	}
}

// diversification is a speciation-extinction likelihood of the
// reconstructed process.
type diversification struct{}

// divStep integrates the (D, E) system over a piece of length dt with
// constant rates lam and mu. It returns the probability of the
// observed lineage starting with D0 and the new extinction
// probability.
func divStep(lam, mu, dt, D0, E0 float64) (D, E float64) {
	M := mu - lam
	L := lam * (1 - E0)
	if M == 0 {
		x := 1 + L*dt
		return D0 / (x * x), 1 - (1-E0)/x
	}
	ex := math.Exp(M * dt)
	d := L*(1-ex) - ex*M
	D = D0 * ex * M * M / (d * d)
	E = 1 + (1-E0)*M/d
	return
}

func (diversification) LogLikelihood(m *Model) float64 {
	t := m.tree
	f := m.cfg.SamplingFraction
	extinct := make([]float64, t.NNodes())
	res := 0.0

	for _, node := range t.PostOrder() {
		if node.IsRoot() {
			continue
		}
		var D0, E0 float64
		if node.IsTerminal() {
			D0, E0 = f, 1-f
		} else {
			D0, E0 = 1, extinct[node.ChildNodes()[0].Id]
			g := m.arena.Get(m.history.NodeEvent(node.Id))
			res += math.Log(g.Regime(0).At(node.Time - g.Time))
		}

		segs := m.history.Segments(node.Id)
		for i := len(segs) - 1; i >= 0; i-- {
			regimes := m.arena.Get(segs[i].Event).Params
			ok := m.pieces(segs[i], func(t1, t2 float64) bool {
				lam := regimes.Regime(0).Mean(t1, t2)
				mu := regimes.Regime(1).Mean(t1, t2)
				D, E := divStep(lam, mu, t2-t1, D0, E0)
				if E > m.cfg.ExtinctionProbMax {
					return false
				}
				res += math.Log(D)
				D0, E0 = 1, E
				return true
			})
			if !ok {
				return math.Inf(-1)
			}
		}
		extinct[node.Id] = E0
	}

	if m.cfg.ConditionOnSurvival {
		for _, child := range t.ChildNodes() {
			res -= math.Log(1 - extinct[child.Id])
		}
	}
	return res
}

// trait is a Brownian motion likelihood with a time-varying rate.
type trait struct{}

func (trait) LogLikelihood(m *Model) float64 {
	res := 0.0
	for _, node := range m.tree.PreOrder() {
		if node.IsRoot() {
			continue
		}
		variance := 0.0
		for _, seg := range m.history.Segments(node.Id) {
			g := m.arena.Get(seg.Event)
			variance += g.Regime(0).Integrated(seg.Start-g.Time, seg.End-g.Time)
		}
		if variance <= 0 {
			return math.Inf(-1)
		}
		delta := m.nodeState[node.Id] - m.nodeState[node.Parent.Id]
		res += distuv.Normal{Mu: 0, Sigma: math.Sqrt(variance)}.LogProb(delta)
	}
	return res
}

var (
	_ Likelihood = diversification{}
	_ Likelihood = trait{}
)
