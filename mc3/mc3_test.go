package mc3

import (
	"bytes"
	"math"
	"reflect"
	"testing"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/model"
	"github.com/mrrlab/rjshift/prior"
	"github.com/mrrlab/rjshift/tree"
)

const tree1 = "(((a:1,b:1):0.5,c:1.5):1,(d:2,e:2):0.5);"

func setup(tst *testing.T) (*tree.Tree, *model.Config) {
	t, err := tree.ParseNewick(bytes.NewBufferString(tree1))
	if err != nil {
		tst.Fatal(err)
	}
	initial := event.Params{Kind: event.Diversification, Values: [event.MaxValues]float64{0.5, 0, 0.1, 0}}
	cfg := &model.Config{
		Kind: event.Diversification,
		Prior: prior.Prior{
			Kind:      event.Diversification,
			Scale:     [event.MaxValues]float64{1, 0.5, 1, 0.5},
			Initial:   initial,
			EventRate: 1,
		},
		Initial:             initial,
		Scales:              [event.MaxValues]float64{0.05, 0.02, 0.05, 0.02},
		EventRateScale:      0.5,
		LocationScale:       0.05,
		LocalGlobalRatio:    10,
		SamplingFraction:    1,
		ConditionOnSurvival: true,
		ExtinctionProbMax:   0.999,
	}
	for i := range cfg.Weights {
		cfg.Weights[i] = 1
	}
	return t, cfg
}

func TestSwapProbability(tst *testing.T) {
	for _, l := range [][2]float64{{-10, -20}, {-1e3, 5}, {0, 0}} {
		if p := SwapProbability(0.7, 0.7, l[0], l[1]); p != 1 {
			tst.Error("Equal temperatures swap probability is", p)
		}
	}
	if p := SwapProbability(1, 0.5, -10, -20); math.Abs(p-math.Exp(-5)) > 1e-15 {
		tst.Errorf("SwapProbability=%v, expected %v", p, math.Exp(-5))
	}
	if p := SwapProbability(1, 0.5, -20, -10); p != 1 {
		tst.Error("Favourable swap probability is", p)
	}
}

func TestTemperature(tst *testing.T) {
	if Temperature(0, 0.3) != 1 || Temperature(2, 0.5) != 0.5 {
		tst.Error("Wrong temperatures")
	}
}

type swapCounter struct {
	tst *testing.T
	e   *Ensemble
	// distinct is true if all the temperatures differ
	distinct bool
	swaps    int
	accepted int
}

func (s *swapCounter) Swap(generation, c1, c2 int, accepted bool) {
	s.swaps++
	if accepted {
		s.accepted++
	}
	if c1 == c2 {
		s.tst.Error("Swap between the same chain")
	}
	ncold := 0
	for _, chain := range s.e.Chains() {
		if chain.Temperature() == 1 {
			ncold++
		}
	}
	if s.e.ColdChain().Temperature() != 1 {
		s.tst.Error("Cold index does not point to the cold chain")
	}
	if s.distinct && ncold != 1 {
		s.tst.Error("Wrong number of cold chains", ncold)
	}
}

func TestEqualTemperatures(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 4, 0, 1)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 10
	e.AccPeriod = 0
	sc := &swapCounter{tst: tst, e: e}
	e.SwapObserver = sc
	if err := e.Run(500); err != nil {
		tst.Fatal(err)
	}
	proposed, accepted := e.Swaps()
	if proposed != 50 || accepted != 50 || sc.accepted != 50 {
		tst.Errorf("Proposed %d, accepted %d swaps", proposed, accepted)
	}
}

func TestColdTracking(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 4, 0.1, 2)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 5
	e.AccPeriod = 0
	sc := &swapCounter{tst: tst, e: e, distinct: true}
	e.SwapObserver = sc
	if err := e.Run(2000); err != nil {
		tst.Fatal(err)
	}
	if sc.swaps != 400 {
		tst.Error("Wrong number of swap attempts", sc.swaps)
	}
	if sc.accepted == 0 {
		tst.Error("No swaps accepted")
	}
	temps := map[float64]bool{}
	for _, chain := range e.Chains() {
		temps[chain.Temperature()] = true
	}
	for i := 0; i < 4; i++ {
		if !temps[Temperature(i, 0.1)] {
			tst.Error("Temperature is lost", Temperature(i, 0.1))
		}
	}
}

type sampleCounter struct {
	n    int
	cold bool
}

func (s *sampleCounter) Sample(m *model.Model) {
	s.n++
	if m.Temperature() != 1 {
		s.cold = false
	}
}

func TestSampler(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 3, 0.2, 3)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 7
	e.AccPeriod = 0
	s := &sampleCounter{cold: true}
	e.Sampler = s
	if err := e.Run(1000); err != nil {
		tst.Fatal(err)
	}
	if s.n != 1000 {
		tst.Error("Cold chain sampled", s.n, "times")
	}
	if !s.cold {
		tst.Error("Heated chain sampled")
	}
	if e.Generation() != 1000 {
		tst.Error("Wrong generation", e.Generation())
	}
	for _, chain := range e.Chains() {
		if chain.Generation() != 1000 {
			tst.Error("Chain did not reach the end", chain.Generation())
		}
	}
}

func TestReproducible(tst *testing.T) {
	t, cfg := setup(tst)
	var states []*State
	for _, nThreads := range []int{1, 4} {
		e, err := Build(t, cfg, 4, 0.1, 42)
		if err != nil {
			tst.Fatal(err)
		}
		e.SwapPeriod = 20
		e.AccPeriod = 0
		e.NThreads = nThreads
		if err := e.Run(1000); err != nil {
			tst.Fatal(err)
		}
		states = append(states, e.State())
	}
	if !reflect.DeepEqual(states[0], states[1]) {
		tst.Error("Parallel run is not reproducible")
	}
}

func TestRestore(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 2, 0.3, 5)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 10
	e.AccPeriod = 0
	if err := e.Run(300); err != nil {
		tst.Fatal(err)
	}
	s := e.State()

	e2, err := Build(t, cfg, 2, 0.3, 6)
	if err != nil {
		tst.Fatal(err)
	}
	if err := e2.Restore(s); err != nil {
		tst.Fatal(err)
	}
	if !reflect.DeepEqual(s, e2.State()) {
		tst.Error("Restored state differs")
	}

	e3, err := Build(t, cfg, 3, 0.3, 6)
	if err != nil {
		tst.Fatal(err)
	}
	if err := e3.Restore(s); err == nil {
		tst.Error("Chain number mismatch is not reported")
	}
}

func TestValidationFailure(tst *testing.T) {
	t, cfg := setup(tst)
	cfg.Validate = true
	e, err := Build(t, cfg, 2, 0.3, 7)
	if err != nil {
		tst.Fatal(err)
	}
	e.AccPeriod = 0
	if err := e.Run(200); err != nil {
		tst.Error("Valid run failed:", err)
	}
}

func TestTruncatedPeriod(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 3, 0.1, 8)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 30
	e.AccPeriod = 0
	if err := e.Run(100); err != nil {
		tst.Fatal(err)
	}
	if proposed, _ := e.Swaps(); proposed != 3 {
		tst.Error("Expected 3 swap attempts, got", proposed)
	}
	if e.Generation() != 100 {
		tst.Error("Wrong generation", e.Generation())
	}
}

// windowChecker checks that the cold chain counters cover the
// generations since the last reset boundary.
type windowChecker struct {
	tst    *testing.T
	period int
}

func totalProposed(m *model.Model) (n int) {
	for i := 0; i < model.NMoves; i++ {
		n += m.Proposed(model.Move(i))
	}
	return
}

func (w *windowChecker) Sample(m *model.Model) {
	exp := (m.Generation()-1)%w.period + 1
	if n := totalProposed(m); n != exp {
		w.tst.Errorf("Generation %d: %d proposals counted, expected %d", m.Generation(), n, exp)
	}
}

func TestResetWindow(tst *testing.T) {
	t, cfg := setup(tst)
	e, err := Build(t, cfg, 3, 0.1, 9)
	if err != nil {
		tst.Fatal(err)
	}
	e.SwapPeriod = 20
	e.AccPeriod = 0
	e.ResetPeriod = 50
	e.Sampler = &windowChecker{tst: tst, period: 50}
	if err := e.Run(200); err != nil {
		tst.Fatal(err)
	}
	for i, chain := range e.Chains() {
		if n := totalProposed(chain); n != 50 {
			tst.Errorf("Chain %d counted %d proposals, expected 50", i, n)
		}
	}
}
