// Package mc3 implements Metropolis-coupled MCMC: several chains at
// different temperatures advanced in parallel with periodic
// temperature swaps.
package mc3

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"

	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"

	"github.com/mrrlab/rjshift/model"
	"github.com/mrrlab/rjshift/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mc3")

// Sampler receives the cold chain after each of its generations. It
// is called from the goroutine advancing the cold chain.
type Sampler interface {
	Sample(m *model.Model)
}

// SwapObserver receives every swap attempt.
type SwapObserver interface {
	Swap(generation, chain1, chain2 int, accepted bool)
}

// Checkpointer saves the ensemble state.
type Checkpointer interface {
	Old() bool
	Save(data interface{}) error
}

// Ensemble is a set of coupled chains.
type Ensemble struct {
	chains []*model.Model
	cold   int
	rng    *rand.Rand

	// SwapPeriod is the number of generations between swap attempts.
	SwapPeriod int
	// NThreads limits the number of chains advanced simultaneously,
	// zero means no limit.
	NThreads int
	// AccPeriod is the cold chain state reporting period.
	AccPeriod int
	// ResetPeriod is the acceptance counters window. Counters of all
	// the chains are reset before the generation following every
	// multiple of ResetPeriod, so observers and reports at the
	// boundary see the full window. Zero never resets.
	ResetPeriod int

	Sampler      Sampler
	SwapObserver SwapObserver
	Checkpointer Checkpointer

	generation    int
	proposedSwaps int
	acceptedSwaps int
	sig           chan os.Signal
}

// Temperature returns the initial temperature of i-th chain.
func Temperature(i int, deltaT float64) float64 {
	return 1 / (1 + deltaT*float64(i))
}

// SwapProbability returns the acceptance probability of swapping
// temperatures beta1 and beta2 of chains with log posteriors l1 and
// l2.
func SwapProbability(beta1, beta2, l1, l2 float64) float64 {
	return math.Min(1, math.Exp((beta2-beta1)*l1+(beta1-beta2)*l2))
}

// New creates an ensemble from chains and assigns their temperatures.
// Chain 0 is cold.
func New(chains []*model.Model, deltaT float64, rng *rand.Rand) (*Ensemble, error) {
	if len(chains) == 0 {
		return nil, errors.New("no chains")
	}
	if deltaT < 0 {
		return nil, fmt.Errorf("negative temperature increment: %v", deltaT)
	}
	for i, chain := range chains {
		chain.SetTemperature(Temperature(i, deltaT))
	}
	return &Ensemble{
		chains:     chains,
		rng:        rng,
		SwapPeriod: 1000,
		AccPeriod:  1000,
	}, nil
}

// Build creates n chains on a shared tree. Every chain and the
// ensemble get independent generators derived from seed.
func Build(t *tree.Tree, cfg *model.Config, n int, deltaT float64, seed int64) (*Ensemble, error) {
	chains := make([]*model.Model, n)
	for i := range chains {
		m, err := model.New(t, cfg, rand.New(rand.NewSource(seed+int64(i)+1)))
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", i, err)
		}
		chains[i] = m
	}
	return New(chains, deltaT, rand.New(rand.NewSource(seed)))
}

// WatchSignals stops the run at the next swap boundary after
// receiving any of sigs.
func (e *Ensemble) WatchSignals(sigs ...os.Signal) {
	e.sig = make(chan os.Signal, 1)
	signal.Notify(e.sig, sigs...)
}

// Chains returns all the chains.
func (e *Ensemble) Chains() []*model.Model {
	return e.chains
}

// Cold returns the index of the cold chain.
func (e *Ensemble) Cold() int {
	return e.cold
}

// ColdChain returns the cold chain.
func (e *Ensemble) ColdChain() *model.Model {
	return e.chains[e.cold]
}

// Generation returns the number of generations done by every chain.
func (e *Ensemble) Generation() int {
	return e.generation
}

// Swaps returns the number of proposed and accepted swaps.
func (e *Ensemble) Swaps() (proposed, accepted int) {
	return e.proposedSwaps, e.acceptedSwaps
}

// TrySwap attempts one temperature swap between two distinct random
// chains and returns true if it was accepted.
func (e *Ensemble) TrySwap() bool {
	n := len(e.chains)
	if n < 2 {
		return false
	}
	i := e.rng.Intn(n)
	j := e.rng.Intn(n - 1)
	if j >= i {
		j++
	}
	c1, c2 := e.chains[i], e.chains[j]
	b1, b2 := c1.Temperature(), c2.Temperature()
	p := SwapProbability(b1, b2, c1.LogPosterior(), c2.LogPosterior())
	e.proposedSwaps++
	accepted := e.rng.Float64() < p
	if accepted {
		e.acceptedSwaps++
		c1.SetTemperature(b2)
		c2.SetTemperature(b1)
		if i == e.cold {
			e.cold = j
		} else if j == e.cold {
			e.cold = i
		}
	}
	if e.SwapObserver != nil {
		e.SwapObserver.Swap(e.generation, i, j, accepted)
	}
	return accepted
}

// advance runs every chain for n generations in parallel and waits
// for all of them.
func (e *Ensemble) advance(n int) error {
	var g errgroup.Group
	if e.NThreads > 0 {
		g.SetLimit(e.NThreads)
	}
	cold := e.cold
	for i, chain := range e.chains {
		i, chain := i, chain
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("chain %d: %v", i, r)
				}
			}()
			for k := 0; k < n; k++ {
				if gen := chain.Generation(); e.ResetPeriod > 0 && gen > 0 && gen%e.ResetPeriod == 0 {
					chain.ResetCounters()
				}
				chain.Step()
				if i == cold && e.Sampler != nil {
					e.Sampler.Sample(chain)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Run advances all the chains until generations are done, attempting
// a swap after every swap period.
func (e *Ensemble) Run(generations int) error {
	if e.SwapPeriod <= 0 {
		return fmt.Errorf("invalid swap period: %d", e.SwapPeriod)
	}
	lastReported := e.generation
Iter:
	for e.generation < generations {
		n := e.SwapPeriod
		if rest := generations - e.generation; rest < n {
			n = rest
		}
		if err := e.advance(n); err != nil {
			return err
		}
		e.generation += n
		// a truncated last period ends without a swap
		if n == e.SwapPeriod {
			e.TrySwap()
		}

		if e.AccPeriod > 0 && e.generation-lastReported >= e.AccPeriod {
			cold := e.ColdChain()
			log.Infof("%d: lnL=%f, events=%d, acceptance rate %.2f%%",
				e.generation, cold.LogLikelihood(), cold.NumberOfEvents(), 100*cold.AcceptanceRate())
			lastReported = e.generation
		}

		if e.Checkpointer != nil && e.Checkpointer.Old() {
			if err := e.Checkpointer.Save(e.State()); err != nil {
				log.Error("Error saving checkpoint:", err)
			}
		}

		select {
		case s := <-e.sig:
			log.Warningf("Received signal %v, exiting.", s)
			break Iter
		default:
		}
	}

	if e.Checkpointer != nil {
		state := e.State()
		state.Final = e.generation >= generations
		if err := e.Checkpointer.Save(state); err != nil {
			log.Error("Error saving checkpoint:", err)
		}
	}
	if p, a := e.Swaps(); p > 0 {
		log.Infof("Accepted %d of %d chain swaps", a, p)
	}
	return nil
}
