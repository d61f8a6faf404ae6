// Package prior implements prior densities on event parameters, the
// event rate and the number of events, and draws from them.
package prior

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mrrlab/rjshift/event"
)

// Prior holds prior settings of one model. Initial rates have
// exponential priors, rate shifts have normal priors centered at
// zero.
type Prior struct {
	Kind event.Kind
	// Scale[i] is the exponential rate for init parameters and the
	// standard deviation for shift parameters.
	Scale [event.MaxValues]float64
	// Fixed parameters are never drawn and contribute no density,
	// Initial values are used instead.
	Fixed   [event.MaxValues]bool
	Initial event.Params
	// EventRate is the rate of the exponential prior on the Poisson
	// event rate.
	EventRate float64
}

// ParameterLogProb returns the log prior density of i-th parameter.
func (p *Prior) ParameterLogProb(i int, v float64) float64 {
	if event.IsInit(i) {
		return distuv.Exponential{Rate: p.Scale[i]}.LogProb(v)
	}
	return distuv.Normal{Mu: 0, Sigma: p.Scale[i]}.LogProb(v)
}

// LogProb returns the log prior density of event parameters.
func (p *Prior) LogProb(params event.Params) (res float64) {
	for i, v := range params.Slice() {
		if p.Fixed[i] {
			continue
		}
		res += p.ParameterLogProb(i, v)
	}
	return
}

// EventRateLogProb returns the log prior density of the event rate.
func (p *Prior) EventRateLogProb(r float64) float64 {
	return distuv.Exponential{Rate: p.EventRate}.LogProb(r)
}

// EventCountLogProb returns log probability of k events given the
// Poisson event rate.
func (p *Prior) EventCountLogProb(k int, eventRate float64) float64 {
	if eventRate <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: eventRate}.LogProb(float64(k))
}

// InitialEventRate is the prior mean of the event rate.
func (p *Prior) InitialEventRate() float64 {
	return 1 / p.EventRate
}

// Draw generates event parameters from the prior.
func (p *Prior) Draw(rng *rand.Rand) event.Params {
	params := event.Params{Kind: p.Kind}
	for i := 0; i < p.Kind.NValues(); i++ {
		switch {
		case p.Fixed[i]:
			params.Values[i] = p.Initial.Values[i]
		case event.IsInit(i):
			params.Values[i] = rng.ExpFloat64() / p.Scale[i]
		default:
			params.Values[i] = rng.NormFloat64() * p.Scale[i]
		}
	}
	return params
}
