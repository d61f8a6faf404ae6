// Package event implements rate-shift events, the arena holding them
// and the ordered collection of non-root events.
package event

import (
	"fmt"

	"github.com/op/go-logging"

	"github.com/mrrlab/rjshift/rate"
)

// log is the global logging variable.
var log = logging.MustGetLogger("event")

// Kind selects the regime parameter set carried by events.
type Kind int

const (
	// Diversification events carry speciation and extinction regimes.
	Diversification Kind = iota
	// Trait events carry a single Brownian motion rate regime.
	Trait
)

// MaxValues is the largest number of parameters an event carries.
const MaxValues = 4

// Parameter indices for Diversification events.
const (
	LambdaInit = iota
	LambdaShift
	MuInit
	MuShift
)

// Parameter indices for Trait events.
const (
	BetaInit = iota
	BetaShift
)

var kindNames = map[Kind][]string{
	Diversification: {"lambdaInit", "lambdaShift", "muInit", "muShift"},
	Trait:           {"betaInit", "betaShift"},
}

// KindFromString converts a model type name to Kind.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "speciationextinction", "diversification", "spex":
		return Diversification, nil
	case "trait":
		return Trait, nil
	}
	return 0, fmt.Errorf("unknown model type: %s", s)
}

func (k Kind) String() string {
	switch k {
	case Diversification:
		return "speciationextinction"
	case Trait:
		return "trait"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// NValues returns number of parameters carried by events.
func (k Kind) NValues() int {
	return len(kindNames[k])
}

// NRegimes returns number of rate regimes carried by events.
func (k Kind) NRegimes() int {
	return k.NValues() / 2
}

// ParameterNames returns parameter names in the index order.
func (k Kind) ParameterNames() []string {
	return kindNames[k]
}

// IsInit returns true for parameters which are initial rates (must
// be non-negative) as opposed to rate shifts.
func IsInit(i int) bool {
	return i%2 == 0
}

// Params is a tagged regime parameter record.
type Params struct {
	Kind   Kind
	Values [MaxValues]float64
}

// Regime returns the i-th rate regime. For Diversification events
// regime 0 is speciation and regime 1 is extinction.
func (p Params) Regime(i int) rate.Exponential {
	return rate.Exponential{Init: p.Values[2*i], Shift: p.Values[2*i+1]}
}

// Slice returns used parameter values.
func (p Params) Slice() []float64 {
	return p.Values[:p.Kind.NValues()]
}

// Handle is a stable reference to an event in an Arena.
type Handle int

// Root is the handle of the permanent root event.
const Root Handle = 0

// None is an invalid handle.
const None Handle = -1

// Event is a rate-shift point on a branch.
type Event struct {
	// Node is id of the node whose branch hosts the event.
	Node int
	// MapTime is the position of the event on the map.
	MapTime float64
	// Time is the time since the root.
	Time float64
	Params
}

func (e Event) String() string {
	return fmt.Sprintf("<node=%d, map=%v, time=%v, %v=%v>",
		e.Node, e.MapTime, e.Time, e.Kind.ParameterNames(), e.Slice())
}
