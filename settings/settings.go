// Package settings implements run settings: a table of named
// parameters with defaults, read from a YAML control file and
// command-line overrides.
package settings

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"
)

// log is the global logging variable.
var log = logging.MustGetLogger("settings")

// ErrMissing is returned when a required parameter is not set.
var ErrMissing = errors.New("required parameter is not set")

// ErrUnknown is returned for parameters not in the table.
var ErrUnknown = errors.New("unknown parameter")

type parameter struct {
	name     string
	value    string
	required bool
}

var parameters = []parameter{
	// general
	{"modeltype", "", true},
	{"treefile", "", true},
	{"traitfile", "", false},
	{"numberOfGenerations", "", true},
	{"seed", "-1", false},
	{"sampleFromPriorOnly", "0", false},
	{"validateEventConfiguration", "0", false},
	{"checkUltrametric", "1", false},

	// diversification likelihood
	{"globalSamplingFraction", "1.0", false},
	{"conditionOnSurvival", "1", false},
	{"extinctionProbMax", "0.999", false},
	{"segLength", "0.02", false},

	// trait prior bounds
	{"traitPriorMin", "-1000", false},
	{"traitPriorMax", "1000", false},

	// output
	{"outName", "", false},
	{"mcmcOutfile", "mcmc_out.txt", false},
	{"mcmcWriteFreq", "1000", false},
	{"eventDataOutfile", "event_data.txt", false},
	{"eventDataWriteFreq", "1000", false},
	{"acceptanceOutfile", "acceptance_info.txt", false},
	{"chainSwapFileName", "chain_swap.txt", false},
	{"printFreq", "1000", false},
	{"acceptanceResetFreq", "1000", false},

	// metropolis coupling
	{"numberOfChains", "1", false},
	{"deltaT", "0.01", false},
	{"swapPeriod", "1000", false},

	// priors
	{"poissonRatePrior", "1.0", false},
	{"lambdaInitPrior", "1.0", false},
	{"lambdaShiftPrior", "0.05", false},
	{"muInitPrior", "1.0", false},
	{"muShiftPrior", "0.05", false},
	{"betaInitPrior", "1.0", false},
	{"betaShiftPrior", "0.05", false},

	// starting values
	{"lambdaInit0", "0.032", false},
	{"lambdaShift0", "0", false},
	{"muInit0", "0.005", false},
	{"muShift0", "0", false},
	{"betaInit0", "0.5", false},
	{"betaShift0", "0", false},
	{"initialNumberEvents", "0", false},
	{"initialEventRate", "0", false},

	// proposal scales
	{"updateLambdaInitScale", "0.05", false},
	{"updateLambdaShiftScale", "0.01", false},
	{"updateMuInitScale", "0.05", false},
	{"updateMuShiftScale", "0.01", false},
	{"updateBetaInitScale", "0.05", false},
	{"updateBetaShiftScale", "0.01", false},
	{"updateEventLocationScale", "0.05", false},
	{"updateEventRateScale", "0.5", false},
	{"updateNodeStateScale", "0.1", false},
	{"localGlobalMoveRatio", "10.0", false},

	// move frequencies
	{"updateRateEventNumber", "0.1", false},
	{"updateRateEventPosition", "1", false},
	{"updateRateEventRate", "1", false},
	{"updateRateLambda0", "1", false},
	{"updateRateLambdaShift", "1", false},
	{"updateRateMu0", "1", false},
	{"updateRateMuShift", "0", false},
	{"updateRateBeta0", "1", false},
	{"updateRateBetaShift", "1", false},
	{"updateRateNodeState", "25", false},
}

// Settings is a set of named parameter values.
type Settings struct {
	values   map[string]string
	required map[string]bool
	set      map[string]bool
}

// New creates settings holding the defaults.
func New() *Settings {
	s := &Settings{
		values:   make(map[string]string, len(parameters)),
		required: make(map[string]bool),
		set:      make(map[string]bool),
	}
	for _, p := range parameters {
		s.values[p.name] = p.value
		if p.required {
			s.required[p.name] = true
		}
	}
	return s
}

// Set assigns a parameter value.
func (s *Settings) Set(name, value string) error {
	if _, ok := s.values[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if s.set[name] {
		log.Debugf("Overriding %s=%s with %s", name, s.values[name], value)
	}
	s.values[name] = value
	s.set[name] = true
	return nil
}

// SetPair assigns a parameter from a "name=value" string.
func (s *Settings) SetPair(pair string) error {
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", pair)
	}
	return s.Set(strings.TrimSpace(name), strings.TrimSpace(value))
}

// ReadYAML reads a control file, a flat YAML mapping of parameter
// names to scalar values.
func (s *Settings) ReadYAML(rd io.Reader) error {
	var raw map[string]yaml.Node
	if err := yaml.NewDecoder(rd).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("error parsing control file: %w", err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node := raw[name]
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("parameter %s: scalar value expected (line %d)", name, node.Line)
		}
		if err := s.Set(name, node.Value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that all the required parameters are set.
func (s *Settings) Validate() error {
	var missing []string
	for name := range s.required {
		if !s.set[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// IsSet returns true if parameter was set explicitly.
func (s *Settings) IsSet(name string) bool {
	return s.set[name]
}

// String returns a raw parameter value.
func (s *Settings) String(name string) string {
	v, ok := s.values[name]
	if !ok {
		panic("unknown parameter " + name)
	}
	return v
}

func (s *Settings) Float(name string) (float64, error) {
	v, err := strconv.ParseFloat(s.String(name), 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return v, nil
}

func (s *Settings) Int(name string) (int, error) {
	v, err := strconv.Atoi(s.String(name))
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return v, nil
}

func (s *Settings) Int64(name string) (int64, error) {
	v, err := strconv.ParseInt(s.String(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return v, nil
}

func (s *Settings) Bool(name string) (bool, error) {
	v, err := strconv.ParseBool(s.String(name))
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", name, err)
	}
	return v, nil
}

// Dump returns all the parameters as sorted name = value lines.
func (s *Settings) Dump() string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s = %s\n", name, s.values[name])
	}
	return b.String()
}

// getter reads typed values remembering the first error.
type getter struct {
	s   *Settings
	err error
}

func (g *getter) float(name string) float64 {
	v, err := g.s.Float(name)
	if g.err == nil {
		g.err = err
	}
	return v
}

func (g *getter) int(name string) int {
	v, err := g.s.Int(name)
	if g.err == nil {
		g.err = err
	}
	return v
}

func (g *getter) bool(name string) bool {
	v, err := g.s.Bool(name)
	if g.err == nil {
		g.err = err
	}
	return v
}

// positive checks that value is positive.
func (g *getter) positive(name string) float64 {
	v := g.float(name)
	if g.err == nil && v <= 0 {
		g.err = fmt.Errorf("parameter %s must be positive, got %v", name, v)
	}
	return v
}

// nonNegative checks that value is not negative.
func (g *getter) nonNegative(name string) float64 {
	v := g.float(name)
	if g.err == nil && v < 0 {
		g.err = fmt.Errorf("parameter %s must not be negative, got %v", name, v)
	}
	return v
}
