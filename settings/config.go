package settings

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/model"
)

// fixedWeight is the largest move weight for which the parameter is
// considered fixed at its starting value.
const fixedWeight = 1e-4

// regimeNames maps model kind regime parameters to settings names:
// prior, starting value, proposal scale and move weight.
var regimeNames = map[event.Kind][][4]string{
	event.Diversification: {
		{"lambdaInitPrior", "lambdaInit0", "updateLambdaInitScale", "updateRateLambda0"},
		{"lambdaShiftPrior", "lambdaShift0", "updateLambdaShiftScale", "updateRateLambdaShift"},
		{"muInitPrior", "muInit0", "updateMuInitScale", "updateRateMu0"},
		{"muShiftPrior", "muShift0", "updateMuShiftScale", "updateRateMuShift"},
	},
	event.Trait: {
		{"betaInitPrior", "betaInit0", "updateBetaInitScale", "updateRateBeta0"},
		{"betaShiftPrior", "betaShift0", "updateBetaShiftScale", "updateRateBetaShift"},
	},
}

// Kind returns the model kind.
func (s *Settings) Kind() (event.Kind, error) {
	return event.KindFromString(strings.ToLower(s.String("modeltype")))
}

// ModelConfig builds chain settings. Traits are required for the
// trait model only.
func (s *Settings) ModelConfig(traits map[string]float64) (*model.Config, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	kind, err := s.Kind()
	if err != nil {
		return nil, err
	}
	g := &getter{s: s}
	cfg := &model.Config{Kind: kind}
	cfg.Prior.Kind = kind
	cfg.Initial.Kind = kind
	cfg.Prior.EventRate = g.positive("poissonRatePrior")

	for i, names := range regimeNames[kind] {
		cfg.Prior.Scale[i] = g.positive(names[0])
		cfg.Initial.Values[i] = g.float(names[1])
		cfg.Scales[i] = g.nonNegative(names[2])
		w := g.nonNegative(names[3])
		cfg.Weights[model.ParameterMove(i)] = w
		cfg.Prior.Fixed[i] = w <= fixedWeight
		if event.IsInit(i) && cfg.Initial.Values[i] < 0 {
			return nil, fmt.Errorf("parameter %s must not be negative", names[1])
		}
	}
	cfg.Prior.Initial = cfg.Initial

	cfg.Weights[model.EventNumber] = g.nonNegative("updateRateEventNumber")
	cfg.Weights[model.EventPosition] = g.nonNegative("updateRateEventPosition")
	cfg.Weights[model.EventRate] = g.nonNegative("updateRateEventRate")

	cfg.InitialEventRate = g.nonNegative("initialEventRate")
	cfg.InitialNumberEvents = g.int("initialNumberEvents")
	cfg.EventRateScale = g.nonNegative("updateEventRateScale")
	cfg.LocationScale = g.nonNegative("updateEventLocationScale")
	cfg.LocalGlobalRatio = g.nonNegative("localGlobalMoveRatio")

	cfg.SegLength = g.nonNegative("segLength")
	cfg.SamplingFraction = g.positive("globalSamplingFraction")
	cfg.ConditionOnSurvival = g.bool("conditionOnSurvival")
	cfg.ExtinctionProbMax = g.positive("extinctionProbMax")
	cfg.SampleFromPriorOnly = g.bool("sampleFromPriorOnly")
	cfg.Validate = g.bool("validateEventConfiguration")

	if kind == event.Trait {
		cfg.Weights[model.NodeState] = g.nonNegative("updateRateNodeState")
		cfg.NodeStateScale = g.nonNegative("updateNodeStateScale")
		cfg.TraitMin = g.float("traitPriorMin")
		cfg.TraitMax = g.float("traitPriorMax")
		cfg.Traits = traits
	}
	if g.err != nil {
		return nil, g.err
	}

	switch {
	case cfg.SamplingFraction > 1:
		return nil, fmt.Errorf("globalSamplingFraction must be in (0, 1], got %v", cfg.SamplingFraction)
	case cfg.SegLength >= 1:
		return nil, fmt.Errorf("segLength must be in [0, 1), got %v", cfg.SegLength)
	case cfg.InitialNumberEvents < 0:
		return nil, fmt.Errorf("initialNumberEvents must not be negative")
	case kind == event.Trait && len(traits) == 0:
		return nil, fmt.Errorf("%w: traitfile (trait model)", ErrMissing)
	case kind == event.Trait && cfg.TraitMin >= cfg.TraitMax:
		return nil, fmt.Errorf("traitPriorMin must be less than traitPriorMax")
	}
	return cfg, nil
}

// RunConfig contains settings of the ensemble and outputs.
type RunConfig struct {
	Generations      int
	Seed             int64
	NChains          int
	DeltaT           float64
	SwapPeriod       int
	PrintFreq        int
	CheckUltrametric bool

	MCMCOutfile       string
	MCMCWriteFreq     int
	EventDataOutfile  string
	EventWriteFreq    int
	AcceptanceOutfile string
	AcceptanceFreq    int
	ChainSwapOutfile  string
}

// prefixed prepends outName to a file name.
func (s *Settings) prefixed(name string) string {
	fn := s.String(name)
	if prefix := s.String("outName"); prefix != "" && fn != "" {
		return prefix + "_" + fn
	}
	return fn
}

// RunConfig returns ensemble and output settings.
func (s *Settings) RunConfig() (*RunConfig, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	g := &getter{s: s}
	rc := &RunConfig{
		Generations:       g.int("numberOfGenerations"),
		NChains:           g.int("numberOfChains"),
		DeltaT:            g.nonNegative("deltaT"),
		SwapPeriod:        g.int("swapPeriod"),
		PrintFreq:         g.int("printFreq"),
		CheckUltrametric:  g.bool("checkUltrametric"),
		MCMCOutfile:       s.prefixed("mcmcOutfile"),
		MCMCWriteFreq:     g.int("mcmcWriteFreq"),
		EventDataOutfile:  s.prefixed("eventDataOutfile"),
		EventWriteFreq:    g.int("eventDataWriteFreq"),
		AcceptanceOutfile: s.prefixed("acceptanceOutfile"),
		AcceptanceFreq:    g.int("acceptanceResetFreq"),
		ChainSwapOutfile:  s.prefixed("chainSwapFileName"),
	}
	seed, err := s.Int64("seed")
	if err != nil {
		return nil, err
	}
	rc.Seed = seed
	if g.err != nil {
		return nil, g.err
	}
	switch {
	case rc.Generations <= 0:
		return nil, fmt.Errorf("numberOfGenerations must be positive, got %d", rc.Generations)
	case rc.NChains <= 0:
		return nil, fmt.Errorf("numberOfChains must be positive, got %d", rc.NChains)
	case rc.SwapPeriod <= 0:
		return nil, fmt.Errorf("swapPeriod must be positive, got %d", rc.SwapPeriod)
	}
	return rc, nil
}

// ReadTraits reads whitespace separated tip name and trait value
// pairs, one per line. Empty lines and lines starting with # are
// skipped.
func ReadTraits(rd io.Reader) (map[string]float64, error) {
	traits := make(map[string]float64)
	scanner := bufio.NewScanner(rd)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected name and value", line)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, ok := traits[fields[0]]; ok {
			return nil, fmt.Errorf("line %d: duplicate tip %s", line, fields[0])
		}
		traits[fields[0]] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return traits, nil
}
