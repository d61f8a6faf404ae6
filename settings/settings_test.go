package settings

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/model"
)

const control = `
modeltype: speciationextinction
treefile: tree.nwk
numberOfGenerations: 5000
numberOfChains: 4
deltaT: 0.1
lambdaInit0: 0.2
updateRateMuShift: 0
conditionOnSurvival: true
outName: run1
`

func read(tst *testing.T, s string) *Settings {
	st := New()
	if err := st.ReadYAML(bytes.NewBufferString(s)); err != nil {
		tst.Fatal(err)
	}
	return st
}

func TestReadYAML(tst *testing.T) {
	s := read(tst, control)
	if err := s.Validate(); err != nil {
		tst.Fatal(err)
	}
	if v, err := s.Float("lambdaInit0"); err != nil || v != 0.2 {
		tst.Error("Wrong lambdaInit0", v, err)
	}
	if v, err := s.Float("muInit0"); err != nil || v != 0.005 {
		tst.Error("Default is not used", v, err)
	}
	if !s.IsSet("treefile") || s.IsSet("muInit0") {
		tst.Error("Wrong IsSet")
	}
}

func TestMissing(tst *testing.T) {
	s := read(tst, "treefile: t.nwk\n")
	err := s.Validate()
	if !errors.Is(err, ErrMissing) {
		tst.Error("Expected missing parameter error, got", err)
	}
	if _, err := s.ModelConfig(nil); !errors.Is(err, ErrMissing) {
		tst.Error("ModelConfig should fail on missing parameters")
	}
}

func TestUnknown(tst *testing.T) {
	st := New()
	if err := st.ReadYAML(bytes.NewBufferString("bogusParameter: 1\n")); !errors.Is(err, ErrUnknown) {
		tst.Error("Expected unknown parameter error, got", err)
	}
	if err := st.SetPair("novalue"); err == nil {
		tst.Error("Expected error for a malformed pair")
	}
	if err := st.ReadYAML(bytes.NewBufferString("seed: [1, 2]\n")); err == nil {
		tst.Error("Expected error for a non-scalar value")
	}
}

func TestModelConfig(tst *testing.T) {
	s := read(tst, control)
	if err := s.SetPair("updateRateEventNumber = 0.5"); err != nil {
		tst.Fatal(err)
	}
	cfg, err := s.ModelConfig(nil)
	if err != nil {
		tst.Fatal(err)
	}
	if cfg.Kind != event.Diversification {
		tst.Error("Wrong kind")
	}
	if cfg.Initial.Values[event.LambdaInit] != 0.2 {
		tst.Error("Wrong initial lambda")
	}
	if !cfg.Prior.Fixed[event.MuShift] || cfg.Prior.Fixed[event.LambdaShift] {
		tst.Error("Wrong fixed parameters")
	}
	if cfg.Weights[model.EventNumber] != 0.5 {
		tst.Error("Override is not applied")
	}
	if cfg.Weights[model.NodeState] != 0 {
		tst.Error("Node state move enabled for the diversification model")
	}
	if !cfg.ConditionOnSurvival {
		tst.Error("Wrong boolean")
	}

	rc, err := s.RunConfig()
	if err != nil {
		tst.Fatal(err)
	}
	if rc.NChains != 4 || rc.DeltaT != 0.1 || rc.Generations != 5000 {
		tst.Error("Wrong run config", rc)
	}
	if rc.EventDataOutfile != "run1_event_data.txt" {
		tst.Error("Wrong output name", rc.EventDataOutfile)
	}
}

func TestInvalidValues(tst *testing.T) {
	for _, pair := range []string{"poissonRatePrior=0", "globalSamplingFraction=1.5", "modeltype=bogus", "deltaT=x", "segLength=1"} {
		s := read(tst, control)
		if err := s.SetPair(pair); err != nil {
			tst.Fatal(err)
		}
		_, err1 := s.ModelConfig(nil)
		_, err2 := s.RunConfig()
		if err1 == nil && err2 == nil {
			tst.Error("Invalid value is accepted:", pair)
		}
	}
}

func TestTraitConfig(tst *testing.T) {
	s := read(tst, control)
	s.Set("modeltype", "trait")
	if _, err := s.ModelConfig(nil); err == nil {
		tst.Error("Trait model without traits is accepted")
	}
	traits, err := ReadTraits(bytes.NewBufferString("# tips\na\t1.5\n\nb -2\n"))
	if err != nil {
		tst.Fatal(err)
	}
	if len(traits) != 2 || traits["a"] != 1.5 || traits["b"] != -2 {
		tst.Error("Wrong traits", traits)
	}
	cfg, err := s.ModelConfig(traits)
	if err != nil {
		tst.Fatal(err)
	}
	if cfg.Kind != event.Trait || cfg.Weights[model.NodeState] != 25 {
		tst.Error("Wrong trait config")
	}
	if _, err := ReadTraits(bytes.NewBufferString("a 1\na 2\n")); err == nil {
		tst.Error("Duplicate tip is accepted")
	}
}
