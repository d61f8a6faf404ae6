package mc3

import (
	"fmt"

	"github.com/mrrlab/rjshift/model"
)

// State is a serializable ensemble state.
type State struct {
	Generation    int            `json:"generation"`
	Cold          int            `json:"cold"`
	ProposedSwaps int            `json:"proposedSwaps"`
	AcceptedSwaps int            `json:"acceptedSwaps"`
	Chains        []*model.State `json:"chains"`
	Final         bool           `json:"final"`
}

// State returns the current ensemble state.
func (e *Ensemble) State() *State {
	s := &State{
		Generation:    e.generation,
		Cold:          e.cold,
		ProposedSwaps: e.proposedSwaps,
		AcceptedSwaps: e.acceptedSwaps,
		Chains:        make([]*model.State, len(e.chains)),
	}
	for i, chain := range e.chains {
		s.Chains[i] = chain.State()
	}
	return s
}

// Restore replaces states of all the chains.
func (e *Ensemble) Restore(s *State) error {
	if len(s.Chains) != len(e.chains) {
		return fmt.Errorf("checkpoint has %d chains, expected %d", len(s.Chains), len(e.chains))
	}
	if s.Cold < 0 || s.Cold >= len(e.chains) || s.Chains[s.Cold].Temperature != 1 {
		return fmt.Errorf("checkpoint has invalid cold chain %d", s.Cold)
	}
	for i, chain := range e.chains {
		if err := chain.Restore(s.Chains[i]); err != nil {
			return fmt.Errorf("chain %d: %w", i, err)
		}
	}
	e.generation = s.Generation
	e.cold = s.Cold
	e.proposedSwaps = s.ProposedSwaps
	e.acceptedSwaps = s.AcceptedSwaps
	return nil
}
