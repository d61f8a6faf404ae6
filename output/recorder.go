package output

import (
	"github.com/mrrlab/rjshift/model"
)

// Recorder writes cold chain samples to the writers at their
// frequencies. Writers with zero frequency or nil are skipped.
type Recorder struct {
	Events         *EventDataWriter
	EventFreq      int
	MCMC           *MCMCWriter
	MCMCFreq       int
	Acceptance     *AcceptanceWriter
	AcceptanceFreq int
	Trace          *Trace

	err error
}

func due(gen, freq int) bool {
	return freq > 0 && gen%freq == 0
}

// Sample writes the chain state if any of the writers is due.
// Acceptance counters are written as they are, resetting them at the
// window boundary is left to the ensemble.
func (r *Recorder) Sample(m *model.Model) {
	if r.err != nil {
		return
	}
	gen := m.Generation()
	if r.Events != nil && due(gen, r.EventFreq) {
		r.keep(r.Events.Write(m))
	}
	if due(gen, r.MCMCFreq) {
		if r.MCMC != nil {
			r.keep(r.MCMC.Write(m))
		}
		if r.Trace != nil {
			r.Trace.Add(m)
		}
	}
	if due(gen, r.AcceptanceFreq) {
		if r.Acceptance != nil {
			r.keep(r.Acceptance.Write(m))
		}
	}
}

func (r *Recorder) keep(err error) {
	if err != nil && r.err == nil {
		log.Error("Error writing output:", err)
		r.err = err
	}
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	return r.err
}
