package output

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/mrrlab/rjshift/model"
)

// Trace collects cold chain log likelihood and number of events.
type Trace struct {
	lnL    plotter.XYs
	events plotter.XYs
}

// Add appends the current chain state.
func (t *Trace) Add(m *model.Model) {
	g := float64(m.Generation())
	t.lnL = append(t.lnL, plotter.XY{X: g, Y: m.LogLikelihood()})
	t.events = append(t.events, plotter.XY{X: g, Y: float64(m.NumberOfEvents())})
}

// Len returns the number of points.
func (t *Trace) Len() int {
	return len(t.lnL)
}

func savePlot(title, ylabel string, pts plotter.XYs, fn string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "generation"
	p.Y.Label.Text = ylabel
	if err := plotutil.AddLines(p, pts); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, fn)
}

// Save writes log likelihood and event number plots. The format is
// chosen from the file extension (png, svg, pdf).
func (t *Trace) Save(lnLFn, eventsFn string) error {
	if err := savePlot("Log likelihood", "lnL", t.lnL, lnLFn); err != nil {
		return err
	}
	return savePlot("Number of events", "events", t.events, eventsFn)
}
