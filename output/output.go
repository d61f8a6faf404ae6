// Package output writes per-generation chain samples: event
// configurations, chain states, acceptance rates and chain swaps.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"

	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/model"
)

// log is the global logging variable.
var log = logging.MustGetLogger("output")

// File is a buffered output file.
type File struct {
	*bufio.Writer
	f *os.File
}

// Create creates a buffered file.
func Create(fn string) (*File, error) {
	f, err := os.Create(fn)
	if err != nil {
		return nil, err
	}
	return &File{Writer: bufio.NewWriter(f), f: f}, nil
}

// Append opens a buffered file for appending, the file is created if
// it does not exist.
func Append(fn string) (*File, error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return &File{Writer: bufio.NewWriter(f), f: f}, nil
}

// Close flushes and closes the file.
func (f *File) Close() error {
	if err := f.Flush(); err != nil {
		f.f.Close()
		return err
	}
	return f.f.Close()
}

// csvWriter writes a header line before the first record.
type csvWriter struct {
	w      io.Writer
	header bool
}

func (c *csvWriter) writeHeader(fields ...string) error {
	if c.header {
		return nil
	}
	if _, err := fmt.Fprintln(c.w, strings.Join(fields, ",")); err != nil {
		return err
	}
	c.header = true
	return nil
}

// SkipHeader disables the header, e.g. when appending to an existing
// file.
func (c *csvWriter) SkipHeader() {
	c.header = true
}

// EventDataWriter writes all the events of a chain state, one per
// line. The root event is always written first.
type EventDataWriter struct {
	csvWriter
}

func NewEventDataWriter(w io.Writer) *EventDataWriter {
	return &EventDataWriter{csvWriter{w: w}}
}

func formatValues(values []float64) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(s, ",")
}

func (w *EventDataWriter) writeEvent(m *model.Model, gen int, e event.Event) error {
	node := m.Tree().Nodes()[e.Node]
	left, right := node.FirstTip().Name, "NA"
	if !node.IsTerminal() {
		right = node.LastTip().Name
	}
	pos := 0.0
	if !node.IsRoot() {
		pos = e.MapTime - node.MapStart
	}
	_, err := fmt.Fprintf(w.w, "%d,%d,%s,%s,%g,%g,%s\n",
		gen, e.Node, left, right, pos, e.Time, formatValues(e.Slice()))
	return err
}

// Write writes events of the chain.
func (w *EventDataWriter) Write(m *model.Model) error {
	header := append([]string{"generation", "node", "leftchild", "rightchild", "position", "abstime"},
		m.Kind().ParameterNames()...)
	if err := w.writeHeader(header...); err != nil {
		return err
	}
	gen := m.Generation()
	if err := w.writeEvent(m, gen, m.Event(event.Root)); err != nil {
		return err
	}
	for _, h := range m.Events() {
		if err := w.writeEvent(m, gen, m.Event(h)); err != nil {
			return err
		}
	}
	return nil
}

// MCMCWriter writes one line of chain state summary per call.
type MCMCWriter struct {
	csvWriter
}

func NewMCMCWriter(w io.Writer) *MCMCWriter {
	return &MCMCWriter{csvWriter{w: w}}
}

func (w *MCMCWriter) Write(m *model.Model) error {
	if err := w.writeHeader("generation", "N_shifts", "logPrior", "logLik", "eventRate", "acceptRate"); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w.w, "%d,%d,%g,%g,%g,%g\n", m.Generation(), m.NumberOfEvents(),
		m.LogPrior(), m.LogLikelihood(), m.EventRate(), m.AcceptanceRate())
	return err
}

// AcceptanceWriter writes per move acceptance counts.
type AcceptanceWriter struct {
	csvWriter
}

func NewAcceptanceWriter(w io.Writer) *AcceptanceWriter {
	return &AcceptanceWriter{csvWriter{w: w}}
}

// Write writes counts of every proposed move.
func (w *AcceptanceWriter) Write(m *model.Model) error {
	if err := w.writeHeader("generation", "move", "proposed", "accepted"); err != nil {
		return err
	}
	for i := 0; i < model.NMoves; i++ {
		move := model.Move(i)
		if m.Proposed(move) == 0 {
			continue
		}
		_, err := fmt.Fprintf(w.w, "%d,%s,%d,%d\n", m.Generation(),
			model.MoveName(m.Kind(), move), m.Proposed(move), m.Accepted(move))
		if err != nil {
			return err
		}
	}
	return nil
}

// SwapWriter writes chain swap attempts.
type SwapWriter struct {
	csvWriter
	err error
}

func NewSwapWriter(w io.Writer) *SwapWriter {
	return &SwapWriter{csvWriter: csvWriter{w: w}}
}

// Swap writes one swap attempt, the first error is kept.
func (w *SwapWriter) Swap(generation, chain1, chain2 int, accepted bool) {
	if w.err != nil {
		return
	}
	if w.err = w.writeHeader("generation", "rank_1", "rank_2", "swapAccepted"); w.err != nil {
		return
	}
	acc := 0
	if accepted {
		acc = 1
	}
	_, w.err = fmt.Fprintf(w.w, "%d,%d,%d,%d\n", generation, chain1, chain2, acc)
}

// Err returns the first write error.
func (w *SwapWriter) Err() error {
	return w.err
}
