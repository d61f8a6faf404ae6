package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrrlab/rjshift/settings"
)

const testTree = "((a:1,b:1):1,c:2);"

// setup writes a tree and a control file into a temporary directory
// and reads settings with the overrides.
func setup(tst *testing.T, dir, control string, pairs ...string) (*settings.Settings, *settings.RunConfig) {
	treeFn := filepath.Join(dir, "tree.nwk")
	if err := os.WriteFile(treeFn, []byte(testTree), 0666); err != nil {
		tst.Fatal(err)
	}
	controlFn := filepath.Join(dir, "control.yaml")
	if err := os.WriteFile(controlFn, []byte(control), 0666); err != nil {
		tst.Fatal(err)
	}
	pairs = append([]string{"treefile=" + treeFn, "outName=" + filepath.Join(dir, "run")}, pairs...)
	s, err := readSettings(controlFn, pairs)
	if err != nil {
		tst.Fatal(err)
	}
	rc, err := s.RunConfig()
	if err != nil {
		tst.Fatal(err)
	}
	return s, rc
}

func readLines(tst *testing.T, fn string) []string {
	f, err := os.Open(fn)
	if err != nil {
		tst.Fatal(err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		tst.Fatal(err)
	}
	return lines
}

const divControl = `
modeltype: speciationextinction
treefile: tree.nwk
seed: 3
numberOfChains: 2
swapPeriod: 100
mcmcWriteFreq: 100
eventDataWriteFreq: 500
acceptanceResetFreq: 1000
printFreq: 0
`

func TestRun(tst *testing.T) {
	dir := tst.TempDir()
	s, rc := setup(tst, dir, divControl, "numberOfGenerations=2000")
	summary, err := run(s, rc, options{})
	if err != nil {
		tst.Fatal(err)
	}
	if summary.Generations != 2000 || summary.Resumed {
		tst.Error("Wrong summary:", summary)
	}
	if summary.ProposedSwaps != 20 {
		tst.Error("Expected 20 swap attempts, got", summary.ProposedSwaps)
	}
	mcmc := readLines(tst, filepath.Join(dir, "run_mcmc_out.txt"))
	if len(mcmc) != 21 || !strings.HasPrefix(mcmc[20], "2000,") {
		tst.Errorf("Wrong chain output (%d lines)", len(mcmc))
	}
	swaps := readLines(tst, filepath.Join(dir, "run_chain_swap.txt"))
	if len(swaps) != 21 {
		tst.Errorf("Wrong swap output (%d lines)", len(swaps))
	}
	events := readLines(tst, filepath.Join(dir, "run_event_data.txt"))
	if len(events) < 5 || !strings.HasPrefix(events[0], "generation,node,") {
		tst.Error("Wrong event output")
	}
}

func TestResume(tst *testing.T) {
	dir := tst.TempDir()
	opts := options{
		checkpoint:        filepath.Join(dir, "checkpoint.db"),
		checkpointSeconds: 3600,
	}
	mcmcFn := filepath.Join(dir, "run_mcmc_out.txt")

	s, rc := setup(tst, dir, divControl, "numberOfGenerations=1000")
	if _, err := run(s, rc, opts); err != nil {
		tst.Fatal(err)
	}
	if l := readLines(tst, mcmcFn); len(l) != 11 {
		tst.Fatal("Expected 11 lines after the first run, got", len(l))
	}

	s, rc = setup(tst, dir, divControl, "numberOfGenerations=2000")
	summary, err := run(s, rc, opts)
	if err != nil {
		tst.Fatal(err)
	}
	if !summary.Resumed || summary.Generations != 2000 {
		tst.Error("Run was not resumed:", summary)
	}
	lines := readLines(tst, mcmcFn)
	if len(lines) != 21 {
		tst.Fatal("Expected 21 lines after resuming, got", len(lines))
	}
	if !strings.HasPrefix(lines[10], "1000,") || !strings.HasPrefix(lines[11], "1100,") {
		tst.Error("Generations are not continuous:", lines[10], lines[11])
	}
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "generation") {
			tst.Error("Header repeated after resuming")
		}
	}

	// finished checkpoint, nothing left to do
	summary, err = run(s, rc, opts)
	if err != nil {
		tst.Fatal(err)
	}
	if summary.Generations != 2000 {
		tst.Error("Wrong number of generations:", summary.Generations)
	}
	if l := readLines(tst, mcmcFn); len(l) != 21 {
		tst.Error("Finished run should not write samples, got", len(l))
	}
}

func TestTraitRun(tst *testing.T) {
	dir := tst.TempDir()
	traitFn := filepath.Join(dir, "traits.txt")
	if err := os.WriteFile(traitFn, []byte("a 0.1\nb 0.3\nc -0.2\n"), 0666); err != nil {
		tst.Fatal(err)
	}
	control := `
modeltype: trait
seed: 5
numberOfGenerations: 1000
mcmcWriteFreq: 100
`
	s, rc := setup(tst, dir, control, "traitfile="+traitFn)
	summary, err := run(s, rc, options{plot: filepath.Join(dir, "trace"), plotFormat: "svg"})
	if err != nil {
		tst.Fatal(err)
	}
	if summary.ModelType != "trait" {
		tst.Error("Wrong model type:", summary.ModelType)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace_lnL.svg")); err != nil {
		tst.Error("Trace plot was not written:", err)
	}
}

func TestErrors(tst *testing.T) {
	dir := tst.TempDir()
	s, rc := setup(tst, dir, divControl, "numberOfGenerations=10")
	if err := os.WriteFile(filepath.Join(dir, "tree.nwk"), []byte("((a:1,b:2):1,c:2);"), 0666); err != nil {
		tst.Fatal(err)
	}
	if _, err := run(s, rc, options{}); err == nil {
		tst.Error("Expected non-ultrametric tree error")
	}

	s, rc = setup(tst, dir, "modeltype: trait\nnumberOfGenerations: 10\n")
	if _, err := run(s, rc, options{}); err == nil {
		tst.Error("Expected missing trait file error")
	}

	if _, err := readSettings(filepath.Join(dir, "control.yaml"), []string{"noSuchKey=1"}); err == nil {
		tst.Error("Expected unknown key error")
	}
}
