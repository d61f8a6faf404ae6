/*

Rjshift samples rate-shift configurations on a fixed phylogeny using
reversible-jump MCMC. It supports speciation-extinction and
Brownian motion trait rate models, and Metropolis coupling of several
chains.

The basic usage looks like this:

	rjshift control.yaml

, where the control file sets at least modeltype, treefile and
numberOfGenerations. Any setting can be overridden from the command
line:

	rjshift --set numberOfChains=4 --set seed=1 control.yaml

To see all the options run:

	rjshift -h

*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mrrlab/rjshift/checkpoint"
	"github.com/mrrlab/rjshift/event"
	"github.com/mrrlab/rjshift/mc3"
	"github.com/mrrlab/rjshift/output"
	"github.com/mrrlab/rjshift/settings"
	"github.com/mrrlab/rjshift/tree"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("rjshift")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules are names of all the package loggers.
var modules = []string{"rjshift", "event", "model", "mc3", "settings", "checkpoint", "output"}

// ultrametricTolerance is the relative tolerance of the root to tip
// distance check.
const ultrametricTolerance = 1e-6

// checkpointKey is the database key of the ensemble state.
var checkpointKey = []byte("mc3")

// command-line options
var (
	// application
	app = kingpin.New("rjshift", "reversible-jump rate-shift sampler").Version(version)

	controlFileName = app.Arg("control", "control file (YAML)").Required().ExistingFile()
	sets            = app.Flag("set", "override a setting, key=value (can be repeated)").Strings()

	// technical
	nThreads   = app.Flag("nt", "maximum number of chains advanced simultaneously").Int()
	seed       = app.Flag("seed", "random generator seed, overrides the control file").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// checkpointing
	checkpointF       = app.Flag("checkpoint", "checkpoint database file, the run resumes from it if it exists").String()
	checkpointSeconds = app.Flag("checkpoint-seconds", "save checkpoint not more often than every N seconds").Default("60").Float64()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF      = app.Flag("json", "write json output to a file").String()
	plotF      = app.Flag("plot", "write trace plots with this file name prefix").String()
	plotFormat = app.Flag("plot-format", "trace plot format").Default("png").Enum("png", "svg", "pdf")
)

// options are run settings not stored in the control file.
type options struct {
	nThreads          int
	checkpoint        string
	checkpointSeconds float64
	plot              string
	plotFormat        string
}

// readSettings reads the control file and applies the overrides.
func readSettings(fn string, pairs []string) (*settings.Settings, error) {
	s := settings.New()
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := s.ReadYAML(f); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	for _, pair := range pairs {
		if err := s.SetPair(pair); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// readTree reads a newick tree from a file.
func readTree(fn string) (*tree.Tree, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := tree.ParseNewick(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return t, nil
}

// readTraits reads tip trait values from a file.
func readTraits(fn string) (map[string]float64, error) {
	if fn == "" {
		return nil, errors.New("trait model requires traitfile")
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	traits, err := settings.ReadTraits(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return traits, nil
}

// outputs are the open output files.
type outputs struct {
	files    []*output.File
	recorder *output.Recorder
	swaps    *output.SwapWriter
}

// open opens a file unless the name is empty, resumed runs append.
func (o *outputs) open(fn string, resume bool) (*output.File, error) {
	if fn == "" {
		return nil, nil
	}
	open := output.Create
	if resume {
		open = output.Append
	}
	f, err := open(fn)
	if err != nil {
		return nil, err
	}
	o.files = append(o.files, f)
	return f, nil
}

func newOutputs(rc *settings.RunConfig, resume, trace bool) (*outputs, error) {
	o := &outputs{recorder: &output.Recorder{
		EventFreq:      rc.EventWriteFreq,
		MCMCFreq:       rc.MCMCWriteFreq,
		AcceptanceFreq: rc.AcceptanceFreq,
	}}
	if trace {
		o.recorder.Trace = &output.Trace{}
	}
	f, err := o.open(rc.MCMCOutfile, resume)
	if err != nil {
		return nil, o.fail(err)
	}
	if f != nil {
		o.recorder.MCMC = output.NewMCMCWriter(f)
		if resume {
			o.recorder.MCMC.SkipHeader()
		}
	}
	if f, err = o.open(rc.EventDataOutfile, resume); err != nil {
		return nil, o.fail(err)
	}
	if f != nil {
		o.recorder.Events = output.NewEventDataWriter(f)
		if resume {
			o.recorder.Events.SkipHeader()
		}
	}
	if f, err = o.open(rc.AcceptanceOutfile, resume); err != nil {
		return nil, o.fail(err)
	}
	if f != nil {
		o.recorder.Acceptance = output.NewAcceptanceWriter(f)
		if resume {
			o.recorder.Acceptance.SkipHeader()
		}
	}
	if rc.NChains > 1 {
		if f, err = o.open(rc.ChainSwapOutfile, resume); err != nil {
			return nil, o.fail(err)
		}
		if f != nil {
			o.swaps = output.NewSwapWriter(f)
			if resume {
				o.swaps.SkipHeader()
			}
		}
	}
	return o, nil
}

// fail closes all the files and returns err.
func (o *outputs) fail(err error) error {
	o.close()
	return err
}

// close closes all the files and returns the first error including
// write errors.
func (o *outputs) close() (err error) {
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	o.files = nil
	if rerr := o.recorder.Err(); rerr != nil && err == nil {
		err = rerr
	}
	if o.swaps != nil && o.swaps.Err() != nil && err == nil {
		err = o.swaps.Err()
	}
	return
}

func run(s *settings.Settings, rc *settings.RunConfig, opts options) (summary *RunSummary, err error) {
	startTime := time.Now()
	summary = &RunSummary{}

	t, err := readTree(s.String("treefile"))
	if err != nil {
		return nil, err
	}
	log.Infof("Read tree with %d tips, maximum root to tip distance %v", t.NLeaves(), t.MaxRootToTip())
	log.Debugf("brtree=%s", t.BrString())
	log.Debug(t.FullString())

	kind, err := s.Kind()
	if err != nil {
		return nil, err
	}
	summary.ModelType = kind.String()

	var traits map[string]float64
	switch kind {
	case event.Diversification:
		if rc.CheckUltrametric && !t.IsUltrametric(ultrametricTolerance) {
			return nil, errors.New("tree is not ultrametric")
		}
	case event.Trait:
		if traits, err = readTraits(s.String("traitfile")); err != nil {
			return nil, err
		}
		log.Infof("Read %d trait values", len(traits))
	}

	cfg, err := s.ModelConfig(traits)
	if err != nil {
		return nil, err
	}

	ens, err := mc3.Build(t, cfg, rc.NChains, rc.DeltaT, rc.Seed)
	if err != nil {
		return nil, err
	}
	ens.SwapPeriod = rc.SwapPeriod
	ens.NThreads = opts.nThreads
	ens.AccPeriod = rc.PrintFreq
	ens.ResetPeriod = rc.AcceptanceFreq
	log.Infof("Running %d chain(s), deltaT=%v", rc.NChains, rc.DeltaT)

	if opts.checkpoint != "" {
		db, err := bolt.Open(opts.checkpoint, 0600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("error opening checkpoint database: %w", err)
		}
		defer db.Close()
		cio := checkpoint.NewCheckpointIO(db, checkpointKey, opts.checkpointSeconds)
		var state mc3.State
		found, err := cio.Load(&state)
		if err != nil {
			return nil, fmt.Errorf("error loading checkpoint: %w", err)
		}
		if found {
			if err := ens.Restore(&state); err != nil {
				return nil, fmt.Errorf("error restoring checkpoint: %w", err)
			}
			if state.Final {
				log.Noticef("Found finished checkpoint (generation=%d)", state.Generation)
			} else {
				log.Noticef("Found unfinished checkpoint (generation=%d)", state.Generation)
			}
			summary.Resumed = true
		}
		ens.Checkpointer = cio
	}

	out, err := newOutputs(rc, summary.Resumed, opts.plot != "")
	if err != nil {
		return nil, err
	}
	ens.Sampler = out.recorder
	if out.swaps != nil {
		ens.SwapObserver = out.swaps
	}

	ens.WatchSignals(os.Interrupt, syscall.SIGTERM)
	runErr := ens.Run(rc.Generations)
	if err := out.close(); err != nil {
		log.Error("Error writing output:", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if opts.plot != "" {
		lnLFn := opts.plot + "_lnL." + opts.plotFormat
		eventsFn := opts.plot + "_events." + opts.plotFormat
		if err := out.recorder.Trace.Save(lnLFn, eventsFn); err != nil {
			log.Error("Error saving trace plot:", err)
		}
	}

	cold := ens.ColdChain()
	summary.Generations = ens.Generation()
	summary.LnL = cold.LogLikelihood()
	summary.LogPrior = cold.LogPrior()
	summary.NumberOfEvents = cold.NumberOfEvents()
	summary.EventRate = cold.EventRate()
	summary.ProposedSwaps, summary.AcceptedSwaps = ens.Swaps()
	log.Noticef("Final generation %d: lnL=%v, events=%d", summary.Generations, summary.LnL, summary.NumberOfEvents)

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()
	return summary, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range modules {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	s, err := readSettings(*controlFileName, *sets)
	if err != nil {
		log.Fatal(err)
	}
	if *seed != -1 {
		if err := s.Set("seed", strconv.FormatInt(*seed, 10)); err != nil {
			log.Fatal(err)
		}
	}
	rc, err := s.RunConfig()
	if err != nil {
		log.Fatal(err)
	}
	if rc.Seed == -1 {
		rc.Seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", rc.Seed)
	log.Debug(s.Dump())

	effectiveNThreads := runtime.GOMAXPROCS(0)
	if *nThreads > 0 && *nThreads < effectiveNThreads {
		effectiveNThreads = *nThreads
	}
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	summary, err := run(s, rc, options{
		nThreads:          *nThreads,
		checkpoint:        *checkpointF,
		checkpointSeconds: *checkpointSeconds,
		plot:              *plotF,
		plotFormat:        *plotFormat,
	})
	if err != nil {
		log.Critical(err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = rc.Seed

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
