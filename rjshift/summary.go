package main

// RunSummary is storing rjshift run summary information.
type RunSummary struct {
	// Version stores rjshift version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of chains advanced simultaneously.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`

	ModelType string `json:"modelType"`
	// Resumed is true if the run started from a checkpoint.
	Resumed     bool `json:"resumed"`
	Generations int  `json:"generations"`

	// Final cold chain state.
	LnL            float64 `json:"lnL"`
	LogPrior       float64 `json:"logPrior"`
	NumberOfEvents int     `json:"numberOfEvents"`
	EventRate      float64 `json:"eventRate"`

	ProposedSwaps int `json:"proposedSwaps"`
	AcceptedSwaps int `json:"acceptedSwaps"`
}
