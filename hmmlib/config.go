package hmmlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Mode selects what Run does.
type Mode uint8

const (
	// Train estimates the parameters with Baum-Welch.
	Train Mode = iota + 1

	// Decode runs a single pass under fixed parameters.
	Decode
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode accepts "train"/"decode" and the numeric codes 1 and 2.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train", "baumwelch", "baum-welch", "1":
		return Train, nil
	case "decode", "viterbi", "forward-backward", "2":
		return Decode, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return 0, fmt.Errorf("%w: unknown algorithm code %d", ErrValidation, n)
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
}

// Output is a set of per-position results to produce.
type Output uint8

const (
	// OutputPosteriors requests the posterior state probabilities.
	OutputPosteriors Output = 1 << iota

	// OutputViterbi requests the most likely state path.
	OutputViterbi
)

// IterStat describes one completed Baum-Welch iteration.
type IterStat struct {
	Iter    int
	LogLik  float64
	Delta   float64
	Elapsed time.Duration
}

// Config holds the settings of one Run.  It is not modified by Run.
type Config struct {

	// Convergence is declared when the log-likelihood improves by less than Eps.
	Eps float64

	// Maximum number of Baum-Welch iterations, negative means no limit.
	MaxIter int

	// Wall-clock budget, zero or negative means no limit.
	MaxTime time.Duration

	// Diagnostic detail written to Logger: 0 is silent.
	Verbosity int

	// Size of the worker pool, values below 1 mean 1.
	NumThreads int

	// Per-position results to compute.  In Decode mode an empty set means
	// OutputPosteriors.
	Outputs Output

	Logger logr.Logger

	// If not nil, Progress is called on the calling goroutine after each
	// iteration.
	Progress func(IterStat)
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Eps:        0.01,
		MaxIter:    -1,
		MaxTime:    -1,
		NumThreads: 1,
		Logger:     logr.Discard(),
	}
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	if math.IsNaN(cfg.Eps) {
		return fmt.Errorf("%w: eps is NaN", ErrValidation)
	}
	if cfg.Verbosity < 0 {
		return fmt.Errorf("%w: verbosity must be non-negative, got %d", ErrValidation, cfg.Verbosity)
	}
	return nil
}

// normalized returns a copy with defaults filled in.
func (cfg Config) normalized() Config {
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	return cfg
}
