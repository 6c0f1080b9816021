// Package runconfig loads the settings of the command line tools.
package runconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/IsmailM/methimpute/hmmlib"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "METHHMM"

// Config holds the settings of an estimate run.
type Config struct {

	// Observation table
	Data string

	// Initial parameters (YAML).  If empty, starting values are derived
	// from the data using Family, States and TransDist.
	Params string

	Family    hmmlib.Family
	States    int
	TransDist float64

	Mode      hmmlib.Mode
	Eps       float64
	MaxIter   int
	MaxTime   time.Duration
	Verbosity int
	Threads   int

	Posteriors bool
	Viterbi    bool

	// Prefix of the output files
	Out string

	Snapshot    bool
	MetricsFile string
	Progress    bool
}

// FlagSet returns the flags understood by Load.
func FlagSet(name string) *flag.FlagSet {

	def := hmmlib.DefaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", "", "YAML file with settings")
	fs.String("data", "", "Observation table (tab-separated chrom, pos, counts)")
	fs.String("params", "", "Initial parameters (YAML)")
	fs.String("family", "binomial", "Emission family: poisson, negbinom, binomial, zipoisson")
	fs.Int("states", 2, "Number of states when no parameter file is given")
	fs.Float64("trans-dist", 150, "Distance constant of the transition model")
	fs.String("mode", "train", "train (1) or decode (2)")
	fs.Float64("eps", def.Eps, "Convergence threshold on the log-likelihood")
	fs.Int("maxiter", def.MaxIter, "Maximum number of iterations, negative for no limit")
	fs.Duration("maxtime", def.MaxTime, "Maximum run time, zero or negative for no limit")
	fs.IntP("verbosity", "v", 1, "Diagnostic detail, 0 is silent")
	fs.Int("threads", 1, "Number of worker threads")
	fs.Bool("posteriors", true, "Write posterior state probabilities")
	fs.Bool("viterbi", true, "Write the most likely state path")
	fs.String("out", "methhmm", "Prefix of the output files")
	fs.Bool("snapshot", false, "Also write a compressed snapshot of the fit")
	fs.String("metrics-file", "", "Write Prometheus metrics to this file")
	fs.Bool("progress", true, "Show a progress bar")

	return fs
}

// Load resolves the settings with precedence flags > environment >
// config file > defaults, and validates them.  fs must have been created
// by FlagSet and parsed.
func Load(fs *flag.FlagSet) (*Config, error) {

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if fname := v.GetString("config"); fname != "" {
		v.SetConfigFile(fname)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Data:        v.GetString("data"),
		Params:      v.GetString("params"),
		States:      v.GetInt("states"),
		TransDist:   v.GetFloat64("trans-dist"),
		Eps:         v.GetFloat64("eps"),
		MaxIter:     v.GetInt("maxiter"),
		MaxTime:     v.GetDuration("maxtime"),
		Verbosity:   v.GetInt("verbosity"),
		Threads:     v.GetInt("threads"),
		Posteriors:  v.GetBool("posteriors"),
		Viterbi:     v.GetBool("viterbi"),
		Out:         v.GetString("out"),
		Snapshot:    v.GetBool("snapshot"),
		MetricsFile: v.GetString("metrics-file"),
		Progress:    v.GetBool("progress"),
	}

	var err error
	if cfg.Family, err = hmmlib.ParseFamily(v.GetString("family")); err != nil {
		return nil, err
	}
	if cfg.Mode, err = hmmlib.ParseMode(v.GetString("mode")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings.
func (cfg *Config) Validate() error {
	if cfg.Data == "" {
		return fmt.Errorf("%w: no observation table given", hmmlib.ErrValidation)
	}
	if cfg.Params == "" && cfg.States < 1 {
		return fmt.Errorf("%w: need at least one state, got %d", hmmlib.ErrValidation, cfg.States)
	}
	if cfg.Params == "" && !(cfg.TransDist > 0) {
		return fmt.Errorf("%w: transition distance must be positive, got %v", hmmlib.ErrValidation, cfg.TransDist)
	}
	if cfg.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1, got %d", hmmlib.ErrValidation, cfg.Threads)
	}
	if cfg.Out == "" {
		return fmt.Errorf("%w: empty output prefix", hmmlib.ErrValidation)
	}
	hc := cfg.HMMConfig(logr.Discard())
	return hc.Validate()
}

// HMMConfig returns the engine configuration.
func (cfg *Config) HMMConfig(logger logr.Logger) hmmlib.Config {

	hc := hmmlib.DefaultConfig()
	hc.Eps = cfg.Eps
	hc.MaxIter = cfg.MaxIter
	hc.MaxTime = cfg.MaxTime
	hc.Verbosity = cfg.Verbosity
	hc.NumThreads = cfg.Threads
	hc.Logger = logger

	if cfg.Posteriors {
		hc.Outputs |= hmmlib.OutputPosteriors
	}
	if cfg.Viterbi {
		hc.Outputs |= hmmlib.OutputViterbi
	}

	return hc
}

// NewLogger returns a logger writing to standard error.  Verbosity 0
// only shows errors.  The returned function flushes the logger.
func NewLogger(verbosity int) (logr.Logger, func(), error) {

	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if verbosity == 0 {
		zc.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	} else {
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	z, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}
