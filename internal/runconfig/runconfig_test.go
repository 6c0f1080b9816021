package runconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsmailM/methimpute/hmmlib"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := FlagSet("test")
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {

	cfg, err := load(t, "--data", "x.tsv")
	require.NoError(t, err)

	assert.Equal(t, hmmlib.Binomial, cfg.Family)
	assert.Equal(t, hmmlib.Train, cfg.Mode)
	assert.Equal(t, 2, cfg.States)
	assert.Equal(t, -1, cfg.MaxIter)
	assert.Equal(t, 1, cfg.Threads)
	assert.True(t, cfg.Posteriors)
	assert.Equal(t, "methhmm", cfg.Out)

	hc := cfg.HMMConfig(logr.Discard())
	assert.Equal(t, hmmlib.OutputPosteriors|hmmlib.OutputViterbi, hc.Outputs)
	assert.Equal(t, hmmlib.DefaultConfig().Eps, hc.Eps)
}

func TestPrecedence(t *testing.T) {

	fname := filepath.Join(t.TempDir(), "run.yaml")
	body := "data: file.tsv\nstates: 3\nthreads: 2\nmaxtime: 90s\nfamily: poisson\nmaxiter: 7\n"
	require.NoError(t, os.WriteFile(fname, []byte(body), 0o644))

	t.Setenv("METHHMM_THREADS", "4")
	t.Setenv("METHHMM_TRANS_DIST", "500")

	cfg, err := load(t, "--config", fname, "--maxiter", "11")
	require.NoError(t, err)

	// From the file.
	assert.Equal(t, "file.tsv", cfg.Data)
	assert.Equal(t, 3, cfg.States)
	assert.Equal(t, hmmlib.Poisson, cfg.Family)
	assert.Equal(t, 90*time.Second, cfg.MaxTime)

	// The environment overrides the file, flags override both.
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 500.0, cfg.TransDist)
	assert.Equal(t, 11, cfg.MaxIter)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string][]string{
		"no data":    {},
		"mode":       {"--data", "x", "--mode", "3"},
		"family":     {"--data", "x", "--family", "gamma"},
		"states":     {"--data", "x", "--states", "0"},
		"trans dist": {"--data", "x", "--trans-dist", "0"},
		"threads":    {"--data", "x", "--threads", "0"},
		"verbosity":  {"--data", "x", "--verbosity=-1"},
		"eps":        {"--data", "x", "--eps", "NaN"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := load(t, args...)
			require.ErrorIs(t, err, hmmlib.ErrValidation)
		})
	}

	_, err := load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParamsFileSkipsStateChecks(t *testing.T) {
	cfg, err := load(t, "--data", "x", "--params", "p.yaml", "--states", "0")
	require.NoError(t, err)
	assert.Equal(t, "p.yaml", cfg.Params)
}

func TestNewLogger(t *testing.T) {
	for _, v := range []int{0, 1, 2} {
		logger, sync, err := NewLogger(v)
		require.NoError(t, err)
		logger.V(1).Info("test", "verbosity", v)
		sync()
	}
}
