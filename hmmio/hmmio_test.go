package hmmio

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsmailM/methimpute/hmmlib"
)

const table = `# methylation counts
#chrom	pos	meth	total
chr1	100	3	10
chr1	102	5	9
chr1	150	0	0
chr2	7	1	4
chr2	7	2	2
`

func TestReadTable(t *testing.T) {

	tab, err := ReadTable(strings.NewReader(table), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"chr1", "chr1", "chr1", "chr2", "chr2"}, tab.Chrom)
	assert.Equal(t, []int64{100, 102, 150, 7, 7}, tab.Pos)
	assert.Equal(t, [][]int{{3, 5, 0, 1, 2}, {10, 9, 0, 4, 2}}, tab.Seq.Counts)
	assert.Equal(t, []float64{2, 48, math.Inf(1), 0}, tab.Seq.Distances)

	par := &hmmlib.Params{
		Start:     []float64{0.5, 0.5},
		Trans:     [][]float64{{0.9, 0.1}, {0.1, 0.9}},
		TransDist: 10,
		Family:    hmmlib.Binomial,
		Emission:  []hmmlib.EmissionParams{{Prob: 0.1}, {Prob: 0.8}},
	}
	require.NoError(t, par.ValidateFor(tab.Seq))

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, tab))
	back, err := ReadTable(&buf, 2)
	require.NoError(t, err)
	assert.Equal(t, tab, back)
}

func TestReadTableErrors(t *testing.T) {
	tests := map[string]string{
		"empty":            "# nothing\n",
		"columns":          "chr1\t1\t2\n",
		"position":         "chr1\tx\t2\t3\n",
		"count":            "chr1\t1\t2.5\t3\n",
		"negative count":   "chr1\t1\t-2\t3\n",
		"unsorted":         "chr1\t10\t1\t1\nchr1\t5\t1\t1\n",
		"split chromosome": "chr1\t1\t1\t1\nchr2\t5\t1\t1\nchr1\t9\t1\t1\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadTable(strings.NewReader(in), 2)
			require.ErrorIs(t, err, hmmlib.ErrValidation)
		})
	}
}

func TestTableFromSequence(t *testing.T) {
	seq := &hmmlib.Sequence{
		Counts:    [][]int{{1, 2, 3}},
		Distances: []float64{4, 10},
	}
	tab, err := TableFromSequence("chrX", seq)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 15}, tab.Pos)

	seq.Distances[1] = math.Inf(1)
	_, err = TableFromSequence("chrX", seq)
	require.ErrorIs(t, err, hmmlib.ErrValidation)
}

const paramYAML = `start: [0.25, 0.75]
transition:
  - [0.9, 0.1]
  - [0.2, 0.8]
trans_dist: 1000
family: negbinom
emission:
  - {mean: 2, dispersion: 1.5}
  - {mean: 20, dispersion: 4}
`

func TestParams(t *testing.T) {

	par, err := ReadParams(strings.NewReader(paramYAML))
	require.NoError(t, err)
	assert.Equal(t, hmmlib.NegativeBinomial, par.Family)
	assert.Equal(t, []float64{0.25, 0.75}, par.Start)
	assert.Equal(t, 1000.0, par.TransDist)
	assert.Equal(t, hmmlib.EmissionParams{Mean: 20, Dispersion: 4}, par.Emission[1])

	var buf bytes.Buffer
	require.NoError(t, WriteParams(&buf, par))
	assert.Contains(t, buf.String(), "family: negbinom")
	back, err := ReadParams(&buf)
	require.NoError(t, err)
	assert.Equal(t, par, back)

	for name, in := range map[string]string{
		"unknown field":  paramYAML + "extra: 1\n",
		"unknown family": strings.Replace(paramYAML, "negbinom", "gamma", 1),
		"bad start":      strings.Replace(paramYAML, "0.25", "0.5", 1),
	} {
		_, err := ReadParams(strings.NewReader(in))
		assert.ErrorIs(t, err, hmmlib.ErrValidation, name)
	}
}

func fitted(t *testing.T) (*Table, *hmmlib.Result) {
	t.Helper()

	tab, err := ReadTable(strings.NewReader(table), 2)
	require.NoError(t, err)
	par, err := hmmlib.DefaultParams(tab.Seq, hmmlib.Binomial, 2, 25)
	require.NoError(t, err)

	cfg := hmmlib.DefaultConfig()
	cfg.MaxIter = 5
	cfg.Eps = math.Inf(-1)
	cfg.Outputs = hmmlib.OutputPosteriors | hmmlib.OutputViterbi
	res := hmmlib.Run(context.Background(), tab.Seq, par, cfg, hmmlib.Train)
	require.NoError(t, res.Err)

	return tab, res
}

func TestResult(t *testing.T) {

	_, res := fitted(t)

	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, res))
	assert.Contains(t, buf.String(), "outcome: iteration limit")
	assert.Contains(t, buf.String(), "viterbi_logprob:")

	rf, err := ReadResult(&buf)
	require.NoError(t, err)
	assert.Equal(t, res.Params, rf.Params)
	assert.Equal(t, res.LogLik, rf.LogLik)
	assert.Equal(t, res.Iterations, rf.Iterations)
	assert.Empty(t, rf.Error)
}

func TestWriteDecoded(t *testing.T) {

	tab, res := fitted(t)

	var buf bytes.Buffer
	require.NoError(t, WriteDecoded(&buf, tab, res))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1+tab.Len())
	assert.Equal(t, "#chrom\tpos\tstate\tpost0\tpost1", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "chr1\t100\t"))

	res.Path = res.Path[:2]
	require.ErrorIs(t, WriteDecoded(&buf, tab, res), hmmlib.ErrValidation)
}

func TestSnapshot(t *testing.T) {

	tab, res := fitted(t)
	snap := NewSnapshot(tab, res)

	fname := filepath.Join(t.TempDir(), "fit.gob.gz")
	require.NoError(t, WriteSnapshot(fname, snap))

	back, err := ReadSnapshot(fname)
	require.NoError(t, err)
	assert.Equal(t, snap, back)

	_, err = ReadSnapshot(filepath.Join(t.TempDir(), "missing.gob.gz"))
	require.Error(t, err)
}
