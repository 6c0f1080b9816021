package hmmlib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func smallModel() (*Sequence, *Params) {
	seq := &Sequence{
		Counts:    [][]int{{0, 4, 7, 1, 0, 9}},
		Distances: []float64{0.5, 3, 0, 12, 1},
	}
	par := &Params{
		Start:     []float64{0.3, 0.7},
		Trans:     [][]float64{{0.8, 0.2}, {0.35, 0.65}},
		TransDist: 2,
		Family:    Poisson,
		Emission:  []EmissionParams{{Mean: 1}, {Mean: 6}},
	}
	return seq, par
}

// enumerate calls fn with every state path of length ntime.
func enumerate(nstate, ntime int, fn func([]int)) {
	path := make([]int, ntime)
	for {
		fn(path)
		t := 0
		for t < ntime {
			path[t]++
			if path[t] < nstate {
				break
			}
			path[t] = 0
			t++
		}
		if t == ntime {
			return
		}
	}
}

// The scaled recursions must reproduce the likelihood and the posterior
// marginals obtained by summing over all paths.
func TestForwardBackwardBruteForce(t *testing.T) {

	seq, par := smallModel()
	ntime, nstate := seq.Len(), par.NState()

	var lps []float64
	marg := makeFloatArray(ntime, nstate)
	enumerate(nstate, ntime, func(path []int) {
		lp, err := PathLogProb(seq, par, path)
		require.NoError(t, err)
		lps = append(lps, lp)
		for i, st := range path {
			marg[i][st] += math.Exp(lp)
		}
	})
	llf := floats.LogSumExp(lps)

	e, err := newEngine(seq, par, DefaultConfig())
	require.NoError(t, err)
	got, err := e.estep()
	require.NoError(t, err)
	assert.InDelta(t, llf, got, 1e-10)

	pp := e.posteriors()
	for i := range pp {
		for st := range pp[i] {
			want := marg[i][st] / math.Exp(llf)
			assert.InDelta(t, want, pp[i][st], 1e-10)
			assert.InDelta(t, want, e.posterior(i, st), 1e-10)
		}
	}
}

// A long sequence must not underflow.
func TestForwardBackwardLong(t *testing.T) {

	ntime := 50000
	x := make([]int, ntime)
	d := make([]float64, ntime-1)
	for i := range x {
		x[i] = (i * 7919) % 40
		if i < ntime-1 {
			d[i] = float64(i % 13)
		}
	}
	seq := &Sequence{Counts: [][]int{x}, Distances: d}
	par := &Params{
		Start:     []float64{0.2, 0.3, 0.5},
		Trans:     [][]float64{{0.9, 0.05, 0.05}, {0.1, 0.8, 0.1}, {0.2, 0.2, 0.6}},
		TransDist: 3,
		Family:    NegativeBinomial,
		Emission:  []EmissionParams{{Mean: 2, Dispersion: 1}, {Mean: 10, Dispersion: 5}, {Mean: 30, Dispersion: 20}},
	}

	cfg := DefaultConfig()
	cfg.NumThreads = 4
	e, err := newEngine(seq, par, cfg)
	require.NoError(t, err)
	llf, err := e.estep()
	require.NoError(t, err)
	require.False(t, math.IsInf(llf, 0) || math.IsNaN(llf))
	require.Less(t, llf, 0.0)

	for i := 0; i < ntime; i += 997 {
		var s float64
		for st := 0; st < 3; st++ {
			s += e.posterior(i, st)
		}
		require.InDelta(t, 1, s, 1e-9, "position %d", i)
	}
}

type nanEmitter struct{ poissonEmitter }

func (nanEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {
	if t == 3 {
		return math.NaN()
	}
	return -1
}

type impossibleEmitter struct{ poissonEmitter }

func (impossibleEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {
	if t == 2 {
		return math.Inf(-1)
	}
	return -1
}

func TestNumericalFailure(t *testing.T) {

	for _, em := range []Emitter{nanEmitter{}, impossibleEmitter{}} {
		seq, par := smallModel()
		e, err := newEngine(seq, par, DefaultConfig())
		require.NoError(t, err)
		e.em = em
		_, err = e.estep()
		require.ErrorIs(t, err, ErrNumerical)
	}

	// A start distribution that excludes the only possible state
	seq, par := smallModel()
	par.Start = []float64{0, 1}
	e, err := newEngine(seq, par, DefaultConfig())
	require.NoError(t, err)
	e.em = stateZeroOnly{}
	_, err = e.estep()
	require.ErrorIs(t, err, ErrNumerical)
}

type stateZeroOnly struct{ poissonEmitter }

func (stateZeroOnly) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {
	if ep.Mean == 1 {
		return -2
	}
	return math.Inf(-1)
}

func TestViterbiTies(t *testing.T) {

	seq := &Sequence{
		Counts:    [][]int{{3, 3, 3, 3, 3}},
		Distances: []float64{1, 1, 1, 1},
	}
	par := &Params{
		Start:     []float64{0.5, 0.5},
		Trans:     [][]float64{{0.5, 0.5}, {0.5, 0.5}},
		TransDist: 1,
		Family:    Poisson,
		Emission:  []EmissionParams{{Mean: 3}, {Mean: 3}},
	}

	e, err := newEngine(seq, par, DefaultConfig())
	require.NoError(t, err)
	_, err = e.estep()
	require.NoError(t, err)
	path, _ := e.viterbi()
	assert.Equal(t, []int{0, 0, 0, 0, 0}, path)
}
