package hmmsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/IsmailM/methimpute/hmmlib"
)

func params(fam hmmlib.Family) *hmmlib.Params {
	return &hmmlib.Params{
		Start:     []float64{0.5, 0.5},
		Trans:     [][]float64{{0.9, 0.1}, {0.2, 0.8}},
		TransDist: 1,
		Family:    fam,
		Emission: []hmmlib.EmissionParams{
			{Mean: 3, Dispersion: 2, Prob: 0.2, ZeroProb: 0.4},
			{Mean: 40, Dispersion: 10, Prob: 0.9, ZeroProb: 0.1},
		},
	}
}

func TestSequenceShape(t *testing.T) {
	for _, fam := range []hmmlib.Family{hmmlib.Poisson, hmmlib.NegativeBinomial, hmmlib.Binomial, hmmlib.ZeroInflatedPoisson} {
		t.Run(fam.String(), func(t *testing.T) {
			par := params(fam)
			seq, states, err := New(1).Sequence(par, 500, DefaultOptions())
			require.NoError(t, err)
			require.Len(t, states, 500)
			require.Len(t, seq.Distances, 499)
			require.NoError(t, par.ValidateFor(seq))

			for _, d := range seq.Distances {
				assert.True(t, d >= 1 && d <= 50)
			}
		})
	}
}

func TestSeeded(t *testing.T) {
	par := params(hmmlib.NegativeBinomial)
	a, sa, err := New(42).Sequence(par, 200, DefaultOptions())
	require.NoError(t, err)
	b, sb, err := New(42).Sequence(par, 200, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, sa, sb)

	c, _, err := New(43).Sequence(par, 200, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, a.Counts, c.Counts)
}

func TestMoments(t *testing.T) {

	g := New(5)
	n := 20000
	x := make([]float64, n)

	for _, m := range []float64{0.5, 7, 250} {
		for i := range x {
			x[i] = float64(g.genPoisson(m))
		}
		mn, vr := stat.MeanVariance(x, nil)
		assert.InEpsilon(t, m, mn, 0.05, "poisson mean %v", m)
		assert.InEpsilon(t, m, vr, 0.1, "poisson variance %v", m)
	}

	// Negative binomial with mean 6 and size 3 has variance 6 + 36/3.
	for i := range x {
		x[i] = float64(g.genNegBinom(6, 3))
	}
	mn, vr := stat.MeanVariance(x, nil)
	assert.InEpsilon(t, 6, mn, 0.05)
	assert.InEpsilon(t, 18, vr, 0.1)

	for i := range x {
		x[i] = float64(g.genBinomial(10, 0.3))
	}
	assert.InEpsilon(t, 3, stat.Mean(x, nil), 0.05)
}

// With no distance between positions the state never changes.
func TestStatesZeroDistance(t *testing.T) {
	par := params(hmmlib.Poisson)
	st := New(3).States(par, make([]float64, 300))
	for _, s := range st {
		require.Equal(t, st[0], s)
	}
}

func TestSequenceErrors(t *testing.T) {
	g := New(1)

	_, _, err := g.Sequence(params(hmmlib.Poisson), 0, DefaultOptions())
	require.ErrorIs(t, err, hmmlib.ErrValidation)

	_, _, err = g.Sequence(params(hmmlib.Poisson), 10, Options{MinDist: 5, MaxDist: 1})
	require.ErrorIs(t, err, hmmlib.ErrValidation)

	_, _, err = g.Sequence(params(hmmlib.Binomial), 10, Options{MaxDist: 1})
	require.ErrorIs(t, err, hmmlib.ErrValidation)

	bad := params(hmmlib.Poisson)
	bad.Start = []float64{1, 1}
	_, _, err = g.Sequence(bad, 10, DefaultOptions())
	require.ErrorIs(t, err, hmmlib.ErrValidation)
}

func TestModel(t *testing.T) {
	for _, fam := range []hmmlib.Family{hmmlib.Poisson, hmmlib.NegativeBinomial, hmmlib.Binomial, hmmlib.ZeroInflatedPoisson} {
		for _, k := range []int{1, 2, 4} {
			par, err := Model(fam, k, 100)
			require.NoError(t, err)
			require.Equal(t, k, par.NState())
			if k == 1 {
				assert.Equal(t, 1.0, par.Trans[0][0])
			} else {
				assert.InDelta(t, 0.8, par.Trans[0][0], 1e-12)
			}
		}
	}

	par, err := Model(hmmlib.Poisson, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4.5, 8}, []float64{par.Emission[0].Mean, par.Emission[1].Mean, par.Emission[2].Mean})
	assert.InDelta(t, 0.9, par.Trans[2][2], 1e-12)
	assert.InDelta(t, 0.05, par.Trans[2][0], 1e-12)

	_, err = Model(hmmlib.Poisson, 0, 100)
	require.ErrorIs(t, err, hmmlib.ErrValidation)
	_, err = Model(hmmlib.Poisson, 2, 0)
	require.ErrorIs(t, err, hmmlib.ErrValidation)
}
