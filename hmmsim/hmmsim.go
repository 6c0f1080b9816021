// Package hmmsim simulates observation sequences from a distance-dependent
// hidden Markov model.
package hmmsim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/IsmailM/methimpute/hmmlib"
)

// Options controls the shape of a simulated sequence.
type Options struct {

	// Distances between consecutive positions are drawn uniformly from
	// [MinDist, MaxDist].
	MinDist float64
	MaxDist float64

	// Mean number of trials per position for the binomial family.  The
	// trial counts are Poisson distributed.
	Coverage float64
}

// DefaultOptions returns the options used by the command line tools.
func DefaultOptions() Options {
	return Options{
		MinDist:  1,
		MaxDist:  50,
		Coverage: 10,
	}
}

// Generator draws random sequences.  A Generator is not safe for
// concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New returns a Generator seeded with seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Sequence simulates ntime positions from par, returning the observations
// and the true state path.
func (g *Generator) Sequence(par *hmmlib.Params, ntime int, opt Options) (*hmmlib.Sequence, []int, error) {

	if err := par.Validate(); err != nil {
		return nil, nil, err
	}
	if ntime < 1 {
		return nil, nil, fmt.Errorf("%w: need at least one position, got %d", hmmlib.ErrValidation, ntime)
	}
	if opt.MinDist < 0 || opt.MaxDist < opt.MinDist {
		return nil, nil, fmt.Errorf("%w: invalid distance range [%v, %v]",
			hmmlib.ErrValidation, opt.MinDist, opt.MaxDist)
	}

	dist := g.Distances(ntime-1, opt.MinDist, opt.MaxDist)
	states := g.States(par, dist)
	counts, err := g.Obs(par, states, opt.Coverage)
	if err != nil {
		return nil, nil, err
	}

	return &hmmlib.Sequence{Counts: counts, Distances: dist}, states, nil
}

// Distances returns n distances drawn uniformly from [lo, hi].
func (g *Generator) Distances(n int, lo, hi float64) []float64 {

	d := make([]float64, n)
	for t := range d {
		d[t] = lo + (hi-lo)*g.rng.Float64()
	}

	return d
}

// States generates a random state sequence with len(dist)+1 positions,
// using the step transition matrix for each distance.
func (g *Generator) States(par *hmmlib.Params, dist []float64) []int {

	state := make([]int, len(dist)+1)
	state[0] = g.genDiscrete(par.Start)

	for t := 1; t < len(state); t++ {
		step := hmmlib.StepMatrix(par.Trans, par.TransDist, dist[t-1])
		state[t] = g.genDiscrete(step[state[t-1]])
	}

	return state
}

// Obs generates the count channels for the given state path.  coverage
// is only used by the binomial family.
func (g *Generator) Obs(par *hmmlib.Params, state []int, coverage float64) ([][]int, error) {

	ntime := len(state)
	switch par.Family {
	case hmmlib.Binomial:
		if !(coverage > 0) {
			return nil, fmt.Errorf("%w: binomial simulation needs a positive coverage, got %v",
				hmmlib.ErrValidation, coverage)
		}
		k := make([]int, ntime)
		n := make([]int, ntime)
		for t, st := range state {
			n[t] = g.genPoisson(coverage)
			k[t] = g.genBinomial(n[t], par.Emission[st].Prob)
		}
		return [][]int{k, n}, nil
	}

	x := make([]int, ntime)
	for t, st := range state {
		ep := par.Emission[st]
		switch par.Family {
		case hmmlib.Poisson:
			x[t] = g.genPoisson(ep.Mean)
		case hmmlib.NegativeBinomial:
			x[t] = g.genNegBinom(ep.Mean, ep.Dispersion)
		case hmmlib.ZeroInflatedPoisson:
			if g.rng.Float64() < ep.ZeroProb {
				x[t] = 0
			} else {
				x[t] = g.genPoisson(ep.Mean)
			}
		default:
			return nil, fmt.Errorf("%w: cannot simulate family %v", hmmlib.ErrValidation, par.Family)
		}
	}

	return [][]int{x}, nil
}

// Generate a discrete random variable from the given probability vector,
// which must sum to 1.
func (g *Generator) genDiscrete(pr []float64) int {

	u := g.rng.Float64()
	p := 0.0
	for j := range pr {
		p += pr[j]
		if u < p {
			return j
		}
	}

	// Rounding in the cumulative sum
	return len(pr) - 1
}

// genPoisson uses the multiplication method, splitting large means so
// that exp(-lambda) does not underflow.
func (g *Generator) genPoisson(lambda float64) int {

	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		h := lambda / 2
		return g.genPoisson(h) + g.genPoisson(h)
	}

	L := math.Exp(-lambda)
	k := 0
	p := 1.0

	for p > L {
		k++
		p *= g.rng.Float64()
	}

	return k - 1
}

// Generate a Gamma random variable with mean alp*bet and variance alp*bet^2.
// Based on gsl_ran_gamma
// https://raw.githubusercontent.com/ampl/gsl/master/randist/gamma.c
func (g *Generator) genGamma(alp, bet float64) float64 {

	if alp < 1 {
		u := g.rng.Float64()
		return g.genGamma(1+alp, bet) * math.Pow(u, 1/alp)
	}
	d := alp - 1.0/3.0
	c := (1.0 / 3.0) / math.Sqrt(d)

	var v, x float64
	for {
		for {
			x = g.rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}

		v = v * v * v
		u := g.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			break
		}

		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			break
		}
	}

	return bet * d * v
}

// genNegBinom draws from the negative binomial distribution with mean m
// and size r, as a Poisson with a Gamma distributed mean.
func (g *Generator) genNegBinom(m, r float64) int {
	lam := g.genGamma(r, m/r)
	return g.genPoisson(lam)
}

func (g *Generator) genBinomial(n int, p float64) int {
	var k int
	for i := 0; i < n; i++ {
		if g.rng.Float64() < p {
			k++
		}
	}
	return k
}
