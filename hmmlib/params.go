package hmmlib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// Tolerance for probability vectors and transition rows to sum to 1.
	probTol = 1e-4

	// Entries of the transition matrices are never allowed below this value.
	transFloor = 1e-12
)

// Sequence is an ordered sequence of observations along a coordinate
// axis (e.g. cytosine positions on a chromosome).
type Sequence struct {

	// Counts[c][t] is the value of count channel c at position t.  The
	// number of channels depends on the emission family.
	Counts [][]int

	// Distances[t] is the distance from position t to position t+1.  The
	// last entry, if present, is ignored.
	Distances []float64
}

// Len returns the number of positions in the sequence.
func (seq *Sequence) Len() int {
	if seq == nil || len(seq.Counts) == 0 {
		return 0
	}
	return len(seq.Counts[0])
}

// validate checks the shape of the sequence against the given number
// of count channels.
func (seq *Sequence) validate(nchan int) error {

	if seq == nil || seq.Len() == 0 {
		return fmt.Errorf("%w: empty observation sequence", ErrValidation)
	}

	ntime := seq.Len()
	if len(seq.Counts) != nchan {
		return fmt.Errorf("%w: sequence has %d count channels, emission family needs %d",
			ErrValidation, len(seq.Counts), nchan)
	}
	for c, x := range seq.Counts {
		if len(x) != ntime {
			return fmt.Errorf("%w: count channel %d has length %d, expected %d",
				ErrValidation, c, len(x), ntime)
		}
		for t, v := range x {
			if v < 0 {
				return fmt.Errorf("%w: negative count %d in channel %d at position %d",
					ErrValidation, v, c, t)
			}
		}
	}

	nd := len(seq.Distances)
	if nd != ntime && nd != ntime-1 {
		return fmt.Errorf("%w: %d distances for %d positions", ErrValidation, nd, ntime)
	}
	for t := 0; t < ntime-1; t++ {
		d := seq.Distances[t]
		if math.IsNaN(d) || d < 0 {
			return fmt.Errorf("%w: invalid distance %v at position %d", ErrValidation, d, t)
		}
	}

	return nil
}

// EmissionParams holds the emission parameters of a single state.  Which
// fields are used depends on the emission family:
//
//	Poisson:             Mean
//	NegativeBinomial:    Mean, Dispersion (the size parameter)
//	Binomial:            Prob
//	ZeroInflatedPoisson: Mean, ZeroProb
type EmissionParams struct {
	Mean       float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Dispersion float64 `yaml:"dispersion,omitempty" json:"dispersion,omitempty"`
	Prob       float64 `yaml:"prob,omitempty" json:"prob,omitempty"`
	ZeroProb   float64 `yaml:"zero_prob,omitempty" json:"zero_prob,omitempty"`
}

// Params is a complete parameter set for a distance-dependent HMM.
type Params struct {

	// The initial state distribution
	Start []float64 `yaml:"start"`

	// The baseline transition matrix, Trans[i][j] = P(j | i)
	Trans [][]float64 `yaml:"transition"`

	// Transition probabilities relax from the identity to Trans with
	// decay constant TransDist (in units of the distances).
	TransDist float64 `yaml:"trans_dist"`

	// The emission distribution family
	Family Family `yaml:"family"`

	// Emission parameters, one row per state
	Emission []EmissionParams `yaml:"emission"`
}

// NState returns the number of hidden states.
func (par *Params) NState() int {
	return len(par.Start)
}

// Clone returns a deep copy of the parameters.
func (par *Params) Clone() *Params {

	if par == nil {
		return nil
	}

	cp := &Params{
		Start:     append([]float64(nil), par.Start...),
		TransDist: par.TransDist,
		Family:    par.Family,
		Emission:  append([]EmissionParams(nil), par.Emission...),
	}
	if par.Trans != nil {
		cp.Trans = make([][]float64, len(par.Trans))
		for i, row := range par.Trans {
			cp.Trans[i] = append([]float64(nil), row...)
		}
	}

	return cp
}

// Validate checks the parameters for internal consistency.  It does not
// look at any observations.
func (par *Params) Validate() error {

	if par == nil {
		return fmt.Errorf("%w: no parameters", ErrValidation)
	}

	nstate := len(par.Start)
	if nstate == 0 {
		return fmt.Errorf("%w: empty start probability vector", ErrValidation)
	}
	if err := checkProbVector("start probabilities", par.Start); err != nil {
		return err
	}

	if len(par.Trans) != nstate {
		return fmt.Errorf("%w: transition matrix has %d rows, expected %d",
			ErrValidation, len(par.Trans), nstate)
	}
	for i, row := range par.Trans {
		if len(row) != nstate {
			return fmt.Errorf("%w: transition row %d has %d entries, expected %d",
				ErrValidation, i, len(row), nstate)
		}
		if err := checkProbVector(fmt.Sprintf("transition row %d", i), row); err != nil {
			return err
		}
	}

	if !(par.TransDist > 0) || math.IsInf(par.TransDist, 0) {
		return fmt.Errorf("%w: transition distance constant must be positive and finite, got %v",
			ErrValidation, par.TransDist)
	}

	if len(par.Emission) != nstate {
		return fmt.Errorf("%w: emission table has %d rows, expected %d",
			ErrValidation, len(par.Emission), nstate)
	}
	em, err := par.Family.Emitter()
	if err != nil {
		return err
	}
	for st, ep := range par.Emission {
		if err := em.Check(ep); err != nil {
			return fmt.Errorf("%w: state %d: %v", ErrValidation, st, err)
		}
	}

	return nil
}

// ValidateFor checks the parameters and that seq can be modeled with them.
func (par *Params) ValidateFor(seq *Sequence) error {

	if err := par.Validate(); err != nil {
		return err
	}

	em, _ := par.Family.Emitter()
	if err := seq.validate(em.Channels()); err != nil {
		return err
	}

	if par.Family == Binomial {
		k, n := seq.Counts[0], seq.Counts[1]
		for t := range k {
			if k[t] > n[t] {
				return fmt.Errorf("%w: %d successes out of %d trials at position %d",
					ErrValidation, k[t], n[t], t)
			}
		}
	}

	return nil
}

// normalize rescales the start vector and the transition rows to sum
// exactly to 1.  Validate must have succeeded.
func (par *Params) normalize() {
	normalizeSum(par.Start, 1/float64(len(par.Start)))
	for _, row := range par.Trans {
		normalizeSum(row, 1/float64(len(row)))
	}
}

func checkProbVector(name string, x []float64) error {

	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s has invalid entry %v at index %d", ErrValidation, name, v, j)
		}
	}

	if s := floats.Sum(x); math.Abs(s-1) > probTol {
		return fmt.Errorf("%w: %s sums to %v, not 1", ErrValidation, name, s)
	}

	return nil
}

// MarginalMoments returns the mean and variance of each count channel,
// ignoring the state structure.
func MarginalMoments(seq *Sequence) ([]float64, []float64) {

	mean := make([]float64, len(seq.Counts))
	vr := make([]float64, len(seq.Counts))

	for c, x := range seq.Counts {
		if len(x) == 0 {
			continue
		}
		for _, v := range x {
			mean[c] += float64(v)
		}
		mean[c] /= float64(len(x))
		for _, v := range x {
			d := float64(v) - mean[c]
			vr[c] += d * d
		}
		vr[c] /= float64(len(x))
	}

	return mean, vr
}

// DefaultParams returns starting values for Baum-Welch with nstate states,
// spreading the emission parameters around the marginal moments of seq.
// The states are ordered by increasing mean (or success probability).
func DefaultParams(seq *Sequence, family Family, nstate int, transDist float64) (*Params, error) {

	if nstate < 1 {
		return nil, fmt.Errorf("%w: need at least one state, got %d", ErrValidation, nstate)
	}
	em, err := family.Emitter()
	if err != nil {
		return nil, err
	}
	if err := seq.validate(em.Channels()); err != nil {
		return nil, err
	}

	par := &Params{
		Start:     make([]float64, nstate),
		Trans:     makeFloatArray(nstate, nstate),
		TransDist: transDist,
		Family:    family,
		Emission:  make([]EmissionParams, nstate),
	}

	for i := 0; i < nstate; i++ {
		par.Start[i] = 1 / float64(nstate)
		for j := 0; j < nstate; j++ {
			switch {
			case nstate == 1:
				par.Trans[i][j] = 1
			case i == j:
				par.Trans[i][j] = 0.9
			default:
				par.Trans[i][j] = 0.1 / float64(nstate-1)
			}
		}
	}

	mean, vr := MarginalMoments(seq)
	m := math.Max(mean[0], minPoissonMean)

	var pbar float64
	if family == Binomial {
		var ks, ns float64
		for t := range seq.Counts[0] {
			ks += float64(seq.Counts[0][t])
			ns += float64(seq.Counts[1][t])
		}
		pbar = 0.5
		if ns > 0 {
			pbar = ks / ns
		}
	}

	for st := 0; st < nstate; st++ {

		// Position of the state in (0, 2), centered at 1
		f := 2 * float64(st+1) / float64(nstate+1)

		ep := &par.Emission[st]
		switch family {
		case Poisson:
			ep.Mean = math.Max(m*f, minPoissonMean)
		case NegativeBinomial:
			ep.Mean = math.Max(m*f, minPoissonMean)
			ep.Dispersion = maxDispersion
			if vr[0] > mean[0] {
				ep.Dispersion = clamp(m*m/(vr[0]-m), minDispersion, maxDispersion)
			}
		case Binomial:
			ep.Prob = clamp(float64(st+1)/float64(nstate+1), minProb, 1-minProb)
			if nstate == 1 {
				ep.Prob = clamp(pbar, minProb, 1-minProb)
			}
		case ZeroInflatedPoisson:
			ep.Mean = math.Max(m*f, minPoissonMean)
			ep.ZeroProb = 0.1
		}
	}

	return par, nil
}

func clamp(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}
