package hmmlib

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// The Poisson/negative binomial means are never allowed to go below this value
	minPoissonMean = 1e-2

	// Bounds for the negative binomial size parameter
	minDispersion = 1e-3
	maxDispersion = 1e6

	// Success probabilities are kept in [minProb, 1-minProb]
	minProb = 1e-6

	// Maximum allowed value for ZeroProb
	zpmax = 0.95

	// Starting zero probability of the inner EM when ZeroProb is zero
	zipSeed = 1e-3

	// Total posterior weight below which a state is treated as empty
	minWeight = 1e-10
)

// Family identifies an emission distribution.
type Family uint8

// Poisson, etc. are the available emission families.
const (
	Poisson Family = iota
	NegativeBinomial
	Binomial
	ZeroInflatedPoisson
)

var familyNames = map[Family]string{
	Poisson:             "poisson",
	NegativeBinomial:    "negbinom",
	Binomial:            "binomial",
	ZeroInflatedPoisson: "zipoisson",
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// ParseFamily converts a family name to a Family.
func ParseFamily(s string) (Family, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range familyNames {
		if s == name {
			return f, nil
		}
	}
	switch s {
	case "negativebinomial", "nbinom":
		return NegativeBinomial, nil
	case "zip", "zeroinflatedpoisson":
		return ZeroInflatedPoisson, nil
	}
	return 0, fmt.Errorf("%w: unknown emission family %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if _, ok := familyNames[f]; !ok {
		return nil, fmt.Errorf("%w: unknown emission family %d", ErrValidation, uint8(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(b []byte) error {
	v, err := ParseFamily(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Emitter computes likelihoods and re-estimates the parameters for one
// emission family.
type Emitter interface {

	// Channels returns the number of count channels an observation has.
	Channels() int

	// LogProb returns the log-likelihood of the observation at position t
	// under a state with parameters ep.  The value is finite for every
	// valid observation and valid ep.
	LogProb(seq *Sequence, t int, ep EmissionParams) float64

	// Update re-estimates ep from the observations, weighting position t by
	// w(t).  A non-empty return value describes an adjustment made to keep
	// ep inside its valid domain.
	Update(seq *Sequence, w func(int) float64, ep *EmissionParams) string

	// Check returns an error if ep is outside the valid domain.
	Check(ep EmissionParams) error
}

// Emitter returns the Emitter implementing family f.
func (f Family) Emitter() (Emitter, error) {
	switch f {
	case Poisson:
		return poissonEmitter{}, nil
	case NegativeBinomial:
		return negBinomEmitter{}, nil
	case Binomial:
		return binomEmitter{}, nil
	case ZeroInflatedPoisson:
		return zipEmitter{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown emission family %d", ErrValidation, uint8(f))
	}
}

// The Check methods accept exactly the values LogProb uses unchanged.

func checkMean(m float64) error {
	if !(m >= minPoissonMean) || math.IsInf(m, 0) {
		return fmt.Errorf("mean must be finite and at least %g, got %v", minPoissonMean, m)
	}
	return nil
}

// weightedMoments returns the total weight, the weighted mean and the
// weighted variance of channel x.
func weightedMoments(x []int, w func(int) float64) (float64, float64, float64) {

	var sw, sx float64
	for t, v := range x {
		wt := w(t)
		sw += wt
		sx += wt * float64(v)
	}
	if sw < minWeight {
		return sw, 0, 0
	}
	mn := sx / sw

	var sv float64
	for t, v := range x {
		d := float64(v) - mn
		sv += w(t) * d * d
	}

	return sw, mn, sv / sw
}

type poissonEmitter struct{}

func (poissonEmitter) Channels() int { return 1 }

func (poissonEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {
	mn := math.Max(ep.Mean, minPoissonMean)
	return distuv.Poisson{Lambda: mn}.LogProb(float64(seq.Counts[0][t]))
}

func (poissonEmitter) Update(seq *Sequence, w func(int) float64, ep *EmissionParams) string {

	sw, mn, _ := weightedMoments(seq.Counts[0], w)
	if sw < minWeight {
		return "poisson mean not updated (state has no posterior weight)"
	}
	if mn < minPoissonMean {
		ep.Mean = minPoissonMean
		return fmt.Sprintf("poisson mean clamped to %g", minPoissonMean)
	}
	ep.Mean = mn
	return ""
}

func (poissonEmitter) Check(ep EmissionParams) error {
	return checkMean(ep.Mean)
}

type negBinomEmitter struct{}

func (negBinomEmitter) Channels() int { return 1 }

// LogProb uses the mean/size parameterization: variance = m + m^2/r.
func (negBinomEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {

	x := float64(seq.Counts[0][t])
	m := math.Max(ep.Mean, minPoissonMean)
	r := clamp(ep.Dispersion, minDispersion, maxDispersion)

	a, _ := math.Lgamma(x + r)
	b, _ := math.Lgamma(r)
	c, _ := math.Lgamma(x + 1)

	lpr := a - b - c - r*math.Log1p(m/r)
	if x > 0 {
		lpr -= x * math.Log1p(r/m)
	}

	return lpr
}

func (negBinomEmitter) Update(seq *Sequence, w func(int) float64, ep *EmissionParams) string {

	sw, mn, vr := weightedMoments(seq.Counts[0], w)
	if sw < minWeight {
		return "negative binomial parameters not updated (state has no posterior weight)"
	}

	var msg []string
	if mn < minPoissonMean {
		mn = minPoissonMean
		msg = append(msg, fmt.Sprintf("mean clamped to %g", minPoissonMean))
	}
	ep.Mean = mn

	// Method of moments for the size parameter
	r := maxDispersion
	if vr > mn {
		r = mn * mn / (vr - mn)
	}
	switch {
	case r >= maxDispersion:
		msg = append(msg, fmt.Sprintf("dispersion clamped to %g (variance <= mean)", maxDispersion))
		r = maxDispersion
	case r < minDispersion:
		msg = append(msg, fmt.Sprintf("dispersion clamped to %g", minDispersion))
		r = minDispersion
	}
	ep.Dispersion = r

	if len(msg) == 0 {
		return ""
	}
	return "negative binomial " + strings.Join(msg, ", ")
}

func (negBinomEmitter) Check(ep EmissionParams) error {
	if err := checkMean(ep.Mean); err != nil {
		return err
	}
	if !(ep.Dispersion >= minDispersion && ep.Dispersion <= maxDispersion) {
		return fmt.Errorf("dispersion must be in [%g, %g], got %v", minDispersion, maxDispersion, ep.Dispersion)
	}
	return nil
}

// binomEmitter models channel 0 as the number of successes out of
// channel 1 trials.  Positions without trials carry no information.
type binomEmitter struct{}

func (binomEmitter) Channels() int { return 2 }

func (binomEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {

	n := seq.Counts[1][t]
	if n == 0 {
		return 0
	}
	p := clamp(ep.Prob, minProb, 1-minProb)

	return distuv.Binomial{N: float64(n), P: p}.LogProb(float64(seq.Counts[0][t]))
}

func (binomEmitter) Update(seq *Sequence, w func(int) float64, ep *EmissionParams) string {

	k, n := seq.Counts[0], seq.Counts[1]
	var sk, sn float64
	for t := range k {
		wt := w(t)
		sk += wt * float64(k[t])
		sn += wt * float64(n[t])
	}
	if sn < minWeight {
		return "binomial probability not updated (state has no posterior weight)"
	}

	p := sk / sn
	ep.Prob = clamp(p, minProb, 1-minProb)
	if ep.Prob != p {
		return fmt.Sprintf("binomial probability clamped to %g", ep.Prob)
	}
	return ""
}

func (binomEmitter) Check(ep EmissionParams) error {
	if !(ep.Prob >= minProb && ep.Prob <= 1-minProb) {
		return fmt.Errorf("probability must be in [%g, %g], got %v", minProb, 1-minProb, ep.Prob)
	}
	return nil
}

// zipEmitter is a two-component mixture of a point mass at zero
// (weight ZeroProb) and a Poisson distribution.
type zipEmitter struct{}

func (zipEmitter) Channels() int { return 1 }

func (zipEmitter) LogProb(seq *Sequence, t int, ep EmissionParams) float64 {

	x := seq.Counts[0][t]
	m := math.Max(ep.Mean, minPoissonMean)
	z := clamp(ep.ZeroProb, 0, zpmax)

	if x == 0 {
		return math.Log(z + (1-z)*math.Exp(-m))
	}
	return math.Log1p(-z) + distuv.Poisson{Lambda: m}.LogProb(float64(x))
}

// Update runs a short inner EM over the latent zero-component indicator.
func (zipEmitter) Update(seq *Sequence, w func(int) float64, ep *EmissionParams) string {

	x := seq.Counts[0]
	var sw, sz, sx float64
	for t, v := range x {
		wt := w(t)
		sw += wt
		sx += wt * float64(v)
		if v == 0 {
			sz += wt
		}
	}
	if sw < minWeight {
		return "zero-inflated poisson parameters not updated (state has no posterior weight)"
	}

	m := math.Max(ep.Mean, minPoissonMean)
	z := clamp(ep.ZeroProb, 0, zpmax)

	// z = 0 is a fixed point of the iteration, so restart from a small
	// positive value when there are zeros to explain.
	if z == 0 && sz > 0 {
		z = zipSeed
	}
	for iter := 0; iter < 100; iter++ {
		// Responsibility of the point mass for an observed zero
		tau := 0.0
		if z > 0 {
			tau = z / (z + (1-z)*math.Exp(-m))
		}
		zn := tau * sz / sw
		mn := m
		if den := sw - tau*sz; den > minWeight {
			mn = sx / den
		}
		mn = math.Max(mn, minPoissonMean)
		zn = clamp(zn, 0, zpmax)
		done := math.Abs(zn-z) < 1e-12 && math.Abs(mn-m) < 1e-12*(1+m)
		z, m = zn, mn
		if done {
			break
		}
	}

	ep.Mean, ep.ZeroProb = m, z
	if z == zpmax {
		return fmt.Sprintf("zero-inflated poisson zero probability clamped to %g", zpmax)
	}
	return ""
}

func (zipEmitter) Check(ep EmissionParams) error {
	if err := checkMean(ep.Mean); err != nil {
		return err
	}
	if !(ep.ZeroProb >= 0 && ep.ZeroProb <= zpmax) {
		return fmt.Errorf("zero probability must be in [0, %g], got %v", zpmax, ep.ZeroProb)
	}
	return nil
}
