package hmmlib

import (
	"context"
	"fmt"
	"math"
)

// decode runs a single forward-backward pass under fixed parameters.
func (e *engine) decode(ctx context.Context, res *Result) {

	if ctx.Err() != nil {
		res.cancel(ctx, e.par)
		return
	}

	llf, err := e.estep()
	if err != nil {
		res.fail(err, nil)
		return
	}
	res.LogLik = []float64{llf}
	res.Outcome = OutcomeDecoded

	out := e.cfg.Outputs
	if out == 0 {
		out = OutputPosteriors
	}
	if err := e.outputs(res, out); err != nil {
		res.fail(err, nil)
	}
}

// outputs computes the requested per-position results from the tables
// of the last E-step.
func (e *engine) outputs(res *Result, out Output) error {

	if out&OutputPosteriors != 0 {
		res.Posteriors = e.posteriors()
	}

	if out&OutputViterbi != 0 {
		path, lp := e.viterbi()
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			return fmt.Errorf("%w: Viterbi path has log probability %v", ErrNumerical, lp)
		}
		res.Path = path
		res.ViterbiLogProb = lp
	}

	return nil
}

// viterbi returns the most likely state path and its log probability.
// Ties are resolved in favor of the lowest state index.
func (e *engine) viterbi() ([]int, float64) {

	ns := e.nstate
	kk := ns * ns

	lpr := make([]float64, ns)
	next := make([]float64, ns)
	lt := make([]float64, kk)

	// lpt[t*ns+st] is the best predecessor of state st at position t
	lpt := make([]int, e.ntime*ns)

	for st := 0; st < ns; st++ {
		lpr[st] = math.Log(e.par.Start[st]) + math.Log(e.like[st]) + e.lshift[0]
	}

	for t := 1; t < e.ntime; t++ {
		tr := e.trans[(t-1)*kk : t*kk]
		for j, v := range tr {
			lt[j] = math.Log(v)
		}
		lk := e.like[t*ns : (t+1)*ns]

		// Transition is from st2 at t-1 to st1 at t
		for st1 := 0; st1 < ns; st1++ {
			best := math.Inf(-1)
			arg := 0
			for st2 := 0; st2 < ns; st2++ {
				if v := lpr[st2] + lt[st2*ns+st1]; v > best {
					best = v
					arg = st2
				}
			}
			next[st1] = best + math.Log(lk[st1]) + e.lshift[t]
			lpt[t*ns+st1] = arg
		}
		lpr, next = next, lpr
	}

	path := make([]int, e.ntime)
	st := argmax(lpr)
	lp := lpr[st]
	path[e.ntime-1] = st
	for t := e.ntime - 1; t > 0; t-- {
		st = lpt[t*ns+st]
		path[t-1] = st
	}

	return path, lp
}

// PathLogProb returns the joint log probability of seq and the state
// path under par, computed directly from the emission and transition
// models.
func PathLogProb(seq *Sequence, par *Params, path []int) (float64, error) {

	if err := par.ValidateFor(seq); err != nil {
		return 0, err
	}
	ntime := seq.Len()
	if len(path) != ntime {
		return 0, fmt.Errorf("%w: path has length %d, sequence has %d positions",
			ErrValidation, len(path), ntime)
	}
	ns := par.NState()
	for t, st := range path {
		if st < 0 || st >= ns {
			return 0, fmt.Errorf("%w: invalid state %d at position %d", ErrValidation, st, t)
		}
	}

	p := par.Clone()
	p.normalize()
	em, _ := p.Family.Emitter()
	a := flatten(p.Trans)
	step := make([]float64, ns*ns)

	lp := math.Log(p.Start[path[0]]) + em.LogProb(seq, 0, p.Emission[path[0]])
	for t := 1; t < ntime; t++ {
		stepInto(step, a, ns, stayWeight(seq.Distances[t-1], p.TransDist))
		lp += math.Log(step[path[t-1]*ns+path[t]])
		lp += em.LogProb(seq, t, p.Emission[path[t]])
	}

	return lp, nil
}

// Likelihoods returns the ntime x nstate matrix of emission
// probabilities of seq under par.  Very unlikely observations may
// underflow to zero; the engine itself works with row-scaled values.
func Likelihoods(seq *Sequence, par *Params, nthread int) ([][]float64, error) {

	if err := par.ValidateFor(seq); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.NumThreads = nthread
	e, err := newEngine(seq, par, cfg.normalized())
	if err != nil {
		return nil, err
	}
	if err := e.computeLikelihoods(); err != nil {
		return nil, err
	}

	lk := makeFloatArray(e.ntime, e.nstate)
	for t := range lk {
		s := math.Exp(e.lshift[t])
		for st := range lk[t] {
			lk[t][st] = e.like[t*e.nstate+st] * s
		}
	}

	return lk, nil
}
