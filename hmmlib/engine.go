package hmmlib

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// engine holds the working tables of one Run.  All tables are stored
// row-major in flat slices and are released when Run returns.
type engine struct {

	// Number of positions
	ntime int

	// Number of states
	nstate int

	seq *Sequence
	par *Params
	em  Emitter

	cfg  Config
	pool *workPool

	// Emission likelihoods, ntime x nstate, each row divided by its
	// largest element.
	like []float64

	// The log of the divisor removed from each row of like
	lshift []float64

	// Step transition matrices, (ntime-1) x nstate x nstate.  The matrix
	// for step t governs the move from position t to t+1.
	trans []float64

	// Identity weight of each step matrix
	wt []float64

	// Scaled forward and backward probabilities, ntime x nstate
	fprob []float64
	bprob []float64

	// Forward scaling factors
	scale []float64

	// Log-likelihood of the last E-step
	llf float64

	warnings []string
	seen     map[string]bool
}

// newEngine allocates the tables for seq and par.  The parameters are
// copied, so the engine never modifies the caller's values.
func newEngine(seq *Sequence, par *Params, cfg Config) (*engine, error) {

	ntime := seq.Len()
	nstate := par.NState()

	nsteps := ntime - 1
	kk := nstate * nstate
	if nsteps > math.MaxInt/kk {
		return nil, fmt.Errorf("%w: %d positions with %d states exceed the table size limit",
			ErrValidation, ntime, nstate)
	}

	em, err := par.Family.Emitter()
	if err != nil {
		return nil, err
	}

	e := &engine{
		ntime:  ntime,
		nstate: nstate,
		seq:    seq,
		par:    par.Clone(),
		em:     em,
		cfg:    cfg,
		pool:   newWorkPool(cfg.NumThreads),
		like:   make([]float64, ntime*nstate),
		lshift: make([]float64, ntime),
		trans:  make([]float64, nsteps*kk),
		wt:     make([]float64, nsteps),
		fprob:  make([]float64, ntime*nstate),
		bprob:  make([]float64, ntime*nstate),
		scale:  make([]float64, ntime),
		seen:   make(map[string]bool),
	}
	e.par.normalize()

	return e, nil
}

// logf logs msg if the configured verbosity is at least level.
func (e *engine) logf(level int, msg string, kv ...any) {
	if e.cfg.Verbosity >= level {
		e.cfg.Logger.Info(msg, kv...)
	}
}

// warn records a diagnostic once, keeping the order of first occurrence.
func (e *engine) warn(msg string) {
	if msg == "" || e.seen[msg] {
		return
	}
	e.seen[msg] = true
	e.warnings = append(e.warnings, msg)
	e.logf(2, "warning", "msg", msg)
}

// computeLikelihoods fills like and lshift from the current emission
// parameters.
func (e *engine) computeLikelihoods() error {

	nb := numBlocks(e.ntime)
	errs := make([]error, nb)

	perr := e.pool.blocks(e.ntime, func(b, lo, hi int) {
		for t := lo; t < hi; t++ {
			row := e.like[t*e.nstate : (t+1)*e.nstate]
			for st := range row {
				row[st] = e.em.LogProb(e.seq, t, e.par.Emission[st])
			}

			mx := floats.Max(row)
			if math.IsNaN(mx) || math.IsInf(mx, 1) || floats.HasNaN(row) {
				errs[b] = fmt.Errorf("%w: non-finite emission likelihood at position %d", ErrNumerical, t)
				return
			}
			if math.IsInf(mx, -1) {
				errs[b] = fmt.Errorf("%w: zero emission likelihood in every state at position %d", ErrNumerical, t)
				return
			}

			e.lshift[t] = mx
			for st := range row {
				row[st] = math.Exp(row[st] - mx)
			}
		}
	})
	if perr != nil {
		return perr
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// computeSteps fills the step transition matrices from the current
// baseline matrix.
func (e *engine) computeSteps() error {

	nsteps := e.ntime - 1
	kk := e.nstate * e.nstate
	a := flatten(e.par.Trans)
	dist := e.seq.Distances
	td := e.par.TransDist

	return e.pool.blocks(nsteps, func(_, lo, hi int) {
		for t := lo; t < hi; t++ {
			e.wt[t] = stayWeight(dist[t], td)
			stepInto(e.trans[t*kk:(t+1)*kk], a, e.nstate, e.wt[t])
		}
	})
}

// forward runs the scaled forward recursion and sets llf.
func (e *engine) forward() error {

	ns := e.nstate
	kk := ns * ns

	f0 := e.fprob[0:ns]
	for st := 0; st < ns; st++ {
		f0[st] = e.par.Start[st] * e.like[st]
	}
	if err := e.rescale(0, f0); err != nil {
		return err
	}

	for t := 1; t < e.ntime; t++ {
		prev := e.fprob[(t-1)*ns : t*ns]
		cur := e.fprob[t*ns : (t+1)*ns]
		tr := e.trans[(t-1)*kk : t*kk]
		lk := e.like[t*ns : (t+1)*ns]

		// Transition is from state st2 at t-1 to state st1 at t
		for st1 := 0; st1 < ns; st1++ {
			var s float64
			for st2 := 0; st2 < ns; st2++ {
				s += prev[st2] * tr[st2*ns+st1]
			}
			cur[st1] = lk[st1] * s
		}
		if err := e.rescale(t, cur); err != nil {
			return err
		}
	}

	var llf float64
	for t := 0; t < e.ntime; t++ {
		llf += math.Log(e.scale[t]) + e.lshift[t]
	}
	if math.IsNaN(llf) || math.IsInf(llf, 0) {
		return fmt.Errorf("%w: non-finite log-likelihood", ErrNumerical)
	}
	e.llf = llf

	return nil
}

// rescale divides the forward row at t by its sum and stores the sum as
// the scaling factor.
func (e *engine) rescale(t int, row []float64) error {

	c := floats.Sum(row)
	if !(c > 0) || math.IsInf(c, 0) {
		return fmt.Errorf("%w: scaling factor %v at position %d", ErrNumerical, c, t)
	}
	e.scale[t] = c
	floats.Scale(1/c, row)

	return nil
}

// backward runs the backward recursion, using the scaling factors of the
// forward pass so that fprob*bprob are the posterior probabilities.
func (e *engine) backward() {

	ns := e.nstate
	kk := ns * ns

	last := e.bprob[(e.ntime-1)*ns:]
	for st := range last {
		last[st] = 1
	}

	// lby holds like*bprob at t+1
	lby := make([]float64, ns)
	for t := e.ntime - 2; t >= 0; t-- {
		cur := e.bprob[t*ns : (t+1)*ns]
		next := e.bprob[(t+1)*ns : (t+2)*ns]
		lk := e.like[(t+1)*ns : (t+2)*ns]
		tr := e.trans[t*kk : (t+1)*kk]
		c := e.scale[t+1]

		for st := 0; st < ns; st++ {
			lby[st] = lk[st] * next[st]
		}

		// From st1 at t to st2 at t+1
		for st1 := 0; st1 < ns; st1++ {
			var s float64
			for st2 := 0; st2 < ns; st2++ {
				s += tr[st1*ns+st2] * lby[st2]
			}
			cur[st1] = s / c
		}
	}
}

// estep runs a full forward-backward pass under the current parameters
// and returns the log-likelihood.
func (e *engine) estep() (float64, error) {

	start := time.Now()

	if err := e.computeLikelihoods(); err != nil {
		return 0, err
	}
	if err := e.computeSteps(); err != nil {
		return 0, err
	}
	tl := time.Since(start)

	if err := e.forward(); err != nil {
		return 0, err
	}
	e.backward()

	e.logf(2, "forward-backward done", "tables", tl, "total", time.Since(start))

	return e.llf, nil
}

// posterior returns the posterior probability of state st at position t.
func (e *engine) posterior(t, st int) float64 {
	j := t*e.nstate + st
	return e.fprob[j] * e.bprob[j]
}

// posteriors returns the ntime x nstate matrix of posterior state
// probabilities.  estep must have succeeded.
func (e *engine) posteriors() [][]float64 {

	pp := makeFloatArray(e.ntime, e.nstate)
	for t := range pp {
		for st := range pp[t] {
			pp[t][st] = e.posterior(t, st)
		}
		normalizeSum(pp[t], 1/float64(e.nstate))
	}

	return pp
}
