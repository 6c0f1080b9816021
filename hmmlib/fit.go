package hmmlib

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// train runs Baum-Welch until convergence, a limit, cancellation or
// failure, and fills res.
func (e *engine) train(ctx context.Context, res *Result, start time.Time) {

	// The last parameters that passed an E-step
	var good *Params

	// Whether the tables correspond to e.par
	fresh := false

	converged := false
	for iter := 0; ; iter++ {

		if ctx.Err() != nil {
			res.cancel(ctx, e.par)
			return
		}
		if e.cfg.MaxIter >= 0 && iter >= e.cfg.MaxIter {
			res.Outcome = OutcomeIterationLimit
			break
		}
		if e.cfg.MaxTime > 0 && time.Since(start) >= e.cfg.MaxTime {
			res.Outcome = OutcomeTimeLimit
			break
		}

		llf, err := e.estep()
		if err != nil {
			if good == nil {
				good = e.par
			}
			res.fail(fmt.Errorf("iteration %d: %w", iter, err), good)
			return
		}
		fresh = true
		res.LogLik = append(res.LogLik, llf)
		res.Iterations = len(res.LogLik)

		delta := math.NaN()
		if iter > 0 {
			delta = llf - res.LogLik[iter-1]
		}
		e.logf(1, "iteration", "iter", iter, "loglik", llf, "delta", delta)
		if e.cfg.Progress != nil {
			e.cfg.Progress(IterStat{Iter: iter, LogLik: llf, Delta: delta, Elapsed: time.Since(start)})
		}

		if iter > 0 {
			if delta < 0 {
				e.logf(2, "log-likelihood decreased", "iter", iter, "delta", delta)
			}
			if delta < e.cfg.Eps {
				converged = true
				res.Outcome = OutcomeConverged
				break
			}
		}

		good = e.par.Clone()
		if err := e.mstep(); err != nil {
			res.fail(fmt.Errorf("iteration %d: %w", iter, err), good)
			return
		}
		fresh = false
	}

	res.Converged = converged
	if res.Iterations > 0 {
		res.Params = e.par.Clone()
	}

	if e.cfg.Outputs == 0 {
		return
	}
	if !fresh {
		if _, err := e.estep(); err != nil {
			res.fail(fmt.Errorf("final pass: %w", err), good)
			return
		}
	}
	if err := e.outputs(res, e.cfg.Outputs); err != nil {
		res.fail(err, good)
	}
}

// mstep re-estimates all parameters from the tables of the last E-step.
func (e *engine) mstep() error {

	start := time.Now()

	e.updateStart()
	if err := e.updateTrans(); err != nil {
		return err
	}
	if err := e.updateEmission(); err != nil {
		return err
	}

	e.logf(2, "parameter update done", "elapsed", time.Since(start))

	return nil
}

// updateStart sets the start distribution to the posterior at the first
// position.
func (e *engine) updateStart() {
	for st := range e.par.Start {
		e.par.Start[st] = e.posterior(0, st)
	}
	normalizeSum(e.par.Start, 1/float64(e.nstate))
}

// updateTrans re-estimates the baseline transition matrix.  The step
// matrix is a mixture of the identity and the baseline matrix, so each
// expected transition count is weighted by the probability that the step
// went through the baseline component.  Partial sums are accumulated per
// block of positions and reduced in block order.
func (e *engine) updateTrans() error {

	nsteps := e.ntime - 1
	if nsteps == 0 {
		return nil
	}

	ns := e.nstate
	kk := ns * ns
	a := flatten(e.par.Trans)
	nb := numBlocks(nsteps)
	part := make([]float64, nb*kk)

	err := e.pool.blocks(nsteps, func(b, lo, hi int) {
		acc := part[b*kk : (b+1)*kk]
		lby := make([]float64, ns)
		for t := lo; t < hi; t++ {
			v := 1 - e.wt[t]
			if v == 0 {
				continue
			}

			lk := e.like[(t+1)*ns : (t+2)*ns]
			next := e.bprob[(t+1)*ns : (t+2)*ns]
			c := e.scale[t+1]
			for st := 0; st < ns; st++ {
				lby[st] = lk[st] * next[st] / c
			}

			// From st1 at t to st2 at t+1
			fp := e.fprob[t*ns : (t+1)*ns]
			for st1 := 0; st1 < ns; st1++ {
				f := fp[st1] * v
				if f == 0 {
					continue
				}
				for st2 := 0; st2 < ns; st2++ {
					acc[st1*ns+st2] += f * a[st1*ns+st2] * lby[st2]
				}
			}
		}
	})
	if err != nil {
		return err
	}

	newtrans := make([]float64, kk)
	for b := 0; b < nb; b++ {
		floats.Add(newtrans, part[b*kk:(b+1)*kk])
	}

	for st1 := 0; st1 < ns; st1++ {
		row := newtrans[st1*ns : (st1+1)*ns]
		s := floats.Sum(row)
		if !(s > 0) || math.IsInf(s, 0) {
			e.warn(fmt.Sprintf("transition row %d not updated (no expected transitions)", st1))
			continue
		}
		for st2 := range row {
			row[st2] = math.Max(row[st2]/s, transFloor)
		}
		normalizeSum(row, 1/float64(ns))
		copy(e.par.Trans[st1], row)
	}

	return nil
}

// updateEmission re-estimates the emission parameters of each state,
// weighting every position by its posterior state probability.  States
// are handled in parallel.
func (e *engine) updateEmission() error {

	msgs := make([]string, e.nstate)
	err := e.pool.each(e.nstate, func(st int) {
		ep := e.par.Emission[st]
		msgs[st] = e.em.Update(e.seq, func(t int) float64 { return e.posterior(t, st) }, &ep)
		e.par.Emission[st] = ep
	})
	if err != nil {
		return err
	}

	for st, msg := range msgs {
		if msg != "" {
			e.warn(fmt.Sprintf("state %d: %s", st, msg))
		}
	}

	return nil
}
