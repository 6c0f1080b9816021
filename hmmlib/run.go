package hmmlib

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Outcome describes how a Run ended.
type Outcome uint8

const (
	// OutcomeFailed means the run stopped on a validation or numerical
	// error.  Result.Err is set.
	OutcomeFailed Outcome = iota

	// OutcomeConverged means Baum-Welch met the convergence criterion.
	OutcomeConverged

	// OutcomeDecoded means a Decode run completed.
	OutcomeDecoded

	// OutcomeIterationLimit means Baum-Welch stopped at MaxIter.
	OutcomeIterationLimit

	// OutcomeTimeLimit means Baum-Welch stopped at MaxTime.
	OutcomeTimeLimit

	// OutcomeCancelled means the context ended the run.  The parameters
	// reached so far are returned.
	OutcomeCancelled
)

var outcomeNames = [...]string{
	OutcomeFailed:         "failed",
	OutcomeConverged:      "converged",
	OutcomeDecoded:        "decoded",
	OutcomeIterationLimit: "iteration limit",
	OutcomeTimeLimit:      "time limit",
	OutcomeCancelled:      "cancelled",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Result is the outcome of a Run.
type Result struct {

	// The final parameters.  After a failure these are the last
	// parameters that passed an E-step, or the initial parameters.
	Params *Params

	// LogLik[i] is the log-likelihood of the parameters at the start of
	// iteration i.  In Decode mode it has a single element.
	LogLik []float64

	Converged bool

	// The number of completed E-steps in Train mode, 0 in Decode mode.
	Iterations int

	// Posterior state probabilities, ntime x nstate, if requested
	Posteriors [][]float64

	// Most likely state path and its log probability, if requested
	Path           []int
	ViterbiLogProb float64

	Outcome Outcome

	// Err is nil on success and on the iteration and time limits.  It
	// wraps ErrCancelled after a cancellation.
	Err error

	// Parameter adjustments made during the M-steps, in order of first
	// occurrence
	Warnings []string

	Elapsed time.Duration
}

// Diagnostic returns the error text of the run, or the empty string on
// success.
func (res *Result) Diagnostic() string {
	if res.Err == nil {
		return ""
	}
	return res.Err.Error()
}

// FinalLogLik returns the last recorded log-likelihood, or NaN if there
// is none.
func (res *Result) FinalLogLik() float64 {
	if len(res.LogLik) == 0 {
		return nan()
	}
	return res.LogLik[len(res.LogLik)-1]
}

// Run fits (mode Train) or decodes (mode Decode) seq starting from par.
// It blocks until the run is complete, failed or cancelled, and never
// panics: every failure is reported through the returned Result.  The
// caller's par is not modified.  Independent calls may run concurrently.
func Run(ctx context.Context, seq *Sequence, par *Params, cfg Config, mode Mode) (res *Result) {

	start := time.Now()
	res = &Result{Outcome: OutcomeFailed}
	if par != nil {
		res.Params = par.Clone()
	}

	defer func() {
		if r := recover(); r != nil {
			cfg.Logger.Error(nil, "recovered panic", "panic", r, "stack", string(debug.Stack()))
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
		res.Elapsed = time.Since(start)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	if err := cfg.Validate(); err != nil {
		res.Err = err
		return res
	}
	if mode != Train && mode != Decode {
		res.Err = fmt.Errorf("%w: unknown mode %v", ErrValidation, mode)
		return res
	}
	if err := par.ValidateFor(seq); err != nil {
		res.Err = err
		return res
	}

	e, err := newEngine(seq, par, cfg)
	if err != nil {
		res.Err = err
		return res
	}

	e.logf(1, "starting", "mode", mode, "family", par.Family, "positions", e.ntime,
		"states", e.nstate, "threads", cfg.NumThreads)

	switch mode {
	case Train:
		e.train(ctx, res, start)
	case Decode:
		e.decode(ctx, res)
	}
	res.Warnings = e.warnings

	if res.Err != nil {
		e.logf(1, "stopped", "outcome", res.Outcome, "iterations", res.Iterations, "err", res.Err)
	} else {
		e.logf(1, "finished", "outcome", res.Outcome, "iterations", res.Iterations,
			"loglik", res.FinalLogLik(), "elapsed", time.Since(start))
	}

	return res
}

// fail records a fatal error, reporting fallback as the final parameters.
func (res *Result) fail(err error, fallback *Params) {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Converged = false
	res.Posteriors = nil
	res.Path = nil
	if fallback != nil {
		res.Params = fallback.Clone()
	}
}

// cancel records a cancellation caused by ctx.
func (res *Result) cancel(ctx context.Context, par *Params) {
	res.Outcome = OutcomeCancelled
	res.Err = fmt.Errorf("%w after %d iterations: %v", ErrCancelled, res.Iterations, context.Cause(ctx))
	res.Converged = false
	res.Params = par.Clone()
}
