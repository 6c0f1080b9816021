// Package metrics exports Prometheus metrics for model fits.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IsmailM/methimpute/hmmlib"
)

// Recorder collects metrics for the runs of one process.  Each Recorder
// has its own registry.
type Recorder struct {
	reg *prometheus.Registry

	iterations    prometheus.Counter
	loglik        prometheus.Gauge
	delta         prometheus.Gauge
	iterDuration  prometheus.Histogram
	runDuration   *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	warnings      prometheus.Counter
	lastConverged prometheus.Gauge

	mut      sync.Mutex
	lastIter time.Duration
}

// New returns a Recorder with all collectors registered.
func New() *Recorder {

	r := &Recorder{
		reg: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "methhmm_em_iterations_total",
			Help: "Number of completed Baum-Welch iterations",
		}),
		loglik: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "methhmm_loglik",
			Help: "Log-likelihood after the most recent iteration",
		}),
		delta: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "methhmm_loglik_delta",
			Help: "Change of the log-likelihood in the most recent iteration",
		}),
		iterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "methhmm_iteration_duration_seconds",
			Help:    "Wall-clock time of one Baum-Welch iteration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "methhmm_run_duration_seconds",
			Help:    "Wall-clock time of a complete run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"mode"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "methhmm_runs_total",
			Help: "Number of runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "methhmm_parameter_warnings_total",
			Help: "Number of distinct parameter adjustments reported by runs",
		}),
		lastConverged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "methhmm_last_run_converged",
			Help: "1 if the most recent run converged, 0 otherwise",
		}),
	}

	r.reg.MustRegister(r.iterations, r.loglik, r.delta, r.iterDuration,
		r.runDuration, r.runs, r.warnings, r.lastConverged)

	return r
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe records one iteration.  It has the signature of
// hmmlib.Config.Progress.
func (r *Recorder) Observe(st hmmlib.IterStat) {

	r.mut.Lock()
	if st.Iter == 0 {
		r.lastIter = 0
	}
	d := st.Elapsed - r.lastIter
	r.lastIter = st.Elapsed
	r.mut.Unlock()

	r.iterations.Inc()
	r.loglik.Set(st.LogLik)
	if st.Iter > 0 {
		r.delta.Set(st.Delta)
	}
	r.iterDuration.Observe(d.Seconds())
}

// Chain returns a progress function that calls Observe and then next,
// if next is not nil.
func (r *Recorder) Chain(next func(hmmlib.IterStat)) func(hmmlib.IterStat) {
	return func(st hmmlib.IterStat) {
		r.Observe(st)
		if next != nil {
			next(st)
		}
	}
}

// RunDone records a finished run.
func (r *Recorder) RunDone(mode hmmlib.Mode, res *hmmlib.Result) {

	r.runs.WithLabelValues(mode.String(), res.Outcome.String()).Inc()
	r.runDuration.WithLabelValues(mode.String()).Observe(res.Elapsed.Seconds())
	r.warnings.Add(float64(len(res.Warnings)))

	if res.Converged {
		r.lastConverged.Set(1)
	} else {
		r.lastConverged.Set(0)
	}
	if mode == hmmlib.Decode && len(res.LogLik) > 0 {
		r.loglik.Set(res.LogLik[0])
	}
}

// WriteTextfile writes the current metric values to fname in the text
// exposition format, for collection by the node exporter.
func (r *Recorder) WriteTextfile(fname string) error {
	return prometheus.WriteToTextfile(fname, r.reg)
}
