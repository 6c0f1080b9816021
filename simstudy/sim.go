package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"

	"github.com/IsmailM/methimpute/hmmlib"
	"github.com/IsmailM/methimpute/hmmsim"
	"github.com/IsmailM/methimpute/internal/runconfig"
)

type model struct {
	family    hmmlib.Family
	nstate    int
	ntime     int
	transDist float64
	maxiter   int
	nthread   int
	opt       hmmsim.Options
}

var basemodel = model{
	family:    hmmlib.Binomial,
	nstate:    2,
	ntime:     5000,
	transDist: 50,
	maxiter:   100,
	nthread:   1,
	opt:       hmmsim.DefaultOptions(),
}

var header = []string{"Family", "NState", "Run", "Outcome", "Iterations",
	"LogLik", "TransErr", "EmisErr", "StateErr", "Total"}

// emisValue returns the parameter that separates the states.
func emisValue(fam hmmlib.Family, ep hmmlib.EmissionParams) float64 {
	if fam == hmmlib.Binomial {
		return ep.Prob
	}
	return ep.Mean
}

// paramErrors compares the fitted parameters to the truth.  It returns the
// largest absolute error in the baseline transition matrix and the
// largest relative error of the emission parameters.
func paramErrors(truth, fit *hmmlib.Params) (float64, float64) {

	var te, ee float64
	for i := range truth.Trans {
		te = math.Max(te, floats.Distance(truth.Trans[i], fit.Trans[i], math.Inf(1)))

		tv := emisValue(truth.Family, truth.Emission[i])
		fv := emisValue(fit.Family, fit.Emission[i])
		ee = math.Max(ee, math.Abs(fv-tv)/tv)
	}

	return te, ee
}

// fit simulates one data set from m and estimates its parameters starting
// from data-derived values.
func fit(ctx context.Context, m model, seed int64, logger logr.Logger) ([]string, error) {

	truth, err := hmmsim.Model(m.family, m.nstate, m.transDist)
	if err != nil {
		return nil, err
	}

	seq, states, err := hmmsim.New(seed).Sequence(truth, m.ntime, m.opt)
	if err != nil {
		return nil, err
	}

	par, err := hmmlib.DefaultParams(seq, m.family, m.nstate, m.transDist)
	if err != nil {
		return nil, err
	}

	cfg := hmmlib.DefaultConfig()
	cfg.MaxIter = m.maxiter
	cfg.NumThreads = m.nthread
	cfg.Outputs = hmmlib.OutputViterbi
	cfg.Logger = logger
	res := hmmlib.Run(ctx, seq, par, cfg, hmmlib.Train)
	if res.Err != nil {
		return nil, res.Err
	}

	te, ee := paramErrors(truth, res.Params)
	nerr, n := hmmlib.CompareStates(res.Path, states)

	return []string{
		m.family.String(),
		strconv.Itoa(m.nstate),
		strconv.FormatInt(seed, 10),
		res.Outcome.String(),
		strconv.Itoa(res.Iterations),
		strconv.FormatFloat(res.FinalLogLik(), 'f', 4, 64),
		strconv.FormatFloat(te, 'g', 6, 64),
		strconv.FormatFloat(ee, 'g', 6, 64),
		strconv.Itoa(nerr),
		strconv.Itoa(n),
	}, nil
}

// study fits nrep simulated data sets for each model and writes one CSV
// row per fit to out.
func study(ctx context.Context, models []model, nrep int, out io.Writer, bar io.Writer, logger logr.Logger) error {

	wtr := csv.NewWriter(out)
	if err := wtr.Write(header); err != nil {
		return err
	}

	pb := progressbar.NewOptions(len(models)*nrep,
		progressbar.OptionSetWriter(bar),
		progressbar.OptionSetDescription("fits"),
		progressbar.OptionShowCount(),
	)

	for _, m := range models {
		for i := 0; i < nrep; i++ {
			rec, err := fit(ctx, m, int64(i+1), logger)
			if err != nil {
				return fmt.Errorf("%s with %d states, run %d: %w", m.family, m.nstate, i+1, err)
			}
			logger.Info("fit done", "family", m.family.String(), "nstate", m.nstate, "run", i+1,
				"stateErrors", rec[8])
			if err := wtr.Write(rec); err != nil {
				return err
			}
			_ = pb.Add(1)
		}
	}
	_ = pb.Finish()

	wtr.Flush()
	return wtr.Error()
}

func main() {

	fs := flag.NewFlagSet("simstudy", flag.ExitOnError)
	outname := fs.String("out", "result.csv", "Output CSV file")
	nrep := fs.Int("nrep", 10, "Number of simulated data sets per model")
	famlist := fs.String("families", "poisson,negbinom,binomial,zipoisson", "Emission families to study")
	nstates := fs.IntSlice("nstates", []int{2, 3}, "Numbers of states to study")
	ntime := fs.Int("ntime", basemodel.ntime, "Number of positions per data set")
	nthread := fs.Int("threads", basemodel.nthread, "Worker threads per fit")
	verbosity := fs.IntP("verbosity", "v", 0, "Diagnostic detail")
	_ = fs.Parse(os.Args[1:])

	logger, sync, err := runconfig.NewLogger(*verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sync()

	var models []model
	for _, name := range strings.Split(*famlist, ",") {
		fam, err := hmmlib.ParseFamily(name)
		if err != nil {
			logger.Error(err, "bad family list")
			os.Exit(2)
		}
		for _, k := range *nstates {
			m := basemodel
			m.family = fam
			m.nstate = k
			m.ntime = *ntime
			m.nthread = *nthread
			models = append(models, m)
		}
	}

	out, err := os.Create(*outname)
	if err != nil {
		logger.Error(err, "cannot create output")
		os.Exit(1)
	}
	defer out.Close()

	if err := study(context.Background(), models, *nrep, out, os.Stderr, logger); err != nil {
		logger.Error(err, "study failed")
		sync()
		os.Exit(1)
	}
}
