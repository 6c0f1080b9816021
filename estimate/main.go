package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/schollz/progressbar/v3"

	"github.com/IsmailM/methimpute/hmmio"
	"github.com/IsmailM/methimpute/hmmlib"
	"github.com/IsmailM/methimpute/internal/runconfig"
	"github.com/IsmailM/methimpute/metrics"
)

// loadData reads the observation table and the starting parameters.
func loadData(cfg *runconfig.Config) (*hmmio.Table, *hmmlib.Params, error) {

	fam := cfg.Family
	var par *hmmlib.Params
	if cfg.Params != "" {
		var err error
		par, err = hmmio.ReadParamsFile(cfg.Params)
		if err != nil {
			return nil, nil, err
		}
		fam = par.Family
	}

	em, err := fam.Emitter()
	if err != nil {
		return nil, nil, err
	}

	tab, err := hmmio.ReadTableFile(cfg.Data, em.Channels())
	if err != nil {
		return nil, nil, err
	}

	if par == nil {
		par, err = hmmlib.DefaultParams(tab.Seq, fam, cfg.States, cfg.TransDist)
		if err != nil {
			return nil, nil, err
		}
	}

	return tab, par, nil
}

func progressHook(cfg *runconfig.Config, w io.Writer) (func(hmmlib.IterStat), func()) {

	if !cfg.Progress || cfg.Mode != hmmlib.Train {
		return nil, func() {}
	}

	nmax := -1
	if cfg.MaxIter >= 0 {
		nmax = cfg.MaxIter
	}
	bar := progressbar.NewOptions(nmax,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Baum-Welch"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	hook := func(st hmmlib.IterStat) {
		bar.Describe(fmt.Sprintf("Baum-Welch llf=%.4f", st.LogLik))
		_ = bar.Add(1)
	}

	return hook, func() { _ = bar.Finish() }
}

func writeFile(fname string, fn func(w io.Writer) error) (err error) {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fid.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(fid)
}

// writeOutputs writes the result files with prefix cfg.Out.
func writeOutputs(cfg *runconfig.Config, tab *hmmio.Table, res *hmmlib.Result, logger logr.Logger) error {

	fname := cfg.Out + ".result.yaml"
	if err := writeFile(fname, func(w io.Writer) error { return hmmio.WriteResult(w, res) }); err != nil {
		return err
	}
	logger.Info("wrote result", "file", fname)

	if res.Posteriors != nil || res.Path != nil {
		fname = cfg.Out + ".decoded.tsv"
		err := writeFile(fname, func(w io.Writer) error { return hmmio.WriteDecoded(w, tab, res) })
		if err != nil {
			return err
		}
		logger.Info("wrote decoded states", "file", fname)
	}

	if cfg.Snapshot {
		fname = cfg.Out + ".gob.gz"
		if err := hmmio.WriteSnapshot(fname, hmmio.NewSnapshot(tab, res)); err != nil {
			return err
		}
		logger.Info("wrote snapshot", "file", fname)
	}

	return nil
}

func run(ctx context.Context, cfg *runconfig.Config, logger logr.Logger, progress io.Writer) error {

	tab, par, err := loadData(cfg)
	if err != nil {
		return err
	}
	logger.Info("read data", "file", cfg.Data, "positions", tab.Len(),
		"family", par.Family.String(), "states", par.NState())

	rec := metrics.New()
	hook, finish := progressHook(cfg, progress)

	hc := cfg.HMMConfig(logger)
	hc.Progress = rec.Chain(hook)

	res := hmmlib.Run(ctx, tab.Seq, par, hc, cfg.Mode)
	finish()
	rec.RunDone(cfg.Mode, res)

	kv := []any{"outcome", res.Outcome.String(), "iterations", res.Iterations, "loglik", res.FinalLogLik()}
	if d := res.Diagnostic(); d != "" {
		kv = append(kv, "diagnostic", d)
	}
	logger.Info("run done", kv...)

	// Failed runs only report the diagnostic.
	if res.Outcome != hmmlib.OutcomeFailed {
		if err := writeOutputs(cfg, tab, res, logger); err != nil {
			return err
		}
	}

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
	}

	return res.Err
}

func main() {

	fs := runconfig.FlagSet("estimate")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := runconfig.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, sync, err := runconfig.NewLogger(cfg.Verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stderr); err != nil {
		logger.Error(err, "estimate failed")
		sync()
		if errors.Is(err, hmmlib.ErrValidation) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
