package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/IsmailM/methimpute/hmmio"
	"github.com/IsmailM/methimpute/hmmlib"
	"github.com/IsmailM/methimpute/hmmsim"
)

type settings struct {
	params    string
	family    hmmlib.Family
	nstate    int
	transDist float64
	ntime     int
	seed      int64
	chrom     string
	outname   string
	opt       hmmsim.Options
}

func parseSettings(args []string) (*settings, error) {

	def := hmmsim.DefaultOptions()

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.String("params", "", "Parameters to simulate from (YAML), overrides family and nstate")
	fs.String("family", "binomial", "Emission family of the built-in model")
	fs.Int("nstate", 2, "Number of states of the built-in model")
	fs.Float64("trans-dist", 150, "Distance constant of the built-in model")
	fs.Int("ntime", 10000, "Number of positions")
	fs.Int64("seed", 1, "Random seed")
	fs.Float64("min-dist", def.MinDist, "Minimum distance between positions")
	fs.Float64("max-dist", def.MaxDist, "Maximum distance between positions")
	fs.Float64("coverage", def.Coverage, "Mean number of trials per position (binomial)")
	fs.String("chrom", "chr1", "Chromosome name")
	fs.String("outname", "", "Output file name prefix")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("METHHMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	s := &settings{
		params:    v.GetString("params"),
		nstate:    v.GetInt("nstate"),
		transDist: v.GetFloat64("trans-dist"),
		ntime:     v.GetInt("ntime"),
		seed:      v.GetInt64("seed"),
		chrom:     v.GetString("chrom"),
		outname:   v.GetString("outname"),
		opt: hmmsim.Options{
			MinDist:  v.GetFloat64("min-dist"),
			MaxDist:  v.GetFloat64("max-dist"),
			Coverage: v.GetFloat64("coverage"),
		},
	}

	var err error
	if s.family, err = hmmlib.ParseFamily(v.GetString("family")); err != nil {
		return nil, err
	}
	if s.outname == "" {
		return nil, fmt.Errorf("%w: 'outname' is required", hmmlib.ErrValidation)
	}

	return s, nil
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

// writeStates writes the true state of each position.
func writeStates(w io.Writer, tab *hmmio.Table, states []int) error {

	wtr := csv.NewWriter(w)
	wtr.Comma = '\t'

	if err := wtr.Write([]string{"#chrom", "pos", "state"}); err != nil {
		return err
	}
	for t, st := range states {
		rec := []string{tab.Chrom[t], strconv.FormatInt(tab.Pos[t], 10), strconv.Itoa(st)}
		if err := wtr.Write(rec); err != nil {
			return err
		}
	}

	wtr.Flush()
	return wtr.Error()
}

func generate(s *settings) error {

	var par *hmmlib.Params
	var err error
	if s.params != "" {
		par, err = hmmio.ReadParamsFile(s.params)
	} else {
		par, err = hmmsim.Model(s.family, s.nstate, s.transDist)
	}
	if err != nil {
		return err
	}

	seq, states, err := hmmsim.New(s.seed).Sequence(par, s.ntime, s.opt)
	if err != nil {
		return err
	}

	tab, err := hmmio.TableFromSequence(s.chrom, seq)
	if err != nil {
		return err
	}

	if err := writeFile(s.outname+".tsv", func(w io.Writer) error { return hmmio.WriteTable(w, tab) }); err != nil {
		return err
	}
	if err := writeFile(s.outname+".states.tsv", func(w io.Writer) error { return writeStates(w, tab, states) }); err != nil {
		return err
	}

	return writeFile(s.outname+".params.yaml", func(w io.Writer) error { return hmmio.WriteParams(w, par) })
}

func main() {

	s, err := parseSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := generate(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
