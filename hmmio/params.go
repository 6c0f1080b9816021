package hmmio

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IsmailM/methimpute/hmmlib"
)

// ReadParams decodes a YAML parameter file and validates it.
func ReadParams(r io.Reader) (*hmmlib.Params, error) {

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var par hmmlib.Params
	if err := dec.Decode(&par); err != nil {
		return nil, fmt.Errorf("%w: %v", hmmlib.ErrValidation, err)
	}
	if err := par.Validate(); err != nil {
		return nil, err
	}

	return &par, nil
}

// ReadParamsFile reads parameters from the named YAML file.
func ReadParamsFile(fname string) (*hmmlib.Params, error) {

	fid, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	par, err := ReadParams(fid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}

	return par, nil
}

// WriteParams encodes par as YAML.
func WriteParams(w io.Writer, par *hmmlib.Params) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(par); err != nil {
		return err
	}
	return enc.Close()
}

// ResultFile is the YAML form of a run result, without the per-position
// outputs.
type ResultFile struct {
	Params     *hmmlib.Params `yaml:"params"`
	LogLik     []float64      `yaml:"loglik"`
	Converged  bool           `yaml:"converged"`
	Iterations int            `yaml:"iterations"`
	Outcome    string         `yaml:"outcome"`
	Error      string         `yaml:"error"`
	Warnings   []string       `yaml:"warnings,omitempty"`
	Elapsed    time.Duration  `yaml:"elapsed"`

	ViterbiLogProb *float64 `yaml:"viterbi_logprob,omitempty"`
}

// NewResultFile summarizes res.
func NewResultFile(res *hmmlib.Result) *ResultFile {

	rf := &ResultFile{
		Params:     res.Params,
		LogLik:     res.LogLik,
		Converged:  res.Converged,
		Iterations: res.Iterations,
		Outcome:    res.Outcome.String(),
		Error:      res.Diagnostic(),
		Warnings:   res.Warnings,
		Elapsed:    res.Elapsed,
	}
	if res.Path != nil {
		v := res.ViterbiLogProb
		rf.ViterbiLogProb = &v
	}

	return rf
}

// WriteResult encodes a summary of res as YAML.
func WriteResult(w io.Writer, res *hmmlib.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewResultFile(res)); err != nil {
		return err
	}
	return enc.Close()
}

// ReadResult decodes a result file written by WriteResult.
func ReadResult(r io.Reader) (*ResultFile, error) {
	var rf ResultFile
	if err := yaml.NewDecoder(r).Decode(&rf); err != nil {
		return nil, fmt.Errorf("%w: %v", hmmlib.ErrValidation, err)
	}
	return &rf, nil
}
