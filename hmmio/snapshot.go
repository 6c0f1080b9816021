package hmmio

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/IsmailM/methimpute/hmmlib"
)

// Snapshot is a finished run together with the table it was run on.
type Snapshot struct {
	Table      *Table
	Params     *hmmlib.Params
	LogLik     []float64
	Converged  bool
	Iterations int
	Outcome    string
	Path       []int
	Posteriors [][]float64
}

// NewSnapshot collects tab and res into a Snapshot.
func NewSnapshot(tab *Table, res *hmmlib.Result) *Snapshot {
	return &Snapshot{
		Table:      tab,
		Params:     res.Params,
		LogLik:     res.LogLik,
		Converged:  res.Converged,
		Iterations: res.Iterations,
		Outcome:    res.Outcome.String(),
		Path:       res.Path,
		Posteriors: res.Posteriors,
	}
}

// WriteSnapshot writes snap to a gzip-compressed gob file.
func WriteSnapshot(fname string, snap *Snapshot) (err error) {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fid.Close(); err == nil {
			err = cerr
		}
	}()

	gid := gzip.NewWriter(fid)
	if err := gob.NewEncoder(gid).Encode(snap); err != nil {
		return fmt.Errorf("%s: %w", fname, err)
	}

	return gid.Close()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(fname string) (*Snapshot, error) {

	fid, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	gid, err := gzip.NewReader(fid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	defer gid.Close()

	var snap Snapshot
	if err := gob.NewDecoder(gid).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}

	return &snap, nil
}
