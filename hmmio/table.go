// Package hmmio reads and writes observation tables, parameter and result
// files, and snapshots of finished runs.
package hmmio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/IsmailM/methimpute/hmmlib"
)

// Table is a set of observations at positions along one or more
// chromosomes.  Rows are sorted by position within each chromosome, and
// the rows of a chromosome are contiguous.
type Table struct {
	Chrom []string
	Pos   []int64
	Seq   *hmmlib.Sequence
}

// Len returns the number of rows.
func (tab *Table) Len() int {
	return len(tab.Pos)
}

// ReadTable reads a tab-separated table with columns chrom, position and
// nchan count columns.  Lines starting with '#' are skipped.  The distance
// between consecutive positions on the same chromosome is their
// difference; chromosome boundaries get an infinite distance.  The rows
// of each chromosome must be contiguous and sorted by position.
func ReadTable(r io.Reader, nchan int) (*Table, error) {

	if nchan < 1 {
		return nil, fmt.Errorf("%w: need at least one count column", hmmlib.ErrValidation)
	}

	rdr := csv.NewReader(r)
	rdr.Comma = '\t'
	rdr.Comment = '#'
	rdr.FieldsPerRecord = 2 + nchan
	rdr.ReuseRecord = true

	tab := &Table{
		Seq: &hmmlib.Sequence{Counts: make([][]int, nchan)},
	}

	// Chromosomes whose rows have ended
	closed := make(map[string]bool)

	for {
		rec, err := rdr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", hmmlib.ErrValidation, err)
		}
		line, _ := rdr.FieldPos(0)

		pos, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid position %q", hmmlib.ErrValidation, line, rec[1])
		}

		n := tab.Len()
		if n > 0 && tab.Chrom[n-1] == rec[0] {
			if pos < tab.Pos[n-1] {
				return nil, fmt.Errorf("%w: line %d: position %d is before %d",
					hmmlib.ErrValidation, line, pos, tab.Pos[n-1])
			}
			tab.Seq.Distances = append(tab.Seq.Distances, float64(pos-tab.Pos[n-1]))
		} else if closed[rec[0]] {
			return nil, fmt.Errorf("%w: line %d: rows of chromosome %q are not contiguous",
				hmmlib.ErrValidation, line, rec[0])
		} else if n > 0 {
			closed[tab.Chrom[n-1]] = true
			tab.Seq.Distances = append(tab.Seq.Distances, math.Inf(1))
		}

		for c := 0; c < nchan; c++ {
			v, err := strconv.Atoi(rec[2+c])
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: line %d: invalid count %q", hmmlib.ErrValidation, line, rec[2+c])
			}
			tab.Seq.Counts[c] = append(tab.Seq.Counts[c], v)
		}

		// Copy, so the table does not pin the reader's line buffer
		tab.Chrom = append(tab.Chrom, string([]byte(rec[0])))
		tab.Pos = append(tab.Pos, pos)
	}

	if tab.Len() == 0 {
		return nil, fmt.Errorf("%w: no observations", hmmlib.ErrValidation)
	}

	return tab, nil
}

// ReadTableFile reads a table from the named file.
func ReadTableFile(fname string, nchan int) (*Table, error) {

	fid, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	tab, err := ReadTable(fid, nchan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}

	return tab, nil
}

// TableFromSequence builds a table for a single chromosome from seq,
// placing the first position at 1.  Infinite distances are not allowed.
func TableFromSequence(chrom string, seq *hmmlib.Sequence) (*Table, error) {

	n := seq.Len()
	tab := &Table{
		Chrom: make([]string, n),
		Pos:   make([]int64, n),
		Seq:   seq,
	}

	var pos int64 = 1
	for t := 0; t < n; t++ {
		if t > 0 {
			d := seq.Distances[t-1]
			if math.IsInf(d, 0) || math.IsNaN(d) || d < 0 {
				return nil, fmt.Errorf("%w: distance %v at position %d", hmmlib.ErrValidation, d, t-1)
			}
			pos += int64(math.Round(d))
		}
		tab.Chrom[t] = chrom
		tab.Pos[t] = pos
	}

	return tab, nil
}

// WriteTable writes tab in the format read by ReadTable.
func WriteTable(w io.Writer, tab *Table) error {

	wtr := csv.NewWriter(w)
	wtr.Comma = '\t'

	nchan := len(tab.Seq.Counts)
	head := []string{"#chrom", "pos"}
	for c := 0; c < nchan; c++ {
		head = append(head, fmt.Sprintf("count%d", c+1))
	}
	if err := wtr.Write(head); err != nil {
		return err
	}

	rec := make([]string, 2+nchan)
	for t := 0; t < tab.Len(); t++ {
		rec[0] = tab.Chrom[t]
		rec[1] = strconv.FormatInt(tab.Pos[t], 10)
		for c := 0; c < nchan; c++ {
			rec[2+c] = strconv.Itoa(tab.Seq.Counts[c][t])
		}
		if err := wtr.Write(rec); err != nil {
			return err
		}
	}

	wtr.Flush()
	return wtr.Error()
}

// WriteDecoded writes one row per position with the decoded state (if
// res has a path) and the posterior state probabilities (if res has
// posteriors).
func WriteDecoded(w io.Writer, tab *Table, res *hmmlib.Result) error {

	if res.Path != nil && len(res.Path) != tab.Len() {
		return fmt.Errorf("%w: path has %d positions, table has %d", hmmlib.ErrValidation, len(res.Path), tab.Len())
	}
	if res.Posteriors != nil && len(res.Posteriors) != tab.Len() {
		return fmt.Errorf("%w: posteriors have %d positions, table has %d",
			hmmlib.ErrValidation, len(res.Posteriors), tab.Len())
	}

	wtr := csv.NewWriter(w)
	wtr.Comma = '\t'

	head := []string{"#chrom", "pos"}
	if res.Path != nil {
		head = append(head, "state")
	}
	nstate := 0
	if len(res.Posteriors) > 0 {
		nstate = len(res.Posteriors[0])
	}
	for st := 0; st < nstate; st++ {
		head = append(head, fmt.Sprintf("post%d", st))
	}
	if err := wtr.Write(head); err != nil {
		return err
	}

	rec := make([]string, 0, len(head))
	for t := 0; t < tab.Len(); t++ {
		rec = append(rec[:0], tab.Chrom[t], strconv.FormatInt(tab.Pos[t], 10))
		if res.Path != nil {
			rec = append(rec, strconv.Itoa(res.Path[t]))
		}
		if res.Posteriors != nil {
			for _, v := range res.Posteriors[t] {
				rec = append(rec, strconv.FormatFloat(v, 'g', 6, 64))
			}
		}
		if err := wtr.Write(rec); err != nil {
			return err
		}
	}

	wtr.Flush()
	return wtr.Error()
}
