package hmmsim

import (
	"fmt"

	"github.com/IsmailM/methimpute/hmmlib"
)

// Model returns a parameter set with nstate well separated states, for
// simulation studies.  State i stays put with baseline probability
// 0.8 + 0.1*i/(nstate-1), and the emission means increase with i.
func Model(family hmmlib.Family, nstate int, transDist float64) (*hmmlib.Params, error) {

	if nstate < 1 {
		return nil, fmt.Errorf("%w: need at least one state, got %d", hmmlib.ErrValidation, nstate)
	}

	// Position of state i in [0, 1]
	frac := func(i int) float64 {
		if nstate == 1 {
			return 0
		}
		return float64(i) / float64(nstate-1)
	}

	par := &hmmlib.Params{
		Start:     make([]float64, nstate),
		Trans:     make([][]float64, nstate),
		TransDist: transDist,
		Family:    family,
		Emission:  make([]hmmlib.EmissionParams, nstate),
	}

	for i := 0; i < nstate; i++ {
		par.Start[i] = 1 / float64(nstate)

		par.Trans[i] = make([]float64, nstate)
		if nstate == 1 {
			par.Trans[i][i] = 1
		} else {
			p := 0.8 + 0.1*frac(i)
			for j := range par.Trans[i] {
				if i == j {
					par.Trans[i][j] = p
				} else {
					par.Trans[i][j] = (1 - p) / float64(nstate-1)
				}
			}
		}

		mean := 1 + 7*frac(i)
		switch family {
		case hmmlib.Poisson:
			par.Emission[i] = hmmlib.EmissionParams{Mean: mean}
		case hmmlib.NegativeBinomial:
			par.Emission[i] = hmmlib.EmissionParams{Mean: mean, Dispersion: 4}
		case hmmlib.Binomial:
			par.Emission[i] = hmmlib.EmissionParams{Prob: 0.1 + 0.8*frac(i)}
		case hmmlib.ZeroInflatedPoisson:
			par.Emission[i] = hmmlib.EmissionParams{Mean: mean, ZeroProb: 0.2}
		default:
			return nil, fmt.Errorf("%w: unknown family %v", hmmlib.ErrValidation, family)
		}
	}

	if err := par.Validate(); err != nil {
		return nil, err
	}

	return par, nil
}
