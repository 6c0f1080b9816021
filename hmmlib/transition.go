package hmmlib

import (
	"math"
)

// stayWeight returns the weight of the identity component in the step
// matrix for distance d.  It is 1 at d = 0 and decays exponentially to 0.
// A transDist that is not positive relaxes at once: the weight is 0 for
// every d > 0.
func stayWeight(d, transDist float64) float64 {
	switch {
	case d == 0:
		return 1
	case math.IsInf(d, 1), !(transDist > 0):
		return 0
	}
	return math.Exp(-d / transDist)
}

// stepInto writes the transition matrix for a step with identity weight w
// into dst.  The baseline matrix a and dst are row-major nstate x nstate.
//
//	P = w*I + (1-w)*A
//
// Entries are floored at transFloor and each row is renormalized, so that
// logarithms of P are always finite.
func stepInto(dst, a []float64, nstate int, w float64) {

	for i := 0; i < nstate; i++ {
		row := dst[i*nstate : (i+1)*nstate]
		var s float64
		for j := 0; j < nstate; j++ {
			v := (1 - w) * a[i*nstate+j]
			if i == j {
				v += w
			}
			if v < transFloor {
				v = transFloor
			}
			row[j] = v
			s += v
		}
		for j := range row {
			row[j] /= s
		}
	}
}

// StepMatrix returns the transition matrix between two positions that
// are a distance d apart, given the baseline matrix trans and the decay
// constant transDist.  At d = 0 the result is (up to the probability
// floor) the identity matrix, and it approaches trans as d grows.  d must
// be non-negative.  With transDist <= 0 every d > 0 gives trans itself,
// and with transDist = +Inf every finite d gives the identity.
func StepMatrix(trans [][]float64, transDist, d float64) [][]float64 {

	nstate := len(trans)
	a := flatten(trans)
	dst := make([]float64, nstate*nstate)
	stepInto(dst, a, nstate, stayWeight(d, transDist))

	return unflatten(dst, nstate, nstate)
}

// flatten packs a square matrix into a row-major slice.
func flatten(x [][]float64) []float64 {
	var v []float64
	for _, row := range x {
		v = append(v, row...)
	}
	return v
}

// unflatten is the inverse of flatten, copying into new storage.
func unflatten(v []float64, nrow, ncol int) [][]float64 {
	x := makeFloatArray(nrow, ncol)
	for i := range x {
		copy(x[i], v[i*ncol:(i+1)*ncol])
	}
	return x
}
