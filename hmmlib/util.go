package hmmlib

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// normalizeSum scales x to have a sum of 1.  If the sum is too small to
// be trusted, every element is set to z.
func normalizeSum(x []float64, z float64) {
	scale := floats.Sum(x)
	if scale < 1e-300 {
		for j := range x {
			x[j] = z
		}
		return
	}
	floats.Scale(1/scale, x)
}

// argmax returns the index of the largest element of x.  Ties go to the
// lowest index.
func argmax(x []float64) int {
	j := 0
	v := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > v {
			v = x[i]
			j = i
		}
	}

	return j
}

func nan() float64 {
	return math.NaN()
}

// makeFloatArray makes a collection of r slices
// of length c, packed contiguously.
func makeFloatArray(r, c int) [][]float64 {

	bka := make([]float64, r*c)
	x := make([][]float64, r)
	ii := 0
	for j := 0; j < r; j++ {
		x[j] = bka[ii : ii+c]
		ii += c
	}

	return x
}

// CompareStates returns the number of positions where the state
// sequences x and y disagree, and the number of positions compared.
// Panics if the lengths of x and y differ.
func CompareStates(x, y []int) (int, int) {

	if len(x) != len(y) {
		panic("Lengths are not equal")
	}

	var e int
	for t := range x {
		if x[t] != y[t] {
			e++
		}
	}

	return e, len(x)
}
