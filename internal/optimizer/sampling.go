package optimizer

import (
	"fmt"
	"math"
	"math/rand"
)

// primes are the Halton bases, one per dimension.
var primes = []int{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53,
	59, 61, 67, 71, 73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131,
}

// haltonSkip drops the first, strongly correlated points of the sequence.
const haltonSkip = 20

func radicalInverse(i, base int) float64 {
	f, r := 1.0, 0.0
	for i > 0 {
		f /= float64(base)
		r += f * float64(i%base)
		i /= base
	}
	return r
}

// halton returns n points of the Halton sequence, rotated by a random shift
// so different seeds give different designs.
func halton(n, dim int, rng *rand.Rand) ([][]float64, error) {
	if dim > len(primes) {
		return nil, fmt.Errorf("halton design supports at most %d dimensions, got %d", len(primes), dim)
	}
	shift := make([]float64, dim)
	for d := range shift {
		shift[d] = rng.Float64()
	}
	out := make([][]float64, n)
	for i := range out {
		x := make([]float64, dim)
		for d := range x {
			v := radicalInverse(i+haltonSkip, primes[d]) + shift[d]
			x[d] = v - math.Floor(v)
		}
		out[i] = x
	}
	return out, nil
}

// latinHypercube places exactly one point in each of n strata per dimension.
func latinHypercube(n, dim int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dim)
	}
	for d := 0; d < dim; d++ {
		for i, s := range rng.Perm(n) {
			out[i][d] = (float64(s) + rng.Float64()) / float64(n)
		}
	}
	return out
}

func uniform(n, dim int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		x := make([]float64, dim)
		for d := range x {
			x[d] = rng.Float64()
		}
		out[i] = x
	}
	return out
}

func initialDesign(method, n, dim int, rng *rand.Rand) ([][]float64, error) {
	switch method {
	case InitLatinHypercube:
		return latinHypercube(n, dim, rng), nil
	case InitHalton:
		return halton(n, dim, rng)
	case InitUniform:
		return uniform(n, dim, rng), nil
	default:
		return nil, fmt.Errorf("unknown init method %d", method)
	}
}
