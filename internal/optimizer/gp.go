package optimizer

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// worstCap bounds observations before fitting. Infeasible points report
// values near math.MaxFloat64, which would swamp the standardization.
const worstCap = 1e300

// lengthScales is the grid searched when relearning the kernel.
var lengthScales = []float64{0.02, 0.05, 0.1, 0.15, 0.2, 0.3, 0.4, 0.6, 0.8, 1.2, 1.6, 2.5}

var errNotPositiveDefinite = errors.New("kernel matrix is not positive definite")

// gaussianProcess is a zero-mean GP with a squared exponential kernel of
// unit amplitude over standardized observations.
type gaussianProcess struct {
	lengthScale float64
	noise       float64

	x     [][]float64
	y     []float64
	yMean float64
	yStd  float64

	chol   mat.Cholesky
	alpha  *mat.VecDense
	jitter float64
}

func newGaussianProcess(noise float64) *gaussianProcess {
	return &gaussianProcess{lengthScale: 0.3, noise: noise}
}

func (gp *gaussianProcess) kernel(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-d * d / (2 * gp.lengthScale * gp.lengthScale))
}

// add appends an observation without refitting.
func (gp *gaussianProcess) add(x []float64, y float64) {
	gp.x = append(gp.x, append([]float64(nil), x...))
	gp.y = append(gp.y, y)
}

// standardized returns the capped, zero mean, unit variance observations.
func (gp *gaussianProcess) standardized() []float64 {
	ceiling := math.Inf(-1)
	for _, v := range gp.y {
		if v < worstCap && v > ceiling {
			ceiling = v
		}
	}
	if math.IsInf(ceiling, -1) {
		ceiling = 1
	}
	ys := make([]float64, len(gp.y))
	for i, v := range gp.y {
		if v >= worstCap || math.IsNaN(v) {
			v = ceiling
		}
		ys[i] = v
	}
	gp.yMean, gp.yStd = stat.MeanStdDev(ys, nil)
	if len(ys) < 2 || gp.yStd < 1e-12 || math.IsNaN(gp.yStd) {
		gp.yStd = 1
	}
	for i := range ys {
		ys[i] = (ys[i] - gp.yMean) / gp.yStd
	}
	return ys
}

// factorize builds the kernel matrix and its Cholesky factor, adding jitter
// until it is positive definite.
func (gp *gaussianProcess) factorize(chol *mat.Cholesky) (float64, error) {
	n := len(gp.x)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.SetSym(i, j, gp.kernel(gp.x[i], gp.x[j]))
		}
	}
	for jitter := 0.0; jitter <= 1e-2; jitter = nextJitter(jitter) {
		kk := mat.NewSymDense(n, nil)
		kk.CopySym(k)
		for i := 0; i < n; i++ {
			kk.SetSym(i, i, kk.At(i, i)+gp.noise+jitter)
		}
		if chol.Factorize(kk) {
			return jitter, nil
		}
	}
	return 0, errNotPositiveDefinite
}

func nextJitter(j float64) float64 {
	if j == 0 {
		return 1e-10
	}
	return j * 10
}

// fit refreshes the factorization after observations or the length scale
// changed.
func (gp *gaussianProcess) fit() error {
	if len(gp.x) == 0 {
		return errors.New("no observations")
	}
	ys := gp.standardized()
	jitter, err := gp.factorize(&gp.chol)
	if err != nil {
		return err
	}
	gp.jitter = jitter
	gp.alpha = mat.NewVecDense(len(ys), nil)
	return gp.chol.SolveVecTo(gp.alpha, mat.NewVecDense(len(ys), ys))
}

// logMarginalLikelihood of the standardized observations under the current
// length scale.
func (gp *gaussianProcess) logMarginalLikelihood() (float64, error) {
	ys := gp.standardized()
	var chol mat.Cholesky
	if _, err := gp.factorize(&chol); err != nil {
		return math.Inf(-1), err
	}
	y := mat.NewVecDense(len(ys), ys)
	alpha := mat.NewVecDense(len(ys), nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return math.Inf(-1), err
	}
	n := float64(len(ys))
	return -0.5*mat.Dot(y, alpha) - 0.5*chol.LogDet() - 0.5*n*math.Log(2*math.Pi), nil
}

// relearn picks the length scale maximizing the marginal likelihood and
// refits.
func (gp *gaussianProcess) relearn() error {
	best, bestLL := gp.lengthScale, math.Inf(-1)
	for _, ls := range lengthScales {
		gp.lengthScale = ls
		ll, err := gp.logMarginalLikelihood()
		if err != nil {
			continue
		}
		if ll > bestLL {
			best, bestLL = ls, ll
		}
	}
	gp.lengthScale = best
	return gp.fit()
}

// predict returns the posterior mean and standard deviation at x in the
// units of the observations.
func (gp *gaussianProcess) predict(x []float64) (float64, float64) {
	n := len(gp.x)
	ks := mat.NewVecDense(n, nil)
	for i := range gp.x {
		ks.SetVec(i, gp.kernel(x, gp.x[i]))
	}
	mu := mat.Dot(ks, gp.alpha)
	v := mat.NewVecDense(n, nil)
	variance := 1.0
	if err := gp.chol.SolveVecTo(v, ks); err == nil {
		variance -= mat.Dot(ks, v)
	}
	variance = math.Max(variance, 1e-12)
	return gp.yMean + mu*gp.yStd, math.Sqrt(variance) * gp.yStd
}
