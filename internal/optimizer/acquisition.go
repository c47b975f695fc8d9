package optimizer

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// expectedImprovement of a point with posterior mean mu and deviation sigma
// over the incumbent best, for minimization.
func expectedImprovement(mu, sigma, best, xi float64) float64 {
	imp := best - mu - xi
	if sigma <= 0 || math.IsNaN(sigma) {
		return math.Max(imp, 0)
	}
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}
