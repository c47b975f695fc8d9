package optimizer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadratic(ctx context.Context, x []float64) (float64, error) {
	return (x[0]-0.3)*(x[0]-0.3) + (x[1]-0.7)*(x[1]-0.7), nil
}

func smallConfig() Config {
	return Config{InitSamples: 10, Iterations: 20, IterRelearn: 5, Candidates: 200, Seed: 7}
}

func TestRadicalInverse(t *testing.T) {
	tests := []struct {
		i, base int
		want    float64
	}{
		{0, 2, 0},
		{1, 2, 0.5},
		{2, 2, 0.25},
		{3, 2, 0.75},
		{1, 3, 1.0 / 3},
		{5, 3, 2.0/3 + 1.0/9},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, radicalInverse(tt.i, tt.base), 1e-12, "radicalInverse(%d, %d)", tt.i, tt.base)
	}
}

func TestInitialDesigns(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, method := range []int{InitLatinHypercube, InitHalton, InitUniform} {
		pts, err := initialDesign(method, 16, 5, rng)
		require.NoError(t, err)
		require.Len(t, pts, 16)
		for _, p := range pts {
			require.Len(t, p, 5)
			for _, v := range p {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.Less(t, v, 1.0)
			}
		}
	}

	_, err := initialDesign(9, 4, 2, rng)
	assert.Error(t, err)
	_, err = halton(4, len(primes)+1, rng)
	assert.Error(t, err)
}

func TestLatinHypercubeStrata(t *testing.T) {
	const n = 12
	pts := latinHypercube(n, 3, rand.New(rand.NewSource(3)))
	for d := 0; d < 3; d++ {
		seen := make(map[int]bool)
		for _, p := range pts {
			seen[int(p[d]*n)] = true
		}
		assert.Len(t, seen, n, "dimension %d", d)
	}
}

func TestExpectedImprovement(t *testing.T) {
	assert.Equal(t, 0.0, expectedImprovement(2, 0, 1, 0))
	assert.Equal(t, 0.5, expectedImprovement(0.5, 0, 1, 0))
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi), expectedImprovement(1, 1, 1, 0), 1e-12)
	assert.Greater(t, expectedImprovement(1, 2, 1, 0), expectedImprovement(1, 1, 1, 0))
	assert.GreaterOrEqual(t, expectedImprovement(5, 0.1, 1, 0), 0.0)
}

func TestGaussianProcessInterpolates(t *testing.T) {
	gp := newGaussianProcess(1e-10)
	xs := [][]float64{{0.1}, {0.4}, {0.7}, {0.95}}
	for _, x := range xs {
		gp.add(x, math.Sin(6*x[0]))
	}
	require.NoError(t, gp.relearn())
	assert.Contains(t, lengthScales, gp.lengthScale)

	for _, x := range xs {
		mu, sigma := gp.predict(x)
		assert.InDelta(t, math.Sin(6*x[0]), mu, 1e-3)
		assert.Less(t, sigma, 0.05)
	}
	_, near := gp.predict([]float64{0.4})
	_, far := gp.predict([]float64{5})
	assert.Greater(t, far, near)
}

func TestGaussianProcessCapsWorstValues(t *testing.T) {
	gp := newGaussianProcess(1e-14)
	gp.add([]float64{0.1}, 1)
	gp.add([]float64{0.5}, math.MaxFloat64)
	gp.add([]float64{0.9}, 3)
	ys := gp.standardized()
	assert.InDelta(t, 0, ys[0]+ys[1]+ys[2], 1e-9)
	assert.Equal(t, ys[1], ys[2])
	require.NoError(t, gp.fit())
	mu, _ := gp.predict([]float64{0.5})
	assert.InDelta(t, 3, mu, 0.1)
}

func TestGaussianProcessDuplicatePointsNeedJitter(t *testing.T) {
	gp := newGaussianProcess(0)
	for i := 0; i < 3; i++ {
		gp.add([]float64{0.5, 0.5}, float64(i))
	}
	require.NoError(t, gp.fit())
	assert.Greater(t, gp.jitter, 0.0)
}

func TestOptimizeFindsMinimum(t *testing.T) {
	var observed []Trial
	cfg := smallConfig()
	cfg.Observer = func(tr Trial) { observed = append(observed, tr) }
	o, err := New(2, cfg)
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), quadratic)
	require.NoError(t, err)
	assert.Less(t, res.BestValue, 0.01)
	require.Len(t, res.BestX, 2)
	assert.Len(t, res.Trials, 30)
	assert.Equal(t, res.Trials, observed)

	for i, tr := range res.Trials {
		assert.Equal(t, i, tr.Iteration)
		if i < 10 {
			assert.Equal(t, PhaseInit, tr.Phase)
		} else {
			assert.Equal(t, PhaseSearch, tr.Phase)
		}
		if i > 0 {
			assert.LessOrEqual(t, tr.Best, res.Trials[i-1].Best)
		}
		for _, v := range tr.X {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestOptimizeIsReproducible(t *testing.T) {
	run := func() Result {
		o, err := New(2, smallConfig())
		require.NoError(t, err)
		res, err := o.Optimize(context.Background(), quadratic)
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.BestX, b.BestX)
	assert.Equal(t, a.BestValue, b.BestValue)
}

func TestOptimizeRespectsFeasibility(t *testing.T) {
	cfg := smallConfig()
	cfg.Feasible = func(x []float64) bool { return x[0] < 0.5 }
	o, err := New(2, cfg)
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), func(ctx context.Context, x []float64) (float64, error) {
		if x[0] >= 0.5 {
			return math.MaxFloat64, nil
		}
		return quadratic(ctx, x)
	})
	require.NoError(t, err)
	for _, tr := range res.Trials {
		if tr.Phase == PhaseSearch {
			assert.Less(t, tr.X[0], 0.5)
		}
	}
	assert.Less(t, res.BestValue, 1.0)
}

func TestOptimizeStops(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := 0
		o, err := New(2, smallConfig())
		require.NoError(t, err)
		res, err := o.Optimize(ctx, func(ctx context.Context, x []float64) (float64, error) {
			calls++
			if calls == 5 {
				cancel()
			}
			return quadratic(ctx, x)
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, res.Trials, 5)
	})

	t.Run("objective error", func(t *testing.T) {
		boom := errors.New("boom")
		o, err := New(2, smallConfig())
		require.NoError(t, err)
		_, err = o.Optimize(context.Background(), func(context.Context, []float64) (float64, error) {
			return 0, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestNewValidates(t *testing.T) {
	_, err := New(0, Config{})
	assert.Error(t, err)
	_, err = New(2, Config{InitMethod: 7})
	assert.Error(t, err)
	_, err = New(2, Config{Iterations: -1})
	assert.Error(t, err)

	o, err := New(3, Config{})
	require.NoError(t, err)
	assert.Equal(t, 100, o.Config().InitSamples)
	assert.Equal(t, 0, o.Config().Iterations)
	assert.Equal(t, 1e-14, o.Config().Noise)
	assert.Equal(t, InitHalton, o.Config().InitMethod)
}

func TestOptimizeZeroIterationsRunsInitialDesignOnly(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 0
	o, err := New(2, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, o.Config().Iterations)

	res, err := o.Optimize(context.Background(), quadratic)
	require.NoError(t, err)
	require.Len(t, res.Trials, 10)
	for _, tr := range res.Trials {
		assert.Equal(t, PhaseInit, tr.Phase)
	}
}
