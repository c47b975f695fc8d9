package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/optimize"
)

// Trial phases.
const (
	PhaseInit   = "init"
	PhaseSearch = "search"
)

// Objective is the function being minimized. x lies in [0,1]^dim.
type Objective func(ctx context.Context, x []float64) (float64, error)

// Trial is one evaluation.
type Trial struct {
	Iteration int
	Phase     string
	X         []float64
	Value     float64
	Best      float64
}

// Result is the outcome of Optimize.
type Result struct {
	BestX     []float64
	BestValue float64
	Trials    []Trial
}

// Optimizer runs Bayesian optimization over the unit hypercube.
type Optimizer struct {
	dim int
	cfg Config
	rng *rand.Rand
	gp  *gaussianProcess
}

// New returns an optimizer for dim dimensions.
func New(dim int, cfg Config) (*Optimizer, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{
		dim: dim,
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		gp:  newGaussianProcess(cfg.Noise),
	}, nil
}

// Config returns the effective configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// Optimize evaluates the initial design, then Iterations points proposed by
// expected improvement. The kernel length scale is relearned after the
// initial design and every IterRelearn iterations. An objective error or a
// cancelled ctx stops the run; the result holds the trials so far.
func (o *Optimizer) Optimize(ctx context.Context, f Objective) (Result, error) {
	res := Result{BestValue: math.Inf(1)}
	design, err := initialDesign(o.cfg.InitMethod, o.cfg.InitSamples, o.dim, o.rng)
	if err != nil {
		return res, err
	}

	iteration := 0
	evaluate := func(x []float64, phase string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := f(ctx, x)
		if err != nil {
			return err
		}
		if math.IsNaN(v) {
			v = math.MaxFloat64
		}
		o.gp.add(x, v)
		if v < res.BestValue || res.BestX == nil {
			res.BestValue = v
			res.BestX = append([]float64(nil), x...)
		}
		t := Trial{Iteration: iteration, Phase: phase, X: append([]float64(nil), x...), Value: v, Best: res.BestValue}
		res.Trials = append(res.Trials, t)
		if o.cfg.Observer != nil {
			o.cfg.Observer(t)
		}
		iteration++
		return nil
	}

	for _, x := range design {
		if err := evaluate(x, PhaseInit); err != nil {
			return res, err
		}
	}

	fitted := o.gp.relearn() == nil
	for i := 0; i < o.cfg.Iterations; i++ {
		if i > 0 && o.cfg.IterRelearn > 0 && i%o.cfg.IterRelearn == 0 {
			fitted = o.gp.relearn() == nil
		}
		x := o.propose(fitted)
		if err := evaluate(x, PhaseSearch); err != nil {
			return res, err
		}
		fitted = o.gp.fit() == nil
	}
	return res, nil
}

// propose returns the next point to evaluate. Without a usable surrogate it
// falls back to a random feasible point.
func (o *Optimizer) propose(fitted bool) []float64 {
	var best []float64
	bestEI := math.Inf(-1)
	incumbent := o.incumbent()
	var fallback []float64
	for i := 0; i < o.cfg.Candidates; i++ {
		x := uniform(1, o.dim, o.rng)[0]
		if !o.feasible(x) {
			continue
		}
		if fallback == nil {
			fallback = x
		}
		if !fitted {
			break
		}
		mu, sigma := o.gp.predict(x)
		if ei := expectedImprovement(mu, sigma, incumbent, o.cfg.Xi*o.gp.yStd); ei > bestEI {
			best, bestEI = x, ei
		}
	}
	if best == nil {
		if fallback != nil {
			return fallback
		}
		return uniform(1, o.dim, o.rng)[0]
	}
	if refined, ok := o.refine(best, incumbent); ok {
		return refined
	}
	return best
}

// refine climbs expected improvement from x0 with Nelder-Mead, clamping the
// search to the unit hypercube.
func (o *Optimizer) refine(x0 []float64, incumbent float64) ([]float64, bool) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			c := clampUnit(x)
			mu, sigma := o.gp.predict(c)
			return -expectedImprovement(mu, sigma, incumbent, o.cfg.Xi*o.gp.yStd)
		},
	}
	r, err := optimize.Minimize(problem, x0, &optimize.Settings{FuncEvaluations: 50 * o.dim}, &optimize.NelderMead{})
	if err != nil || r == nil {
		return nil, false
	}
	x := clampUnit(r.X)
	if !o.feasible(x) {
		return nil, false
	}
	return x, true
}

func (o *Optimizer) incumbent() float64 {
	best := math.Inf(1)
	for _, v := range o.gp.y {
		if v < best {
			best = v
		}
	}
	if best >= worstCap {
		return o.gp.yMean
	}
	return best
}

func (o *Optimizer) feasible(x []float64) bool {
	return o.cfg.Feasible == nil || o.cfg.Feasible(x)
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}
