// Package optimizer minimizes expensive black-box functions over the unit
// hypercube with a Gaussian process surrogate and expected improvement.
package optimizer

import (
	"fmt"
	"math"
)

// Initial design methods.
const (
	InitLatinHypercube = 1
	InitHalton         = 2
	InitUniform        = 3
)

// Config controls a run. Zero fields other than Iterations, IterRelearn and
// Seed take the values of DefaultConfig.
type Config struct {
	// InitSamples is the number of initial design points.
	InitSamples int
	// Iterations is the number of surrogate guided evaluations after the
	// initial design. Zero evaluates the initial design only.
	Iterations int
	// IterRelearn is how often, in iterations, the kernel length scale is
	// re-estimated. Zero disables relearning after the initial fit.
	IterRelearn int
	// Noise is the observation noise variance added to the kernel diagonal.
	Noise float64
	// InitMethod selects the initial design.
	InitMethod int
	// Seed makes runs reproducible.
	Seed int64
	// Candidates is the number of random points scored per proposal.
	Candidates int
	// Xi is the exploration margin of expected improvement.
	Xi float64

	// Feasible, if set, filters proposal candidates. Initial design points
	// are evaluated regardless.
	Feasible func(x []float64) bool
	// Observer, if set, is called after every evaluation.
	Observer func(Trial)
}

// DefaultConfig returns the settings used for unset fields.
func DefaultConfig() Config {
	return Config{
		InitSamples: 100,
		Iterations:  500,
		IterRelearn: 25,
		Noise:       1e-14,
		InitMethod:  InitHalton,
		Seed:        1,
		Candidates:  1000,
		Xi:          0.01,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitSamples == 0 {
		c.InitSamples = d.InitSamples
	}
	if c.Noise == 0 {
		c.Noise = d.Noise
	}
	if c.InitMethod == 0 {
		c.InitMethod = d.InitMethod
	}
	if c.Candidates == 0 {
		c.Candidates = d.Candidates
	}
	if c.Xi == 0 {
		c.Xi = d.Xi
	}
	return c
}

// Validate checks c after defaults are applied.
func (c Config) Validate() error {
	if c.InitSamples < 1 {
		return fmt.Errorf("init samples must be positive, got %d", c.InitSamples)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d", c.Iterations)
	}
	if c.IterRelearn < 0 {
		return fmt.Errorf("relearn interval must not be negative, got %d", c.IterRelearn)
	}
	if c.Noise < 0 || math.IsNaN(c.Noise) {
		return fmt.Errorf("noise must not be negative, got %v", c.Noise)
	}
	switch c.InitMethod {
	case InitLatinHypercube, InitHalton, InitUniform:
	default:
		return fmt.Errorf("unknown init method %d", c.InitMethod)
	}
	if c.Candidates < 1 {
		return fmt.Errorf("candidates must be positive, got %d", c.Candidates)
	}
	return nil
}
