package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// DefaultConfigName is looked up in the data folder when no config is given.
const DefaultConfigName = "tagtune.toml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RunConfig is the optional configuration of a tuning run. Unset fields fall
// back to the defaults returned by the Get* methods; command line flags
// override both.
type RunConfig struct {
	Workers      *int    `toml:"workers,omitempty"`
	OptimizeMean *bool   `toml:"optimize_mean,omitempty"`
	Database     *string `toml:"db,omitempty"`
	Report       *bool   `toml:"report,omitempty"`

	DeepLocalizerModelPath *string `toml:"deeplocalizer_model_path,omitempty"`
	DeepLocalizerParamPath *string `toml:"deeplocalizer_param_path,omitempty"`

	Optimizer OptimizerConfig `toml:"optimizer"`

	// Limits overrides parameter domains per stage as "min:max" strings,
	// e.g. limits.gridfitter.adaptive_block_size = "5:41".
	Limits map[string]map[string]string `toml:"limits,omitempty"`
}

// OptimizerConfig mirrors optimizer.Config.
type OptimizerConfig struct {
	InitSamples *int     `toml:"n_init_samples,omitempty"`
	Iterations  *int     `toml:"n_iterations,omitempty"`
	IterRelearn *int     `toml:"n_iter_relearn,omitempty"`
	Noise       *float64 `toml:"noise,omitempty"`
	InitMethod  *int     `toml:"init_method,omitempty"`
	Seed        *int64   `toml:"seed,omitempty"`
	Candidates  *int     `toml:"candidates,omitempty"`
	Xi          *float64 `toml:"xi,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a TOML file.
// The file must have a .toml extension and be under 1MB.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".toml" {
		return nil, fmt.Errorf("config file must have .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *RunConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if err := c.OptimizerConfig().Validate(); err != nil {
		return err
	}
	for stage, limits := range c.Limits {
		for name, spec := range limits {
			if _, err := ParseLimits(spec); err != nil {
				return fmt.Errorf("limits.%s.%s: %w", stage, name, err)
			}
		}
	}
	return nil
}

// GetWorkers returns the number of evaluation workers, 0 meaning one per CPU.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetOptimizeMean reports whether all ground-truth files are tuned together.
func (c *RunConfig) GetOptimizeMean() bool {
	if c.OptimizeMean == nil {
		return false
	}
	return *c.OptimizeMean
}

// GetDatabase returns the run history database path. Empty disables it.
func (c *RunConfig) GetDatabase() string {
	if c.Database == nil {
		return ""
	}
	return *c.Database
}

// GetReport reports whether convergence charts are written.
func (c *RunConfig) GetReport() bool {
	if c.Report == nil {
		return true
	}
	return *c.Report
}

// GetDeepLocalizerModelPath returns the tag filter model file.
func (c *RunConfig) GetDeepLocalizerModelPath() string {
	if c.DeepLocalizerModelPath == nil {
		return ""
	}
	return *c.DeepLocalizerModelPath
}

// GetDeepLocalizerParamPath returns the tag filter parameter file.
func (c *RunConfig) GetDeepLocalizerParamPath() string {
	if c.DeepLocalizerParamPath == nil {
		return ""
	}
	return *c.DeepLocalizerParamPath
}

// SpaceOptions returns the options used to build default spaces.
func (c *RunConfig) SpaceOptions() tuning.SpaceOptions {
	model, params := c.GetDeepLocalizerModelPath(), c.GetDeepLocalizerParamPath()
	return tuning.SpaceOptions{
		DeepLocalizer: model != "" && params != "",
		ModelPath:     model,
		ParamPath:     params,
	}
}

// OptimizerConfig returns the optimizer settings with defaults filled in.
func (c *RunConfig) OptimizerConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	o := c.Optimizer
	if o.InitSamples != nil {
		cfg.InitSamples = *o.InitSamples
	}
	if o.Iterations != nil {
		cfg.Iterations = *o.Iterations
	}
	if o.IterRelearn != nil {
		cfg.IterRelearn = *o.IterRelearn
	}
	if o.Noise != nil {
		cfg.Noise = *o.Noise
	}
	if o.InitMethod != nil {
		cfg.InitMethod = *o.InitMethod
	}
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
	if o.Candidates != nil {
		cfg.Candidates = *o.Candidates
	}
	if o.Xi != nil {
		cfg.Xi = *o.Xi
	}
	return cfg
}

// StageLimits returns the parsed limit overrides of one stage.
func (c *RunConfig) StageLimits(stage string) (map[string]tuning.Limits, error) {
	specs := c.Limits[stage]
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]tuning.Limits, len(specs))
	for name, spec := range specs {
		lim, err := ParseLimits(spec)
		if err != nil {
			return nil, fmt.Errorf("limits.%s.%s: %w", stage, name, err)
		}
		out[name] = lim
	}
	return out, nil
}

// ParseLimits parses a "min:max" range.
func ParseLimits(spec string) (tuning.Limits, error) {
	lo, hi, ok := strings.Cut(spec, ":")
	if !ok {
		return tuning.Limits{}, fmt.Errorf("range %q must be min:max", spec)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return tuning.Limits{}, fmt.Errorf("invalid minimum in %q: %w", spec, err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return tuning.Limits{}, fmt.Errorf("invalid maximum in %q: %w", spec, err)
	}
	if min > max {
		return tuning.Limits{}, fmt.Errorf("range %q has min > max", spec)
	}
	return tuning.Limits{Min: min, Max: max}, nil
}
