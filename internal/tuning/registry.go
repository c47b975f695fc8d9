package tuning

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/tagtune/internal/settings"
)

// StageDefinition describes how to tune one pipeline stage.
type StageDefinition struct {
	Name        string
	Description string
	Metric      Metric
	// Space builds the default parameter space.
	Space func(opts SpaceOptions) *Space
	// Rules builds the default feasibility rules.
	Rules func() []Rule
	// Fixed returns settings applied under every query, if any.
	Fixed     func(opts SpaceOptions) settings.Bundle
	NewRunner RunnerFactory
}

// StageInfo summarises a registered stage.
type StageInfo struct {
	Name        string
	Description string
	Metric      Metric
	Dimensions  int
}

// StageRegistry maps stage names to definitions.
type StageRegistry struct {
	mu     sync.RWMutex
	stages map[string]StageDefinition
}

// NewStageRegistry returns an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{stages: make(map[string]StageDefinition)}
}

// Register adds def, replacing any definition with the same name.
func (r *StageRegistry) Register(def StageDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if def.Space == nil || def.NewRunner == nil {
		return fmt.Errorf("stage %s: space and runner are required", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[def.Name] = def
	return nil
}

// Get returns the definition registered under name.
func (r *StageRegistry) Get(name string) (StageDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.stages[name]
	return def, ok
}

// List returns all registered stages sorted by name.
func (r *StageRegistry) List(opts SpaceOptions) []StageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageInfo, 0, len(r.stages))
	for _, def := range r.stages {
		out = append(out, StageInfo{
			Name:        def.Name,
			Description: def.Description,
			Metric:      def.Metric,
			Dimensions:  def.Space(opts).Dimensions(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultStageRegistry returns a registry holding the three pipeline stages.
func DefaultStageRegistry() *StageRegistry {
	r := NewStageRegistry()
	_ = r.Register(StageDefinition{
		Name:        StageLocalizer,
		Description: "preprocessor and localizer, scored by F2 of the detected regions",
		Metric:      MetricScore,
		Space:       DefaultLocalizerSpace,
		Rules:       DefaultLocalizerRules,
		Fixed:       LocalizerFixed,
		NewRunner:   NewLocalizerRunner,
	})
	_ = r.Register(StageDefinition{
		Name:        StageEllipseFitter,
		Description: "ellipse fitter on localizer output, scored by F0.5 of the fitted outlines",
		Metric:      MetricScore,
		Space:       DefaultEllipseFitterSpace,
		Rules:       DefaultEllipseFitterRules,
		NewRunner:   NewEllipseFitterRunner,
	})
	_ = r.Register(StageDefinition{
		Name:        StageGridFitter,
		Description: "grid fitter and decoder on ellipse fitter output, scored by mean bit distance",
		Metric:      MetricDistance,
		Space:       DefaultGridFitterSpace,
		NewRunner:   NewGridFitterRunner,
	})
	return r
}
