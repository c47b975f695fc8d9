package tuning

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/banshee-data/tagtune/internal/settings"
)

// StageResult is a measured configuration of one stage.
type StageResult struct {
	Stage       string          `json:"stage"`
	Query       []float64       `json:"query"`
	Settings    settings.Bundle `json:"settings"`
	Measurement Measurement     `json:"measurement"`
	Feasible    bool            `json:"feasible"`
}

// Loss is the minimized value of r.
func (r StageResult) Loss() float64 {
	if !r.Feasible {
		return WorstValue(r.Measurement.Metric)
	}
	return r.Measurement.Loss()
}

// ObjectiveConfig assembles an Objective.
type ObjectiveConfig struct {
	Stage  string
	Space  *Space
	Guard  *Guard
	Fixed  settings.Bundle
	Corpus *Corpus
	Runner RunnerFactory
	Metric Metric
	// Workers above 1 evaluates ground truth partitions concurrently; 0 uses
	// one per CPU.
	Workers     int
	Aggregation Aggregation
	Logger      *zap.Logger
}

// Objective turns a normalized query into a loss by running one stage over
// a corpus. Its parameter space is frozen at construction.
type Objective struct {
	stage       string
	space       *Space
	guard       *Guard
	fixed       settings.Bundle
	corpus      *Corpus
	eval        *CorpusEvaluator
	metric      Metric
	aggregation Aggregation
	logger      *zap.Logger

	calls      atomic.Int64
	infeasible atomic.Int64
}

// NewObjective validates cfg and returns the objective.
func NewObjective(cfg ObjectiveConfig) (*Objective, error) {
	if cfg.Space == nil || cfg.Space.Dimensions() == 0 {
		return nil, fmt.Errorf("objective %s: empty parameter space", cfg.Stage)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("objective %s: no stage runner", cfg.Stage)
	}
	if cfg.Corpus == nil || cfg.Corpus.Len() == 0 {
		return nil, fmt.Errorf("objective %s: %w", cfg.Stage, ErrEmptyCorpus)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Space.Freeze()
	return &Objective{
		stage:       cfg.Stage,
		space:       cfg.Space,
		guard:       cfg.Guard,
		fixed:       cfg.Fixed.Clone(),
		corpus:      cfg.Corpus,
		eval:        NewCorpusEvaluator(cfg.Runner, cfg.Workers),
		metric:      cfg.Metric,
		aggregation: cfg.Aggregation,
		logger:      logger.With(zap.String("stage", cfg.Stage)),
	}, nil
}

// NewStageObjective builds the objective of a registered stage with its
// default space, rules and fixed settings. A non-nil space replaces the
// default one.
func NewStageObjective(def StageDefinition, opts SpaceOptions, space *Space, corpus *Corpus, workers int, agg Aggregation, logger *zap.Logger) (*Objective, error) {
	if space == nil {
		space = def.Space(opts)
	}
	guard := NewGuard()
	if def.Rules != nil {
		for _, r := range def.Rules() {
			guard.Add(r)
		}
	}
	var fixed settings.Bundle
	if def.Fixed != nil {
		fixed = def.Fixed(opts)
	}
	return NewObjective(ObjectiveConfig{
		Stage:       def.Name,
		Space:       space,
		Guard:       guard,
		Fixed:       fixed,
		Corpus:      corpus,
		Runner:      def.NewRunner,
		Metric:      def.Metric,
		Workers:     workers,
		Aggregation: agg,
		Logger:      logger,
	})
}

// Stage returns the stage name.
func (o *Objective) Stage() string { return o.stage }

// Space returns the frozen parameter space.
func (o *Objective) Space() *Space { return o.space }

// Dimensions returns the query length.
func (o *Objective) Dimensions() int { return o.space.Dimensions() }

// Worst returns the loss reported for infeasible queries.
func (o *Objective) Worst() float64 { return WorstValue(o.metric) }

// Calls returns how many queries were evaluated, infeasible ones included.
func (o *Objective) Calls() int64 { return o.calls.Load() }

// Infeasible returns how many queries were rejected by the guard.
func (o *Objective) Infeasible() int64 { return o.infeasible.Load() }

// Materialize maps query to the complete settings the stage is run with.
func (o *Objective) Materialize(query []float64) (settings.Bundle, error) {
	mapped, err := o.space.Map(query)
	if err != nil {
		return nil, err
	}
	b := o.fixed.Clone()
	b.Merge(mapped)
	return b, nil
}

// Feasible reports whether query passes the guard.
func (o *Objective) Feasible(query []float64) bool {
	b, err := o.Materialize(query)
	if err != nil {
		return false
	}
	return o.guard.Check(b)
}

// Measure runs the stage with b over the corpus and aggregates.
func (o *Objective) Measure(ctx context.Context, b settings.Bundle) (Measurement, error) {
	per, err := o.eval.Run(ctx, o.corpus, b)
	if err != nil {
		return Measurement{}, err
	}
	return Aggregate(per, o.aggregation)
}

// Result maps, checks and measures query.
func (o *Objective) Result(ctx context.Context, query []float64) (StageResult, error) {
	res := StageResult{Stage: o.stage, Query: append([]float64(nil), query...), Measurement: Measurement{Metric: o.metric}}
	b, err := o.Materialize(query)
	if err != nil {
		return res, err
	}
	res.Settings = b
	if v := o.guard.Violations(b); len(v) > 0 {
		o.logger.Debug("infeasible query", zap.Strings("violations", v))
		return res, nil
	}
	res.Feasible = true
	m, err := o.Measure(ctx, b)
	if err != nil {
		return res, err
	}
	res.Measurement = m
	return res, nil
}

// Evaluate returns the loss of query: 1-F for detection stages and the
// decode distance for the grid stage. Infeasible queries return Worst
// without touching the corpus.
func (o *Objective) Evaluate(ctx context.Context, query []float64) (float64, error) {
	n := o.calls.Add(1)
	res, err := o.Result(ctx, query)
	if err != nil {
		return o.Worst(), err
	}
	if !res.Feasible {
		o.infeasible.Add(1)
		return o.Worst(), nil
	}
	loss := res.Loss()
	if math.IsNaN(loss) {
		loss = o.Worst()
	}
	o.logger.Info("evaluated",
		zap.Int64("call", n),
		zap.String("settings", res.Settings.Format()),
		zap.Stringer("result", res.Measurement),
		zap.Float64("loss", loss))
	return loss, nil
}

// Produce runs the stage with b and returns the corpus carrying its output,
// ready to be handed to the next stage.
func (o *Objective) Produce(b settings.Bundle) (*Corpus, error) {
	return o.eval.Produce(o.corpus, b)
}

// WithFixed returns b on top of the stage's fixed settings. Values in b win.
func (o *Objective) WithFixed(b settings.Bundle) settings.Bundle {
	out := o.fixed.Clone()
	out.Merge(b)
	return out
}
