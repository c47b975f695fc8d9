package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/banshee-data/tagtune/internal/dataset"
	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// Evaluate scores b, typically a saved settings.json, on every stage without
// tuning anything. Each stage runs on the output of the previous ones. Stages
// whose groups are missing from b run with their defaults.
func (r *Runner) Evaluate(ctx context.Context, opts Options, b settings.Bundle) ([]tuning.StageResult, error) {
	tasks, err := dataset.Discover(r.fs, opts.DataPath)
	if err != nil {
		return nil, err
	}
	corpus, err := dataset.BuildCorpus(tasks, r.images)
	if err != nil {
		return nil, err
	}
	agg := tuning.AggregateItems
	if opts.OptimizeMean {
		agg = tuning.AggregateFiles
	}

	var out io.Writer = os.Stdout
	if opts.Console != nil {
		out = opts.Console
	}
	logger := monitoring.NewLogger(out, nil, opts.Debug)
	defer func() { _ = logger.Sync() }()

	var results []tuning.StageResult
	for i, name := range tuning.PipelineOrder {
		def, ok := r.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("stage %s is not registered", name)
		}
		obj, err := r.objective(opts, def, corpus, agg, zap.NewNop())
		if err != nil {
			return nil, err
		}
		full := obj.WithFixed(b)
		for _, g := range stageGroups[name] {
			full[g] = complete(g, full[g])
		}
		m, err := obj.Measure(ctx, full)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", name, err)
		}
		res := tuning.StageResult{Stage: name, Settings: full, Measurement: m, Feasible: true}
		results = append(results, res)
		logger.Info("evaluated", zap.String("stage", name), zap.Stringer("result", m))
		printMeasurement(out, name, m)

		if i == len(tuning.PipelineOrder)-1 {
			break
		}
		if corpus, err = obj.Produce(full); err != nil {
			return nil, fmt.Errorf("running %s: %w", name, err)
		}
		if name == tuning.StageEllipseFitter {
			corpus = corpus.Derive(dropEmpty)
		}
	}
	return results, nil
}
