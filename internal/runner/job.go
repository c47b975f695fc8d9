package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/report"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// stageGroups lists the settings groups each stage tunes.
var stageGroups = map[string][]string{
	tuning.StageLocalizer:     {settings.GroupPreprocessor, settings.GroupLocalizer},
	tuning.StageEllipseFitter: {settings.GroupEllipseFitter},
	tuning.StageGridFitter:    {settings.GroupGridFitter},
}

var groupDefaults = map[string]func() settings.Settings{
	settings.GroupPreprocessor:  pipeline.DefaultPreprocessorSettings,
	settings.GroupLocalizer:     pipeline.DefaultLocalizerSettings,
	settings.GroupEllipseFitter: pipeline.DefaultEllipseFitterSettings,
	settings.GroupGridFitter:    pipeline.DefaultGridFitterSettings,
}

// complete returns s on top of the defaults of group.
func complete(group string, s settings.Settings) settings.Settings {
	out := settings.Settings{}
	if d, ok := groupDefaults[group]; ok {
		out = d()
	}
	out.Merge(s)
	return out
}

func dropEmpty(it tuning.Item) []pipeline.Tag {
	return pipeline.DropEmpty(it.Tags)
}

// objective builds the objective of def over corpus, applying any configured
// limit overrides to its default space.
func (r *Runner) objective(opts Options, def tuning.StageDefinition, corpus *tuning.Corpus, agg tuning.Aggregation, logger *zap.Logger) (*tuning.Objective, error) {
	space := def.Space(opts.SpaceOptions)
	if lim := opts.Limits[def.Name]; len(lim) > 0 {
		var err error
		if space, err = space.WithLimits(lim); err != nil {
			return nil, fmt.Errorf("limits for %s: %w", def.Name, err)
		}
	}
	return tuning.NewStageObjective(def, opts.SpaceOptions, space, corpus, opts.Workers, agg, logger)
}

// runJob tunes the stages of one job in pipeline order. Each stage is tuned
// on the output of the stages before it, produced with their final settings.
func (r *Runner) runJob(ctx context.Context, opts Options, j job, corpus *tuning.Corpus) error {
	if err := r.fs.MkdirAll(j.outDir, 0o755); err != nil {
		return fmt.Errorf("unable to create output directory %s: %w", j.outDir, err)
	}
	logFile, err := r.fs.OpenAppend(filepath.Join(j.outDir, LogFileName), 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer logFile.Close()

	var console io.Writer = os.Stdout
	if opts.Console != nil {
		console = opts.Console
	}
	logger := monitoring.NewLogger(console, logFile, opts.Debug).With(zap.String("job", j.name))
	defer func() { _ = logger.Sync() }()
	prev := monitoring.Logf
	monitoring.UseZap(logger)
	defer monitoring.SetLogger(prev)

	capture := opts.Sink
	if capture == nil {
		capture = monitoring.Capture
	}
	sink := capture(logFile)
	defer func() {
		if err := sink.Stop(); err != nil {
			logger.Warn("failed to stop output capture", zap.Error(err))
		}
	}()

	// Summaries go through the captured stream so they land in the log too.
	var out io.Writer = os.Stdout
	if opts.Console != nil {
		out = opts.Console
	}

	logger.Info("tuning",
		zap.String("output", j.outDir),
		zap.Int("ground_truth_files", len(corpus.Partitions)),
		zap.Int("images", corpus.Len()))

	store := settings.NewStore(r.fs)
	existing := store.Existing(j.settingsDir)
	current := settings.Bundle{}

	for i, name := range tuning.PipelineOrder {
		def, ok := r.registry.Get(name)
		if !ok {
			return fmt.Errorf("stage %s is not registered", name)
		}
		r.update(func(s *State) { s.CurrentStage = name })

		obj, err := r.objective(opts, def, corpus, j.aggregation, logger)
		if err != nil {
			return err
		}
		summary := StageSummary{Job: j.name, Stage: name}

		var tuned settings.Bundle
		if paths, ok := presentFiles(existing, stageGroups[name]); ok {
			tuned, err = loadStage(store, obj, stageGroups[name], paths, out)
			summary.Loaded = paths
		} else {
			tuned, err = r.optimizeStage(ctx, opts, j, obj, out, logger, &summary)
		}
		if err != nil {
			return err
		}

		stage := settings.Bundle{}
		for _, g := range stageGroups[name] {
			stage[g] = complete(g, tuned[g])
		}
		current.Merge(stage)
		if err := store.SaveStageFiles(j.outDir, stage); err != nil {
			return err
		}
		r.update(func(s *State) { s.Stages = append(s.Stages, summary) })

		if i == len(tuning.PipelineOrder)-1 {
			break
		}
		next, err := obj.Produce(obj.WithFixed(current))
		if err != nil {
			return fmt.Errorf("running %s: %w", name, err)
		}
		if name == tuning.StageEllipseFitter {
			next = next.Derive(dropEmpty)
		}
		corpus = next
	}

	combined := filepath.Join(j.outDir, settings.CombinedFileName)
	if err := store.SaveCombined(combined, current); err != nil {
		return err
	}
	logger.Info("settings written", zap.String("path", combined))
	return nil
}

// presentFiles returns the settings files of groups, in group order, when
// every one of them exists.
func presentFiles(existing map[string]string, groups []string) ([]string, bool) {
	paths := make([]string, 0, len(groups))
	for _, g := range groups {
		p, ok := existing[g]
		if !ok {
			return nil, false
		}
		paths = append(paths, p)
	}
	return paths, true
}

// loadStage reads stage settings from disk instead of tuning them. File
// values win over the stage's fixed settings, which win over defaults.
func loadStage(store *settings.Store, obj *tuning.Objective, groups, paths []string, out io.Writer) (settings.Bundle, error) {
	fixed := obj.WithFixed(settings.Bundle{})
	b := settings.Bundle{}
	for i, g := range groups {
		s, err := store.Load(paths[i], complete(g, fixed[g]))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Using %s settings from: %s\n", g, paths[i])
		fmt.Fprintf(out, "%s: %s\n", g, s.Format())
		b[g] = s
	}
	return b, nil
}

// optimizeStage searches the space of obj and returns the settings of the
// best point found.
func (r *Runner) optimizeStage(ctx context.Context, opts Options, j job, obj *tuning.Objective, out io.Writer, logger *zap.Logger, sum *StageSummary) (settings.Bundle, error) {
	start := opts.clock().Now()
	cfg := opts.Optimizer
	cfg.Feasible = obj.Feasible

	runID := r.startRun(j, obj, cfg, opts.Workers, logger)
	sum.RunID = runID
	var points []report.Point
	cfg.Observer = func(t optimizer.Trial) {
		points = append(points, report.Point{Iteration: t.Iteration, Phase: t.Phase, Value: t.Value, Best: t.Best})
		r.recordTrial(runID, t, logger)
	}

	logger.Info("optimizing",
		zap.String("stage", obj.Stage()),
		zap.Int("dimensions", obj.Dimensions()))

	opt, err := optimizer.New(obj.Dimensions(), cfg)
	if err != nil {
		r.failRun(runID, err, logger)
		return nil, fmt.Errorf("optimizer for %s: %w", obj.Stage(), err)
	}
	res, err := opt.Optimize(ctx, obj.Evaluate)
	sum.Trials = len(res.Trials)
	sum.Infeasible = obj.Infeasible()
	if err != nil {
		r.failRun(runID, err, logger)
		return nil, fmt.Errorf("optimizing %s: %w", obj.Stage(), err)
	}

	best, err := obj.Result(ctx, res.BestX)
	if err != nil {
		r.failRun(runID, err, logger)
		return nil, fmt.Errorf("evaluating best %s point: %w", obj.Stage(), err)
	}
	sum.Result = &best
	sum.Duration = opts.clock().Since(start)
	printResult(out, best)
	r.completeRun(runID, res.BestValue, best, logger)

	mean, std := trialStats(res.Trials, obj.Worst())
	logger.Info("stage complete",
		zap.String("stage", obj.Stage()),
		zap.Int("trials", sum.Trials),
		zap.Int64("infeasible", sum.Infeasible),
		zap.Float64("best", res.BestValue),
		zap.Float64("mean", mean),
		zap.Float64("stddev", std),
		zap.Duration("elapsed", sum.Duration))

	if opts.Report {
		files, err := report.Write(j.outDir, obj.Stage(), report.Series{Title: obj.Stage(), Subtitle: j.name, Points: points})
		if err != nil {
			logger.Warn("failed to write report", zap.Error(err))
		} else {
			sum.Reports = []string{files.HTML, files.PNG}
		}
	}
	return best.Settings, nil
}

// trialStats summarizes the trial values better than worst, the value
// reported for infeasible queries.
func trialStats(trials []optimizer.Trial, worst float64) (mean, std float64) {
	values := make([]float64, 0, len(trials))
	for _, t := range trials {
		if t.Value < worst {
			values = append(values, t.Value)
		}
	}
	if len(values) == 0 {
		return 0, 0
	}
	if len(values) == 1 {
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}
