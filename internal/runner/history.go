package runner

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// runConfig is the optimizer configuration stored with each run.
type runConfig struct {
	InitSamples int     `json:"n_init_samples"`
	Iterations  int     `json:"n_iterations"`
	IterRelearn int     `json:"n_iter_relearn"`
	Noise       float64 `json:"noise"`
	InitMethod  int     `json:"init_method"`
	Seed        int64   `json:"seed"`
	Workers     int     `json:"workers"`
	Aggregation string  `json:"aggregation"`
}

// History failures are logged and never stop a run.

func (r *Runner) startRun(j job, obj *tuning.Objective, cfg optimizer.Config, workers int, logger *zap.Logger) string {
	if r.runs == nil {
		return ""
	}
	raw, err := json.Marshal(runConfig{
		InitSamples: cfg.InitSamples,
		Iterations:  cfg.Iterations,
		IterRelearn: cfg.IterRelearn,
		Noise:       cfg.Noise,
		InitMethod:  cfg.InitMethod,
		Seed:        cfg.Seed,
		Workers:     workers,
		Aggregation: j.aggregation.String(),
	})
	if err != nil {
		logger.Warn("failed to encode run config", zap.Error(err))
	}
	run := &sqlite.Run{
		Stage:      obj.Stage(),
		DataFolder: j.name,
		Dimensions: obj.Dimensions(),
		Config:     raw,
	}
	if err := r.runs.Insert(run); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
		return ""
	}
	return run.RunID
}

func (r *Runner) recordTrial(runID string, t optimizer.Trial, logger *zap.Logger) {
	if r.trials == nil || runID == "" {
		return
	}
	err := r.trials.Insert(&sqlite.Trial{
		RunID:     runID,
		Iteration: t.Iteration,
		Phase:     t.Phase,
		Query:     t.X,
		Value:     t.Value,
		Best:      t.Best,
	})
	if err != nil {
		logger.Warn("failed to record trial", zap.Int("iteration", t.Iteration), zap.Error(err))
	}
}

func (r *Runner) completeRun(runID string, best float64, res tuning.StageResult, logger *zap.Logger) {
	if r.runs == nil || runID == "" {
		return
	}
	settingsJSON, err := json.Marshal(res.Settings)
	if err != nil {
		logger.Warn("failed to encode best settings", zap.Error(err))
	}
	measurementJSON, err := json.Marshal(res.Measurement)
	if err != nil {
		logger.Warn("failed to encode measurement", zap.Error(err))
	}
	if err := r.runs.Complete(runID, best, settingsJSON, measurementJSON); err != nil {
		logger.Warn("failed to complete run", zap.Error(err))
	}
}

func (r *Runner) failRun(runID string, cause error, logger *zap.Logger) {
	if r.runs == nil || runID == "" {
		return
	}
	if err := r.runs.Fail(runID, cause); err != nil {
		logger.Warn("failed to mark run as failed", zap.Error(err))
	}
}
