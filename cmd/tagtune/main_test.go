package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtune/internal/dataset"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/testutil"
	"github.com/banshee-data/tagtune/internal/tuning"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func parsed(t *testing.T, args ...string) (*cobra.Command, *cliFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	f := &cliFlags{}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, f
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tagtune "), out)
}

func TestRootRequiresDataPath(t *testing.T) {
	_, _, err := execute(t)
	require.Error(t, err)
}

func TestRootInvalidDataPath(t *testing.T) {
	_, _, err := execute(t, filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, dataset.ErrInvalidDataPath)
}

func TestStagesCommand(t *testing.T) {
	out, _, err := execute(t, "stages")
	require.NoError(t, err)
	for _, stage := range tuning.PipelineOrder {
		assert.Contains(t, out, stage)
	}
	assert.NotContains(t, out, "adaptive_block_size")

	out, _, err = execute(t, "stages", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "gridfitter.adaptive_block_size")
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd, f := parsed(t)
	cfg, err := loadConfig(cmd, f, t.TempDir())
	require.NoError(t, err)

	opts := cfg.OptimizerConfig()
	assert.Equal(t, 100, opts.InitSamples)
	assert.Equal(t, 500, opts.Iterations)
	assert.Equal(t, 25, opts.IterRelearn)
	assert.False(t, cfg.GetOptimizeMean())
	assert.True(t, cfg.GetReport())
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(data, "tagtune.toml"), []byte(`
workers = 3
optimize_mean = true

[optimizer]
n_iterations = 7
n_init_samples = 9
`), 0o644))

	cmd, f := parsed(t, "--workers=5", "--n_init_samples=3", "--report=false")
	cfg, err := loadConfig(cmd, f, data)
	require.NoError(t, err)

	opts := cfg.OptimizerConfig()
	assert.Equal(t, 5, cfg.GetWorkers())
	assert.Equal(t, 3, opts.InitSamples)
	assert.Equal(t, 7, opts.Iterations)
	assert.Equal(t, 25, opts.IterRelearn)
	assert.True(t, cfg.GetOptimizeMean())
	assert.False(t, cfg.GetReport())
}

func TestLoadConfigZeroIterationsFlag(t *testing.T) {
	cmd, f := parsed(t, "--n_iterations=0")
	cfg, err := loadConfig(cmd, f, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.OptimizerConfig().Iterations)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("[optimizer]\nseed = 99\n"), 0o644))

	cmd, f := parsed(t, "--config", path)
	cfg, err := loadConfig(cmd, f, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.OptimizerConfig().Seed)
}

func TestLoadConfigRejectsInvalidFlags(t *testing.T) {
	cmd, f := parsed(t, "--workers=-1")
	_, err := loadConfig(cmd, f, "")
	require.Error(t, err)
}

func TestBuildOptionsLimits(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "known stage", body: "[limits.gridfitter]\nadaptive_block_size = \"5:41\"\n"},
		{name: "unknown stage", body: "[limits.decoder]\nfoo = \"1:2\"\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			cmd, f := parsed(t, "--config", path)
			cfg, err := loadConfig(cmd, f, "")
			require.NoError(t, err)

			opts, err := buildOptions(cfg, "data", false)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tuning.Limits{Min: 5, Max: 41}, opts.Limits[tuning.StageGridFitter]["adaptive_block_size"])
			assert.Equal(t, "data", opts.DataPath)
		})
	}
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "history")
	require.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	run := &sqlite.Run{Stage: tuning.StageLocalizer, DataFolder: "/data/a", Dimensions: 4}
	require.NoError(t, sqlite.NewRunStore(db).Insert(run))
	require.NoError(t, sqlite.NewTrialStore(db).Insert(&sqlite.Trial{
		RunID: run.RunID, Iteration: 0, Phase: "init", Query: []float64{0.5, 0.25}, Value: 0.4, Best: 0.4,
	}))
	require.NoError(t, db.Close())

	out, _, err := execute(t, "history", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, run.RunID)
	assert.Contains(t, out, sqlite.StatusRunning)
	assert.Contains(t, out, "/data/a")

	out, _, err = execute(t, "history", "--db", path, run.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "1 trials")
	assert.Contains(t, out, "0.5000 0.2500")

	_, _, err = execute(t, "history", "--db", path, "no-such-run")
	require.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestEvaluateCommand(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, filepath.Join(data, "a"), "a.tdat", []testutil.FrameSpec{{
		Name: "a_0.png", Width: 96, Height: 72,
		Tags: []testutil.TagSpec{{X: 48, Y: 36, Radius: 22, Angle: 0.3, Bits: testutil.Bits(5)}},
	}})
	b := settings.Bundle{settings.GroupGridFitter: settings.Settings{"adaptive_block_size": 19}}
	require.NoError(t, settings.NewStore(nil).SaveCombined(filepath.Join(data, settings.CombinedFileName), b))

	out, console, err := execute(t, "evaluate", data, "--json", "--workers=1")
	require.NoError(t, err)

	var results []tuning.StageResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, len(tuning.PipelineOrder))
	for i, res := range results {
		assert.Equal(t, tuning.PipelineOrder[i], res.Stage)
		assert.True(t, res.Feasible)
	}
	assert.EqualValues(t, 19, results[2].Settings.Group(settings.GroupGridFitter).Int("adaptive_block_size", 0))
	assert.Contains(t, console, "F2Score:")
}

func TestEvaluateMissingSettings(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, filepath.Join(data, "a"), "a.tdat", []testutil.FrameSpec{{Name: "a_0.png", Width: 64, Height: 64}})

	_, _, err := execute(t, "evaluate", data)
	require.ErrorIs(t, err, os.ErrNotExist)
}
