package runner

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtune/internal/dataset"
	"github.com/banshee-data/tagtune/internal/fsutil"
	"github.com/banshee-data/tagtune/internal/groundtruth"
	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/testutil"
	"github.com/banshee-data/tagtune/internal/timeutil"
	"github.com/banshee-data/tagtune/internal/tuning"
)

var testTime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func frames(prefix string, n int) []testutil.FrameSpec {
	var out []testutil.FrameSpec
	for i := 0; i < n; i++ {
		out = append(out, testutil.FrameSpec{
			Name: prefix + "_" + string(rune('0'+i)) + ".png", Width: 96, Height: 72,
			Tags: []testutil.TagSpec{{X: 48, Y: 36, Radius: 22, Angle: 0.3, Bits: testutil.Bits(i + 3)}},
		})
	}
	return out
}

func smallOptions(t *testing.T, data string, console io.Writer) Options {
	t.Helper()
	return Options{
		DataPath: data,
		Optimizer: optimizer.Config{
			InitSamples: 2,
			Iterations:  1,
			InitMethod:  optimizer.InitHalton,
			Seed:        7,
			Candidates:  16,
		},
		Workers: 2,
		Console: console,
		Sink:    func(io.Writer) monitoring.LogSink { return monitoring.ConsoleSink{} },
		Clock:   timeutil.NewMockClock(testTime),
	}
}

func writeSettings(t *testing.T, dir string, group string, s settings.Settings) {
	t.Helper()
	require.NoError(t, settings.NewStore(nil).Save(filepath.Join(dir, settings.FileNames[group]), s))
}

func readSettings(t *testing.T, path string) settings.Settings {
	t.Helper()
	s, err := settings.NewStore(nil).Load(path, settings.Settings{})
	require.NoError(t, err)
	return s
}

func TestRunOptimizeMean(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, filepath.Join(data, "a"), "a.tdat", frames("a", 2))
	testutil.WriteDataset(t, filepath.Join(data, "b"), "b.tdat", frames("b", 1))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	var console bytes.Buffer
	opts := smallOptions(t, data, &console)
	opts.OptimizeMean = true
	opts.Report = true

	r := New(nil, db)
	require.NoError(t, r.Run(context.Background(), opts))

	out := filepath.Join(data, testTime.Format(OutputTimeLayout))
	for _, name := range []string{LogFileName, "psettings.json", "lsettings.json", "esettings.json", "gsettings.json", settings.CombinedFileName, "localizer.html", "localizer.png", "gridfitter.png"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	state := r.State()
	assert.Equal(t, StatusComplete, state.Status)
	assert.Equal(t, []string{out}, state.Outputs)
	require.Len(t, state.Stages, 3)
	for i, s := range state.Stages {
		assert.Equal(t, tuning.PipelineOrder[i], s.Stage)
		assert.Equal(t, 3, s.Trials)
		assert.NotEmpty(t, s.RunID)
		require.NotNil(t, s.Result)
		assert.Len(t, s.Reports, 2)
	}

	combined, err := settings.NewStore(nil).LoadCombined(filepath.Join(out, settings.CombinedFileName))
	require.NoError(t, err)
	for _, g := range settings.Groups {
		assert.NotEmpty(t, combined[g], g)
	}
	assert.Equal(t, true, combined[settings.GroupPreprocessor][pipeline.ParamCombEnabled])

	runs, err := sqlite.NewRunStore(db).List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, run := range runs {
		assert.Equal(t, sqlite.StatusComplete, run.Status)
		assert.Equal(t, data, run.DataFolder)
		n, err := sqlite.NewTrialStore(db).Count(run.RunID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}

	assert.Contains(t, console.String(), "F2Score:")
	assert.Contains(t, console.String(), "F0.5Score:")
	assert.Contains(t, console.String(), "Avg.Hamming:")

	logData, err := os.ReadFile(filepath.Join(out, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "evaluated")
}

func TestRunLoadsExistingSettings(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "gt.tdat", frames("cam", 1))
	writeSettings(t, data, settings.GroupPreprocessor, settings.Settings{pipeline.ParamOptFrameSize: 200})
	writeSettings(t, data, settings.GroupLocalizer, settings.Settings{pipeline.ParamBinaryThreshold: 33})
	writeSettings(t, data, settings.GroupEllipseFitter, settings.Settings{pipeline.ParamThresholdVote: 900})
	writeSettings(t, data, settings.GroupGridFitter, settings.Settings{pipeline.ParamAdaptiveBlockSize: 21})

	var console bytes.Buffer
	r := New(nil, nil)
	require.NoError(t, r.Run(context.Background(), smallOptions(t, data, &console)))

	state := r.State()
	require.Len(t, state.Stages, 3)
	for _, s := range state.Stages {
		assert.NotEmpty(t, s.Loaded, s.Stage)
		assert.Nil(t, s.Result, s.Stage)
		assert.Empty(t, s.RunID)
	}
	assert.Contains(t, console.String(), "Using localizer settings from: "+filepath.Join(data, "lsettings.json"))

	out := filepath.Join(data, testTime.Format(OutputTimeLayout))
	l := readSettings(t, filepath.Join(out, "lsettings.json"))
	assert.Equal(t, 33, l.Int(pipeline.ParamBinaryThreshold, 0))
	assert.Equal(t, 100, l.Int(pipeline.ParamTagSize, 0))
	p := readSettings(t, filepath.Join(out, "psettings.json"))
	assert.Equal(t, 200, p.Int(pipeline.ParamOptFrameSize, 0))
	assert.True(t, p.Bool(pipeline.ParamCombEnabled, false))
	g := readSettings(t, filepath.Join(out, "gsettings.json"))
	assert.Equal(t, 21, g.Int(pipeline.ParamAdaptiveBlockSize, 0))
	assert.NoFileExists(t, filepath.Join(out, "gridfitter.html"))
}

func TestRunLocalizerNeedsBothFiles(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "gt.tdat", frames("cam", 1))
	writeSettings(t, data, settings.GroupPreprocessor, settings.Settings{pipeline.ParamOptFrameSize: 200})
	writeSettings(t, data, settings.GroupEllipseFitter, settings.Settings{})
	writeSettings(t, data, settings.GroupGridFitter, settings.Settings{})

	r := New(nil, nil)
	require.NoError(t, r.Run(context.Background(), smallOptions(t, data, io.Discard)))

	state := r.State()
	require.Len(t, state.Stages, 3)
	assert.Empty(t, state.Stages[0].Loaded)
	require.NotNil(t, state.Stages[0].Result)
	assert.Equal(t, 3, state.Stages[0].Trials)
	assert.NotEmpty(t, state.Stages[1].Loaded)
	assert.NotEmpty(t, state.Stages[2].Loaded)
}

func TestRunPerFile(t *testing.T) {
	data := t.TempDir()
	dir := filepath.Join(data, "day1")
	testutil.WriteDataset(t, dir, "first.tdat", frames("f", 1))
	testutil.WriteDataset(t, dir, "second.tdat", frames("s", 1))
	for _, g := range settings.Groups {
		writeSettings(t, dir, g, settings.Settings{})
	}

	r := New(nil, nil)
	require.NoError(t, r.Run(context.Background(), smallOptions(t, data, io.Discard)))

	base := filepath.Join(dir, testTime.Format(OutputTimeLayout))
	assert.Equal(t, []string{filepath.Join(base, "first"), filepath.Join(base, "second")}, r.State().Outputs)
	for _, out := range r.State().Outputs {
		assert.FileExists(t, filepath.Join(out, settings.CombinedFileName))
		assert.FileExists(t, filepath.Join(out, LogFileName))
	}
	assert.Len(t, r.State().Stages, 6)
}

type recordingFS struct {
	fsutil.OSFileSystem
	appended []string
}

func (f *recordingFS) OpenAppend(name string, perm os.FileMode) (io.WriteCloser, error) {
	f.appended = append(f.appended, name)
	return f.OSFileSystem.OpenAppend(name, perm)
}

func TestRunOpensLogThroughFileSystem(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "only.tdat", frames("o", 1))
	for _, g := range settings.Groups {
		writeSettings(t, data, g, settings.Settings{})
	}

	fsys := &recordingFS{}
	r := New(nil, nil)
	r.fs = fsys
	require.NoError(t, r.Run(context.Background(), smallOptions(t, data, io.Discard)))

	out := filepath.Join(data, testTime.Format(OutputTimeLayout))
	assert.Equal(t, []string{filepath.Join(out, LogFileName)}, fsys.appended)
	assert.FileExists(t, filepath.Join(out, LogFileName))
}

func TestRunInvalidDataPath(t *testing.T) {
	r := New(nil, nil)
	err := r.Run(context.Background(), smallOptions(t, filepath.Join(t.TempDir(), "missing"), io.Discard))
	assert.ErrorIs(t, err, dataset.ErrInvalidDataPath)

	state := r.State()
	assert.Equal(t, StatusError, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.NotNil(t, state.CompletedAt)
}

func TestRunBusy(t *testing.T) {
	r := New(nil, nil)
	r.state.Status = StatusRunning
	err := r.Run(context.Background(), smallOptions(t, t.TempDir(), io.Discard))
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRunCancelled(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "gt.tdat", frames("cam", 1))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, db)
	err = r.Run(ctx, smallOptions(t, data, io.Discard))
	assert.ErrorIs(t, err, context.Canceled)

	runs, err := sqlite.NewRunStore(db).List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
}

func TestRunLimitOverrides(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "gt.tdat", frames("cam", 1))
	writeSettings(t, data, settings.GroupEllipseFitter, settings.Settings{})
	writeSettings(t, data, settings.GroupGridFitter, settings.Settings{})

	opts := smallOptions(t, data, io.Discard)
	opts.Limits = map[string]map[string]tuning.Limits{
		tuning.StageLocalizer: {pipeline.ParamBinaryThreshold: {Min: 20, Max: 20}},
	}
	r := New(nil, nil)
	require.NoError(t, r.Run(context.Background(), opts))

	res := r.State().Stages[0].Result
	require.NotNil(t, res)
	assert.Equal(t, 20, res.Settings[settings.GroupLocalizer].Int(pipeline.ParamBinaryThreshold, 0))

	opts.Limits = map[string]map[string]tuning.Limits{
		tuning.StageLocalizer: {"no_such_parameter": {Min: 0, Max: 1}},
	}
	opts.Clock = timeutil.NewMockClock(testTime.Add(time.Second))
	err := New(nil, nil).Run(context.Background(), opts)
	assert.ErrorIs(t, err, tuning.ErrUnknownParameter)
}

func TestEvaluate(t *testing.T) {
	data := t.TempDir()
	testutil.WriteDataset(t, data, "gt.tdat", frames("cam", 2))

	var console bytes.Buffer
	opts := smallOptions(t, data, &console)
	b := settings.Bundle{settings.GroupLocalizer: settings.Settings{pipeline.ParamBinaryThreshold: 30}}

	results, err := New(nil, nil).Evaluate(context.Background(), opts, b)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, tuning.PipelineOrder[i], res.Stage)
		assert.True(t, res.Feasible)
	}
	assert.Equal(t, tuning.MetricScore, results[0].Measurement.Metric)
	assert.Equal(t, tuning.MetricDistance, results[2].Measurement.Metric)
	assert.Equal(t, 30, results[0].Settings[settings.GroupLocalizer].Int(pipeline.ParamBinaryThreshold, 0))
	assert.True(t, results[0].Settings[settings.GroupPreprocessor].Bool(pipeline.ParamCombEnabled, false))
	assert.Contains(t, console.String(), "Avg.Hamming:")
}

func TestPlan(t *testing.T) {
	task := func(path string) dataset.Task {
		return dataset.Task{Truth: &groundtruth.File{Path: path}}
	}
	tasks := []dataset.Task{task("/d/x/one.tdat"), task("/d/x/two.tdat"), task("/d/y/three.tdat")}

	t.Run("mean", func(t *testing.T) {
		jobs := plan(Options{DataPath: "/d", OptimizeMean: true}, tasks, "stamp")
		require.Len(t, jobs, 1)
		assert.Equal(t, "/d/stamp", jobs[0].outDir)
		assert.Equal(t, "/d", jobs[0].settingsDir)
		assert.Len(t, jobs[0].truths, 3)
		assert.Equal(t, tuning.AggregateFiles, jobs[0].aggregation)
	})

	t.Run("per file", func(t *testing.T) {
		jobs := plan(Options{DataPath: "/d"}, tasks, "stamp")
		require.Len(t, jobs, 3)
		assert.Equal(t, "/d/x/stamp/one", jobs[0].outDir)
		assert.Equal(t, "/d/x/stamp/two", jobs[1].outDir)
		assert.Equal(t, "/d/y/stamp", jobs[2].outDir)
		assert.Equal(t, "/d/y", jobs[2].settingsDir)
		assert.Equal(t, []string{"/d/y/three.tdat"}, jobs[2].truths)
	})
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, tuning.StageResult{
		Stage:       tuning.StageEllipseFitter,
		Query:       []float64{0.25, 1},
		Settings:    settings.Bundle{settings.GroupEllipseFitter: settings.Settings{"threshold_vote": 900}},
		Measurement: tuning.ScoreMeasurement(tuning.Score{FScore: 0.5, Recall: 0.25, Precision: 1}),
	})
	assert.Equal(t, "[2](0.25,1)\nellipsefitter: threshold_vote=900\nF0.5Score: 0.5\nRecall: 0.25\nPrecision: 1\n", buf.String())

	buf.Reset()
	printMeasurement(&buf, tuning.StageGridFitter, tuning.DistanceMeasurement(0.125))
	assert.Equal(t, "Avg.Hamming: 0.125\n", buf.String())
}

func TestStateIsACopy(t *testing.T) {
	r := New(nil, nil)
	r.state.Outputs = []string{"a"}
	s := r.State()
	s.Outputs[0] = "b"
	assert.Equal(t, "a", r.State().Outputs[0])
}

func TestTrialStatsSkipsWorstValues(t *testing.T) {
	trials := func(values ...float64) []optimizer.Trial {
		var out []optimizer.Trial
		for _, v := range values {
			out = append(out, optimizer.Trial{Value: v})
		}
		return out
	}

	mean, std := trialStats(trials(0.2, 1, 0.4, 1), tuning.WorstValue(tuning.MetricScore))
	assert.InDelta(t, 0.3, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(0.02), std, 1e-12)

	mean, std = trialStats(trials(2, math.MaxFloat64, 4), tuning.WorstValue(tuning.MetricDistance))
	assert.InDelta(t, 3.0, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2), std, 1e-12)

	mean, std = trialStats(trials(1, 1), tuning.WorstValue(tuning.MetricScore))
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = trialStats(trials(0.5), tuning.WorstValue(tuning.MetricScore))
	assert.Equal(t, 0.5, mean)
	assert.Zero(t, std)
}
