// Package runner drives a complete tuning run: it discovers the annotated
// data, tunes the pipeline stages in order, and writes the resulting settings
// next to the data.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/tagtune/internal/dataset"
	"github.com/banshee-data/tagtune/internal/fsutil"
	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/security"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/timeutil"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// OutputTimeLayout names the output folder of a run.
const OutputTimeLayout = "2006-01-02 15:04:05"

// LogFileName is written in every output folder.
const LogFileName = "output.log"

// ErrBusy is returned when a run is started while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Status represents the current state of a run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Options configure a run.
type Options struct {
	// DataPath is searched recursively for ground truth files.
	DataPath  string
	Optimizer optimizer.Config
	// Workers evaluates ground truth files concurrently; 0 uses one per CPU.
	Workers int
	// OptimizeMean tunes every ground truth file at once on the mean of the
	// per-file scores. Otherwise each file is tuned on its own.
	OptimizeMean bool
	SpaceOptions tuning.SpaceOptions
	// Limits overrides parameter domains, keyed by stage then parameter.
	Limits map[string]map[string]tuning.Limits
	Report bool
	Debug  bool

	// Console receives log lines and summaries. Nil selects the process
	// streams.
	Console io.Writer
	// Sink captures the process output into the run log. Nil selects
	// monitoring.Capture.
	Sink func(log io.Writer) monitoring.LogSink
	// Clock stamps the output folder and times the stages. Nil selects the
	// wall clock.
	Clock timeutil.Clock
}

// StageSummary describes how one stage of one job ended.
type StageSummary struct {
	Job        string              `json:"job"`
	Stage      string              `json:"stage"`
	RunID      string              `json:"run_id,omitempty"`
	Loaded     []string            `json:"loaded,omitempty"`
	Result     *tuning.StageResult `json:"result,omitempty"`
	Trials     int                 `json:"trials"`
	Infeasible int64               `json:"infeasible"`
	Duration   time.Duration       `json:"duration"`
	Reports    []string            `json:"reports,omitempty"`
}

// State is a snapshot of the runner.
type State struct {
	Status       Status         `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CurrentJob   string         `json:"current_job,omitempty"`
	CurrentStage string         `json:"current_stage,omitempty"`
	Outputs      []string       `json:"outputs"`
	Stages       []StageSummary `json:"stages"`
	Error        string         `json:"error,omitempty"`
}

// Runner orchestrates tuning runs. It is safe to query State while Run is
// in progress.
type Runner struct {
	registry *tuning.StageRegistry
	runs     *sqlite.RunStore
	trials   *sqlite.TrialStore
	fs       fsutil.FileSystem
	images   *dataset.ImageCache

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
}

// New returns a runner for the stages in registry. db may be nil, in which
// case no history is recorded.
func New(registry *tuning.StageRegistry, db *sqlite.DB) *Runner {
	if registry == nil {
		registry = tuning.DefaultStageRegistry()
	}
	r := &Runner{
		registry: registry,
		fs:       fsutil.OSFileSystem{},
		images:   dataset.NewImageCache(),
		state:    State{Status: StatusIdle},
	}
	if db != nil {
		r.runs = sqlite.NewRunStore(db)
		r.trials = sqlite.NewTrialStore(db)
	}
	return r
}

// State returns a copy of the current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Outputs = append([]string(nil), r.state.Outputs...)
	s.Stages = append([]StageSummary(nil), r.state.Stages...)
	return s
}

// Stop cancels the run in progress.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) update(fn func(s *State)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

// job is one independent tuning problem: a set of ground truth files that
// share settings.
type job struct {
	name        string
	settingsDir string
	outDir      string
	truths      []string
	aggregation tuning.Aggregation
}

// plan splits the discovered tasks into jobs.
func plan(opts Options, tasks []dataset.Task, stamp string) []job {
	if opts.OptimizeMean {
		j := job{
			name:        opts.DataPath,
			settingsDir: opts.DataPath,
			outDir:      filepath.Join(opts.DataPath, stamp),
			aggregation: tuning.AggregateFiles,
		}
		for _, t := range tasks {
			j.truths = append(j.truths, t.Truth.Path)
		}
		return []job{j}
	}

	var jobs []job
	for _, f := range dataset.ByFolder(tasks) {
		base := filepath.Join(f.Dir, stamp)
		for _, t := range f.Tasks {
			out := base
			if len(f.Tasks) > 1 {
				out = filepath.Join(base, security.StemName(t.Truth.Path))
			}
			jobs = append(jobs, job{
				name:        t.Truth.Path,
				settingsDir: f.Dir,
				outDir:      out,
				truths:      []string{t.Truth.Path},
				aggregation: tuning.AggregateItems,
			})
		}
	}
	return jobs
}

func (opts Options) clock() timeutil.Clock {
	if opts.Clock != nil {
		return opts.Clock
	}
	return timeutil.RealClock{}
}

// Run tunes every stage for every job found under opts.DataPath. It returns
// dataset.ErrInvalidDataPath when there is nothing to tune.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	started := opts.clock().Now()
	r.cancel = cancel
	r.state = State{Status: StatusRunning, StartedAt: &started}
	r.mu.Unlock()
	defer cancel()

	err := r.run(ctx, opts, started)

	completed := opts.clock().Now()
	r.update(func(s *State) {
		s.CompletedAt = &completed
		s.CurrentJob, s.CurrentStage = "", ""
		if err != nil {
			s.Status = StatusError
			s.Error = err.Error()
		} else {
			s.Status = StatusComplete
		}
	})
	return err
}

func (r *Runner) run(ctx context.Context, opts Options, started time.Time) error {
	tasks, err := dataset.Discover(r.fs, opts.DataPath)
	if err != nil {
		return err
	}
	corpus, err := dataset.BuildCorpus(tasks, r.images)
	if err != nil {
		return err
	}
	monitoring.Logf("loaded %d images from %d ground truth files", corpus.Len(), len(tasks))

	for _, j := range plan(opts, tasks, started.Format(OutputTimeLayout)) {
		sub, err := corpus.Subset(j.truths...)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.name, err)
		}
		r.update(func(s *State) {
			s.CurrentJob = j.name
			s.Outputs = append(s.Outputs, j.outDir)
		})
		if err := r.runJob(ctx, opts, j, sub); err != nil {
			return fmt.Errorf("job %s: %w", j.name, err)
		}
	}
	return nil
}
