// Command tagtune tunes the settings of the tag detection pipeline against
// annotated images with Bayesian optimization.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/tagtune/internal/config"
	"github.com/banshee-data/tagtune/internal/dataset"
	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/optimizer"
	"github.com/banshee-data/tagtune/internal/runner"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/tuning"
	"github.com/banshee-data/tagtune/internal/version"
)

// cliFlags holds the values of the shared flags. Values only override the
// run config when the flag was given.
type cliFlags struct {
	initSamples  int
	iterations   int
	iterRelearn  int
	optimizeMean bool
	modelPath    string
	paramPath    string
	configPath   string
	workers      int
	seed         int64
	dbPath       string
	report       bool
	debug        bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:   "tagtune <data>",
		Short: "tagtune - tune the tag pipeline on annotated images",
		Long: `tagtune searches the settings of the localizer, ellipse fitter and grid fitter
that best reproduce the ground truth found under the data folder. The results
are written to a time-stamped folder next to the data.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTune(cmd, f, args[0])
		},
	}

	f.register(root)
	root.AddCommand(newEvaluateCmd(f), newHistoryCmd(f), newStagesCmd(f), newVersionCmd())
	return root
}

// register adds the shared flags to cmd and its subcommands.
func (f *cliFlags) register(cmd *cobra.Command) {
	d := optimizer.DefaultConfig()
	pf := cmd.PersistentFlags()
	pf.IntVar(&f.initSamples, "n_init_samples", d.InitSamples, "initial design size")
	pf.IntVar(&f.iterations, "n_iterations", d.Iterations, "optimizer iterations after the initial design")
	pf.IntVar(&f.iterRelearn, "n_iter_relearn", d.IterRelearn, "iterations between surrogate relearning")
	pf.BoolVar(&f.optimizeMean, "optimize_mean", false, "tune all ground truth files together on their mean score")
	pf.StringVar(&f.modelPath, "deeplocalizer_model_path", "", "tag filter model file")
	pf.StringVar(&f.paramPath, "deeplocalizer_param_path", "", "tag filter parameter file")
	pf.StringVar(&f.configPath, "config", "", "run config (TOML); defaults to <data>/"+config.DefaultConfigName+" if present")
	pf.IntVar(&f.workers, "workers", 0, "ground truth files evaluated concurrently (0 = one per CPU)")
	pf.Int64Var(&f.seed, "seed", d.Seed, "optimizer random seed")
	pf.StringVar(&f.dbPath, "db", "", "run history database")
	pf.BoolVar(&f.report, "report", true, "write convergence charts")
	pf.BoolVar(&f.debug, "debug", false, "debug logging")
}

// loadConfig reads the run config, if any, and applies the flags that were
// set on the command line.
func loadConfig(cmd *cobra.Command, f *cliFlags, data string) (*config.RunConfig, error) {
	path := f.configPath
	if path == "" && data != "" {
		candidate := filepath.Join(data, config.DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg := config.EmptyRunConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadRunConfig(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("n_init_samples") {
		cfg.Optimizer.InitSamples = &f.initSamples
	}
	if flags.Changed("n_iterations") {
		cfg.Optimizer.Iterations = &f.iterations
	}
	if flags.Changed("n_iter_relearn") {
		cfg.Optimizer.IterRelearn = &f.iterRelearn
	}
	if flags.Changed("seed") {
		cfg.Optimizer.Seed = &f.seed
	}
	if flags.Changed("optimize_mean") {
		cfg.OptimizeMean = &f.optimizeMean
	}
	if flags.Changed("deeplocalizer_model_path") {
		cfg.DeepLocalizerModelPath = &f.modelPath
	}
	if flags.Changed("deeplocalizer_param_path") {
		cfg.DeepLocalizerParamPath = &f.paramPath
	}
	if flags.Changed("workers") {
		cfg.Workers = &f.workers
	}
	if flags.Changed("db") {
		cfg.Database = &f.dbPath
	}
	if flags.Changed("report") {
		cfg.Report = &f.report
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildOptions turns a run config into runner options for data.
func buildOptions(cfg *config.RunConfig, data string, debug bool) (runner.Options, error) {
	opts := runner.Options{
		DataPath:     data,
		Optimizer:    cfg.OptimizerConfig(),
		Workers:      cfg.GetWorkers(),
		OptimizeMean: cfg.GetOptimizeMean(),
		SpaceOptions: cfg.SpaceOptions(),
		Report:       cfg.GetReport(),
		Debug:        debug,
	}
	for _, stage := range tuning.PipelineOrder {
		lim, err := cfg.StageLimits(stage)
		if err != nil {
			return opts, err
		}
		if lim != nil {
			if opts.Limits == nil {
				opts.Limits = make(map[string]map[string]tuning.Limits)
			}
			opts.Limits[stage] = lim
		}
	}
	for stage := range cfg.Limits {
		if _, ok := tuning.DefaultStageRegistry().Get(stage); !ok {
			return opts, fmt.Errorf("limits given for unknown stage %q", stage)
		}
	}
	return opts, nil
}

func checkDataPath(data string) error {
	info, err := os.Stat(data)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", dataset.ErrInvalidDataPath, data)
	}
	return nil
}

func openDB(path string) (*sqlite.DB, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return db, nil
}

func runTune(cmd *cobra.Command, f *cliFlags, data string) error {
	if err := checkDataPath(data); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, f, data)
	if err != nil {
		return err
	}
	opts, err := buildOptions(cfg, data, f.debug)
	if err != nil {
		return err
	}
	db, err := openDB(cfg.GetDatabase())
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(tuning.DefaultStageRegistry(), db)
	if err := r.Run(ctx, opts); err != nil {
		return err
	}
	for _, out := range r.State().Outputs {
		fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", out)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	logger := monitoring.NewLogger(os.Stderr, nil, false)
	defer func() { _ = logger.Sync() }()
	monitoring.UseZap(logger)

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, dataset.ErrInvalidDataPath) {
			fmt.Fprintln(os.Stderr, "Invalid input data path.")
		}
		logger.Error("tagtune failed", zap.Error(err))
		os.Exit(1)
	}
}
