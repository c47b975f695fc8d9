package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/tagtune/internal/fsutil"
	"github.com/banshee-data/tagtune/internal/runner"
	"github.com/banshee-data/tagtune/internal/settings"
	"github.com/banshee-data/tagtune/internal/storage/sqlite"
	"github.com/banshee-data/tagtune/internal/tuning"
)

func newEvaluateCmd(f *cliFlags) *cobra.Command {
	var settingsPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "evaluate <data>",
		Short: "Score saved settings on the annotated images without tuning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := args[0]
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
			if asJSON {
				opts.Console = cmd.ErrOrStderr()
			} else {
				opts.Console = cmd.OutOrStdout()
			}

			path := settingsPath
			if path == "" {
				path = filepath.Join(data, "settings.json")
			}
			b, err := settings.NewStore(fsutil.OSFileSystem{}).LoadCombined(path)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			results, err := runner.New(nil, nil).Evaluate(ctx, opts, b)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&settingsPath, "settings", "", "combined settings file (default <data>/settings.json)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stage results as JSON")
	return cmd
}

func newHistoryCmd(f *cliFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run_id]",
		Short: "List recorded optimization runs, or the trials of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, "")
			if err != nil {
				return err
			}
			path := cfg.GetDatabase()
			if path == "" {
				return errors.New("history needs a database, set --db")
			}
			db, err := openDB(path)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				return printTrials(cmd, db, args[0])
			}
			runs, err := sqlite.NewRunStore(db).List(limit)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs listed (0 = all)")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []*sqlite.Run) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTAGE\tSTATUS\tBEST\tSTARTED\tDATA")
	for _, r := range runs {
		best := "-"
		if r.BestValue != nil {
			best = fmt.Sprintf("%.6g", *r.BestValue)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Stage, r.Status, best, r.StartedAt.Local().Format(time.DateTime), r.DataFolder)
	}
	return w.Flush()
}

func printTrials(cmd *cobra.Command, db *sqlite.DB, runID string) error {
	run, err := sqlite.NewRunStore(db).Get(runID)
	if err != nil {
		return err
	}
	trials, err := sqlite.NewTrialStore(db).ListByRun(runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s), %d trials\n", run.Stage, run.RunID, run.Status, len(trials))
	if run.Error != "" {
		fmt.Fprintf(out, "error: %s\n", run.Error)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tPHASE\tVALUE\tBEST\tQUERY")
	for _, t := range trials {
		q := make([]string, len(t.Query))
		for i, v := range t.Query {
			q[i] = fmt.Sprintf("%.4f", v)
		}
		fmt.Fprintf(w, "%d\t%s\t%.6g\t%.6g\t%s\n", t.Iteration, t.Phase, t.Value, t.Best, strings.Join(q, " "))
	}
	return w.Flush()
}

func newStagesCmd(f *cliFlags) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List the tunable pipeline stages and their parameter spaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, "")
			if err != nil {
				return err
			}
			opts := cfg.SpaceOptions()
			reg := tuning.DefaultStageRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, info := range reg.List(opts) {
				fmt.Fprintf(w, "%s\t%s\t%d dims\t%s\n", info.Name, info.Metric, info.Dimensions, info.Description)
				if !verbose {
					continue
				}
				def, _ := reg.Get(info.Name)
				for _, d := range def.Space(opts).Descriptors() {
					fmt.Fprintf(w, "  %s.%s\t%s\t[%g, %g]\t\n", d.Group, d.Name, d.Kind, d.Min, d.Max)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every parameter")
	return cmd
}
