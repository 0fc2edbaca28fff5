package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/engine"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/ethpandaops/gridstat/pkg/sink/tabular"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	runRegion        string
	runStart         string
	runEnd           string
	runFailurePolicy string
	runPrint         bool
)

// runCmd runs one dataset over one region
//
//nolint:gochecknoglobals // Cobra commands are typically global
var runCmd = &cobra.Command{
	Use:   "run <dataset>",
	Short: "Run a dataset over a region",
	Long: `Run aggregates a dataset over a GeoJSON region, writes the tabular series
and the summary rasters to the configured outputs and prints a summary.

Examples:
  # Annual CHIRPS precipitation over Gheba for the configured range
  gridstat run chirps --region gheba.geojson

  # TRMM for one year, skipping windows that fail
  gridstat run trmm --region gheba.geojson --start 2000-01-01 --end 2000-12-31 --failure-policy skip`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runRegion, "region", "", "GeoJSON file with the region of interest")
	runCmd.Flags().StringVar(&runStart, "start", "", "first day to include (YYYY-MM-DD), overrides the dataset range")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last day to include (YYYY-MM-DD), overrides the dataset range")
	runCmd.Flags().StringVar(&runFailurePolicy, "failure-policy", "", "fail-fast or skip, overrides the config")
	runCmd.Flags().BoolVar(&runPrint, "print", false, "also print the series as CSV")

	_ = runCmd.MarkFlagRequired("region")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if runFailurePolicy != "" {
		policy, parseErr := pipeline.ParseFailurePolicy(runFailurePolicy)
		if parseErr != nil {
			return parseErr
		}

		cfg.Pipeline.FailurePolicy = policy
	}

	roi, err := region.Load(runRegion)
	if err != nil {
		return err
	}

	svc, err := engine.NewService(logger, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if stopErr := svc.Stop(); stopErr != nil {
			logger.WithError(stopErr).Error("Failed to stop engine")
		}
	}()

	ds, err := svc.Registry().Get(args[0])
	if err != nil {
		return err
	}

	if ds, err = withRange(ds, runStart, runEnd); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Open(ctx); err != nil {
		return err
	}

	runner, err := svc.Runner()
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, ds, roi)
	if err != nil {
		return err
	}

	if runPrint {
		if err := tabular.Write(cmd.OutOrStdout(), res.Series); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout())
	}

	printResult(cmd, res)

	return nil
}

// withRange applies the optional YYYY-MM-DD overrides.
func withRange(ds datasets.Config, start, end string) (datasets.Config, error) {
	first, last := ds.RangeStart, ds.RangeEnd

	var err error

	if start != "" {
		if first, err = time.Parse(dateLayout, start); err != nil {
			return ds, fmt.Errorf("invalid --start %q: %w", start, err)
		}
	}

	if end != "" {
		if last, err = time.Parse(dateLayout, end); err != nil {
			return ds, fmt.Errorf("invalid --end %q: %w", end, err)
		}
	}

	return ds.WithRange(first, last), nil
}

func printResult(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintf(out, "Run %s: %s over %s in %s\n", res.RunID, res.Dataset, res.Region, res.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "Table %s: %d rows\n", res.Table, res.Series.Len())

	if res.Partitioning.Truncated {
		_, _ = fmt.Fprintf(out, "Range truncated, dropped %s\n", res.Partitioning.Dropped)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXPORT\tKIND\tPERIOD\tSTATUS")

	for _, e := range res.Exports {
		status := "written"
		if e.Skipped {
			status = "skipped (no data)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Summary.Kind, e.Summary.Period, status)
	}

	_ = w.Flush()

	for _, f := range res.Failures {
		_, _ = fmt.Fprintf(out, "Skipped window %s: %v\n", f.Window, f.Err)
	}
}
