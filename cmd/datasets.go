package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// datasetsCmd lists the registered datasets or shows one
//
//nolint:gochecknoglobals // Cobra commands are typically global
var datasetsCmd = &cobra.Command{
	Use:   "datasets [id]",
	Short: "List datasets or show one",
	Long:  `List the built-in and configured datasets, or print the full definition of one as YAML.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDatasets,
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}

func runDatasets(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := engine.LoadRegistry(cfg.Datasets.Path)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		ds, getErr := registry.Get(args[0])
		if getErr != nil {
			return getErr
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)

		if err := enc.Encode(ds); err != nil {
			return err
		}

		return enc.Close()
	}

	printDatasets(cmd, registry.List())

	return nil
}

func printDatasets(cmd *cobra.Command, list []datasets.Config) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCATALOG\tGRANULARITY\tCADENCE\tCOMBINE\tROLLUP\tRANGE\tSCHEDULE")

	for _, ds := range list {
		schedule := ds.Schedule
		if schedule == "" {
			schedule = "-"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s..%s\t%s\n",
			ds.ID, ds.CatalogID(), ds.Granularity, ds.Cadence, ds.Combine, ds.Rollup.Period,
			ds.RangeStart.Format(dateLayout), ds.RangeEnd.Format(dateLayout), schedule)
	}

	_ = w.Flush()
}
