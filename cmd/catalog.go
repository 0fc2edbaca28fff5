package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/gridstat/pkg/catalog/rediscatalog"
	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/engine"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	seedStart string
	seedEnd   string
)

// catalogCmd groups the catalog commands
//
//nolint:gochecknoglobals // Cobra commands are typically global
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the frame catalog",
}

// seedCmd fills the Redis catalog with synthetic frames
//
//nolint:gochecknoglobals // Cobra commands are typically global
var seedCmd = &cobra.Command{
	Use:   "seed [dataset...]",
	Short: "Seed the Redis catalog with synthetic frames",
	Long: `Seed generates frames for the given datasets (every dataset when none is
given) over their ranges and stores them in the Redis catalog configured
under catalog.redis.

Examples:
  gridstat catalog seed chirps trmm --start 2000-01-01 --end 2000-12-31`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVar(&seedStart, "start", "", "first day to seed (YYYY-MM-DD), overrides the dataset range")
	seedCmd.Flags().StringVar(&seedEnd, "end", "", "last day to seed (YYYY-MM-DD), overrides the dataset range")
}

func runSeed(cmd *cobra.Command, args []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Catalog.Validate(); err != nil {
		return err
	}

	opts, err := cfg.Catalog.Redis.NewOptions()
	if err != nil {
		return err
	}

	registry, err := engine.LoadRegistry(cfg.Datasets.Path)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		args = registry.IDs()
	}

	selected := make([]datasets.Config, 0, len(args))

	for _, id := range args {
		ds, getErr := registry.Get(id)
		if getErr != nil {
			return getErr
		}

		if ds, err = withRange(ds, seedStart, seedEnd); err != nil {
			return err
		}

		selected = append(selected, ds)
	}

	src, err := engine.SyntheticCatalog(registry, cfg.Catalog.Synthetic)
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close Redis client")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dst := rediscatalog.New(logger, client, &cfg.Catalog.Redis)

	return engine.Seed(ctx, logger, src, dst, selected)
}
