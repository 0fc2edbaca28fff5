package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Build-time variables for version info
var (
	// Release is the current release version
	Release = "dev"
	// GitCommit is the git commit hash
	GitCommit = "none"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of gridstat and its built-in datasets.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := datasets.NewBuiltinRegistry()
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nGo: %s %s/%s\nDatasets: %s\n",
			Release, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH, strings.Join(registry.IDs(), ", "))

		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
