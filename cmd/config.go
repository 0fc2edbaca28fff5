package cmd

import (
	"github.com/ethpandaops/gridstat/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadConfig reads the engine config. The file's logging level applies
// unless --log-level was given.
func loadConfig(cmd *cobra.Command) (*engine.Config, error) {
	cfg, err := engine.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.Logging)
		if err != nil {
			return nil, err
		}

		logger.SetLevel(level)
	}

	return cfg, nil
}
