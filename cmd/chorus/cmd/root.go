package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/chorus/internal/config"
	"github.com/jmcleod/chorus/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "chorus",
	Short: "Chorus account service",
	Long: `Account service for the chorus chat client: registration, login and
session checks over bbolt, MongoDB, PostgreSQL or Redis storage.`,
	SilenceUsage: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
}

// loadConfig reads the configuration and builds the process logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup("chorus", Version, cfg.Log.Format, level, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
