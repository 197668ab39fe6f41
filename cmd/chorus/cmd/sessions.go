package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session store maintenance",
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every login session, signing out all bearer-token clients",
	Long: `Delete every session from the configured session store. Clients
holding a sealed session cookie stay signed in until the cookie expires.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		b, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.close(context.Background()) //nolint:errcheck

		n, err := b.sessions.DeleteAll(ctx)
		if err != nil {
			return fmt.Errorf("purging sessions: %w", err)
		}
		logger.Info("purged sessions", "count", n)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
