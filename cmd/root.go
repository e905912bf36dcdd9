// Package cmd holds the spam-report command tree.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/spam-report/config"
)

// NewRootCommand returns the spam-report command. Running it without a
// subcommand scans the configured folder.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "spam-report",
		Short:         "Classify one year of a spam folder and report subject, sender, date and verdict",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeScan)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting spam-report", "store", cfg.Store, "folder", cfg.Folder, "year", cfg.Year, "classifier", cfg.Classifier, "workers", cfg.Workers)

			return runScan(cmd.Context(), cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(newClassifyCommand(), newCredentialsCommand())
	return rootCmd, nil
}

// Execute runs the command line and returns the process exit code.
// SIGINT and SIGTERM cancel the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := NewRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		return ExitFailure
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}
