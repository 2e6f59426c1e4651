// Package cmd defines and implements the CLI commands for the linkscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/config"
	"github.com/JakeFAU/linkscraper/internal/logging"
)

const serviceName = "linkscraper"

// envKeyType is the key for storing the appEnv in the context.
type envKeyType string

const envKey envKeyType = "env"

// appEnv is what every subcommand receives: the loaded config and a logger.
type appEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Scrapes submitted pages for their links through a bounded job queue.",
		Long: `linkscraper accepts URLs over an authenticated HTTP API, scrapes each one
for its title and outbound links with a fixed number of concurrent workers,
and stores the results for later browsing.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one starts from the same config and logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     serviceName,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &appEnv{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveEnv(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); environment variables override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*appEnv, error) {
	rt, ok := ctx.Value(envKey).(*appEnv)
	if !ok || rt == nil {
		return nil, errors.New("application environment not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
