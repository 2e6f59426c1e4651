package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkscraper/internal/server"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API and the
// scrape queue until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and scrape queue",
		Long: `Starts the HTTP API, resubmits pages left pending by a previous run and
scrapes submitted pages until interrupted. On SIGINT or SIGTERM new
submissions are refused and running jobs get the configured shutdown
timeout to finish.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}
