package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkscraper/internal/scraper"
	memorystorage "github.com/JakeFAU/linkscraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkscraper/internal/storage/postgres"
)

// openStore is swapped in tests.
var openStore = func(ctx context.Context, dsn string) (scraper.Store, error) {
	if dsn == "" {
		return memorystorage.NewStore(), nil
	}
	store, err := pgstore.Connect(ctx, pgstore.Config{DSN: dsn, MaxConns: 2})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return store, nil
}

// newStatusCmd creates the 'status' subcommand. It lists pages that are still
// pending and would be resubmitted by the next 'serve'.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Lists pages waiting to be scraped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := openStore(ctx, rt.cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			pages, err := store.ListPendingPages(ctx)
			if err != nil {
				return fmt.Errorf("list pending pages: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d pending page(s)\n", len(pages))
			if len(pages) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tCREATED\tURL")
			for _, p := range pages {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", p.ID, p.UserID, p.CreatedAt.Format(time.RFC3339), p.URL)
			}
			return tw.Flush()
		},
	}
}
