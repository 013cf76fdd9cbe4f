package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/crawl-worker/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.Store.Backend != "postgres" {
				return errors.New("migrate requires store.backend=postgres")
			}
			return pgstore.Migrate(e.cfg.Store.DSN, e.logger)
		},
	}
}
