package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-worker/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll loop and the HTTP API",
		Long: `Runs the poll loop until SIGINT or SIGTERM. The HTTP API listens on
server.port unless server.enabled is false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
