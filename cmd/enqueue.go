package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/clock"
	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/queue"
	"github.com/JakeFAU/crawl-worker/internal/server"
)

func newEnqueueCmd() *cobra.Command {
	var worker, key string
	var meta []string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create a pending job and print its ID",
		Long: `Creates a pending job in the Postgres store. A running poll loop
picks it up on its next poll. The memory backend is refused: a job written
there would vanish when this command exits.`,
		Example: `  crawl-worker enqueue --worker youtube --key https://youtu.be/dQw4w9WgXcQ --meta source=cli`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.Store.Backend != "postgres" {
				return errors.New("enqueue requires store.backend=postgres")
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			stores, err := server.OpenStores(cmd.Context(), e.cfg, clock.System{}, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := stores.Close(); cerr != nil {
					e.logger.Warn("store close failed", zap.Error(cerr))
				}
			}()

			id, err := enqueueJob(cmd.Context(), stores.Store, e.logger, worker, key, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&worker, "worker", "", "worker tag (page, crawl4ai, youtube, bluesky, demo)")
	cmd.Flags().StringVar(&key, "key", "", "request key: a URL, video link or actor handle (optional)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value, repeatable")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func enqueueJob(
	ctx context.Context,
	store crawler.JobStore,
	logger *zap.Logger,
	worker, key string,
	metadata crawler.Metadata,
) (string, error) {
	return queue.New(store, nil, clock.System{}, logger).
		Enqueue(ctx, worker, strings.TrimSpace(key), metadata)
}

func parseMeta(pairs []string) (crawler.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(crawler.Metadata, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}
