package cli

import (
	"context"
	"fmt"
	"time"

	"procedure-assistant-be/internal/repository/unitofwork"
	"procedure-assistant-be/internal/service"
	"procedure-assistant-be/pkg/database"
	pktNats "procedure-assistant-be/pkg/nats"
	routingEvents "procedure-assistant-be/pkg/routing/events"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRebuildCmd creates the 'rebuild' command, which re-embeds every question
// from the catalog and replaces the artifact on disk.
func NewRebuildCmd() *cobra.Command {
	var timeout time.Duration
	var notify bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the routing cache from the procedure catalog",
		Long: `Re-embed every main and variant question with the configured embedding model
and atomically replace the routing cache file. Running API servers on this host
reload it through the file watcher; --notify also tells other hosts over NATS.`,
		Example: `  routerctl rebuild
  routerctl rebuild --timeout 30m --notify=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runRebuild(ctx, cmd, notify)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "Abort the rebuild after this long")
	cmd.Flags().BoolVar(&notify, "notify", true, "Publish ROUTING_CACHE_REBUILT on NATS")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, notify bool) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	db, err := database.NewGormDBFromDSN(e.cfg.Database.Connection,
		database.WithPool(1, 2, time.Hour),
		database.WithSlowThreshold(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	src, err := service.LoadProcedureSnapshot(ctx, unitofwork.NewRepositoryFactory(db))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Embedding %d documents with %s...\n", src.DocumentCount(), e.core.Embedder.ModelID())
	started := time.Now()
	a, err := e.core.CacheStore.Rebuild(ctx, src)
	if err != nil {
		return fmt.Errorf("rebuild failed, the previous cache is untouched: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ Rebuilt in %s\n\n", time.Since(started).Round(time.Millisecond))
	printHeader(out, e.core.CacheStore.Path(), a.Header)

	if !notify {
		return nil
	}
	pub, err := pktNats.NewPublisher(e.cfg.App.NatsURL)
	if err != nil {
		color.New(color.FgYellow).Fprintf(out, "\n! NATS unavailable, other hosts were not notified: %v\n", err)
		return nil
	}
	defer pub.Close()
	routingEvents.NewNatsPublisher(pub, e.logger).PublishCacheRebuilt(ctx, a.Header, "cli")
	return nil
}
