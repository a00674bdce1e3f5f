/*
Package main is the entry point for routerctl, the operator CLI for the
procedure routing cache.

Usage:

	routerctl [command]

Available Commands:

	rebuild     Rebuild the routing cache from the procedure catalog
	inspect     Show the routing cache header and counts
	route       Route a query against the cache and show the ranking
	audit       Summarize routed turns from the local audit log
	seed        Load a procedure catalog fixture into the database
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"procedure-assistant-be/internal/cli"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "routerctl",
		Short: "Operate the procedure routing cache",
		Long: `routerctl rebuilds and inspects the embedding cache that the procedure
assistant routes queries with, dry-runs the router for a single query and
summarizes the local decision audit log. seed loads a catalog fixture into
an empty database.

Configuration is read from .env and the environment, like the API server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.NewRebuildCmd())
	rootCmd.AddCommand(cli.NewInspectCmd())
	rootCmd.AddCommand(cli.NewRouteCmd())
	rootCmd.AddCommand(cli.NewAuditCmd())
	rootCmd.AddCommand(cli.NewSeedCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
