package cli

import (
	"errors"
	"fmt"
	"strings"

	"procedure-assistant-be/pkg/routing/router"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRouteCmd creates the 'route' command, a dry run of the semantic router
// for one query without a session.
func NewRouteCmd() *cobra.Command {
	var top int
	var collection string

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Route a query against the cache and show the ranking",
		Example: `  routerctl route "how do I renew my passport"
  routerctl route "fees" --collection 6f1c... --top 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if _, err := e.core.CacheStore.Load(); err != nil {
				return err
			}

			query := strings.Join(args, " ")
			vec, err := e.core.Embedder.Embed(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}

			var opts []router.Option
			if collection != "" {
				opts = append(opts, router.WithinCollection(collection))
			}
			d, err := e.core.Router.Route(vec, opts...)
			if errors.Is(err, router.ErrRouterUnavailable) {
				color.New(color.FgRed).Fprintln(cmd.OutOrStdout(), "Router unavailable: every collection would be offered")
				return nil
			}
			if err != nil {
				return err
			}

			printDecision(cmd.OutOrStdout(), d, top)
			return nil
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 5, "Number of ranked documents and collections to show")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Restrict routing to one collection id")

	return cmd
}
