package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewInspectCmd creates the 'inspect' command for reading the cache header.
func NewInspectCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the routing cache header and counts",
		Example: `  routerctl inspect
  routerctl inspect --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			a, err := e.core.CacheStore.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(a.Header)
			}
			printHeader(out, e.core.CacheStore.Path(), a.Header)
			fmt.Fprintln(out)
			for _, c := range a.Collections {
				fmt.Fprintf(out, "  %-36s  %3d docs  %s\n", c.ID, len(c.DocumentIDs), c.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output the header as JSON")

	return cmd
}
