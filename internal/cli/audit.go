package cli

import (
	"fmt"
	"time"

	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/internal/repository/audit"

	"github.com/spf13/cobra"
)

// NewAuditCmd creates the 'audit' command for summarizing recent routing decisions.
func NewAuditCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Summarize routed turns from the local audit log",
		Example: `  routerctl audit
  routerctl audit --since 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return fmt.Errorf("--since must be positive")
			}
			cfg := config.Load()
			log := logger.NewIsolatedLogger(cfg.App.LogFilePath)

			auditLog, err := audit.NewSQLiteAuditLog(cmd.Context(), cfg.Database.AuditPath, log)
			if err != nil {
				return err
			}
			defer auditLog.Close()

			sum, err := auditLog.Summarize(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), since.String(), sum)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to look")

	return cmd
}
