package cli

import (
	"fmt"

	"procedure-assistant-be/internal/bootstrap"
	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/pkg/logger"
)

// env is what every routerctl command needs: validated config, a file-only
// logger and the routing core.
type env struct {
	cfg    *config.Config
	logger logger.ILogger
	core   *bootstrap.RoutingCore
}

func loadEnv() (*env, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.NewIsolatedLogger(cfg.App.LogFilePath)
	core, err := bootstrap.NewRoutingCore(cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: log, core: core}, nil
}
