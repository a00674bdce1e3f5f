package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procedure-assistant-be/internal/bootstrap"
	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/server"
	"procedure-assistant-be/internal/tracer"
	"procedure-assistant-be/pkg/database"
	"procedure-assistant-be/pkg/events"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Tracing stays a no-op unless OTEL_ENABLED=true
	shutdownTracer := tracer.InitTracer("procedure-assistant-backend", cfg.App.Environment)
	defer shutdownTracer(context.Background())

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection,
		database.WithQueryLog(cfg.App.Environment != "production"),
	)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Routing cache must be usable before the first request
	if cfg.Routing.RebuildOnStartup {
		if err := container.RoutingCacheService.EnsureFresh(ctx); err != nil {
			log.Printf("[WARN] Routing cache is not ready: %v", err)
		}
	} else if _, err := container.CacheStore.Load(); err != nil {
		log.Printf("[WARN] Routing cache could not be loaded: %v", err)
	}

	// 5. Start Background Services
	if err := container.RoutingCacheService.Consume(ctx); err != nil {
		log.Fatalf("Failed to start rebuild consumer: %v", err)
	}

	if container.CacheWatcher != nil {
		go func() {
			if err := container.CacheWatcher.Run(ctx); err != nil {
				log.Printf("Routing cache watcher stopped: %v", err)
			}
		}()
	}

	if container.NatsSubscriber != nil {
		err := container.NatsSubscriber.Subscribe(ctx, events.TypeRoutingCacheRebuilt, bootstrap.DurableName(),
			container.RoutingCacheService.HandleRemoteRebuild)
		if err != nil {
			log.Printf("[WARN] Remote cache reloads disabled: %v", err)
		}
	}

	go container.RoutingAuditService.RunRetention(ctx, cfg.Database.AuditRetention, 6*time.Hour)

	// 6. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// 7. Run Server
	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
