package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/config"
	handlers "github.com/vigilsec/vigil/pkg/handlers/http"
	"github.com/vigilsec/vigil/pkg/infra/httpx"
	"github.com/vigilsec/vigil/pkg/infra/intel"
	infraLogger "github.com/vigilsec/vigil/pkg/infra/logger"
	"github.com/vigilsec/vigil/pkg/infra/telemetry"
	"github.com/vigilsec/vigil/pkg/middleware"
	"github.com/vigilsec/vigil/pkg/ratelimit"
	"github.com/vigilsec/vigil/pkg/reputation"
	"github.com/vigilsec/vigil/pkg/scanner"
	"github.com/vigilsec/vigil/pkg/server"
)

const cleanupInterval = time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("config"); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable at startup, reputation checks will fail open")
	}

	store := reputation.NewStore(redisClient, logger, nil)

	var (
		intelClient  intel.Client
		intelLimiter *ratelimit.Limiter
	)
	if cfg.Intel.Enabled {
		var err error
		intelLimiter, err = ratelimit.NewLimiter(cfg.Intel.RequestsPerSecond, logger)
		if err != nil {
			logger.Fatalf("Failed to build intel rate limiter: %v", err)
		}
		intelClient, err = intel.NewHTTPClient(
			intel.Config{
				BaseURL: cfg.Intel.BaseURL,
				APIKey:  cfg.Intel.APIKey,
				Timeout: cfg.Intel.Timeout,
			},
			logger,
			httpx.NewCircuitBreaker("intel", 30*time.Second, 5),
			intelLimiter,
		)
		if err != nil {
			logger.Fatalf("Failed to build intel client: %v", err)
		}
	}

	sc := scanner.New(scanner.Config{
		CacheTTL:        cfg.Scanner.CacheTTL,
		CacheMaxEntries: cfg.Scanner.CacheMaxEntries,
		MaxRiskScore:    cfg.Scanner.MaxRiskScore,
		IndicatorTTL:    cfg.Scanner.IndicatorTTL,
		TaxonomyTTL:     cfg.Scanner.TaxonomyTTL,
		MultiplierStep:  cfg.Scanner.MultiplierStep,
		MultiplierCap:   cfg.Scanner.MultiplierCap,
		BandCritical:    cfg.Scanner.BandCritical,
		BandHigh:        cfg.Scanner.BandHigh,
		BandMedium:      cfg.Scanner.BandMedium,
	}, logger, intelClient)

	var telemetryWorker *telemetry.Worker
	if cfg.Telemetry.Enabled {
		exporter, err := telemetry.NewHTTPExporter(
			telemetry.HTTPExporterConfig{
				Endpoint: cfg.Telemetry.Endpoint,
				APIKey:   cfg.Telemetry.APIKey,
			},
			logger,
			httpx.NewCircuitBreaker("telemetry", 30*time.Second, 5),
		)
		if err != nil {
			logger.Fatalf("Failed to build telemetry exporter: %v", err)
		}
		telemetryWorker = telemetry.NewWorker(logger, exporter)
		telemetryWorker.StartWorkers(cfg.Telemetry.Workers)
	}

	var filterCfg middleware.FilterConfig
	if err := mapstructure.Decode(cfg.Filter, &filterCfg); err != nil {
		logger.Fatalf("Failed to decode filter config: %v", err)
	}
	filter := middleware.NewSecurityFilterMiddleware(logger, filterCfg, sc, store, telemetryWorker)

	handlerTransport := handlers.HandlerTransport{
		ScanHandler:        handlers.NewScanHandler(logger, sc),
		BlockIPHandler:     handlers.NewBlockIPHandler(logger, store),
		UnblockIPHandler:   handlers.NewUnblockIPHandler(logger, store),
		BulkBlockHandler:   handlers.NewBulkBlockHandler(logger, store),
		ListBlockedHandler: handlers.NewListBlockedHandler(logger, store),
		StatsHandler:       handlers.NewStatsHandler(logger, store, sc, intelLimiter),
	}

	srv := server.New(cfg, logger, filter, func(r fiber.Router) {
		v1 := r.Group("/api/v1")
		v1.Post("/scan", handlerTransport.ScanHandler.Handle)
		v1.Post("/reputation/block", handlerTransport.BlockIPHandler.Handle)
		v1.Delete("/reputation/block/:ip", handlerTransport.UnblockIPHandler.Handle)
		v1.Post("/reputation/bulk-block", handlerTransport.BulkBlockHandler.Handle)
		v1.Get("/reputation/blocked", handlerTransport.ListBlockedHandler.Handle)
		v1.Get("/stats", handlerTransport.StatsHandler.Handle)
	})

	go runCleanupLoop(ctx, logger, store)

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	fmt.Println("shutting down server...")
	cancel()
	if telemetryWorker != nil {
		telemetryWorker.Shutdown()
	}
	if intelLimiter != nil {
		intelLimiter.Close()
	}
	if err := srv.Shutdown(); err != nil {
		fmt.Println("error shutting down server:", err)
		os.Exit(1)
	}
	fmt.Println("server gracefully stopped")
}

// runCleanupLoop sweeps expired temporary blocks on a schedule. Lazy expiry
// on read already keeps hot entries correct; this catches the ones nobody
// asks about.
func runCleanupLoop(ctx context.Context, logger *logrus.Logger, store *reputation.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := store.CleanupExpiredBlocks(ctx)
			if err != nil {
				logger.Errorf("cleanup of expired blocks failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Infof("removed %d expired blocks", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
