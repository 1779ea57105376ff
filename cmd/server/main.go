package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"trading-bot-platform/internal/api"
	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/database"
	"trading-bot-platform/internal/exchange"
	"trading-bot-platform/internal/execution"
	"trading-bot-platform/internal/gateway"
	"trading-bot-platform/internal/ledger"
	"trading-bot-platform/internal/logger"
	"trading-bot-platform/internal/models"
	"trading-bot-platform/internal/ratelimit"
	"trading-bot-platform/internal/registry"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Rate-limit window store: Redis when configured, in-memory otherwise.
	var store ratelimit.WindowStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		store = ratelimit.NewRedisStore(client)
		log.Info("Using Redis rate-limit store", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = ratelimit.NewMemoryStore()
		log.Info("Using in-memory rate-limit store")
	}
	limiter := ratelimit.NewLimiter(store, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the components. The registry's trade function routes bot-sourced
	// signals through the same pipeline as webhook orders.
	factory := exchange.NewFactory(&cfg, log)
	creds := registry.NewProfileCredentialSource(db)
	reg := registry.NewRegistry(db, factory, creds, cfg.Bots, log)
	led := ledger.NewLedger(db, log)
	pipeline := execution.NewPipeline(db, reg, led, cfg.Bots, log)
	reg.SetTradeFunc(func(ctx context.Context, key registry.BotKey, pairConfigID uint, action string, quantity float64) error {
		var pairCfg models.PairConfig
		if err := db.First(&pairCfg, pairConfigID).Error; err != nil {
			return fmt.Errorf("could not load pair config: %w", err)
		}
		_, err := pipeline.ExecuteOrder(ctx, &execution.Intent{
			UserID:     key.UserID,
			PairConfig: &pairCfg,
			Action:     action,
			Quantity:   quantity,
			Source:     models.OrderSourceBot,
		})
		return err
	})

	audit := gateway.NewZapAuditLog(log)
	gw := gateway.NewGateway(db, limiter, audit, cfg.Webhook, log)

	server := api.NewServer(ctx, db, cfg, reg, gw, pipeline, led, log)
	server.Start()

	// Block until a shutdown signal arrives.
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	cancel()
	reg.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
