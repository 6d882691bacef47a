package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/handler"
	"github.com/spotclaim/internal/kafka"
	"github.com/spotclaim/internal/postgres"
	"github.com/spotclaim/internal/redis"
	"github.com/spotclaim/internal/service"
	"github.com/spotclaim/internal/sqlite"
	"github.com/spotclaim/internal/store"
	"github.com/spotclaim/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the transactional store
	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	svc := service.NewService(st, service.Options{
		Leaderboard:       cfg.Leaderboard,
		Invite:            cfg.Invite,
		RecalcConcurrency: cfg.Repair.Concurrency,
	}, logger)

	// Leaderboard cache is optional; the store answers every read without it
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewLeaderboardCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without leaderboard cache", "error", err)
		} else {
			defer cache.Close()
			svc.SetCache(cache)
			logger.Info("connected to Redis")
		}
	}

	// Periodic ownership and vote-count repair
	var repairWorker *worker.RepairWorker
	if cfg.Repair.Enabled {
		repairWorker = worker.NewRepairWorker(svc, &cfg.Repair, logger)
		if err := repairWorker.Start(ctx); err != nil {
			logger.Error("failed to start repair worker", "error", err)
			os.Exit(1)
		}
	}

	// Upload-layer events arrive through Kafka
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, svc, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(svc, cfg.Auth, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before tearing down the writers behind them
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if repairWorker != nil {
		if err := repairWorker.Stop(); err != nil {
			logger.Error("failed to stop repair worker", "error", err)
		}
	}

	logger.Info("server stopped")
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		logger.Info("opening SQLite store", "path", cfg.SQLite.Path)
		return sqlite.Open(cfg.SQLite.Path, cfg.Store.TxTimeout, logger)
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return postgres.NewRepository(&cfg.Postgres, cfg.Store.TxTimeout, logger)
	}
}
