package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/postgres"
	"github.com/spotclaim/internal/service"
	"github.com/spotclaim/internal/sqlite"
	"github.com/spotclaim/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	rebuildCounts := flag.Bool("rebuild-counts", false, "Rebuild projected vote counts from the ledger, then recompute owners")
	territoryID := flag.String("territory", "", "Recompute the owner of a single territory only")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *rebuildCounts, *territoryID, logger); err != nil {
		logger.Error("repair failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, rebuildCounts bool, territoryID string, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	svc := service.NewService(st, service.Options{
		Leaderboard:       cfg.Leaderboard,
		Invite:            cfg.Invite,
		RecalcConcurrency: cfg.Repair.Concurrency,
	}, logger)

	switch {
	case territoryID != "":
		owner, err := svc.RecalcOwner(ctx, territoryID)
		if err != nil {
			return err
		}
		if owner == nil {
			logger.Info("territory has no owner", "territory_id", territoryID)
		} else {
			logger.Info("territory owner recomputed", "territory_id", territoryID, "owner_id", *owner)
		}
	case rebuildCounts:
		repaired, err := svc.RebuildVoteCounts(ctx)
		if err != nil {
			return err
		}
		logger.Info("vote counts rebuilt", "clips_repaired", repaired)
	default:
		changed, err := svc.RecalcAllOwners(ctx)
		if err != nil {
			return err
		}
		logger.Info("owners recomputed", "owners_changed", changed)
	}
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.SQLite.Path, cfg.Store.TxTimeout, logger)
	default:
		return postgres.NewRepository(&cfg.Postgres, cfg.Store.TxTimeout, logger)
	}
}
