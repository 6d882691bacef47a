package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spotclaim/internal/config"
)

// Repairer rebuilds the vote-count projection and territory owners from the ledger
type Repairer interface {
	RebuildVoteCounts(ctx context.Context) (int, error)
}

// RepairWorker periodically reconciles projected vote counts and owners with
// the vote ledger. It is a backstop; the hot path keeps them consistent.
type RepairWorker struct {
	repairer Repairer
	config   *config.RepairConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewRepairWorker creates a new repair worker
func NewRepairWorker(repairer Repairer, cfg *config.RepairConfig, logger *slog.Logger) *RepairWorker {
	return &RepairWorker{
		repairer: repairer,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background repair loop
func (w *RepairWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("repair worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background repair loop and waits for a running cycle
func (w *RepairWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("repair worker stopped")
	return nil
}

// run is the main worker loop
func (w *RepairWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single repair cycle
func (w *RepairWorker) RunOnce(ctx context.Context) {
	w.logger.Info("starting repair cycle")
	startTime := time.Now()

	drifted, err := w.repairer.RebuildVoteCounts(ctx)
	if err != nil {
		w.logger.Error("repair cycle failed", "error", err, "drifted", drifted)
		return
	}

	w.logger.Info("repair cycle completed",
		"duration", time.Since(startTime),
		"drifted", drifted,
	)
}

// IsRunning returns whether the worker is currently running
func (w *RepairWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
