package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired records and reports how many it dropped. The
// Redis-backed stores expire records through TTLs and never register here;
// the in-memory stores need a periodic sweep to reclaim map entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CleanupManager periodically sweeps expired records from the registered
// stores.
type CleanupManager struct {
	sweepers map[string]Sweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweepers: make(map[string]Sweeper),
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a store to the sweep cycle under the given name
func (cm *CleanupManager) Register(name string, sweeper Sweeper) {
	cm.sweepers[name] = sweeper
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	if len(cm.sweepers) == 0 {
		cm.logger.Info("cleanup manager idle, no stores registered")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps every registered store
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for name, sweeper := range cm.sweepers {
		removed, err := sweeper.Sweep(cleanupCtx)
		if err != nil {
			cm.logger.Error("expired record sweep failed",
				slog.String("store", name),
				slog.Any("error", err))
			continue
		}
		if removed > 0 {
			cm.logger.Info("expired record sweep completed",
				slog.String("store", name),
				slog.Int("removed", removed))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
