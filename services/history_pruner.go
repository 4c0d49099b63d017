package services

import (
	"context"
	"time"

	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// RetentionStore deletes snapshots recorded before a cutoff
type RetentionStore interface {
	CleanupOldData(before time.Time) error
}

// HistoryPruner keeps the snapshot history inside a retention window
type HistoryPruner struct {
	store     RetentionStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

// NewHistoryPruner creates a pruner that drops snapshots older than retention every interval
func NewHistoryPruner(store RetentionStore, retention, interval time.Duration, logger *logrus.Logger) *HistoryPruner {
	return &HistoryPruner{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logging.OrDefault(logger),
	}
}

// Prune deletes everything older than the retention window once
func (p *HistoryPruner) Prune() error {
	return p.store.CleanupOldData(p.now().Add(-p.retention))
}

// Run prunes immediately and then on every tick until ctx is cancelled. It
// returns at once when retention or interval is not positive.
func (p *HistoryPruner) Run(ctx context.Context) {
	if p.retention <= 0 || p.interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log := p.logger.WithFields(logrus.Fields{
		"retention": p.retention,
		"interval":  p.interval,
	})
	log.Info("Starting history pruning")

	for {
		if err := p.Prune(); err != nil {
			log.WithError(err).Error("Failed to prune portfolio history")
		}

		select {
		case <-ctx.Done():
			log.Info("History pruning stopped")
			return
		case <-ticker.C:
		}
	}
}
