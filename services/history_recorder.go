package services

import (
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// SnapshotStore persists portfolio snapshots
type SnapshotStore interface {
	SavePortfolioSnapshot(snapshot *interfaces.PortfolioSnapshot) error
}

// HistoryRecorder writes every refreshed portfolio snapshot to a store
type HistoryRecorder struct {
	store  SnapshotStore
	logger *logrus.Logger
}

var _ SnapshotListener = (*HistoryRecorder)(nil)

// NewHistoryRecorder creates a recorder over store
func NewHistoryRecorder(store SnapshotStore, logger *logrus.Logger) *HistoryRecorder {
	return &HistoryRecorder{store: store, logger: logging.OrDefault(logger)}
}

// OnPortfolio saves snapshot. Failures are logged and never stop the refresh loop.
func (h *HistoryRecorder) OnPortfolio(snapshot *interfaces.PortfolioSnapshot) {
	if err := h.store.SavePortfolioSnapshot(snapshot); err != nil {
		h.logger.WithError(err).Error("Failed to record portfolio snapshot")
	}
}

// OnChain is a no-op; chain snapshots are not kept
func (h *HistoryRecorder) OnChain(interfaces.ChainKey, *interfaces.OptionChainSnapshot) {}
