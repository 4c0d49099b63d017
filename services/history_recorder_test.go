package services

import (
	"errors"
	"testing"

	"github.com/nickcoast/IBKR-notional/interfaces"
)

type memoryStore struct {
	saved []*interfaces.PortfolioSnapshot
	err   error
}

func (m *memoryStore) SavePortfolioSnapshot(snapshot *interfaces.PortfolioSnapshot) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, snapshot)
	return nil
}

func TestHistoryRecorder(t *testing.T) {
	store := &memoryStore{}
	recorder := NewHistoryRecorder(store, quietLogger())

	snapshot := &interfaces.PortfolioSnapshot{}
	recorder.OnPortfolio(snapshot)
	recorder.OnChain(interfaces.NewChainKey("AAPL", "20991217"), &interfaces.OptionChainSnapshot{})

	if len(store.saved) != 1 || store.saved[0] != snapshot {
		t.Errorf("saved = %v, want the one portfolio snapshot", store.saved)
	}

	store.err = errors.New("disk full")
	recorder.OnPortfolio(snapshot)
	if len(store.saved) != 1 {
		t.Errorf("len(saved) = %d after a failed save, want 1", len(store.saved))
	}
}
