package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nickcoast/IBKR-notional/brokers"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func connectedPaper(t *testing.T, paper *brokers.PaperSession) *ConnectionManager {
	t.Helper()

	cm := NewConnectionManager(brokers.PaperFactory(paper), quietLogger())
	if !cm.Connect(context.Background(), "127.0.0.1", 7497, nil) {
		t.Fatal("Connect() = false, want true")
	}
	return cm
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
