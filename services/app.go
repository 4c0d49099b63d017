package services

import (
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// AppConfig holds the pacing knobs shared by the services
type AppConfig struct {
	Scheduler     SchedulerConfig
	StockThrottle time.Duration
	QuoteThrottle time.Duration
}

// DefaultAppConfig returns the stock pacing: 15s/5s loops, 200ms/100ms throttles
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Scheduler:     DefaultSchedulerConfig(),
		StockThrottle: 200 * time.Millisecond,
		QuoteThrottle: 100 * time.Millisecond,
	}
}

// App wires the connection manager, fetchers, cache and scheduler of one process
type App struct {
	Connections *ConnectionManager
	Portfolio   *PortfolioService
	Chains      *OptionChainService
	Cache       *SnapshotCache
	Scheduler   *RefreshScheduler
	Logger      *logrus.Logger
}

// NewApp builds the service graph on top of factory
func NewApp(factory interfaces.SessionFactory, config AppConfig, logger *logrus.Logger) *App {
	logger = logging.OrDefault(logger)
	greeks := NewMoneynessEstimator()

	connections := NewConnectionManager(factory, logger)
	portfolio := NewPortfolioService(connections, greeks, config.StockThrottle, logger)
	chains := NewOptionChainService(connections, greeks, config.StockThrottle, config.QuoteThrottle, logger)
	cache := NewSnapshotCache()
	scheduler := NewRefreshScheduler(connections, portfolio, chains, cache, config.Scheduler, logger)

	return &App{
		Connections: connections,
		Portfolio:   portfolio,
		Chains:      chains,
		Cache:       cache,
		Scheduler:   scheduler,
		Logger:      logger,
	}
}

// Shutdown stops every refresh loop and closes the broker session
func (a *App) Shutdown() {
	a.Scheduler.Stop()
	if a.Connections.IsConnected() {
		a.Connections.Disconnect()
	}
}
