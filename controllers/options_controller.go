package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

// OptionsController serves expirations and cached option chains
type OptionsController struct {
	connections *services.ConnectionManager
	chains      *services.OptionChainService
	cache       *services.SnapshotCache
	scheduler   *services.RefreshScheduler
	logger      *logrus.Logger
}

// NewOptionsController creates a new options controller
func NewOptionsController(
	connections *services.ConnectionManager,
	chains *services.OptionChainService,
	cache *services.SnapshotCache,
	scheduler *services.RefreshScheduler,
	logger *logrus.Logger,
) *OptionsController {
	return &OptionsController{
		connections: connections,
		chains:      chains,
		cache:       cache,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// HandleGetOptionChain lists the SMART expirations for a ticker
// GET /api/option_chain?ticker=AAPL
func (oc *OptionsController) HandleGetOptionChain(c *gin.Context) {
	if !oc.connections.IsConnected() {
		notConnected(c)
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(c.Query("ticker")))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Ticker symbol is required",
		})
		return
	}

	price, expirations, err := oc.chains.ListExpirations(c.Request.Context(), ticker)
	if err != nil || len(expirations) == 0 {
		oc.logger.WithError(err).WithField("ticker", ticker).Warn("Option chain lookup failed")
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "Failed to retrieve option chain data",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticker":      ticker,
		"stock_price": price,
		"expirations": services.FormatExpirations(expirations),
	})
}

// HandleGetOptions returns the cached chain for one expiration, starting its
// refresh loop on first request
// GET /api/options?ticker=AAPL&expiration=20250117
func (oc *OptionsController) HandleGetOptions(c *gin.Context) {
	if !oc.connections.IsConnected() {
		notConnected(c)
		return
	}

	key, ok := chainKeyFromQuery(c)
	if !ok {
		return
	}
	oc.scheduler.EnsureChainLoop(key)

	if snapshot, ok := oc.cache.Chain(key); ok {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "loading",
		"message": "Fetching options data...",
	})
}

// HandleRestartOptions replaces the refresh loop of one chain with a fresh one
// POST /api/options/refresh?ticker=AAPL&expiration=20250117
func (oc *OptionsController) HandleRestartOptions(c *gin.Context) {
	if !oc.connections.IsConnected() {
		notConnected(c)
		return
	}

	key, ok := chainKeyFromQuery(c)
	if !ok {
		return
	}

	id := oc.scheduler.RestartChainLoop(key)
	if id == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Refresh scheduler is stopped",
		})
		return
	}

	oc.logger.WithFields(logrus.Fields{
		"key":     key.String(),
		"loop_id": id,
	}).Info("Option chain loop restarted")
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "loading",
		"message": "Fetching options data...",
		"loop_id": id,
	})
}

// HandleStopOptions stops the refresh loop of one chain. The cached chain is kept.
// DELETE /api/options?ticker=AAPL&expiration=20250117
func (oc *OptionsController) HandleStopOptions(c *gin.Context) {
	key, ok := chainKeyFromQuery(c)
	if !ok {
		return
	}

	if !oc.scheduler.StopChainLoop(key) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "No refresh loop for " + key.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "stopped",
		"message": "Stopped refreshing " + key.String(),
	})
}

// chainKeyFromQuery reads ticker and expiration, writing a 400 when either is missing
func chainKeyFromQuery(c *gin.Context) (interfaces.ChainKey, bool) {
	ticker := c.Query("ticker")
	expiration := c.Query("expiration")
	if strings.TrimSpace(ticker) == "" || strings.TrimSpace(expiration) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Ticker and expiration are required",
		})
		return interfaces.ChainKey{}, false
	}
	return interfaces.NewChainKey(ticker, expiration), true
}
