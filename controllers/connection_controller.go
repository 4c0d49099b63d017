package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

// ConnectDefaults fills fields omitted from a connect request
type ConnectDefaults struct {
	Host string
	Port int
}

// ConnectRequest is the body of POST /api/connect
type ConnectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	ClientID *int   `json:"client_id"`
}

// ConnectionController handles session lifecycle endpoints
type ConnectionController struct {
	connections *services.ConnectionManager
	scheduler   *services.RefreshScheduler
	cache       *services.SnapshotCache
	clock       *MarketClock
	defaults    ConnectDefaults
	logger      *logrus.Logger
}

// NewConnectionController creates a new connection controller
func NewConnectionController(
	connections *services.ConnectionManager,
	scheduler *services.RefreshScheduler,
	cache *services.SnapshotCache,
	clock *MarketClock,
	defaults ConnectDefaults,
	logger *logrus.Logger,
) *ConnectionController {
	if defaults.Host == "" {
		defaults.Host = "127.0.0.1"
	}
	if defaults.Port == 0 {
		defaults.Port = 7497
	}
	return &ConnectionController{
		connections: connections,
		scheduler:   scheduler,
		cache:       cache,
		clock:       clock,
		defaults:    defaults,
		logger:      logger,
	}
}

// HandleConnect opens a broker session and starts the portfolio loop
// POST /api/connect
func (cc *ConnectionController) HandleConnect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Host == "" {
		req.Host = cc.defaults.Host
	}
	if req.Port == 0 {
		req.Port = cc.defaults.Port
	}

	if !cc.connections.Connect(c.Request.Context(), req.Host, req.Port, req.ClientID) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to connect to Interactive Brokers",
		})
		return
	}

	// The new session may belong to another account.
	cc.cache.SetPortfolio(nil)
	cc.scheduler.EnsurePortfolioLoop()

	c.JSON(http.StatusOK, gin.H{
		"status":  "connected",
		"message": "Successfully connected to Interactive Brokers",
	})
}

// HandleDisconnect tears down the broker session
// POST /api/disconnect
func (cc *ConnectionController) HandleDisconnect(c *gin.Context) {
	if !cc.connections.Disconnect() {
		c.JSON(http.StatusOK, gin.H{
			"status":  "warning",
			"message": "No active connection to disconnect",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "disconnected",
		"message": "Disconnected from Interactive Brokers",
	})
}

// HandleStatus reports connectivity and the active client id
// GET /api/status
func (cc *ConnectionController) HandleStatus(c *gin.Context) {
	var clientID interface{}
	if id, ok := cc.connections.ClientID(); ok {
		clientID = id
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":   clientID != nil,
		"client_id":   clientID,
		"market_open": cc.clock.IsOpen(),
	})
}
