package controllers

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

const sampleAccountValues = 5

// DiagnosticsController exposes raw broker reads for troubleshooting
type DiagnosticsController struct {
	connections *services.ConnectionManager
	scheduler   *services.RefreshScheduler
	logger      *logrus.Logger
}

// NewDiagnosticsController creates a new diagnostics controller
func NewDiagnosticsController(connections *services.ConnectionManager, scheduler *services.RefreshScheduler, logger *logrus.Logger) *DiagnosticsController {
	return &DiagnosticsController{
		connections: connections,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// HandleTestConnection issues a cheap request against the live session
// GET /api/test_connection
func (dc *DiagnosticsController) HandleTestConnection(c *gin.Context) {
	session, err := dc.connections.Session()
	if err != nil {
		notConnected(c)
		return
	}

	accounts, err := session.ManagedAccounts(c.Request.Context())
	if err != nil {
		dc.logger.WithError(err).Error("Managed accounts request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"account":   accounts,
		"connected": session.IsConnected(),
	})
}

// HandleDirectData returns broker-valued portfolio rows without aggregation
// GET /api/direct_data
func (dc *DiagnosticsController) HandleDirectData(c *gin.Context) {
	session, err := dc.connections.Session()
	if err != nil {
		notConnected(c)
		return
	}

	ctx := c.Request.Context()
	accounts, err := session.ManagedAccounts(ctx)
	if err != nil {
		dc.internalError(c, "Managed accounts request failed", err)
		return
	}
	items, err := session.Portfolio(ctx)
	if err != nil {
		dc.internalError(c, "Portfolio request failed", err)
		return
	}

	rows := make([]gin.H, 0, len(items))
	for _, item := range items {
		if item == nil || item.Contract == nil {
			continue
		}
		rows = append(rows, gin.H{
			"symbol":        item.Contract.Symbol,
			"position":      finite(item.Position),
			"marketPrice":   finite(item.MarketPrice),
			"marketValue":   finite(item.MarketValue),
			"averageCost":   finite(item.AverageCost),
			"unrealizedPNL": finite(item.UnrealizedPNL),
			"realizedPNL":   finite(item.RealizedPNL),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"accounts":  accounts,
		"portfolio": rows,
		"time":      time.Now().Format(time.RFC3339),
	})
}

// HandleDetailedStatus summarizes the session and running refresh loops
// GET /api/detailed_status
func (dc *DiagnosticsController) HandleDetailedStatus(c *gin.Context) {
	info := dc.connections.Info()
	if !info.Initialized {
		c.JSON(http.StatusOK, gin.H{"status": "Not initialized"})
		return
	}

	connected := dc.connections.IsConnected()
	response := gin.H{
		"connected":             connected,
		"client_id":             info.ClientID,
		"host":                  info.Host,
		"port":                  info.Port,
		"accounts":              []string{},
		"positions_count":       0,
		"account_values_count":  0,
		"sample_account_values": []gin.H{},
		"chain_loops":           dc.scheduler.ChainLoops(),
	}
	if !info.ConnectedAt.IsZero() {
		response["connected_at"] = info.ConnectedAt.Format(time.RFC3339)
	}

	if connected {
		session, err := dc.connections.Session()
		if err != nil {
			dc.internalError(c, "Session lookup failed", err)
			return
		}
		ctx := c.Request.Context()

		accounts, err := session.ManagedAccounts(ctx)
		if err != nil {
			dc.internalError(c, "Managed accounts request failed", err)
			return
		}
		positions, err := session.Positions(ctx)
		if err != nil {
			dc.internalError(c, "Positions request failed", err)
			return
		}
		values, err := session.AccountSummary(ctx)
		if err != nil {
			dc.internalError(c, "Account summary request failed", err)
			return
		}

		usd := make([]gin.H, 0, len(values))
		for _, v := range values {
			if v.Currency == "USD" {
				usd = append(usd, gin.H{"tag": v.Tag, "value": v.Value})
			}
		}

		response["accounts"] = accounts
		response["positions_count"] = len(positions)
		response["account_values_count"] = len(usd)
		response["sample_account_values"] = usd[:min(len(usd), sampleAccountValues)]
	}

	c.JSON(http.StatusOK, response)
}

func (dc *DiagnosticsController) internalError(c *gin.Context, msg string, err error) {
	dc.logger.WithError(err).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{
		"status":  "error",
		"message": err.Error(),
	})
}

// finite maps NaN and Inf to 0 so rows stay JSON encodable
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
