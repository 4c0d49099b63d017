package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/models"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 1000
	defaultHistoryWindow = 24 * time.Hour
)

// HistoryReader reads stored snapshots
type HistoryReader interface {
	// GetAccountSnapshots returns the newest limit account snapshots
	GetAccountSnapshots(limit int) ([]*models.DBAccountSnapshot, error)
	// GetUnderlyingHistory returns one symbol's aggregates since a time, oldest first
	GetUnderlyingHistory(symbol string, since time.Time) ([]*models.DBUnderlyingSnapshot, error)
}

// PortfolioController serves the cached portfolio snapshot and its history
type PortfolioController struct {
	connections *services.ConnectionManager
	cache       *services.SnapshotCache
	history     HistoryReader
	logger      *logrus.Logger
}

// NewPortfolioController creates a new portfolio controller. history may be nil.
func NewPortfolioController(
	connections *services.ConnectionManager,
	cache *services.SnapshotCache,
	history HistoryReader,
	logger *logrus.Logger,
) *PortfolioController {
	return &PortfolioController{
		connections: connections,
		cache:       cache,
		history:     history,
		logger:      logger,
	}
}

// HandleGetPortfolio returns the latest aggregated portfolio
// GET /api/portfolio
func (pc *PortfolioController) HandleGetPortfolio(c *gin.Context) {
	if !pc.connections.IsConnected() {
		notConnected(c)
		return
	}

	snapshot := pc.cache.Portfolio()
	if snapshot == nil || len(snapshot.AccountSummary) == 0 {
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "waiting",
			"message": "Portfolio data not yet available",
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// HandleGetHistory lists stored account snapshots
// GET /api/portfolio/history?limit=50
func (pc *PortfolioController) HandleGetHistory(c *gin.Context) {
	if pc.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": interfaces.ErrHistoryDisabled.Error(),
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	snapshots, err := pc.history.GetAccountSnapshots(limit)
	if err != nil {
		pc.logger.WithError(err).Error("Failed to read portfolio history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to read portfolio history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(snapshots),
		"snapshots": snapshots,
	})
}

// HandleGetUnderlyingHistory lists stored aggregates for one underlying.
// since is an RFC3339 time or a lookback duration such as 6h; default 24h.
// GET /api/portfolio/history/:symbol?since=6h
func (pc *PortfolioController) HandleGetUnderlyingHistory(c *gin.Context) {
	if pc.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": interfaces.ErrHistoryDisabled.Error(),
		})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	since, err := parseSince(c.Query("since"), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "since must be an RFC3339 time or a positive duration",
		})
		return
	}

	rows, err := pc.history.GetUnderlyingHistory(symbol, since)
	if err != nil {
		pc.logger.WithError(err).WithField("symbol", symbol).Error("Failed to read underlying history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to read portfolio history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"since":     since.Format(time.RFC3339),
		"count":     len(rows),
		"snapshots": rows,
	})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-defaultHistoryWindow), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, errors.New("lookback must be positive")
	}
	return now.Add(-d), nil
}

func notConnected(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"message": "Not connected to Interactive Brokers",
	})
}
