package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

// RouterOptions holds the optional pieces of the HTTP surface
type RouterOptions struct {
	Defaults ConnectDefaults
	Clock    *MarketClock
	History  HistoryReader
	Stream   *StreamHub
}

// NewRouter mounts every endpoint under /api
func NewRouter(app *services.App, opts RouterOptions, logger *logrus.Logger) *gin.Engine {
	logger = logging.OrDefault(logger)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger), CORSMiddleware())

	connection := NewConnectionController(app.Connections, app.Scheduler, app.Cache, opts.Clock, opts.Defaults, logger)
	portfolio := NewPortfolioController(app.Connections, app.Cache, opts.History, logger)
	options := NewOptionsController(app.Connections, app.Chains, app.Cache, app.Scheduler, logger)
	diagnostics := NewDiagnosticsController(app.Connections, app.Scheduler, logger)

	api := engine.Group("/api")
	{
		api.POST("/connect", connection.HandleConnect)
		api.POST("/disconnect", connection.HandleDisconnect)
		api.GET("/status", connection.HandleStatus)

		api.GET("/portfolio", portfolio.HandleGetPortfolio)
		api.GET("/portfolio/history", portfolio.HandleGetHistory)
		api.GET("/portfolio/history/:symbol", portfolio.HandleGetUnderlyingHistory)

		api.GET("/option_chain", options.HandleGetOptionChain)
		api.GET("/options", options.HandleGetOptions)
		api.POST("/options/refresh", options.HandleRestartOptions)
		api.DELETE("/options", options.HandleStopOptions)

		api.GET("/test_connection", diagnostics.HandleTestConnection)
		api.GET("/direct_data", diagnostics.HandleDirectData)
		api.GET("/detailed_status", diagnostics.HandleDetailedStatus)

		if opts.Stream != nil {
			api.GET("/stream", opts.Stream.HandleStream)
		}
	}

	return engine
}

// CORSMiddleware allows any origin and answers preflight requests
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("HTTP request")
	}
}
