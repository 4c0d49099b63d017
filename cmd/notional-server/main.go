package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/brokers"
	"github.com/nickcoast/IBKR-notional/config"
	"github.com/nickcoast/IBKR-notional/controllers"
	"github.com/nickcoast/IBKR-notional/database"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "notional-server",
		Short:         "Portfolio notional leverage and option chain service for Interactive Brokers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		port        int
		broker      string
		autoConnect bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("broker") {
				cfg.Broker.Kind = broker
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cfg, autoConnect)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&port, "port", 5001, "HTTP listen port")
	cmd.Flags().StringVar(&broker, "broker", config.BrokerIBKR, "session backend: ibkr, alpaca or paper")
	cmd.Flags().BoolVar(&autoConnect, "connect", false, "connect to the configured broker on startup")
	return cmd
}

func serve(cfg *config.Config, autoConnect bool) error {
	logOpts := logging.DefaultOptions()
	logOpts.Level = cfg.Logging.Level
	logOpts.Format = cfg.Logging.Format
	logOpts.File = cfg.Logging.File
	logger, err := logging.New(logOpts)
	if err != nil {
		return err
	}

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	app := services.NewApp(sessionFactory(cfg, logger), services.AppConfig{
		Scheduler: services.SchedulerConfig{
			PortfolioInterval: cfg.Refresh.PortfolioInterval,
			ChainInterval:     cfg.Refresh.OptionsInterval,
			MaxChainLoops:     cfg.Refresh.MaxChainLoops,
		},
		StockThrottle: cfg.Refresh.StockThrottle,
		QuoteThrottle: cfg.Refresh.QuoteThrottle,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := controllers.NewStreamHub(logger)
	go hub.Run(ctx)
	app.Scheduler.AddListener(hub)

	opts := controllers.RouterOptions{
		Defaults: controllers.ConnectDefaults{Host: cfg.IB.Host, Port: cfg.IB.Port},
		Clock:    controllers.NewMarketClock("xnys"),
		Stream:   hub,
	}

	pruneDone := make(chan struct{})
	if cfg.History.DBPath != "" {
		storage, err := database.NewLocalStorage(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer storage.Close()

		app.Scheduler.AddListener(services.NewHistoryRecorder(storage, logger))
		opts.History = storage

		pruner := services.NewHistoryPruner(storage, cfg.History.Retention, cfg.History.CleanupInterval, logger)
		go func() {
			defer close(pruneDone)
			pruner.Run(ctx)
		}()
	} else {
		close(pruneDone)
	}

	if autoConnect {
		if app.Connections.Connect(ctx, cfg.IB.Host, cfg.IB.Port, nil) {
			app.Scheduler.EnsurePortfolioLoop()
		} else {
			logger.Warn("Startup connect failed; use POST /api/connect to retry")
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: controllers.NewRouter(app, opts, logger),
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   httpServer.Addr,
			"broker": cfg.Broker.Kind,
		}).Info("Notional server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server error")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down notional server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	app.Shutdown()
	<-pruneDone

	return nil
}

func sessionFactory(cfg *config.Config, logger *logrus.Logger) interfaces.SessionFactory {
	switch cfg.Broker.Kind {
	case config.BrokerAlpaca:
		return brokers.AlpacaFactory(brokers.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			DataURL:   cfg.Alpaca.DataURL,
		}, logger)
	case config.BrokerPaper:
		paper := brokers.NewPaperSession()
		brokers.SeedDemo(paper)
		return brokers.PaperFactory(paper)
	default:
		return brokers.IBFactory(cfg.IB.ConnectTimeout, logger)
	}
}
