package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"signaldesk/internal/config"
	"signaldesk/internal/gateway"
	"signaldesk/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (json or yaml)")
	flag.Parse()

	// Create a basic logger for early errors
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg, err := config.LoadGateway(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	logger, err = logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("init logger with config: %v", err))
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("listen", cfg.Listen),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("debug_proxy", cfg.DebugProxy),
		zap.Int("routes", len(cfg.Routes)),
		zap.Duration("request_timeout", cfg.RequestTimeout.Duration),
	)

	service, err := gateway.NewService(cfg, logger)
	if err != nil {
		logger.Fatal("init gateway", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           service.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	startServer := func() error {
		if cfg.TLS.Enabled {
			logger.Info("starting http server", zap.String("listen", cfg.Listen), zap.Bool("tls", true))
			return server.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		}
		logger.Info("starting http server", zap.String("listen", cfg.Listen), zap.Bool("tls", false))
		return server.ListenAndServe()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := startServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	service.SetReady(true)
	logger.Info("signal gateway ready to accept connections")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		logger.Fatal("server error", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	service.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
}
