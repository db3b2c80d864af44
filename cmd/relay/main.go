package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"vitalink/internal/core/services"
	"vitalink/internal/infrastructure/monitoring"
	"vitalink/internal/infrastructure/signal"
	"vitalink/pkg/config"
	"vitalink/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/vitalink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	identity := services.NewJWTIdentityProvider(cfg.Auth.JWTSecret, "vitalink")

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	relayCfg := signal.DefaultRelayConfig()
	relayCfg.PingInterval = cfg.Relay.PingInterval
	relayCfg.PongTimeout = cfg.Relay.PongTimeout
	relayCfg.WriteTimeout = cfg.Relay.WriteTimeout
	relayCfg.AllowedOrigins = cfg.Auth.AllowedOrigins
	if cfg.RateLimiting.Enabled {
		relayCfg.MessagesPerSecond = cfg.RateLimiting.Relay.MessagesPerSecond
		relayCfg.Burst = cfg.RateLimiting.Relay.Burst
		relayCfg.MaxMessageSize = cfg.RateLimiting.Relay.MaxMessageSizeBytes
	}

	var metrics signal.RelayMetrics
	if collector != nil {
		metrics = collector
	}
	relay := signal.NewRelayServer(identity, relayCfg, metrics, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.HandleWebSocket)
	mux.HandleFunc("/health", relay.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting VitaLink relay on %s", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Relay failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Relay shutdown failed", "error", err)
	}
	log.Info("Relay stopped")
}
