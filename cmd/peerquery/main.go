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

	"go.uber.org/zap"

	"github.com/kailas-cloud/peerquery/internal/bus"
	"github.com/kailas-cloud/peerquery/internal/bus/memory"
	busRedis "github.com/kailas-cloud/peerquery/internal/bus/redis"
	"github.com/kailas-cloud/peerquery/internal/config"
	logpkg "github.com/kailas-cloud/peerquery/internal/logger"
	"github.com/kailas-cloud/peerquery/internal/metrics"
	"github.com/kailas-cloud/peerquery/internal/repository/seen"
	chiTransport "github.com/kailas-cloud/peerquery/internal/transport/chi"
	"github.com/kailas-cloud/peerquery/internal/usecase/collector"
	"github.com/kailas-cloud/peerquery/internal/usecase/executor"
	healthuc "github.com/kailas-cloud/peerquery/internal/usecase/health"
	"github.com/kailas-cloud/peerquery/internal/usecase/listener"
	"github.com/kailas-cloud/peerquery/internal/usecase/scatter"
	"github.com/kailas-cloud/peerquery/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level, cfg.Node.ID)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting peerquery node",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("bus_driver", cfg.Bus.Driver),
		zap.Strings("bus_addrs", cfg.Bus.Addrs),
		zap.String("query_topic", cfg.Bus.QueryTopic),
		zap.String("result_topic", cfg.Bus.ResultTopic),
	)

	b, err := createBus(cfg.Bus)
	if err != nil {
		logger.Fatal("Failed to create message bus", zap.Error(err))
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.WaitForReady(ctx, time.Duration(cfg.Bus.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Message bus not ready", zap.Error(err))
	}
	logger.Info("Connected to message bus")

	metrics.Register()

	// Composition root
	cache := seen.New(cfg.Dedup.Capacity, cfg.Dedup.TTL)
	exec := executor.New(cfg.Node.ID)

	listenerSvc := listener.New(listener.Config{
		NodeID:      cfg.Node.ID,
		QueryTopic:  cfg.Bus.QueryTopic,
		ResultTopic: cfg.Bus.ResultTopic,
	}, b, exec, cache, logger)

	scatterSvc := scatter.New(scatter.Config{
		NodeID:          cfg.Node.ID,
		QueryTopic:      cfg.Bus.QueryTopic,
		BroadcastSuffix: *cfg.Node.BroadcastSuffix,
		MaxTimeout:      cfg.Query.MaxTimeout,
	}, b, collector.New(b, cfg.Bus.ResultTopic, logger), exec, cache, logger)

	healthSvc := healthuc.New(b, listenerSvc)

	// The listener must be subscribed before the node accepts queries.
	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	sub, err := listenerSvc.Open(listenCtx)
	if err != nil {
		logger.Fatal("Failed to subscribe to queries", zap.Error(err))
	}
	listenerDone := make(chan error, 1)
	go func() { listenerDone <- listenerSvc.Serve(listenCtx, sub) }()

	server := chiTransport.NewServer(scatterSvc, healthSvc, chiTransport.Options{
		DefaultTimeout: cfg.Query.DefaultTimeout,
		MaxTimeout:     cfg.Query.MaxTimeout,
		APIKeys:        cfg.Auth.APIKeys,
		ClientCert: chiTransport.ClientCertPolicy{
			Enabled:         cfg.Auth.ClientCert.Enabled,
			AllowedSubjects: cfg.Auth.ClientCert.AllowedSubjects,
		},
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}
	if cfg.TLS.Enabled() {
		srv.TLSConfig, err = chiTransport.ServerTLSConfig(
			cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ClientCAFile, cfg.Auth.ClientCert.Enabled,
		)
		if err != nil {
			logger.Fatal("Failed to configure TLS", zap.Error(err))
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr), zap.Bool("tls", cfg.TLS.Enabled()))
		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-listenerDone:
		// Without a listener the node would silently stop answering peers.
		logger.Error("Query listener stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	stopListener()

	logger.Info("Node stopped gracefully")
}

func createBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		b, err := busRedis.NewBus(busRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
			MaxLen:   cfg.StreamMaxLen,
			Block:    time.Duration(cfg.BlockMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis bus: %w", err)
		}
		return b, nil
	case config.DriverMemory:
		return memory.NewBroker(), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
