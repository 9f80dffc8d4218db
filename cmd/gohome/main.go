package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-daichi/internal/config"
	"github.com/joshp123/gohome-daichi/internal/core"
	"github.com/joshp123/gohome-daichi/internal/logging"
	"github.com/joshp123/gohome-daichi/internal/mqtt"
	"github.com/joshp123/gohome-daichi/internal/plugins"
	"github.com/joshp123/gohome-daichi/internal/rate"
	"github.com/joshp123/gohome-daichi/internal/router"
	"github.com/joshp123/gohome-daichi/internal/server"
	"github.com/joshp123/gohome-daichi/plugins/daichi"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Default().Error("gohome exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(envOrDefault("GOHOME_CONFIG", config.DefaultPath))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, version)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	active := plugins.Compiled(cfg, logger)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	defer closePlugins(active, logger)

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		return err
	}

	if cfg.MQTT.Enabled() {
		publisher, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt disabled", "error", err)
		} else {
			defer publisher.Close()
			subscribeStates(active, publisher, logger)
		}
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return err
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	metricsRegistry := core.MetricsRegistry(active, rate.MetricsCollectors()...)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gohome_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", server.HealthHandler)
	httpMux.Handle("/ready", server.ReadyHandler(active))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	httpMux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	errs := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.Core.HTTPAddr)
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		logger.Info("grpc listening", "addr", grpcServer.Listener.Addr().String())
		errs <- grpcServer.Serve()
	}()

	var runners sync.WaitGroup
	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		runners.Add(1)
		go func() {
			defer runners.Done()
			if err := runner.Run(ctx); err != nil {
				logger.Error("plugin stopped", "plugin", p.ID(), "error", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errs:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http shutdown", "error", err)
	}
	runners.Wait()
	return serveErr
}

func subscribeStates(active []core.Plugin, publisher daichi.StatePublisher, logger *slog.Logger) {
	for _, p := range active {
		if plugin, ok := p.(daichi.Plugin); ok && plugin.Poller() != nil {
			plugin.Poller().OnUpdate(daichi.PublishSnapshots(publisher, logger))
		}
	}
}

func closePlugins(active []core.Plugin, logger *slog.Logger) {
	for _, p := range active {
		closer, ok := p.(core.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			logger.Warn("close plugin", "plugin", p.ID(), "error", err)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
