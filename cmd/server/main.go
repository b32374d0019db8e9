// Package main starts the session vault HTTP server, setting up
// configuration, logging, the secure store, the session manager,
// metrics and handlers.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/sessionvault/internal/app"
	"github.com/atinyakov/sessionvault/internal/config"
	"github.com/atinyakov/sessionvault/internal/logger"
	"github.com/atinyakov/sessionvault/internal/metrics"
	"github.com/atinyakov/sessionvault/internal/securestore"
	"github.com/atinyakov/sessionvault/internal/server/handler/http"
	"github.com/atinyakov/sessionvault/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		zapLogger.Fatal("cannot register metrics", zap.Error(err))
	}

	// A server has no biometric sensor; passcodes arrive with the unlock request.
	vault, closeVault, err := app.OpenVault(ctx, options, app.Deps{
		Passcode: securestore.ContextPasscode,
		OnPurge:  collector.ObservePurge,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot open vault", zap.String("backend", options.Backend), zap.Error(err))
	}
	defer closeVault()
	vault.OnLock(collector.ObserveLock)
	vault.OnUnlock(collector.ObserveUnlock)

	manager, err := service.NewSessionManager(ctx, vault, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot start session manager", zap.Error(err))
	}

	// Mirror manager state into Prometheus.
	states, unsubscribe := manager.Subscribe(16)
	defer unsubscribe()
	go collector.Run(ctx, states)

	// Create HTTP handlers and build the router.
	sessionHandler := &http.SessionHandler{Service: manager, Errors: collector, Logger: zapLogger}
	eventsHandler := http.NewEventsHandler(manager, zapLogger)
	router := http.NewRouter(sessionHandler, eventsHandler,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), zapLogger)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	zapLogger.Info("starting HTTP server",
		zap.String("addr", options.Addr),
		zap.String("backend", options.Backend),
		zap.String("mode", string(manager.CurrentMode())))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}
