package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cap5/settlement_service/internal/api/routes"
	"github.com/cap5/settlement_service/internal/infrastructure/config"
	"github.com/cap5/settlement_service/internal/infrastructure/di"
	"github.com/cap5/settlement_service/pkg/graceful"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/tracing"
)

// @title CaP5 Settlement Service API
// @version 1.0
// @description Converts on-chain deposits into CaP5 mints and burns at the current basket index

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey WebhookToken
// @in header
// @name Authorization
// @description Helius webhook token, optionally prefixed with "Bearer".

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		CollectorURL:   cfg.Tracing.CollectorURL,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(ctx, tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	// Start background workers
	if err := container.Reconciler.Start(ctx); err != nil {
		log.Fatal("Failed to start settlement reconciler", "error", err)
	}

	workerDone := make(chan struct{})
	if container.AsynqWorker != nil {
		go func() {
			defer close(workerDone)
			if err := container.AsynqWorker.Run(ctx); err != nil {
				log.Error("Payout worker stopped", "error", err)
			}
		}()
		log.Info("Asynq payout worker started")
	} else {
		close(workerDone)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	shutdown := graceful.NewShutdownManager(server, log)
	container.RegisterShutdown(shutdown)
	shutdown.Register("payout_worker", graceful.ShutdownFunc(func(ctx context.Context) error {
		cancel()
		select {
		case <-workerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	shutdown.Register("tracing", graceful.ShutdownFunc(tracingShutdown))

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"store", cfg.Store.Driver,
			"dispatcher", cfg.Workers.Dispatcher,
			"fast_mode", cfg.Settlement.FastMode,
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		log.Warn("Server exited with shutdown errors", "error", err)
		return
	}
	log.Info("Server exited gracefully")
}
