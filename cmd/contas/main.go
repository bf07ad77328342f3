package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"contas/internal/amqp"
	"contas/internal/cache"
	"contas/internal/cli"
	"contas/internal/core"
	apphttp "contas/internal/http"
	"contas/internal/log"
	"contas/internal/services"
	"contas/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	ctx, stop := cli.SignalContext()
	defer stop()

	res := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()
	store := res.Backend

	// Without Redis, replication is serialized per process and by the
	// store's uniqueness constraint.
	var locker services.Locker
	if l := cli.InitLocker(ctx, logger, cfg, false); l != nil {
		defer l.Close()
		locker = l
	}

	var (
		requester  services.ReplicationRequester
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, replication stays on the request path", log.FieldError, err)
		} else {
			defer client.Close()
			amqpClient = client
			requester = client
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	reportCache := cache.NewLRUCache[core.InstallmentReport](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(reportCache)
	cacheManager.StartCleanup(cfg.ReportCacheTTL)
	defer cacheManager.Stop()

	engine := services.NewReplicationEngine(store, locker)
	reports := services.NewInstallmentAggregator(store, reportCache)

	// The worker writes to the same store; its invalidations keep the
	// report cache honest between TTL expiries.
	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeReportInvalidations(ctx, worker.InvalidationHandler(reports))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithComponent(log.ComponentCache).Warn("Report invalidation consumer stopped", log.FieldError, err)
			}
		}()
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Views:     services.NewMonthlyViewBuilder(store, engine, reports),
		Reports:   reports,
		Entries:   services.NewEntryService(store, requester, reports),
		Store:     store,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger.WithComponent(log.ComponentHTTP),
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting contas server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"redis_lock", locker != nil,
		"amqp", requester != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
