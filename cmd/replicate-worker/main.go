package main

import (
	"context"
	"errors"
	"os"
	"sync"

	"contas/internal/amqp"
	"contas/internal/backend"
	"contas/internal/cli"
	"contas/internal/log"
	"contas/internal/services"
	"contas/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger.Info("Starting replicate-worker")

	ctx, stop := cli.SignalContext()
	defer stop()

	if cfg.DataBackend == backend.MemoryBackend.String() {
		logger.Warn("Memory backend is private to this process, the worker will not see API writes")
	}
	res := cli.InitBackend(ctx, logger, cfg)
	defer res.Cleanup()
	store := res.Backend

	var locker services.Locker
	if l := cli.InitLocker(ctx, logger, cfg, true); l != nil {
		defer l.Close()
		locker = l
	}

	var (
		amqpClient *amqp.Client
		reports    services.ReportInvalidator
	)
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		// API processes cache installment reports; tell them what changed.
		reports = worker.NewReportBroadcast(amqpClient)
	}

	engine := services.NewReplicationEngine(store, locker)
	sweeper := services.NewReplicationSweeper(store, engine, reports)
	w := worker.NewReplicationWorker(engine, sweeper, reports, cfg.ReplicateInterval)

	var wg sync.WaitGroup

	if amqpClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := amqpClient.ConsumeReplicationRequests(ctx, w.HandleReplicationRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption stopped", log.FieldError, err)
				stop()
			}
		}()
	} else {
		logger.Info("AMQP disabled, running periodic sweeps only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Replication sweep configured",
			"interval", cfg.ReplicateInterval,
			"on_startup", cfg.ReplicateOnStartup)
		if err := w.RunSweepLoop(ctx, cfg.ReplicateOnStartup); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sweep loop stopped", log.FieldError, err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down replicate-worker")
	wg.Wait()
	logger.Info("Replicate-worker shutdown complete")
}
