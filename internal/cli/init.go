// Package cli holds the start-up steps shared by cmd/contas and
// cmd/replicate-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"contas/internal/backend"
	"contas/internal/config"
	"contas/internal/lock"
	"contas/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration, installs the process logger for
// component and validates. It exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := log.Setup(cfg.LogLevel, cfg.LogFormat, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg, logger
}

// InitBackend opens the configured ledger store or exits the process.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			"backend", cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// InitLocker connects the Redis replication lock when REDIS_ADDRESS is set.
// A nil locker means none is configured or, when not required, reachable.
func InitLocker(ctx context.Context, logger *log.Logger, cfg *config.Config, required bool) *lock.RedisLocker {
	if cfg.RedisAddress == "" {
		return nil
	}
	l, err := lock.Connect(ctx, cfg.RedisAddress, cfg.ReplicationLockTTL)
	if err == nil {
		return l
	}
	if required {
		logger.Error("Failed to connect to Redis", log.FieldError, err)
		os.Exit(1)
	}
	logger.WithComponent(log.ComponentLock).Warn("Redis unavailable, continuing without cross-process lock", log.FieldError, err)
	return nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
