package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"codeberg.org/dirsync/dirsync/pkg/audit"
	"codeberg.org/dirsync/dirsync/pkg/config"
	"codeberg.org/dirsync/dirsync/pkg/directory"
	"codeberg.org/dirsync/dirsync/pkg/engine"
	"codeberg.org/dirsync/dirsync/pkg/identity"
	"codeberg.org/dirsync/dirsync/pkg/ledger"
	"codeberg.org/dirsync/dirsync/pkg/scheduler"
	"codeberg.org/dirsync/dirsync/pkg/settings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "/etc/dirsync/config.yaml", "Path to config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			panic(err)
		}
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	syncSettings, err := settings.FromMap(cfg.Sync)
	if err != nil {
		logger.Fatal("Invalid sync settings", zap.Error(err))
	}
	if err := syncSettings.Validate(); err != nil {
		logger.Fatal("Sync settings failed validation", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Data.Dir, 0o750); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	store, err := identity.OpenSQLite(filepath.Join(cfg.Data.Dir, "identity.db"))
	if err != nil {
		logger.Fatal("Identity store init failed", zap.Error(err))
	}
	defer store.Close()

	records, err := ledger.Open(filepath.Join(cfg.Data.Dir, "syncrecords.db"))
	if err != nil {
		logger.Fatal("Sync record store init failed", zap.Error(err))
	}
	defer records.Close()

	sink, err := audit.OpenSQLite(filepath.Join(cfg.Data.Dir, "audit.db"))
	if err != nil {
		logger.Fatal("Audit store init failed", zap.Error(err))
	}
	defer sink.Close()

	sched := scheduler.New(logger)
	defer sched.Stop()

	if syncSettings.Enabled {
		every := time.Duration(syncSettings.Frequency) * time.Hour
		sched.Schedule(ctx, syncSettings.Host, every, func(ctx context.Context) error {
			// fresh client and runner per run: the runner is single-use
			// and the client's probe cache is per-connection
			client := directory.NewClient(syncSettings, logger)
			runner := engine.New(syncSettings, client, store, records, sink, logger)
			return runner.DoSync()
		})
	} else {
		logger.Info("Sync not enabled; daemon idle until settings change")
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}

func initLogger(c config.LoggingConfig) *zap.Logger {
	lvl, _ := zapcore.ParseLevel(c.Level)
	cfg := zap.NewProductionConfig()
	if c.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, _ := cfg.Build()
	return l
}
