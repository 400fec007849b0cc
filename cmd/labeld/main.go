package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smartpneu/label-engine/internal/api"
	"github.com/smartpneu/label-engine/internal/config"
	"github.com/smartpneu/label-engine/internal/dispatch"
	"github.com/smartpneu/label-engine/internal/engine"
	"github.com/smartpneu/label-engine/internal/printer"
	"github.com/smartpneu/label-engine/internal/renderer"
	"github.com/smartpneu/label-engine/internal/store"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "labeld.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("labeld %s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.DatabasePath, cfg.Storage.ArtifactDir)
	if err != nil {
		logger.Fatal("failed to open label store", zap.Error(err))
	}
	defer st.Close()

	manager, err := printer.NewManager(cfg.Devices)
	if err != nil {
		logger.Fatal("invalid device configuration", zap.Error(err))
	}
	if manager.Empty() {
		logger.Warn("no print devices configured, labels will only be saved to file")
	}

	pool := printer.NewConnectionPool()
	defer pool.DisconnectAll()

	dispatcher := dispatch.New(st, manager, &dispatch.PoolSubmitter{Pool: pool}, cfg.Policy(), logger)
	defer dispatcher.Stop()

	var rendererOpts []renderer.Option
	if cfg.Storage.FontPath != "" {
		rendererOpts = append(rendererOpts, renderer.WithFonts(cfg.Storage.FontPath, cfg.Storage.FontBoldPath))
	}
	eng := engine.New(st, renderer.New(rendererOpts...), dispatcher, cfg.Shop.BaseURL, logger)

	server := api.NewServer(eng, manager, logger)
	dispatcher.OnTransition(server.JobTransition)

	// Jobs interrupted by a previous crash go back on the queue.
	if err := dispatcher.Recover(); err != nil {
		logger.Error("job recovery failed", zap.Error(err))
	}

	if cfg.Storage.JobRetention > 0 {
		go pruneJobs(st, cfg.Storage.JobRetention, logger)
	}

	serverErrChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
		logger.Info("starting label engine",
			zap.String("version", Version),
			zap.String("addr", addr),
			zap.Int("devices", len(cfg.Devices)))
		if err := server.Run(addr); err != nil {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}
}

// pruneJobs ages finished jobs out of the database, once at startup and then
// hourly. Runs for the life of the process.
func pruneJobs(st *store.Store, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := st.DeleteJobsOlderThan(time.Now().Add(-retention))
		if err != nil {
			logger.Error("job pruning failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned finished print jobs", zap.Int64("count", n))
		}
		<-ticker.C
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
