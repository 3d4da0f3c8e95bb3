package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravenhall-io/coresentry/internal/config"
	"github.com/ravenhall-io/coresentry/internal/detector"
	"github.com/ravenhall-io/coresentry/internal/event"
	"github.com/ravenhall-io/coresentry/internal/ops"
	"github.com/ravenhall-io/coresentry/internal/registry"
	"github.com/ravenhall-io/coresentry/internal/version"
	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to application configuration file")
	detectorConfigPath := flag.String("detector-config", "", "path to the detector runtime configuration file (overrides modules.confwatch.path)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.LoadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *detectorConfigPath != "" {
		viperCfg.Set("modules.confwatch.path", *detectorConfigPath)
	}
	cfg := config.New(viperCfg)

	// Initialize logger from configuration.
	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("CoreSentry starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("application configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no application configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Create shared services
	bus := event.NewBus(logger.Named("event"))
	logger.Info("event bus created", zap.String("component", "event"))

	// Create module registry
	reg := registry.New(logger.Named("registry"))

	// Register all modules (compile-time composition)
	confMod := config.NewModule()
	detMod := detector.New()
	detMod.SetConfigSource(confMod)

	for _, m := range []plugin.Plugin{confMod, detMod} {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}
	if err := reg.Validate(); err != nil {
		logger.Fatal("plugin validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("modules." + name),
			Logger: logger.Named(name),
			Bus:    bus,
		}
	}); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// Ops endpoint: metrics + liveness/readiness.
	opsSrv := ops.NewServer(viperCfg.GetString("ops.listen_addr"), func() error {
		if confMod.Current() == nil {
			return fmt.Errorf("runtime configuration not loaded")
		}
		return nil
	}, logger.Named("ops"))
	opsSrv.Start()

	logger.Info("CoreSentry running",
		zap.String("sample_topic", confMod.Current().Events.Sample),
		zap.Bool("mitigation_enabled", confMod.Current().MitigationEnabled),
	)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops endpoint shutdown incomplete", zap.Error(err))
	}

	logger.Info("CoreSentry stopped")
}
