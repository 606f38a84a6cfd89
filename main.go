package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/config"
	"github.com/josuehernandeztapia/conductores-delivery/estimator"
	"github.com/josuehernandeztapia/conductores-delivery/eta"
	"github.com/josuehernandeztapia/conductores-delivery/lifecycle"
	"github.com/josuehernandeztapia/conductores-delivery/metrics"
	"github.com/josuehernandeztapia/conductores-delivery/notifier"
	"github.com/josuehernandeztapia/conductores-delivery/repository"
	"github.com/josuehernandeztapia/conductores-delivery/server"
	"github.com/josuehernandeztapia/conductores-delivery/trigger"
)

var (
	configPath string
	httpPort   string
	seed       bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to the config file (optional)")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides config)")
	flag.BoolVar(&seed, "seed", false, "Seed reference data on start")
}

func main() {
	// Load Config
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if httpPort != "" {
		cfg.HTTPPort = httpPort
	}
	if seed {
		cfg.SeedOnStart = true
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Creating logger: %v", err)
	}
	defer logger.Sync()

	metrics.Register()

	// Connect Postgresql DB
	repo := repository.NewRepository(logger)
	logger.Info("connecting to postgres", zap.String("dsn", cfg.PostgresDSN))
	if err := repo.ConnectDB(cfg.PostgresDSN); err != nil {
		logger.Fatal("connecting database", zap.Error(err))
	}
	if err := repo.Migrate(); err != nil {
		logger.Fatal("migrating database", zap.Error(err))
	}
	if cfg.SeedOnStart {
		if err := repo.Seed(); err != nil {
			logger.Fatal("seeding database", zap.Error(err))
		}
	}

	// Initialize scan journal
	journal, err := trigger.OpenJournal(cfg.BadgerPath)
	if err != nil {
		logger.Fatal("opening scan journal", zap.Error(err))
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("closing scan journal", zap.Error(err))
		}
	}()

	// Build services
	projector := eta.NewProjector(cfg.BufferTable())
	lc := lifecycle.NewService(repo, projector, lifecycle.DefaultDefaults(), logger)
	engine := trigger.NewEngine(
		repo,
		lc,
		notifier.NewLog(logger),
		estimator.NewVelocity(),
		cfg.ThresholdRules(),
		journal,
		trigger.Config{Interval: cfg.Scan.Interval, Fanout: cfg.Scan.Fanout},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)

	// Start Web Server
	webserver := server.NewWebServer(cfg.HTTPPort, repo, lc, engine, logger)
	webserver.Start()

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	cancel()

	// Create deadline to wait for server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := webserver.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down HTTP web server", zap.Error(err))
	}
	logger.Info("HTTP web server gracefully stopped")
}
