package main

// File: cmd/server/app.go
// Purpose: Build the dependency graph shared by every subcommand.

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"perf-api-go/internal/analysis"
	"perf-api-go/internal/config"
	"perf-api-go/internal/db"
	"perf-api-go/internal/jmeter"
	"perf-api-go/internal/llm"
	"perf-api-go/internal/logger"
	"perf-api-go/internal/monitoring"
	"perf-api-go/internal/mq"
	"perf-api-go/internal/scheduler"
	"perf-api-go/internal/services"
)

type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *db.Store
	publisher mq.EventPublisher
	metrics   *monitoring.Metrics
	sched     *scheduler.Scheduler
	runs      *services.RunService
}

func loadConfig(g *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	log := logger.New(&logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Output:     cfg.LogOutput,
		FilePath:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
	})
	return cfg, log, nil
}

// newApp connects the store, applies the schema and wires the run service.
func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, log, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	store, err := db.New(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var publisher mq.EventPublisher = mq.Noop{}
	if cfg.EventsEnabled {
		p, err := mq.NewPublisher(cfg.RabbitURL(), cfg.ExchangeName)
		if err != nil {
			log.Warn("rabbitmq unavailable; lifecycle events disabled", zap.Error(err))
		} else {
			publisher = p
		}
	}

	sched, err := scheduler.New(log.Named("scheduler"))
	if err != nil {
		_ = store.Close()
		publisher.Close()
		return nil, err
	}

	metrics := monitoring.New()
	reg := llm.NewRegistryFromConfig(ctx, cfg, nil, log.Named("llm"))
	exec := llm.NewExecutor(reg, log.Named("llm"), metrics)

	runs := services.NewRunService(cfg, services.Deps{
		Store:   store,
		Emitter: jmeter.NewEmitter(cfg.TemplatesDir),
		Driver: jmeter.NewDriver(jmeter.DriverConfig{
			Home:       cfg.JMeterHome,
			ResultsDir: cfg.ResultsDir,
			Timeout:    cfg.ToolTimeout,
			Grace:      cfg.ToolGrace,
			RMIPort:    cfg.RMIPort,
		}, log.Named("jmeter")),
		Analyzer:   analysis.NewGraph(exec, log.Named("analysis")),
		Dispatcher: sched,
		Publisher:  publisher,
		Metrics:    metrics,
		Providers:  reg.Names(),
		Log:        log.Named("run"),
	})

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		sched:     sched,
		runs:      runs,
	}, nil
}

// close waits for queued analyses, then releases connections.
func (a *app) close() {
	if err := a.sched.Shutdown(); err != nil {
		a.log.Warn("scheduler shutdown", zap.Error(err))
	}
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
