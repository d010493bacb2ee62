package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"github.com/rendis/mtaflow/internal/cloud"
	"github.com/rendis/mtaflow/internal/driver"
	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/expressions"
	"github.com/rendis/mtaflow/internal/hooks"
	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/internal/steps"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/internal/streaming"
	"github.com/rendis/mtaflow/internal/validation"
)

// app is the wired runtime shared by the commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	validator *validation.DescriptorValidator
	driver    *driver.Driver
	schedule  cron.Schedule
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}

// openStore opens and migrates the process database.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// runtimeDeps replaces parts of the wiring that newApp otherwise builds from
// the configuration. The zero value wires everything from cfg.
type runtimeDeps struct {
	client   cloud.Client
	schedule cron.Schedule
}

// newApp wires store, cloud client, hooks, steps and driver.
func newApp(ctx context.Context, cfg Config, logOut io.Writer, deps runtimeDeps) (*app, error) {
	logger := newLogger(cfg, logOut)

	s, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	client := deps.client
	if client == nil {
		if cfg.CloudURL == "" {
			_ = s.Close()
			return nil, fmt.Errorf("cloud_url is not configured (set MTAFLOW_CLOUD_URL)")
		}
		client, err = cloud.NewHTTPClient(cloud.HTTPConfig{
			BaseURL:           cfg.CloudURL,
			Token:             cfg.CloudToken,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.requestTimeout(),
			Breaker:           cloud.DefaultBreakerConfig(),
			Logger:            logger,
		})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	validator, err := validation.NewDescriptorValidator(engines)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	hub := streaming.NewMemoryHub()
	publisher := streaming.NewPublisher(hub, s, logger)

	executor := engine.NewExecutor(engine.ExecutorConfig{
		Events:      publisher,
		Diagnostics: s,
		Logger:      logger,
		Progress:    []process.ProgressSink{s, publisher},
	})
	d := driver.New(driver.Config{
		Store:    s,
		Executor: executor,
		Events:   publisher,
		Retry:    cfg.Retry,
		Logger:   logger,
	})
	d.Register(steps.DeployFlow(validator, steps.TaskConfig{
		Client:     client,
		Calculator: hooks.NewCalculator(engines, hooks.WithSkipEvents(publisher)),
		Hooks:      hooks.NewExecutor(client, hooks.ContextResolver{}, publisher),
		Timeout:    cfg.taskTimeout(),
	}))

	schedule := deps.schedule
	if schedule == nil {
		if schedule, err = driver.ParseSchedule(cfg.TickSchedule); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     s,
		hub:       hub,
		validator: validator,
		driver:    d,
		schedule:  schedule,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
