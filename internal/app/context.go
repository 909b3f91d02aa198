// Package app wires a workspace into a ready engine: config, database,
// directory seed, logger, metrics and notifiers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"processline/internal/config"
	"processline/internal/db"
	"processline/internal/engine"
	"processline/internal/migrate"
	"processline/internal/notify"
	"processline/internal/observability"
)

// App owns the resources opened for a workspace. Close releases them.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Log       *zap.Logger
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry

	closers []io.Closer
}

type Options struct {
	// Logger overrides the logger built from the config.
	Logger *zap.Logger
	// RequireConfig fails when processline.yml is missing instead of using defaults.
	RequireConfig bool
}

// Open loads the workspace config, migrates the database, seeds the
// directory and builds the engine.
func Open(ctx context.Context, workspace string, opts Options) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.RequireConfig {
		cfg, err = config.Load(workspace)
	} else {
		cfg, err = config.LoadOrDefault(workspace)
	}
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		if logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Development); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	notifier, closers := BuildNotifier(cfg, logger)

	eng := engine.New(conn, cfg)
	eng.Log = logger
	eng.Metrics = metrics
	eng.Notifier = notifier
	if err := eng.SyncDirectory(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed directory: %w", err)
	}
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Log:       logger,
		Metrics:   metrics,
		Registry:  reg,
		closers:   closers,
	}, nil
}

// BuildNotifier combines the notifiers enabled in cfg. The returned closers
// must be closed on shutdown.
func BuildNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, []io.Closer) {
	var (
		multi   notify.Multi
		closers []io.Closer
	)
	n := cfg.Notifications
	if n.Log {
		multi = append(multi, notify.LogNotifier{Log: logger.Named("notify")})
	}
	for _, hook := range n.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		multi = append(multi, notify.NewWebhookNotifier(hook, cfg.NotifyTimeout()))
	}
	if len(n.Kafka.Brokers) > 0 {
		k := notify.NewKafkaNotifier(n.Kafka)
		multi = append(multi, k)
		closers = append(closers, k)
	}
	switch len(multi) {
	case 0:
		return notify.Nop{}, nil
	case 1:
		return multi[0], closers
	}
	return multi, closers
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
