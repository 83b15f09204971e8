package main

import (
	"fmt"

	"taillogs/internal/aggregator"
	"taillogs/internal/config"
	"taillogs/internal/cursor"
	"taillogs/internal/database"
	"taillogs/internal/database/repositories"
	"taillogs/internal/metrics"
	"taillogs/internal/streams"
	"taillogs/internal/tail"

	"github.com/benbjohnson/clock"
	"github.com/pterm/pterm"
)

// app is the wired object graph shared by every command
type app struct {
	cfg        *config.Config
	logger     *pterm.Logger
	registry   *streams.Registry
	guard      *cursor.Guard
	store      cursor.Store
	filters    *streams.Filters
	aggregator *aggregator.Aggregator
	stats      *metrics.Collector
	closers    []func() error
}

func openApp(cfg *config.Config, logger *pterm.Logger) (*app, error) {
	registry, err := streams.Load(cfg.Streams.DocumentPath(), logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		guard:    cursor.NewGuard(cfg.State.LockPath()),
		stats:    metrics.NewCollector(clock.New()),
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	connector := database.NewConnector(logger)
	a.closers = append(a.closers, connector.Close)

	a.filters = streams.NewFilters(registry, a.guard, logger)
	a.aggregator = aggregator.New(
		registry,
		store,
		a.guard,
		tail.NewFileReader(cfg.Tail.MaxLoadBytes, logger),
		tail.NewTableReader(
			tail.ConnectorQuerier(connector, cfg.Tail.QueryDebug, logger, clock.New()),
			cfg.Tail.TableBatchSize,
			logger,
		),
		a.stats,
		logger,
		cfg.Tail.PollDeadline,
		cfg.Tail.PollWorkers,
	)

	logger.Debug("Application wired", logger.Args(
		"config", registry.Path(),
		"cursor_backend", cfg.State.Backend,
		"lock", cfg.State.LockPath(),
	))

	return a, nil
}

// openStore selects the cursor backend
func openStore(cfg *config.Config, logger *pterm.Logger) (cursor.Store, func() error, error) {
	switch cfg.State.Backend {
	case "", "file":
		return cursor.NewFileStore(cfg.State.Path, logger), nil, nil

	case "sqlite":
		db, err := database.NewConnection(&database.Config{Path: cfg.State.DBPath}, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return cursor.NewSQLStore(repositories.NewReadCursorRepository(db), logger), sqlDB.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown cursor backend %q (want file or sqlite)", cfg.State.Backend)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("Close failed", a.logger.Args("error", err))
		}
	}
}
