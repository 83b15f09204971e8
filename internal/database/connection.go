package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taillogs/internal/database/models"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// Config describes the local state database used by the sqlite cursor backend
type Config struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// NewConnection opens the state database, configures the pool and runs migrations
func NewConnection(cfg *Config, logger *pterm.Logger) (*gorm.DB, error) {
	// - WAL mode so the API can read while a poll cycle writes
	// - busy_timeout=5000ms to ride out the advisory-lock holder's commit
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	logger.Debug("Opening state database", logger.Args("path", cfg.Path))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      NewSlowQueryLogger(logger, 100*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	logger.Debug("Connection pool configured",
		logger.Args(
			"max_open_conns", maxOpen,
			"max_idle_conns", maxIdle,
			"conn_max_life", cfg.ConnMaxLife,
		))

	logger.Trace("Running database migrations.")
	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := OptimizeDatabase(db, logger); err != nil {
		logger.Warn("Database optimization had warnings", logger.Args("error", err))
	}

	logger.Info("State database ready", logger.Args("path", cfg.Path))
	return db, nil
}

// RunMigrations creates the state tables
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&models.ReadCursor{})
}
