package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// ioTimeout bounds each network read or write on a mysql table source
const ioTimeout = 5 * time.Second

// SourceParams are the connection parameters of a table source
type SourceParams struct {
	Driver   string // mysql (default) or sqlite
	Host     string
	Port     int
	Database string // Schema name, or file path for sqlite
	User     string
	Password string
	Charset  string
}

// Dialector builds the gorm dialector for the parameters
func (p SourceParams) Dialector() (gorm.Dialector, error) {
	switch strings.ToLower(p.Driver) {
	case "", "mysql":
		port := p.Port
		if port == 0 {
			port = 3306
		}
		charset := p.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
			p.User, p.Password, p.Host, port, p.Database, charset, ioTimeout, ioTimeout, ioTimeout)
		// No version probe: it would run outside the caller's context
		return mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: true}), nil
	case "sqlite":
		if p.Database == "" {
			return nil, fmt.Errorf("sqlite source needs a database path")
		}
		return sqlite.Open(p.Database + "?_pragma=busy_timeout(5000)"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", p.Driver)
	}
}

// Connector opens one pool per table source and reuses it across poll cycles.
// Opening a pool happens outside the lock so a slow host only holds up the
// callers of its own key.
type Connector struct {
	mu      sync.Mutex
	pools   map[string]*gorm.DB
	opening singleflight.Group
	closed  bool
	logger  *pterm.Logger
}

var errConnectorClosed = errors.New("connector closed")

func NewConnector(logger *pterm.Logger) *Connector {
	return &Connector{
		pools:  make(map[string]*gorm.DB),
		logger: logger,
	}
}

func (c *Connector) cached(key string) (*gorm.DB, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.pools[key]
	return db, ok
}

// Get returns the pool for key, opening it on first use and verifying it with
// a ping. Concurrent callers for the same key share one attempt; each caller
// gives up when its own context is done.
func (c *Connector) Get(ctx context.Context, key string, params SourceParams) (*gorm.DB, error) {
	if db, ok := c.cached(key); ok {
		return db, nil
	}

	ch := c.opening.DoChan(key, func() (any, error) {
		if db, ok := c.cached(key); ok {
			return db, nil
		}
		db, err := c.open(ctx, key, params)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			closePool(db)
			return nil, errConnectorClosed
		}
		c.pools[key] = db
		return db, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gorm.DB), nil
	}
}

func (c *Connector) open(ctx context.Context, key string, params SourceParams) (*gorm.DB, error) {
	dialector, err := params.Dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               NewSlowQueryLogger(c.logger, 500*time.Millisecond).ForSource(key),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", key, err)
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	c.logger.Debug("Opened table source connection",
		c.logger.Args("source", key, "driver", params.Driver))
	return db, nil
}

// Close closes every pool
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var firstErr error
	for key, db := range c.pools {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", key, err)
		}
		delete(c.pools, key)
	}
	return firstErr
}

func closePool(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
