// Package database owns the Postgres connection used by the detection store
// and the goose migrations that shape its schema.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"warden/internal/platform/config"
	"warden/migrations"
)

const (
	driverName  = "pgx"
	statsDBName = "warden"
	pingTimeout = 5 * time.Second
)

var ErrNotConfigured = errors.New("database not configured")

// Pool is the detection store's *sql.DB plus the settings it was opened with.
type Pool struct {
	db  *sql.DB
	cfg config.Database
}

type Option func(*options)

type options struct {
	reg prometheus.Registerer
}

// WithRegisterer exports the go_sql_* pool statistics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// New opens and pings the pool. An empty URL yields (nil, nil) so callers can
// fall back to the in-memory store.
func New(ctx context.Context, cfg config.Database, opts ...Option) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if o.reg != nil {
		if err := registerStats(o.reg, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Pool{db: db, cfg: cfg}, nil
}

func registerStats(reg prometheus.Registerer, db *sql.DB) error {
	if err := reg.Register(collectors.NewDBStatsCollector(db, statsDBName)); err != nil {
		return fmt.Errorf("register pool stats: %w", err)
	}
	return nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return p, nil
}

// Migrate applies every pending embedded migration and returns how many ran.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	p, err := newProvider(db)
	if err != nil {
		return 0, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("apply migrations: %w", err)
	}
	return len(results), nil
}

// SchemaVersion reports the highest applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	p, err := newProvider(db)
	if err != nil {
		return 0, err
	}
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health pings the database; a nil pool reports ErrNotConfigured.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return ErrNotConfigured
	}
	return p.db.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}
