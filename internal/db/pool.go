package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/curation/internal/config"
)

var ErrNoRows = sql.ErrNoRows

// Rows wraps the raw result set of a squirrel-built query.
type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	if r == nil || r.rows == nil {
		return false
	}
	return r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r == nil || r.rows == nil {
		return
	}
	_ = r.rows.Close()
}

// Options picks the storage engine and connection limits. A DatabaseURL with
// a postgres:// or postgresql:// scheme opens Postgres; anything else is a
// SQLite file path.
type Options struct {
	DatabaseURL string
	LogLevel    string
	Environment string
	MinConns    int
	MaxConns    int
}

type Pool struct {
	gdb      *gorm.DB
	sqlDB    *sql.DB
	postgres bool
}

func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	return Open(ctx, Options{
		DatabaseURL: cfg.DatabaseURL,
		LogLevel:    cfg.LogLevel,
		Environment: cfg.Environment,
		MinConns:    int(cfg.DBMinConns),
		MaxConns:    int(cfg.DBMaxConns),
	})
}

func Open(ctx context.Context, opts Options) (*Pool, error) {
	dsn := strings.TrimSpace(opts.DatabaseURL)
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}

	isPostgres := isPostgresURL(dsn)
	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(sqliteDSN(dsn))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(opts.LogLevel, opts.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := opts.MaxConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	if !isPostgres {
		// SQLite allows one writer; a single connection keeps writers queued
		// in-process instead of failing with SQLITE_BUSY.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(opts.MinConns, maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{
		gdb:      gdb,
		sqlDB:    sqlDB,
		postgres: isPostgres,
	}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}

	return pool, nil
}

// Transaction runs fn in one database transaction. Returning an error rolls
// it back.
func (p *Pool) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.gdb.WithContext(ctx).Transaction(fn)
}

// Query runs raw SQL for reads gorm's builder cannot express.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	rows, err := p.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func (p *Pool) GORM() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.gdb
}

func (p *Pool) Dialect() string {
	if p != nil && p.postgres {
		return "postgres"
	}
	return "sqlite"
}

func isPostgresURL(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_busy_timeout") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	level := strings.ToLower(strings.TrimSpace(appLogLevel))
	switch level {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
