// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is not positive. The
// daemon's database sees a handful of concurrent requests at most.
const DefaultPoolSize = 4

// Config holds the parameters for opening a SQLite connection pool.
// Path is required; all other fields have defaults.
type Config struct {
	// Path is the database file. The parent directory must exist.
	// The file is created if it does not exist.
	Path string

	// PoolSize is the number of connections in the pool.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// OnConnect is called once per connection after the standard
	// pragmas: schema creation and migrations go here. If it fails,
	// the connection is discarded and Take returns the error.
	OnConnect func(conn *sqlite.Conn) error

	// RecreateOnFailure makes Open initialize one connection eagerly
	// and, if that fails, delete the database and start over once.
	RecreateOnFailure bool
}

// Pool is a fixed-size pool of SQLite connections. It is safe for
// concurrent use; individual connections are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates a new connection pool. Connections are initialized
// lazily on first Take unless RecreateOnFailure is set. The caller must
// call Close when the pool is no longer needed.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	pool, err := open(cfg, logger)
	if err == nil || !cfg.RecreateOnFailure {
		return pool, err
	}

	logger.Warn("sqlite database unusable, recreating",
		"path", cfg.Path,
		"error", err,
	)
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if removeErr := os.Remove(cfg.Path + suffix); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("sqlitepool: removing %s%s: %w", cfg.Path, suffix, removeErr)
		}
	}
	return open(cfg, logger)
}

func open(cfg Config, logger *slog.Logger) (*Pool, error) {
	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: cfg.PoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	pool := &Pool{
		inner:  inner,
		logger: logger,
		path:   cfg.Path,
	}

	if cfg.RecreateOnFailure {
		conn, err := pool.Take(context.Background())
		if err != nil {
			inner.Close()
			return nil, err
		}
		pool.Put(conn)
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", cfg.PoolSize,
	)
	return pool, nil
}

// Take borrows a connection from the pool, blocking until one is
// available or ctx is cancelled. The caller must Put it back:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Path returns the database file the pool was opened on.
func (p *Pool) Path() string {
	return p.path
}

// Close closes all connections in the pool, blocking until borrowed
// connections are returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error",
			"path", p.path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	version := 0
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion writes PRAGMA user_version.
func SetUserVersion(conn *sqlite.Conn, version int) error {
	if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", version), nil); err != nil {
		return fmt.Errorf("sqlitepool: setting user_version: %w", err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
