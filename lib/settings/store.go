// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/magiskd/magiskd/lib/sqlitepool"
)

// Keys of the settings table.
const (
	KeyRootAccess    = "root_access"
	KeyMultiuserMode = "multiuser_mode"
	KeyMntNs         = "mnt_ns"
	KeyDenylist      = "denylist"
	KeyZygisk        = "zygisk"
	KeyBootloop      = "bootloop"
)

// KeySuManager is the strings-table key holding the package name of a
// repackaged manager app.
const KeySuManager = "requester"

// RootAccess selects which callers may request root at all.
type RootAccess int

const (
	RootAccessDisabled RootAccess = iota
	RootAccessAppsOnly
	RootAccessAdbOnly
	RootAccessAppsAndAdb
)

// MultiuserMode selects how secondary Android users get root.
type MultiuserMode int

const (
	// MultiuserOwnerOnly denies root to every user but the owner.
	MultiuserOwnerOnly MultiuserMode = iota
	// MultiuserOwnerManaged applies the owner's policies to all users.
	MultiuserOwnerManaged
	// MultiuserUser gives every user independent policies.
	MultiuserUser
)

// MntNsMode selects the mount namespace a root shell joins.
type MntNsMode int

const (
	MntNsGlobal MntNsMode = iota
	MntNsRequester
	MntNsIsolate
)

// Settings is the decoded settings table.
type Settings struct {
	RootAccess    RootAccess
	MultiuserMode MultiuserMode
	MntNs         MntNsMode
	BootCount     int
	Denylist      bool
	Zygisk        bool
}

// DefaultSettings returns the values used for keys absent from the
// table.
func DefaultSettings() Settings {
	return Settings{
		RootAccess:    RootAccessAppsAndAdb,
		MultiuserMode: MultiuserOwnerOnly,
		MntNs:         MntNsRequester,
	}
}

// Policy is a superuser decision for one uid.
type Policy int

const (
	PolicyQuery Policy = iota
	PolicyDeny
	PolicyAllow
)

func (policy Policy) String() string {
	switch policy {
	case PolicyQuery:
		return "query"
	case PolicyDeny:
		return "deny"
	case PolicyAllow:
		return "allow"
	default:
		return fmt.Sprintf("Policy(%d)", int(policy))
	}
}

// RootSettings is one row of the policies table.
type RootSettings struct {
	Policy Policy
	// Until is a Unix timestamp after which the policy lapses; zero
	// means forever.
	Until  int64
	Log    bool
	Notify bool
}

// DenyEntry is one (package, process) row of the denylist.
type DenyEntry struct {
	Package string
	Process string
}

// Config holds the parameters for [Open].
type Config struct {
	// Path is the database file.
	Path string

	// Logger receives store and pool messages. If nil, a no-op
	// logger is used.
	Logger *slog.Logger

	// Now returns the current time, for policy expiry. Defaults to
	// time.Now.
	Now func() time.Time
}

// Store is the settings database. It is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating or migrating as needed) the settings database.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:              cfg.Path,
		Logger:            logger,
		OnConnect:         migrate,
		RecreateOnFailure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening settings database: %w", err)
	}
	return &Store{pool: pool, logger: logger, now: now}, nil
}

// Close closes the underlying pool.
func (store *Store) Close() error {
	return store.pool.Close()
}

func (store *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer store.pool.Put(conn)
	return fn(conn)
}

// Settings reads the settings table over [DefaultSettings].
func (store *Store) Settings(ctx context.Context) (Settings, error) {
	result := DefaultSettings()
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT key, value FROM settings", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := stmt.ColumnInt(1)
				switch stmt.ColumnText(0) {
				case KeyRootAccess:
					if value >= int(RootAccessDisabled) && value <= int(RootAccessAppsAndAdb) {
						result.RootAccess = RootAccess(value)
					}
				case KeyMultiuserMode:
					if value >= int(MultiuserOwnerOnly) && value <= int(MultiuserUser) {
						result.MultiuserMode = MultiuserMode(value)
					}
				case KeyMntNs:
					result.MntNs = MntNsMode(value)
				case KeyDenylist:
					result.Denylist = value != 0
				case KeyZygisk:
					result.Zygisk = value != 0
				case KeyBootloop:
					result.BootCount = value
				}
				return nil
			},
		})
	})
	if err != nil {
		return DefaultSettings(), fmt.Errorf("reading settings: %w", err)
	}
	return result, nil
}

// SetSetting stores an integer setting.
func (store *Store) SetSetting(ctx context.Context, key string, value int) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{key, value},
		})
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		return nil
	})
}

// GetString reads a string setting. ok is false when the key is
// absent.
func (store *Store) GetString(ctx context.Context, key string) (value string, ok bool, err error) {
	err = store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM strings WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				ok = true
				return nil
			},
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("reading string %s: %w", key, err)
	}
	return value, ok, nil
}

// SetString stores a string setting.
func (store *Store) SetString(ctx context.Context, key, value string) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "INSERT OR REPLACE INTO strings (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{key, value},
		})
		if err != nil {
			return fmt.Errorf("storing string %s: %w", key, err)
		}
		return nil
	})
}

// DeleteString removes a string setting. Removing an absent key is
// not an error.
func (store *Store) DeleteString(ctx context.Context, key string) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM strings WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
		}); err != nil {
			return fmt.Errorf("deleting string %s: %w", key, err)
		}
		return nil
	})
}

// Policy returns the unexpired policy for uid, or a zero RootSettings
// (PolicyQuery) when there is none.
func (store *Store) Policy(ctx context.Context, uid int) (RootSettings, error) {
	var result RootSettings
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT policy, until, logging, notification FROM policies WHERE uid = ? AND (until = 0 OR until > ?)",
			&sqlitex.ExecOptions{
				Args: []any{uid, store.now().Unix()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result.Policy = Policy(stmt.ColumnInt(0))
					result.Until = stmt.ColumnInt64(1)
					result.Log = stmt.ColumnInt(2) != 0
					result.Notify = stmt.ColumnInt(3) != 0
					return nil
				},
			})
	})
	if err != nil {
		return RootSettings{}, fmt.Errorf("reading policy for uid %d: %w", uid, err)
	}
	return result, nil
}

// SetPolicy stores the policy for uid.
func (store *Store) SetPolicy(ctx context.Context, uid int, policy RootSettings) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO policies (uid, policy, until, logging, notification) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{uid, int(policy.Policy), policy.Until, boolInt(policy.Log), boolInt(policy.Notify)},
			})
		if err != nil {
			return fmt.Errorf("storing policy for uid %d: %w", uid, err)
		}
		return nil
	})
}

// DeletePolicy removes the policy for uid.
func (store *Store) DeletePolicy(ctx context.Context, uid int) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM policies WHERE uid = ?", &sqlitex.ExecOptions{
			Args: []any{uid},
		}); err != nil {
			return fmt.Errorf("deleting policy for uid %d: %w", uid, err)
		}
		return nil
	})
}

// PolicyUIDs lists every uid with a stored policy, in ascending order.
func (store *Store) PolicyUIDs(ctx context.Context) ([]int, error) {
	var uids []int
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT uid FROM policies ORDER BY uid", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				uids = append(uids, stmt.ColumnInt(0))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	return uids, nil
}

// Denylist returns every denylist entry ordered by package, then
// process.
func (store *Store) Denylist(ctx context.Context) ([]DenyEntry, error) {
	var entries []DenyEntry
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT package_name, process FROM denylist ORDER BY package_name, process", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, DenyEntry{Package: stmt.ColumnText(0), Process: stmt.ColumnText(1)})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing denylist: %w", err)
	}
	return entries, nil
}

// AddDenylist adds a (package, process) entry. An empty process means
// the package's main process, which shares the package name.
func (store *Store) AddDenylist(ctx context.Context, pkg, process string) error {
	if process == "" {
		process = pkg
	}
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT OR REPLACE INTO denylist (package_name, process) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{pkg, process},
		}); err != nil {
			return fmt.Errorf("adding %s/%s to denylist: %w", pkg, process, err)
		}
		return nil
	})
}

// RemoveDenylist removes one entry, or every entry of pkg when process
// is empty. It reports how many rows were removed.
func (store *Store) RemoveDenylist(ctx context.Context, pkg, process string) (int, error) {
	removed := 0
	err := store.withConn(ctx, func(conn *sqlite.Conn) error {
		query := "DELETE FROM denylist WHERE package_name = ? AND process = ?"
		args := []any{pkg, process}
		if process == "" {
			query = "DELETE FROM denylist WHERE package_name = ?"
			args = args[:1]
		}
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("removing %s/%s from denylist: %w", pkg, process, err)
		}
		removed = conn.Changes()
		return nil
	})
	return removed, err
}

// ExecRaw runs sql, which may hold several statements, and calls row
// for every result row formatted as "col=val|col=val". Execution stops
// at the first failing statement; its error is returned. An error from
// row aborts execution and is returned as is.
func (store *Store) ExecRaw(ctx context.Context, sql string, row func(string) error) error {
	return store.withConn(ctx, func(conn *sqlite.Conn) error {
		remaining := sql
		for strings.TrimSpace(remaining) != "" {
			stmt, trailing, err := conn.PrepareTransient(remaining)
			if err != nil {
				return err
			}
			remaining = remaining[len(remaining)-trailing:]
			if stmt == nil {
				break
			}
			err = stepRows(stmt, row)
			if finalizeErr := stmt.Finalize(); err == nil {
				err = finalizeErr
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func stepRows(stmt *sqlite.Stmt, row func(string) error) error {
	var columns []string
	var builder strings.Builder
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
		if columns == nil {
			columns = make([]string, stmt.ColumnCount())
			for i := range columns {
				columns[i] = stmt.ColumnName(i)
			}
		}
		builder.Reset()
		for i, column := range columns {
			if i > 0 {
				builder.WriteByte('|')
			}
			builder.WriteString(column)
			builder.WriteByte('=')
			builder.WriteString(stmt.ColumnText(i))
		}
		if err := row(builder.String()); err != nil {
			return err
		}
	}
}
