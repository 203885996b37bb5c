// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/magiskd/magiskd/lib/sqlitepool"
)

// SchemaVersion is the user_version of a fully migrated database.
const SchemaVersion = 12

// ErrDowngrade is returned when the database was written by a newer
// schema than this daemon understands.
var ErrDowngrade = errors.New("settings: downgrading database is not supported")

const (
	createPolicies = `CREATE TABLE IF NOT EXISTS policies
		(uid INT, policy INT, until INT, logging INT, notification INT, PRIMARY KEY(uid))`
	createSettings = `CREATE TABLE IF NOT EXISTS settings
		(key TEXT, value INT, PRIMARY KEY(key))`
	createStrings = `CREATE TABLE IF NOT EXISTS strings
		(key TEXT, value TEXT, PRIMARY KEY(key))`
	createDenylist = `CREATE TABLE IF NOT EXISTS denylist
		(package_name TEXT, process TEXT, PRIMARY KEY(package_name, process))`
)

// migrations maps a schema version to the script that moves it forward
// and the version it lands on. Versions 6 and below predate the
// database's current location and jump straight to the latest schema.
// ExecuteScript wraps each script in a savepoint, so a failed step
// leaves the database at its previous version.
var migrations = map[int]struct {
	script string
	next   int
}{
	7: {`ALTER TABLE hidelist RENAME TO hidelist_tmp;
		CREATE TABLE IF NOT EXISTS hidelist
			(package_name TEXT, process TEXT, PRIMARY KEY(package_name, process));
		INSERT INTO hidelist SELECT process as package_name, process FROM hidelist_tmp;
		DROP TABLE hidelist_tmp;`, 9},
	8: {`ALTER TABLE hidelist RENAME TO hidelist_tmp;
		CREATE TABLE IF NOT EXISTS hidelist
			(package_name TEXT, process TEXT, PRIMARY KEY(package_name, process));
		INSERT INTO hidelist SELECT * FROM hidelist_tmp;
		DROP TABLE hidelist_tmp;`, 9},
	9: {`DROP TABLE IF EXISTS logs;`, 10},
	10: {`DROP TABLE IF EXISTS hidelist;
		DELETE FROM settings WHERE key='magiskhide';
		` + createDenylist + `;`, 11},
	11: {`ALTER TABLE policies RENAME TO policies_tmp;
		` + createPolicies + `;
		INSERT INTO policies SELECT uid, policy, until, logging, notification FROM policies_tmp;
		DROP TABLE policies_tmp;`, 12},
}

// migrate brings conn's database to SchemaVersion. It runs on every
// new pool connection and is a no-op once the version is current.
func migrate(conn *sqlite.Conn) error {
	version, err := sqlitepool.UserVersion(conn)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w (found version %d, support %d)", ErrDowngrade, version, SchemaVersion)
	}
	if version == SchemaVersion {
		return nil
	}

	start := version
	if version <= 6 {
		script := createPolicies + ";\n" + createSettings + ";\n" + createStrings + ";\n" + createDenylist + ";"
		if err := sqlitex.ExecuteScript(conn, script, nil); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
		version = SchemaVersion
	}
	for version < SchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return fmt.Errorf("no migration from schema version %d", version)
		}
		if err := sqlitex.ExecuteScript(conn, step.script, nil); err != nil {
			return fmt.Errorf("migrating schema %d to %d: %w", version, step.next, err)
		}
		version = step.next
	}
	if version != start {
		return sqlitepool.SetUserVersion(conn, version)
	}
	return nil
}
