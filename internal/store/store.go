package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a database from version-1 to version. Each one runs in
// its own transaction together with the user_version bump, so a crash
// between two migrations leaves the database at a version it can resume
// from.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations lists every schema change after the base schema, oldest
// first. Append only: a released migration is never edited, because
// databases already at its version will not run it again.
//
// Version history:
//
//	0 - base schema from schema.sql
//	1 - journal read index on (seq, id)
//	2 - trace filter index on (kind, status, seq)
var migrations = []migration{
	{
		version: 1,
		name:    "journal seq index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_mutations_seq ON mutations(seq, id)`,
	},
	{
		version: 2,
		name:    "journal filter index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_mutations_kind_status ON mutations(kind, status, seq)`,
	},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = migrations[len(migrations)-1].version

// pragmas are applied on every Open, in order. They are per-connection
// settings except journal_mode, which is persisted in the file.
var pragmas = []struct {
	name  string
	value string
}{
	// WAL lets `view` and `trace` read while a `do` is writing.
	{"journal_mode", "WAL"},
	// NORMAL is durable across application crashes in WAL mode; only an
	// OS crash can lose the last transactions, which the journal tolerates.
	{"synchronous", "NORMAL"},
	// Two CLI processes may race on the same file; wait up to 5s for the
	// lock instead of failing with SQLITE_BUSY.
	{"busy_timeout", "5000"},
	// No foreign keys today, but the schema may grow some.
	{"foreign_keys", "ON"},
}

// Store provides durable storage for snapshots and the mutation journal.
// Uses SQLite with WAL mode for concurrent read access.
//
// Thread-safety: safe for concurrent use. The pool holds one connection,
// so writes are serialized in process and pragmas set on that connection
// stay in effect.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path, applies the
// pragmas, creates missing tables and runs pending migrations.
//
// This function is idempotent: reopening a migrated database changes
// nothing.
func Open(path string) (*Store, error) {
	// sql.Open only validates its arguments; Ping creates the file.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	// SQLite allows one writer at a time, and the pragmas above are per
	// connection. A single pooled connection satisfies both.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, p := range pragmas {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to apply pragma %s: %w", p.name, err)
		}
	}
	// In-memory databases cannot use WAL and silently keep "memory".
	if err := s.verifyPragma("journal_mode", "wal"); err != nil && !s.inMemory() {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrate runs every migration newer than the database's user_version.
// A database from a newer build is refused rather than downgraded.
func (s *Store) migrate(ctx context.Context) error {
	version, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		// user_version lives in the file header and commits with the tx.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (s *Store) inMemory() bool {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false
	}
	return mode == "memory"
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution: writes that bypass the Store skip digest checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Ping verifies the connection, honoring ctx.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
