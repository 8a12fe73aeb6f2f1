package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is one forward-only schema step. Steps must be idempotent so that
// databases created before version tracking can be upgraded in place.
type migration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

// migrations is the ordered migration chain. Append only; never edit a shipped step.
var migrations = []migration{
	{1, "baseline billing schema", migrateBaseline},
	{2, "payment reminder log and schedule index", migrateReminders},
}

// LatestSchemaVersion returns the version produced by the full migration chain.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the current schema version, or 0 for an untracked database.
// PRE: db is a valid database connection
// POST: Returns the highest applied version
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema_version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema_version: %w", err)
	}
	return version, nil
}

// MigrateDB brings the schema up to LatestSchemaVersion. When dbPath names a file
// and migrations are pending, a snapshot is written next to it first.
// PRE: db is a valid database connection
// POST: All migrations applied in order, each in its own transaction
func MigrateDB(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current >= LatestSchemaVersion() {
		return nil
	}

	if current > 0 && isFilePath(dbPath) {
		backup := fmt.Sprintf("%s.v%d.bak", dbPath, current)
		if _, err := db.Exec("VACUUM INTO ?", backup); err != nil {
			return fmt.Errorf("failed to snapshot database before migration: %w", err)
		}
		slog.Info("migration_event", "event", "snapshot_written", "path", backup)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
		slog.Info("migration_event", "event", "applied", "version", m.version, "description", m.description)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if err := m.up(tx); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
		return fmt.Errorf("migration %d: failed to record version: %w", m.version, err)
	}
	return tx.Commit()
}

func isFilePath(dbPath string) bool {
	return dbPath != "" && !strings.HasPrefix(dbPath, ":memory:") && !strings.HasPrefix(dbPath, "file::memory:")
}

// migrateBaseline creates the registry tables the engine reads and the
// payment_record table it owns.
func migrateBaseline(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS subject (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('player', 'coach')),
		group_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		base_amount TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS billing_session (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_enrollment (
		session_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		PRIMARY KEY (session_id, subject_id),
		FOREIGN KEY (session_id) REFERENCES billing_session(id) ON DELETE CASCADE,
		FOREIGN KEY (subject_id) REFERENCES subject(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS payment_record (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		status TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'delayed')),
		amount TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		UNIQUE (session_id, subject_id, year, month),
		FOREIGN KEY (session_id) REFERENCES billing_session(id) ON DELETE CASCADE,
		FOREIGN KEY (subject_id) REFERENCES subject(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_session_enrollment_subject ON session_enrollment(subject_id);
	`
	_, err := tx.Exec(schema)
	return err
}

// migrateReminders adds the reminder log used to throttle delinquency emails.
func migrateReminders(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS payment_reminder (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		months TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		sent_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES billing_session(id) ON DELETE CASCADE,
		FOREIGN KEY (subject_id) REFERENCES subject(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_payment_reminder_subject ON payment_reminder(session_id, subject_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_payment_record_session_type ON payment_record(session_id, subject_type);
	`
	_, err := tx.Exec(schema)
	return err
}
