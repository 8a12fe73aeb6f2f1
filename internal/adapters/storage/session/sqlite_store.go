package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clubdues/internal/adapters/storage"
	domain "clubdues/internal/domain/session"
)

const dateFormat = "2006-01-02"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new session SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Session with its enrolled subject IDs.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, start_date, end_date FROM billing_session WHERE id = ?", id)
	var entity domain.Session
	var startStr, endStr string
	err := row.Scan(&entity.ID, &entity.Name, &startStr, &endStr)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("session not found: %w", err)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if entity.StartDate, err = time.Parse(dateFormat, startStr); err != nil {
		return domain.Session{}, fmt.Errorf("session %s: bad start_date: %w", id, err)
	}
	if entity.EndDate, err = time.Parse(dateFormat, endStr); err != nil {
		return domain.Session{}, fmt.Errorf("session %s: bad end_date: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT subject_id FROM session_enrollment WHERE session_id = ? ORDER BY subject_id", id)
	if err != nil {
		return domain.Session{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var subjectID string
		if err := rows.Scan(&subjectID); err != nil {
			return domain.Session{}, err
		}
		entity.SubjectIDs = append(entity.SubjectIDs, subjectID)
	}
	return entity, rows.Err()
}

// Save persists a Session's header fields. Enrollment is managed by Enroll.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO billing_session (id, name, start_date, end_date) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET name=excluded.name, start_date=excluded.start_date, end_date=excluded.end_date",
		entity.ID, entity.Name, entity.StartDate.Format(dateFormat), entity.EndDate.Format(dateFormat),
	)
	return err
}

// Enroll adds subjects to a session. Already-enrolled subjects are ignored.
// PRE: session and subjects exist
// POST: All subjectIDs are enrolled, atomically
func (s *SQLiteStore) Enroll(ctx context.Context, sessionID string, subjectIDs ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range subjectIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO session_enrollment (session_id, subject_id) VALUES (?, ?)",
			sessionID, id,
		); err != nil {
			return fmt.Errorf("enroll %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// List retrieves all Sessions ordered by start date, without enrollment.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, start_date, end_date FROM billing_session ORDER BY start_date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Session
	for rows.Next() {
		var entity domain.Session
		var startStr, endStr string
		if err := rows.Scan(&entity.ID, &entity.Name, &startStr, &endStr); err != nil {
			return nil, err
		}
		if entity.StartDate, err = time.Parse(dateFormat, startStr); err != nil {
			return nil, fmt.Errorf("session %s: bad start_date: %w", entity.ID, err)
		}
		if entity.EndDate, err = time.Parse(dateFormat, endStr); err != nil {
			return nil, fmt.Errorf("session %s: bad end_date: %w", entity.ID, err)
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}
