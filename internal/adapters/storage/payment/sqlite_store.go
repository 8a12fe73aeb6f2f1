package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"clubdues/internal/adapters/storage"
	domain "clubdues/internal/domain/payment"
)

const selectColumns = "id, session_id, subject_id, subject_type, year, month, status, amount, notes, updated_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new payment record SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.Record, error) {
	var r domain.Record
	var month int
	var status, amount, updated string
	if err := row.Scan(&r.ID, &r.SessionID, &r.SubjectID, &r.SubjectType, &r.Year, &month, &status, &amount, &r.Notes, &updated); err != nil {
		return domain.Record{}, err
	}
	r.Month = time.Month(month)
	r.Status = domain.Status(status)
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("payment record %s: bad amount %q: %w", r.ID, amount, err)
	}
	r.Amount = parsed
	r.UpdatedAt, err = time.Parse(time.RFC3339, updated)
	if err != nil {
		return domain.Record{}, fmt.Errorf("payment record %s: bad updated_at %q: %w", r.ID, updated, err)
	}
	return r, nil
}

// Get retrieves the record stored for a natural key.
// PRE: key fields are non-empty
// POST: Returns the record or an error wrapping sql.ErrNoRows if none is stored
func (s *SQLiteStore) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM payment_record WHERE session_id = ? AND subject_id = ? AND year = ? AND month = ?",
		key.SessionID, key.SubjectID, key.Month.Year, int(key.Month.Month),
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("payment record not found: %w", err)
	}
	return r, err
}

// Upsert creates or replaces the record for its natural key in one statement.
// PRE: r has been validated
// POST: Exactly one row exists for r.Key(); returns the stored id, which is the
// first insert's id when the row already existed
func (s *SQLiteStore) Upsert(ctx context.Context, r domain.Record) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payment_record (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, subject_id, year, month) DO UPDATE SET
			subject_type=excluded.subject_type,
			status=excluded.status,
			amount=excluded.amount,
			notes=excluded.notes,
			updated_at=excluded.updated_at
		RETURNING id`,
		r.ID, r.SessionID, r.SubjectID, r.SubjectType, r.Year, int(r.Month),
		string(r.Status), r.Amount.String(), r.Notes, r.UpdatedAt.UTC().Format(time.RFC3339),
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListBySession returns every stored record of one subject type for a session.
// PRE: sessionID is non-empty
// POST: Records ordered by subject, year, month
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID, subjectType string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM payment_record WHERE session_id = ? AND subject_type = ? ORDER BY subject_id, year, month",
		sessionID, subjectType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
