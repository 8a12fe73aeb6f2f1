package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"clubdues/internal/adapters/storage"
	domain "clubdues/internal/domain/subject"
)

const selectColumns = "s.id, s.name, s.type, s.group_name, s.email, s.base_amount"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new subject SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubject(row scanner) (domain.Subject, error) {
	var entity domain.Subject
	var amount string
	if err := row.Scan(&entity.ID, &entity.Name, &entity.Type, &entity.Group, &entity.Email, &amount); err != nil {
		return domain.Subject{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("subject %s: bad base_amount %q: %w", entity.ID, amount, err)
	}
	entity.BaseAmount = parsed
	return entity, nil
}

// GetByID retrieves a Subject by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Subject, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM subject s WHERE s.id = ?", id)
	entity, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subject{}, fmt.Errorf("subject not found: %w", err)
	}
	return entity, err
}

// Save persists a Subject to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Subject) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subject (id, name, type, group_name, email, base_amount) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, group_name=excluded.group_name,
		email=excluded.email, base_amount=excluded.base_amount`,
		entity.ID, entity.Name, entity.Type, entity.Group, entity.Email, entity.BaseAmount.String(),
	)
	return err
}

// ListForSession returns the subjects of one type enrolled in a session, ordered by name.
// PRE: sessionID is non-empty
// POST: Returns matching subjects; an empty slice when none are enrolled
func (s *SQLiteStore) ListForSession(ctx context.Context, sessionID, subjectType string) ([]domain.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM subject s
		JOIN session_enrollment e ON e.subject_id = s.id
		WHERE e.session_id = ? AND s.type = ?
		ORDER BY s.name COLLATE NOCASE, s.id`,
		sessionID, subjectType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.Subject{}
	for rows.Next() {
		entity, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}
