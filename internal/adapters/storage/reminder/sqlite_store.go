package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clubdues/internal/adapters/storage"
	domain "clubdues/internal/domain/payment"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new reminder SQLiteStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save appends a reminder to the log.
// PRE: r.ID is unique
// POST: Reminder is persisted
func (s *SQLiteStore) Save(ctx context.Context, r domain.Reminder) error {
	months := make([]string, len(r.Months))
	for i, m := range r.Months {
		months[i] = m.String()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payment_reminder (id, session_id, subject_id, months, message_id, sent_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.SessionID, r.SubjectID, strings.Join(months, ","), r.MessageID, r.SentAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LastSentAt returns when the subject was last reminded for the session.
// POST: Returns the zero time when no reminder has been sent
func (s *SQLiteStore) LastSentAt(ctx context.Context, sessionID, subjectID string) (time.Time, error) {
	var last string
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sent_at), '') FROM payment_reminder WHERE session_id = ? AND subject_id = ?",
		sessionID, subjectID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if last == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, last)
	if err != nil {
		return time.Time{}, fmt.Errorf("reminder sent_at %q: %w", last, err)
	}
	return t, nil
}
