package session

import (
	"context"

	domain "clubdues/internal/domain/session"
)

// Store persists Session state and enrollment.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, value domain.Session) error
	Enroll(ctx context.Context, sessionID string, subjectIDs ...string) error
	List(ctx context.Context) ([]domain.Session, error)
}
