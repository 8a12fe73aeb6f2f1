package subject

import (
	"context"

	domain "clubdues/internal/domain/subject"
)

// Store persists Subject state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Subject, error)
	Save(ctx context.Context, value domain.Subject) error
	ListForSession(ctx context.Context, sessionID, subjectType string) ([]domain.Subject, error)
}
