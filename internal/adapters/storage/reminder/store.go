package reminder

import (
	"context"
	"time"

	domain "clubdues/internal/domain/payment"
)

// Store persists the delinquency reminder log.
type Store interface {
	Save(ctx context.Context, value domain.Reminder) error
	LastSentAt(ctx context.Context, sessionID, subjectID string) (time.Time, error)
}
