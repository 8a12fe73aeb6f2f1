package payment

import (
	"context"

	domain "clubdues/internal/domain/payment"
)

// Store persists PaymentRecord state keyed by (session, subject, year, month).
type Store interface {
	Get(ctx context.Context, key domain.Key) (domain.Record, error)
	Upsert(ctx context.Context, value domain.Record) (string, error)
	ListBySession(ctx context.Context, sessionID, subjectType string) ([]domain.Record, error)
}
