package projections

import (
	"context"

	domainPayment "clubdues/internal/domain/payment"
	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

// SessionStore interface for billing session lookups.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (domainSession.Session, error)
}

// SubjectStore interface for subject registry queries.
type SubjectStore interface {
	ListForSession(ctx context.Context, sessionID, subjectType string) ([]domainSubject.Subject, error)
}

// PaymentStore interface for payment record queries.
type PaymentStore interface {
	ListBySession(ctx context.Context, sessionID, subjectType string) ([]domainPayment.Record, error)
}
