package payment

import (
	"time"

	"clubdues/internal/domain/calendar"
)

// Reminder records one delinquency email sent to a subject for a session.
type Reminder struct {
	ID        string
	SessionID string
	SubjectID string
	Months    []calendar.MonthKey // delayed months listed in the email
	MessageID string              // provider message id, empty for the noop sender
	SentAt    time.Time
}

// DueAgain reports whether a new reminder may be sent given the last send time.
// A zero last time means no reminder was ever sent.
func DueAgain(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || !now.Before(last.Add(interval))
}
