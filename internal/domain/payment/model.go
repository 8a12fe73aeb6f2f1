package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clubdues/internal/domain/calendar"
	"clubdues/internal/domain/subject"
)

// MaxNotesLength caps the free-text note on a record.
const MaxNotesLength = 500

// Status is the payment state of one (subject, month) cell.
type Status string

// Payment statuses
const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusDelayed Status = "delayed"
)

// ParseStatus validates a raw status string.
// PRE: none
// POST: Returns the Status or an error wrapping ErrInvalidStatus
func ParseStatus(s string) (Status, error) {
	switch Status(strings.TrimSpace(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusPaid:
		return StatusPaid, nil
	case StatusDelayed:
		return StatusDelayed, nil
	}
	return "", fmt.Errorf("%w: %q (want pending, paid or delayed)", ErrInvalidStatus, s)
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusDelayed
}

// Resolve returns the effective status of a stored status for the given month.
// A pending cell whose month has fully elapsed relative to now reads as delayed.
// The stored record is never rewritten; callers pass now explicitly.
// INVARIANT: paid and stored delayed are returned unchanged
func Resolve(stored Status, month calendar.MonthKey, now time.Time) Status {
	if stored == StatusPending && month.Elapsed(now) {
		return StatusDelayed
	}
	return stored
}

// Next advances a status along the one-click cycle pending → delayed → paid → pending.
func Next(s Status) Status {
	switch s {
	case StatusPending:
		return StatusDelayed
	case StatusDelayed:
		return StatusPaid
	default:
		return StatusPending
	}
}

// Key is the natural key of a PaymentRecord.
type Key struct {
	SessionID string
	SubjectID string
	Month     calendar.MonthKey
}

// Record is a persisted status/amount/notes entry for one subject, one session,
// one month. At most one exists per Key.
type Record struct {
	ID          string
	SessionID   string
	SubjectID   string
	SubjectType string
	Year        int
	Month       time.Month
	Status      Status
	Amount      decimal.Decimal
	Notes       string
	UpdatedAt   time.Time
}

// MonthKey returns the record's billing month.
func (r *Record) MonthKey() calendar.MonthKey {
	return calendar.MonthKey{Year: r.Year, Month: r.Month}
}

// Key returns the record's natural key.
func (r *Record) Key() Key {
	return Key{SessionID: r.SessionID, SubjectID: r.SubjectID, Month: r.MonthKey()}
}

// Validate checks the Record before persistence.
// PRE: Record is populated
// POST: Returns nil if valid, a wrapped domain error otherwise
func (r *Record) Validate() error {
	if r.SessionID == "" || r.SubjectID == "" {
		return fmt.Errorf("%w: session and subject are required", ErrInvalidInput)
	}
	if !subject.ValidType(r.SubjectType) {
		return fmt.Errorf("%w: subject type %q", ErrInvalidInput, r.SubjectType)
	}
	if !r.MonthKey().Valid() {
		return fmt.Errorf("%w: month %d", ErrInvalidInput, r.Month)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return ValidateNotes(r.Notes)
}

// ValidateAmount rejects negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	return nil
}

// ValidateNotes rejects notes longer than MaxNotesLength.
func ValidateNotes(notes string) error {
	if len(notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes cannot exceed %d characters", ErrInvalidInput, MaxNotesLength)
	}
	return nil
}
