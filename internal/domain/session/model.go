package session

import (
	"errors"
	"strings"
	"time"

	"clubdues/internal/domain/calendar"
)

// Domain errors
var (
	ErrEmptyName      = errors.New("session name cannot be empty")
	ErrEmptyStartDate = errors.New("start date cannot be zero")
	ErrEmptyEndDate   = errors.New("end date cannot be zero")
)

// Session is a billable period (season, camp, term) over which monthly payments
// are tracked. StartDate and EndDate are inclusive calendar bounds.
type Session struct {
	ID         string
	Name       string
	StartDate  time.Time
	EndDate    time.Time
	SubjectIDs []string // enrolled players and coaches
}

// Validate checks if the Session has valid data.
// PRE: Session struct is populated
// POST: Returns nil if valid, error otherwise
func (s *Session) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if s.StartDate.IsZero() {
		return ErrEmptyStartDate
	}
	if s.EndDate.IsZero() {
		return ErrEmptyEndDate
	}
	if _, err := calendar.ExpandMonths(s.StartDate, s.EndDate); err != nil {
		return err
	}
	return nil
}

// Months returns the billing months the session spans.
// PRE: StartDate <= EndDate
// POST: Returns the inclusive month sequence or calendar.ErrInvalidRange
func (s *Session) Months() ([]calendar.MonthKey, error) {
	return calendar.ExpandMonths(s.StartDate, s.EndDate)
}

// Enrolled reports whether subjectID is enrolled in the session.
func (s *Session) Enrolled(subjectID string) bool {
	for _, id := range s.SubjectIDs {
		if id == subjectID {
			return true
		}
	}
	return false
}
