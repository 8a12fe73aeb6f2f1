package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrInvalidRange    = errors.New("start date must not be after end date")
	ErrInvalidMonthKey = errors.New("month must be formatted YYYY-MM")
)

const monthKeyFormat = "2006-01"

// MonthKey identifies one billing month. It has no identity of its own and is
// always derived from a date range.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey returns the MonthKey containing t.
func NewMonthKey(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses a "YYYY-MM" string.
// PRE: s is non-empty
// POST: Returns the MonthKey or ErrInvalidMonthKey
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthKeyFormat, s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	return NewMonthKey(t), nil
}

// String formats the key as YYYY-MM.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MarshalText lets MonthKey appear as "YYYY-MM" in JSON.
func (k MonthKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "YYYY-MM".
func (k *MonthKey) UnmarshalText(b []byte) error {
	parsed, err := ParseMonthKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Valid reports whether Month is within 1..12.
func (k MonthKey) Valid() bool {
	return k.Month >= time.January && k.Month <= time.December
}

// Compare returns -1, 0 or +1 ordering by (Year, Month).
func (k MonthKey) Compare(other MonthKey) int {
	switch {
	case k.Year < other.Year:
		return -1
	case k.Year > other.Year:
		return 1
	case k.Month < other.Month:
		return -1
	case k.Month > other.Month:
		return 1
	}
	return 0
}

// Before reports whether k sorts strictly before other.
func (k MonthKey) Before(other MonthKey) bool {
	return k.Compare(other) < 0
}

// FirstDay returns midnight UTC on the first day of the month.
func (k MonthKey) FirstDay() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight UTC on the last calendar day of the month.
func (k MonthKey) LastDay() time.Time {
	return k.FirstDay().AddDate(0, 1, -1)
}

// Next returns the following calendar month.
func (k MonthKey) Next() MonthKey {
	return NewMonthKey(k.FirstDay().AddDate(0, 1, 0))
}

// Elapsed reports whether the last day of the month is strictly before now's date.
// Only the calendar date of now matters; its clock time and location are kept.
// INVARIANT: pure function of (k, now)
func (k MonthKey) Elapsed(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return k.LastDay().Before(today)
}

// ExpandMonths returns every calendar month touched by [start, end], inclusive of
// both boundary months regardless of day-of-month.
// PRE: start and end are valid dates
// POST: Output is strictly increasing with no gaps; never empty on success
func ExpandMonths(start, end time.Time) ([]MonthKey, error) {
	if dateOnly(start).After(dateOnly(end)) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	first := NewMonthKey(start)
	last := NewMonthKey(end)

	months := make([]MonthKey, 0, MonthsBetween(first, last))
	for k := first; !last.Before(k); k = k.Next() {
		months = append(months, k)
	}
	return months, nil
}

// MonthsBetween returns the inclusive month count from first to last, or 0 if
// last precedes first.
func MonthsBetween(first, last MonthKey) int {
	n := (last.Year-first.Year)*12 + int(last.Month-first.Month) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Contains reports whether k is one of months.
func Contains(months []MonthKey, k MonthKey) bool {
	for _, m := range months {
		if m == k {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
