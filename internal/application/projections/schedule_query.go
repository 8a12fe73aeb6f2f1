package projections

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
)

// StatusFilter selects rows by the effective status of their cells.
type StatusFilter string

// Status filters
const (
	FilterAll      StatusFilter = "all"
	FilterPending  StatusFilter = "pending"
	FilterPaid     StatusFilter = "paid"
	FilterDelayed  StatusFilter = "delayed"
	FilterUpcoming StatusFilter = "upcoming"
)

// SortMode orders the filtered rows.
type SortMode string

// Sort modes
const (
	SortDefault    SortMode = "default"
	SortNearestDue SortMode = "nearestDue"
)

// GroupAll disables group filtering.
const GroupAll = "all"

// ScheduleQuery holds search, filter and sort options for a schedule.
type ScheduleQuery struct {
	SearchText  string
	GroupFilter string
	Status      StatusFilter
	Sort        SortMode
}

// ParseStatusFilter validates a status filter; empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.TrimSpace(s)); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterPaid, FilterDelayed, FilterUpcoming:
		return f, nil
	}
	return "", fmt.Errorf("%w: status filter %q", domainPayment.ErrInvalidInput, s)
}

// ParseSortMode validates a sort mode; empty means default.
func ParseSortMode(s string) (SortMode, error) {
	switch m := SortMode(strings.TrimSpace(s)); m {
	case "":
		return SortDefault, nil
	case SortDefault, SortNearestDue:
		return m, nil
	}
	return "", fmt.Errorf("%w: sort mode %q", domainPayment.ErrInvalidInput, s)
}

// NextDue returns the earliest month whose effective status is still pending.
// Cells are assumed to be in ascending month order, as BuildRow produces them.
func NextDue(row ScheduleRow) (calendar.MonthKey, bool) {
	for _, c := range row.Cells {
		if c.Status == domainPayment.StatusPending {
			return c.Month, true
		}
	}
	return calendar.MonthKey{}, false
}

// ApplyScheduleQuery filters and orders rows.
// PRE: q.Status and q.Sort are valid or empty
// POST: Returns a new slice; rows keep input order unless sorted by nearest due
// INVARIANT: with FilterUpcoming every returned row has a NextDue month
func ApplyScheduleQuery(rows []ScheduleRow, q ScheduleQuery) []ScheduleRow {
	search := strings.ToLower(strings.TrimSpace(q.SearchText))
	group := strings.TrimSpace(q.GroupFilter)

	out := make([]ScheduleRow, 0, len(rows))
	for _, row := range rows {
		if search != "" && !matchesSearch(row, search) {
			continue
		}
		if group != "" && group != GroupAll && row.Group != group {
			continue
		}
		if !matchesStatus(row, q.Status) {
			continue
		}
		out = append(out, row)
	}

	if q.Sort == SortNearestDue {
		sortByNearestDue(out)
	}
	return out
}

func matchesSearch(row ScheduleRow, needle string) bool {
	return strings.Contains(strings.ToLower(row.Name), needle) ||
		strings.Contains(strings.ToLower(row.Group), needle) ||
		strings.Contains(strings.ToLower(row.SubjectID), needle)
}

func matchesStatus(row ScheduleRow, f StatusFilter) bool {
	switch f {
	case "", FilterAll:
		return true
	case FilterUpcoming:
		_, ok := NextDue(row)
		return ok
	}
	want := domainPayment.Status(f)
	for _, c := range row.Cells {
		if c.Status == want {
			return true
		}
	}
	return false
}

func sortByNearestDue(rows []ScheduleRow) {
	type keyed struct {
		due calendar.MonthKey
		ok  bool
	}
	keys := make(map[string]keyed, len(rows))
	for _, r := range rows {
		due, ok := NextDue(r)
		keys[r.SubjectID] = keyed{due, ok}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := keys[rows[i].SubjectID], keys[rows[j].SubjectID]
		if a.ok != b.ok {
			return a.ok
		}
		if !a.ok {
			return false
		}
		return a.due.Before(b.due)
	})
}

// ExpectedTotal sums every row's amount for month. Synthesized cells already
// carry the subject's base amount; rows without the month contribute nothing.
func ExpectedTotal(rows []ScheduleRow, month calendar.MonthKey) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if c, ok := r.Cell(month); ok {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// DelinquencyRatio is the share of recorded cells for month that are effectively
// delayed. Returns 0 when no row has a recorded cell for the month.
// POST: 0 <= ratio <= 1
func DelinquencyRatio(rows []ScheduleRow, month calendar.MonthKey) float64 {
	recorded, delayed := 0, 0
	for _, r := range rows {
		c, ok := r.Cell(month)
		if !ok || !c.Recorded {
			continue
		}
		recorded++
		if c.Status == domainPayment.StatusDelayed {
			delayed++
		}
	}
	if recorded == 0 {
		return 0
	}
	return float64(delayed) / float64(recorded)
}

// RowSummary aggregates one row across all its months.
type RowSummary struct {
	SubjectID   string             `json:"subjectId"`
	Name        string             `json:"name"`
	Expected    decimal.Decimal    `json:"expected"`
	Paid        decimal.Decimal    `json:"paid"`
	Overdue     decimal.Decimal    `json:"overdue"`     // sum of effectively delayed cells
	Outstanding decimal.Decimal    `json:"outstanding"` // expected minus paid
	Counts      map[string]int     `json:"counts"`
	NextDue     *calendar.MonthKey `json:"nextDue,omitempty"`
}

// SummarizeRow computes per-row totals and status counts.
func SummarizeRow(row ScheduleRow) RowSummary {
	s := RowSummary{
		SubjectID: row.SubjectID,
		Name:      row.Name,
		Expected:  decimal.Zero,
		Paid:      decimal.Zero,
		Overdue:   decimal.Zero,
		Counts: map[string]int{
			string(domainPayment.StatusPending): 0,
			string(domainPayment.StatusPaid):    0,
			string(domainPayment.StatusDelayed): 0,
		},
	}
	for _, c := range row.Cells {
		s.Expected = s.Expected.Add(c.Amount)
		s.Counts[string(c.Status)]++
		switch c.Status {
		case domainPayment.StatusPaid:
			s.Paid = s.Paid.Add(c.Amount)
		case domainPayment.StatusDelayed:
			s.Overdue = s.Overdue.Add(c.Amount)
		}
	}
	s.Outstanding = s.Expected.Sub(s.Paid)
	if due, ok := NextDue(row); ok {
		s.NextDue = &due
	}
	return s
}

// MonthSummary aggregates one month across a row set.
type MonthSummary struct {
	Month            calendar.MonthKey `json:"month"`
	Expected         decimal.Decimal   `json:"expected"`
	Collected        decimal.Decimal   `json:"collected"`
	DelinquencyRatio float64           `json:"delinquencyRatio"`
	Recorded         int               `json:"recorded"`
	Delayed          int               `json:"delayed"` // effectively delayed, recorded or not
}

// SummarizeMonths computes a MonthSummary for each month, in the given order.
func SummarizeMonths(rows []ScheduleRow, months []calendar.MonthKey) []MonthSummary {
	out := make([]MonthSummary, 0, len(months))
	for _, m := range months {
		ms := MonthSummary{
			Month:            m,
			Expected:         ExpectedTotal(rows, m),
			Collected:        decimal.Zero,
			DelinquencyRatio: DelinquencyRatio(rows, m),
		}
		for _, r := range rows {
			c, ok := r.Cell(m)
			if !ok {
				continue
			}
			if c.Recorded {
				ms.Recorded++
			}
			switch c.Status {
			case domainPayment.StatusPaid:
				ms.Collected = ms.Collected.Add(c.Amount)
			case domainPayment.StatusDelayed:
				ms.Delayed++
			}
		}
		out = append(out, ms)
	}
	return out
}
