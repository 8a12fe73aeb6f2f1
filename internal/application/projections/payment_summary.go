package projections

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
)

// GetPaymentSummaryQuery carries query parameters.
// Month narrows the month summaries to one month; rows are always whole-session.
type GetPaymentSummaryQuery struct {
	SessionID   string
	SubjectType string
	Month       *calendar.MonthKey
}

// GetPaymentSummaryResult carries the dashboard aggregates.
type GetPaymentSummaryResult struct {
	SessionID   string          `json:"sessionId"`
	SubjectType string          `json:"subjectType"`
	Months      []MonthSummary  `json:"months"`
	Rows        []RowSummary    `json:"rows"`
	Expected    decimal.Decimal `json:"expected"`
	Collected   decimal.Decimal `json:"collected"`
	Overdue     decimal.Decimal `json:"overdue"`
}

// QueryGetPaymentSummary aggregates a session's schedule for dashboards.
// PRE: SessionID non-empty; SubjectType is player or coach
// POST: Month, when set, must lie inside the session or ErrOutOfRange is returned
func QueryGetPaymentSummary(ctx context.Context, query GetPaymentSummaryQuery, deps GetPaymentScheduleDeps) (GetPaymentSummaryResult, error) {
	sched, err := loadSchedule(ctx, query.SessionID, query.SubjectType, deps)
	if err != nil {
		return GetPaymentSummaryResult{}, err
	}

	months := sched.Months
	if query.Month != nil {
		if !calendar.Contains(sched.Months, *query.Month) {
			return GetPaymentSummaryResult{}, fmt.Errorf("%w: %s", domainPayment.ErrOutOfRange, query.Month)
		}
		months = []calendar.MonthKey{*query.Month}
	}

	result := GetPaymentSummaryResult{
		SessionID:   query.SessionID,
		SubjectType: query.SubjectType,
		Months:      SummarizeMonths(sched.Rows, months),
		Rows:        make([]RowSummary, 0, len(sched.Rows)),
		Expected:    decimal.Zero,
		Collected:   decimal.Zero,
		Overdue:     decimal.Zero,
	}
	for _, row := range sched.Rows {
		rs := SummarizeRow(row)
		result.Rows = append(result.Rows, rs)
		result.Expected = result.Expected.Add(rs.Expected)
		result.Collected = result.Collected.Add(rs.Paid)
		result.Overdue = result.Overdue.Add(rs.Overdue)
	}
	return result, nil
}
