package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"clubdues/internal/application/listutil"
	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

// ResolvedCell is one (subject, month) entry after delinquency resolution.
type ResolvedCell struct {
	Month        calendar.MonthKey    `json:"month"`
	Status       domainPayment.Status `json:"status"`       // effective status
	StoredStatus domainPayment.Status `json:"storedStatus"` // before resolution
	Amount       decimal.Decimal      `json:"amount"`
	Notes        string               `json:"notes"`
	Recorded     bool                 `json:"recorded"`            // false for synthesized defaults
	UpdatedAt    *time.Time           `json:"updatedAt,omitempty"` // last write; nil when not recorded
}

// ScheduleRow is one subject with a cell for every month of the session.
type ScheduleRow struct {
	SubjectID   string          `json:"subjectId"`
	Name        string          `json:"name"`
	SubjectType string          `json:"subjectType"`
	Group       string          `json:"group"`
	Email       string          `json:"-"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	Cells       []ResolvedCell  `json:"cells"`
}

// Cell returns the row's cell for month k.
func (r ScheduleRow) Cell(k calendar.MonthKey) (ResolvedCell, bool) {
	for _, c := range r.Cells {
		if c.Month == k {
			return c, true
		}
	}
	return ResolvedCell{}, false
}

// recordIndex looks up persisted records by (subject, month) within one session.
type recordIndex map[domainPayment.Key]domainPayment.Record

func indexRecords(sessionID string, records []domainPayment.Record) recordIndex {
	idx := make(recordIndex, len(records))
	for _, r := range records {
		if r.SessionID != sessionID {
			continue
		}
		idx[r.Key()] = r
	}
	return idx
}

// BuildRow assembles a subject's row over the session's months, resolving each
// cell against now. Months without a record get a synthesized pending cell
// carrying the subject's base amount.
// PRE: sess has valid bounds
// POST: len(row.Cells) equals the session's month count; nothing is persisted
func BuildRow(subj domainSubject.Subject, sess domainSession.Session, records []domainPayment.Record, now time.Time) (ScheduleRow, error) {
	months, err := sess.Months()
	if err != nil {
		return ScheduleRow{}, err
	}
	return buildRow(subj, sess.ID, months, indexRecords(sess.ID, records), now), nil
}

func buildRow(subj domainSubject.Subject, sessionID string, months []calendar.MonthKey, idx recordIndex, now time.Time) ScheduleRow {
	row := ScheduleRow{
		SubjectID:   subj.ID,
		Name:        subj.Name,
		SubjectType: subj.Type,
		Group:       subj.Group,
		Email:       subj.Email,
		BaseAmount:  subj.BaseAmount,
		Cells:       make([]ResolvedCell, 0, len(months)),
	}
	for _, m := range months {
		cell := ResolvedCell{Month: m, StoredStatus: domainPayment.StatusPending, Amount: subj.BaseAmount}
		if rec, ok := idx[domainPayment.Key{SessionID: sessionID, SubjectID: subj.ID, Month: m}]; ok {
			cell.StoredStatus = rec.Status
			cell.Amount = rec.Amount
			cell.Notes = rec.Notes
			cell.Recorded = true
			updated := rec.UpdatedAt
			cell.UpdatedAt = &updated
		}
		cell.Status = domainPayment.Resolve(cell.StoredStatus, m, now)
		row.Cells = append(row.Cells, cell)
	}
	return row
}

// GetPaymentScheduleQuery carries query parameters.
type GetPaymentScheduleQuery struct {
	SessionID   string
	SubjectType string
	Filter      ScheduleQuery
	Page        listutil.PageParams
}

// GetPaymentScheduleResult carries the query result.
type GetPaymentScheduleResult struct {
	Session domainSession.Session
	Months  []calendar.MonthKey
	Rows    []ScheduleRow // filtered, sorted and paginated
	Matched int           // rows matching the filter before pagination
	Page    listutil.PageInfo
}

// GetPaymentScheduleDeps holds dependencies for GetPaymentSchedule.
type GetPaymentScheduleDeps struct {
	SessionStore SessionStore
	SubjectStore SubjectStore
	PaymentStore PaymentStore
	Now          func() time.Time
}

// QueryGetPaymentSchedule builds the schedule matrix for one subject type of a session.
// PRE: SessionID non-empty; SubjectType is player or coach
// POST: Returns rows resolved against deps.Now, filtered/sorted by query.Filter
// INVARIANT: Read-only; no PaymentRecord is created
func QueryGetPaymentSchedule(ctx context.Context, query GetPaymentScheduleQuery, deps GetPaymentScheduleDeps) (GetPaymentScheduleResult, error) {
	all, err := loadSchedule(ctx, query.SessionID, query.SubjectType, deps)
	if err != nil {
		return GetPaymentScheduleResult{}, err
	}

	filtered := ApplyScheduleQuery(all.Rows, query.Filter)
	page, info := listutil.Paginate(filtered, query.Page)

	return GetPaymentScheduleResult{
		Session: all.Session,
		Months:  all.Months,
		Rows:    page,
		Matched: len(filtered),
		Page:    info,
	}, nil
}

// loadSchedule fetches the session, its subjects and records, and builds every row.
func loadSchedule(ctx context.Context, sessionID, subjectType string, deps GetPaymentScheduleDeps) (GetPaymentScheduleResult, error) {
	if sessionID == "" {
		return GetPaymentScheduleResult{}, fmt.Errorf("%w: session id is required", domainPayment.ErrInvalidInput)
	}
	if !domainSubject.ValidType(subjectType) {
		return GetPaymentScheduleResult{}, fmt.Errorf("%w: subject type %q (want player or coach)", domainPayment.ErrInvalidInput, subjectType)
	}

	sess, err := deps.SessionStore.GetByID(ctx, sessionID)
	if err != nil {
		return GetPaymentScheduleResult{}, storeError("get session "+sessionID, err)
	}
	months, err := sess.Months()
	if err != nil {
		return GetPaymentScheduleResult{}, err
	}

	subjects, err := deps.SubjectStore.ListForSession(ctx, sessionID, subjectType)
	if err != nil {
		return GetPaymentScheduleResult{}, storeError("list subjects", err)
	}
	records, err := deps.PaymentStore.ListBySession(ctx, sessionID, subjectType)
	if err != nil {
		return GetPaymentScheduleResult{}, storeError("list payment records", err)
	}

	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}

	idx := indexRecords(sessionID, records)
	rows := make([]ScheduleRow, 0, len(subjects))
	for _, subj := range subjects {
		rows = append(rows, buildRow(subj, sessionID, months, idx, now))
	}

	return GetPaymentScheduleResult{Session: sess, Months: months, Rows: rows, Matched: len(rows)}, nil
}
