package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"clubdues/internal/application/listutil"
	"clubdues/internal/application/orchestrators"
	"clubdues/internal/application/projections"
	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
)

// cellResponse is the JSON shape of one mutated schedule cell.
type cellResponse struct {
	ID           string               `json:"id"`
	SessionID    string               `json:"sessionId"`
	SubjectID    string               `json:"subjectId"`
	SubjectType  string               `json:"subjectType"`
	Month        calendar.MonthKey    `json:"month"`
	Year         int                  `json:"year"`
	MonthNumber  int                  `json:"monthNumber"`
	Status       domainPayment.Status `json:"status"`       // effective at response time
	StoredStatus domainPayment.Status `json:"storedStatus"` // as persisted
	Amount       decimal.Decimal      `json:"amount"`
	Notes        string               `json:"notes"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func newCellResponse(rec domainPayment.Record, now time.Time) cellResponse {
	month := rec.MonthKey()
	return cellResponse{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		SubjectID:    rec.SubjectID,
		SubjectType:  rec.SubjectType,
		Month:        month,
		Year:         rec.Year,
		MonthNumber:  int(rec.Month),
		Status:       domainPayment.Resolve(rec.Status, month, now),
		StoredStatus: rec.Status,
		Amount:       rec.Amount,
		Notes:        rec.Notes,
		UpdatedAt:    rec.UpdatedAt,
	}
}

type scheduleResponse struct {
	SessionID string                    `json:"sessionId"`
	Months    []calendar.MonthKey       `json:"months"`
	Schedule  []projections.ScheduleRow `json:"schedule"`
	Matched   int                       `json:"matched"`
	Page      listutil.PageInfo         `json:"page"`
}

func scheduleDeps() projections.GetPaymentScheduleDeps {
	return projections.GetPaymentScheduleDeps{
		SessionStore: stores.SessionStore,
		SubjectStore: stores.SubjectStore,
		PaymentStore: stores.PaymentStore,
		Now:          timeNow,
	}
}

func statusDeps() orchestrators.SetPaymentStatusDeps {
	deps := orchestrators.SetPaymentStatusDeps{
		SessionStore: stores.SessionStore,
		SubjectStore: stores.SubjectStore,
		PaymentStore: stores.PaymentStore,
		GenerateID:   generateID,
		Now:          timeNow,
	}
	if appMetrics != nil {
		deps.Metrics = appMetrics
	}
	return deps
}

// handleGetPaymentSchedule serves the resolved schedule matrix.
// Query: subjectType (required), q, group, status, sort, page, per_page.
func handleGetPaymentSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := projections.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sort, err := projections.ParseSortMode(q.Get("sort"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := projections.QueryGetPaymentSchedule(r.Context(), projections.GetPaymentScheduleQuery{
		SessionID:   r.PathValue("sessionId"),
		SubjectType: q.Get("subjectType"),
		Filter: projections.ScheduleQuery{
			SearchText:  q.Get("q"),
			GroupFilter: q.Get("group"),
			Status:      status,
			Sort:        sort,
		},
		Page: listutil.ParsePageParams(q),
	}, scheduleDeps())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	appMetrics.ScheduleServed(len(result.Rows))

	writeJSON(w, http.StatusOK, scheduleResponse{
		SessionID: result.Session.ID,
		Months:    result.Months,
		Schedule:  result.Rows,
		Matched:   result.Matched,
		Page:      result.Page,
	})
}

// handleGetPaymentSummary serves per-month and per-row aggregates.
// Query: subjectType (required), month (optional YYYY-MM).
func handleGetPaymentSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := projections.GetPaymentSummaryQuery{
		SessionID:   r.PathValue("sessionId"),
		SubjectType: q.Get("subjectType"),
	}
	if m := q.Get("month"); m != "" {
		k, err := calendar.ParseMonthKey(m)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		query.Month = &k
	}

	result, err := projections.QueryGetPaymentSummary(r.Context(), query, scheduleDeps())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type setStatusRequest struct {
	SubjectID   string           `json:"subjectId" validate:"required,max=64"`
	SubjectType string           `json:"subjectType" validate:"required"`
	Year        int              `json:"year" validate:"required"`
	Month       int              `json:"month" validate:"required"`
	Status      string           `json:"status" validate:"required"`
	Amount      *decimal.Decimal `json:"amount"`
	Notes       *string          `json:"notes" validate:"omitempty,max=500"`
}

// handlePostPaymentStatus sets one cell's status.
func handlePostPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	rec, err := orchestrators.ExecuteSetPaymentStatus(r.Context(), orchestrators.SetPaymentStatusInput{
		SessionID:   r.PathValue("sessionId"),
		SubjectID:   req.SubjectID,
		SubjectType: req.SubjectType,
		Year:        req.Year,
		Month:       req.Month,
		Status:      req.Status,
		Amount:      req.Amount,
		Notes:       req.Notes,
	}, statusDeps())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCellResponse(rec, timeNow()))
}

type markPaidRequest struct {
	SubjectID   string           `json:"subjectId" validate:"required,max=64"`
	SubjectType string           `json:"subjectType" validate:"required"`
	Year        int              `json:"year" validate:"required"`
	Month       int              `json:"month" validate:"required"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Notes       *string          `json:"notes" validate:"omitempty,max=500"`
}

// handlePostMarkPaid marks one cell paid with an explicit amount.
func handlePostMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	rec, err := orchestrators.ExecuteMarkPaid(r.Context(), orchestrators.MarkPaidInput{
		SessionID:   r.PathValue("sessionId"),
		SubjectID:   req.SubjectID,
		SubjectType: req.SubjectType,
		Year:        req.Year,
		Month:       req.Month,
		Amount:      *req.Amount,
		Notes:       req.Notes,
	}, statusDeps())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCellResponse(rec, timeNow()))
}

type cycleRequest struct {
	SubjectID   string `json:"subjectId" validate:"required,max=64"`
	SubjectType string `json:"subjectType" validate:"required"`
	Year        int    `json:"year" validate:"required"`
	Month       int    `json:"month" validate:"required"`
}

// handlePostCycleStatus advances one cell to its next status.
func handlePostCycleStatus(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if err := strictDecode(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	rec, err := orchestrators.ExecuteCyclePaymentStatus(r.Context(), orchestrators.CyclePaymentStatusInput{
		SessionID:   r.PathValue("sessionId"),
		SubjectID:   req.SubjectID,
		SubjectType: req.SubjectType,
		Year:        req.Year,
		Month:       req.Month,
	}, statusDeps())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCellResponse(rec, timeNow()))
}

// handlePostSendReminders emails subjects with overdue months.
// Query: subjectType (required).
func handlePostSendReminders(w http.ResponseWriter, r *http.Request) {
	deps := orchestrators.SendPaymentRemindersDeps{
		Schedule:      scheduleDeps(),
		ReminderStore: stores.ReminderStore,
		Sender:        emailSender,
		ClubName:      clubName,
		GenerateID:    generateID,
		Now:           timeNow,
	}
	if appMetrics != nil {
		deps.Metrics = appMetrics
	}

	result, err := orchestrators.ExecuteSendPaymentReminders(r.Context(), orchestrators.SendPaymentRemindersInput{
		SessionID:   r.PathValue("sessionId"),
		SubjectType: r.URL.Query().Get("subjectType"),
	}, deps)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
