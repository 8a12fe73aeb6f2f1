package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

// PaymentSessionStore defines the session lookup needed by payment orchestrators.
type PaymentSessionStore interface {
	GetByID(ctx context.Context, id string) (domainSession.Session, error)
}

// PaymentSubjectStore defines the subject lookup needed by payment orchestrators.
type PaymentSubjectStore interface {
	GetByID(ctx context.Context, id string) (domainSubject.Subject, error)
}

// PaymentRecordStore defines the record store needed by the status mutator.
type PaymentRecordStore interface {
	Get(ctx context.Context, key domainPayment.Key) (domainPayment.Record, error)
	Upsert(ctx context.Context, r domainPayment.Record) (string, error)
}

// StatusMetrics receives one count per mutation attempt.
type StatusMetrics interface {
	StatusChanged(status, subjectType, outcome string)
}

// SetPaymentStatusInput carries input for setting a cell's status.
// Amount and Notes are optional: nil keeps the stored value on update and
// defaults to the subject's base amount and empty notes on create.
type SetPaymentStatusInput struct {
	SessionID   string
	SubjectID   string
	SubjectType string
	Year        int
	Month       int
	Status      string
	Amount      *decimal.Decimal
	Notes       *string
}

// SetPaymentStatusDeps holds dependencies for the payment status orchestrators.
type SetPaymentStatusDeps struct {
	SessionStore PaymentSessionStore
	SubjectStore PaymentSubjectStore
	PaymentStore PaymentRecordStore
	Metrics      StatusMetrics    // optional
	GenerateID   func() string    // optional, defaults to uuid
	Now          func() time.Time // injectable for testing
}

func (d SetPaymentStatusDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d SetPaymentStatusDeps) newID() string {
	if d.GenerateID != nil {
		return d.GenerateID()
	}
	return uuid.NewString()
}

// cellTarget identifies the cell being mutated after request validation.
type cellTarget struct {
	sessionID   string
	subjectID   string
	subjectType string
	month       calendar.MonthKey
}

// loadedCell is a validated target plus everything read from storage.
type loadedCell struct {
	target   cellTarget
	subject  domainSubject.Subject
	existing domainPayment.Record
	found    bool
}

// ExecuteSetPaymentStatus upserts the record for one (subject, month) cell.
// PRE: Status is pending, paid or delayed; Year/Month lie within the session
// POST: Exactly one record exists for the natural key with the requested status
// INVARIANT: Validation failures happen before any storage access; storage errors are not retried
func ExecuteSetPaymentStatus(ctx context.Context, input SetPaymentStatusInput, deps SetPaymentStatusDeps) (domainPayment.Record, error) {
	status, err := domainPayment.ParseStatus(input.Status)
	if err != nil {
		deps.count(input.Status, input.SubjectType, err)
		return domainPayment.Record{}, err
	}
	target, err := validateTarget(input.SessionID, input.SubjectID, input.SubjectType, input.Year, input.Month)
	if err == nil {
		err = validateValues(input.Amount, input.Notes)
	}
	if err != nil {
		deps.count(string(status), input.SubjectType, err)
		return domainPayment.Record{}, err
	}

	cell, err := loadCell(ctx, target, deps)
	if err != nil {
		deps.count(string(status), input.SubjectType, err)
		return domainPayment.Record{}, err
	}

	rec, err := writeCell(ctx, cell, status, input.Amount, input.Notes, deps)
	deps.count(string(status), input.SubjectType, err)
	return rec, err
}

// MarkPaidInput carries input for the mark-paid convenience operation.
type MarkPaidInput struct {
	SessionID   string
	SubjectID   string
	SubjectType string
	Year        int
	Month       int
	Amount      decimal.Decimal
	Notes       *string
}

// ExecuteMarkPaid sets a cell to paid with an explicit amount.
// POST: Equivalent to ExecuteSetPaymentStatus with Status paid and Amount set
func ExecuteMarkPaid(ctx context.Context, input MarkPaidInput, deps SetPaymentStatusDeps) (domainPayment.Record, error) {
	amount := input.Amount
	return ExecuteSetPaymentStatus(ctx, SetPaymentStatusInput{
		SessionID:   input.SessionID,
		SubjectID:   input.SubjectID,
		SubjectType: input.SubjectType,
		Year:        input.Year,
		Month:       input.Month,
		Status:      string(domainPayment.StatusPaid),
		Amount:      &amount,
		Notes:       input.Notes,
	}, deps)
}

// CyclePaymentStatusInput identifies the cell to advance.
type CyclePaymentStatusInput struct {
	SessionID   string
	SubjectID   string
	SubjectType string
	Year        int
	Month       int
}

// ExecuteCyclePaymentStatus advances a cell one step along pending → delayed → paid → pending.
// The step starts from the effective status, so an elapsed pending cell (read as
// delayed) advances to paid.
// POST: Stored status equals Next(effective status at deps.Now)
func ExecuteCyclePaymentStatus(ctx context.Context, input CyclePaymentStatusInput, deps SetPaymentStatusDeps) (domainPayment.Record, error) {
	target, err := validateTarget(input.SessionID, input.SubjectID, input.SubjectType, input.Year, input.Month)
	if err != nil {
		deps.count("cycle", input.SubjectType, err)
		return domainPayment.Record{}, err
	}
	cell, err := loadCell(ctx, target, deps)
	if err != nil {
		deps.count("cycle", input.SubjectType, err)
		return domainPayment.Record{}, err
	}

	stored := domainPayment.StatusPending
	if cell.found {
		stored = cell.existing.Status
	}
	next := domainPayment.Next(domainPayment.Resolve(stored, target.month, deps.now()))

	rec, err := writeCell(ctx, cell, next, nil, nil, deps)
	deps.count(string(next), input.SubjectType, err)
	return rec, err
}

// validateTarget checks request fields that need no storage access.
func validateTarget(sessionID, subjectID, subjectType string, year, month int) (cellTarget, error) {
	if sessionID == "" || subjectID == "" {
		return cellTarget{}, fmt.Errorf("%w: session and subject are required", domainPayment.ErrInvalidInput)
	}
	if !domainSubject.ValidType(subjectType) {
		return cellTarget{}, fmt.Errorf("%w: subject type %q (want player or coach)", domainPayment.ErrInvalidInput, subjectType)
	}
	k := calendar.MonthKey{Year: year, Month: time.Month(month)}
	if !k.Valid() {
		return cellTarget{}, fmt.Errorf("%w: month %d-%02d", domainPayment.ErrInvalidInput, year, month)
	}
	return cellTarget{sessionID: sessionID, subjectID: subjectID, subjectType: subjectType, month: k}, nil
}

// validateValues checks the optional amount and notes before any storage access.
func validateValues(amount *decimal.Decimal, notes *string) error {
	if amount != nil {
		if err := domainPayment.ValidateAmount(*amount); err != nil {
			return err
		}
	}
	if notes != nil {
		return domainPayment.ValidateNotes(*notes)
	}
	return nil
}

// loadCell resolves the session, range, subject and any stored record.
func loadCell(ctx context.Context, t cellTarget, deps SetPaymentStatusDeps) (loadedCell, error) {
	sess, err := deps.SessionStore.GetByID(ctx, t.sessionID)
	if err != nil {
		return loadedCell{}, storeError("get session "+t.sessionID, err)
	}
	months, err := sess.Months()
	if err != nil {
		return loadedCell{}, err
	}
	if !calendar.Contains(months, t.month) {
		return loadedCell{}, fmt.Errorf("%w: %s not in %s..%s", domainPayment.ErrOutOfRange, t.month, months[0], months[len(months)-1])
	}

	subj, err := deps.SubjectStore.GetByID(ctx, t.subjectID)
	if err != nil {
		return loadedCell{}, storeError("get subject "+t.subjectID, err)
	}
	if subj.Type != t.subjectType {
		return loadedCell{}, fmt.Errorf("%s %s: %w", t.subjectType, t.subjectID, domainPayment.ErrNotFound)
	}
	if !sess.Enrolled(subj.ID) {
		return loadedCell{}, fmt.Errorf("subject %s in session %s: %w", subj.ID, sess.ID, domainPayment.ErrNotFound)
	}

	key := domainPayment.Key{SessionID: t.sessionID, SubjectID: t.subjectID, Month: t.month}
	existing, err := deps.PaymentStore.Get(ctx, key)
	switch {
	case err == nil:
		return loadedCell{target: t, subject: subj, existing: existing, found: true}, nil
	case errors.Is(err, sql.ErrNoRows):
		return loadedCell{target: t, subject: subj}, nil
	default:
		return loadedCell{}, &domainPayment.StorageError{Op: "get payment record", Err: err}
	}
}

// writeCell builds the new record state and upserts it.
func writeCell(ctx context.Context, cell loadedCell, status domainPayment.Status, amount *decimal.Decimal, notes *string, deps SetPaymentStatusDeps) (domainPayment.Record, error) {
	rec := cell.existing
	if !cell.found {
		rec = domainPayment.Record{
			ID:        deps.newID(),
			SessionID: cell.target.sessionID,
			SubjectID: cell.target.subjectID,
			Year:      cell.target.month.Year,
			Month:     cell.target.month.Month,
			Amount:    cell.subject.BaseAmount,
		}
	}
	previous := rec.Status
	rec.SubjectType = cell.target.subjectType
	rec.Status = status
	if amount != nil {
		rec.Amount = *amount
	}
	if notes != nil {
		rec.Notes = *notes
	}
	rec.UpdatedAt = deps.now().UTC()

	if err := rec.Validate(); err != nil {
		return domainPayment.Record{}, err
	}
	// A concurrent creator may have won the insert; report the id actually stored.
	id, err := deps.PaymentStore.Upsert(ctx, rec)
	if err != nil {
		return domainPayment.Record{}, &domainPayment.StorageError{Op: "upsert payment record", Err: err}
	}
	rec.ID = id

	slog.Info("payment_event",
		"event", "status_set",
		"session_id", rec.SessionID,
		"subject_id", rec.SubjectID,
		"month", cell.target.month.String(),
		"from", string(previous),
		"to", string(rec.Status),
		"created", !cell.found,
	)
	return rec, nil
}

// storeError maps a lookup failure onto the payment error taxonomy.
func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domainPayment.ErrNotFound)
	}
	return &domainPayment.StorageError{Op: op, Err: err}
}

// count records the mutation outcome when metrics are configured.
func (d SetPaymentStatusDeps) count(status, subjectType string, err error) {
	if d.Metrics == nil {
		return
	}
	if status != "cycle" && !domainPayment.Status(status).Valid() {
		status = "unknown"
	}
	if !domainSubject.ValidType(subjectType) {
		subjectType = "unknown"
	}
	d.Metrics.StatusChanged(status, subjectType, Outcome(err))
}

// Outcome classifies an error for metrics and logs.
func Outcome(err error) string {
	var se *domainPayment.StorageError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domainPayment.ErrNotFound):
		return "not_found"
	case domainPayment.IsValidation(err):
		return "invalid"
	case errors.As(err, &se):
		return "storage_error"
	}
	return "error"
}
