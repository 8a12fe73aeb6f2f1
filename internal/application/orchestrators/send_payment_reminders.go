package orchestrators

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	emailAdapter "clubdues/internal/adapters/email"
	"clubdues/internal/application/projections"
	"clubdues/internal/domain/calendar"
	domainPayment "clubdues/internal/domain/payment"
	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

// DefaultReminderInterval is the minimum gap between two reminders to the same subject.
const DefaultReminderInterval = 7 * 24 * time.Hour

// reminderRenderer converts the markdown reminder body to HTML. Raw HTML in the
// source is not rendered, so subject names cannot inject markup.
var reminderRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps()),
)

// ReminderStore defines the reminder log needed for throttling.
type ReminderStore interface {
	Save(ctx context.Context, r domainPayment.Reminder) error
	LastSentAt(ctx context.Context, sessionID, subjectID string) (time.Time, error)
}

// ReminderMetrics receives one count per reminder decision.
type ReminderMetrics interface {
	ReminderSent(outcome string)
}

// SendPaymentRemindersInput selects the schedule to remind.
type SendPaymentRemindersInput struct {
	SessionID   string
	SubjectType string
}

// SendPaymentRemindersResult reports what happened per subject.
type SendPaymentRemindersResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"` // no email address or reminded too recently
	Failed  int `json:"failed"`
}

// SendPaymentRemindersDeps holds dependencies for SendPaymentReminders.
type SendPaymentRemindersDeps struct {
	Schedule      projections.GetPaymentScheduleDeps
	ReminderStore ReminderStore
	Sender        emailAdapter.Sender
	Metrics       ReminderMetrics // optional
	ClubName      string
	Interval      time.Duration // minimum gap between reminders, DefaultReminderInterval if zero
	GenerateID    func() string
	Now           func() time.Time
}

// ExecuteSendPaymentReminders emails every subject with effectively delayed months.
// PRE: SessionID non-empty; SubjectType is player or coach
// POST: At most one email per subject per Interval; each sent email is logged
// INVARIANT: A failed send for one subject does not stop the others
func ExecuteSendPaymentReminders(ctx context.Context, input SendPaymentRemindersInput, deps SendPaymentRemindersDeps) (SendPaymentRemindersResult, error) {
	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	scheduleDeps := deps.Schedule
	scheduleDeps.Now = func() time.Time { return now }

	sched, err := projections.QueryGetPaymentSchedule(ctx, projections.GetPaymentScheduleQuery{
		SessionID:   input.SessionID,
		SubjectType: input.SubjectType,
		Filter:      projections.ScheduleQuery{Status: projections.FilterDelayed},
	}, scheduleDeps)
	if err != nil {
		return SendPaymentRemindersResult{}, err
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultReminderInterval
	}

	var result SendPaymentRemindersResult
	for _, row := range sched.Rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome := sendReminder(ctx, sched.Session, row, now, interval, deps)
		switch outcome {
		case "sent":
			result.Sent++
		case "failed":
			result.Failed++
		default:
			result.Skipped++
		}
		if deps.Metrics != nil {
			deps.Metrics.ReminderSent(outcome)
		}
	}

	slog.Info("reminder_event", "event", "batch_complete",
		"session_id", input.SessionID, "subject_type", input.SubjectType,
		"sent", result.Sent, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// sendReminder handles one row and returns "sent", "failed" or "skipped".
func sendReminder(ctx context.Context, sess domainSession.Session, row projections.ScheduleRow, now time.Time, interval time.Duration, deps SendPaymentRemindersDeps) string {
	if row.Email == "" {
		slog.Debug("reminder_event", "event", "skipped_no_email", "subject_id", row.SubjectID)
		return "skipped"
	}
	last, err := deps.ReminderStore.LastSentAt(ctx, sess.ID, row.SubjectID)
	if err != nil {
		slog.Error("reminder_event", "event", "last_sent_lookup_failed", "subject_id", row.SubjectID, "error", err.Error())
		return "failed"
	}
	if !domainPayment.DueAgain(last, now, interval) {
		return "skipped"
	}

	var overdue []projections.ResolvedCell
	for _, c := range row.Cells {
		if c.Status == domainPayment.StatusDelayed {
			overdue = append(overdue, c)
		}
	}

	html, err := RenderReminderHTML(deps.ClubName, sess.Name, row.Name, overdue)
	if err != nil {
		slog.Error("reminder_event", "event", "render_failed", "subject_id", row.SubjectID, "error", err.Error())
		return "failed"
	}

	sent, err := deps.Sender.Send(ctx, emailAdapter.SendRequest{
		To:      []string{row.Email},
		Subject: fmt.Sprintf("Payment reminder: %s", sess.Name),
		HTML:    html,
	})
	if err != nil {
		slog.Warn("reminder_event", "event", "send_failed", "subject_id", row.SubjectID, "error", err.Error())
		return "failed"
	}

	months := make([]calendar.MonthKey, len(overdue))
	for i, c := range overdue {
		months[i] = c.Month
	}
	id := uuid.NewString()
	if deps.GenerateID != nil {
		id = deps.GenerateID()
	}
	if err := deps.ReminderStore.Save(ctx, domainPayment.Reminder{
		ID:        id,
		SessionID: sess.ID,
		SubjectID: row.SubjectID,
		Months:    months,
		MessageID: sent.MessageID,
		SentAt:    now,
	}); err != nil {
		// The email went out; only throttling is affected.
		slog.Error("reminder_event", "event", "log_failed", "subject_id", row.SubjectID, "error", err.Error())
	}
	slog.Info("reminder_event", "event", "sent", "subject_id", row.SubjectID, "months", len(months), "message_id", sent.MessageID)
	return "sent"
}

// RenderReminderHTML builds the reminder email body.
// PRE: overdue cells are in ascending month order
// POST: Returns HTML with one table row per overdue month and a total
func RenderReminderHTML(clubName, sessionName, subjectName string, overdue []projections.ResolvedCell) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "Hi %s,\n\n", escapeMarkdown(subjectName))
	fmt.Fprintf(&md, "Our records show the following **%s** payments are overdue:\n\n", escapeMarkdown(sessionName))
	md.WriteString("| Month | Amount |\n|---|---:|\n")
	total := decimal.Zero
	for _, c := range overdue {
		fmt.Fprintf(&md, "| %s | %s |\n", c.Month.FirstDay().Format("January 2006"), c.Amount.StringFixed(2))
		total = total.Add(c.Amount)
	}
	fmt.Fprintf(&md, "| **Total** | **%s** |\n\n", total.StringFixed(2))
	md.WriteString("If you have already paid, please ignore this message.\n")
	if clubName != "" {
		fmt.Fprintf(&md, "\n%s\n", escapeMarkdown(clubName))
	}

	var buf bytes.Buffer
	if err := reminderRenderer.Convert([]byte(md.String()), &buf); err != nil {
		return "", fmt.Errorf("render reminder: %w", err)
	}
	return buf.String(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "|", `\|`, "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// ReminderSessionLister lists the sessions a reminder sweep visits.
type ReminderSessionLister interface {
	List(ctx context.Context) ([]domainSession.Session, error)
}

// ReminderWorkerDeps holds what the periodic reminder run needs.
type ReminderWorkerDeps struct {
	Sessions  ReminderSessionLister
	Reminders SendPaymentRemindersDeps
}

// RunReminderSweep sends reminders for every session that has started, for both subject types.
// POST: Returns the combined result; per-session errors are logged and skipped
func RunReminderSweep(ctx context.Context, deps ReminderWorkerDeps) (SendPaymentRemindersResult, error) {
	sessions, err := deps.Sessions.List(ctx)
	if err != nil {
		return SendPaymentRemindersResult{}, fmt.Errorf("list sessions: %w", err)
	}
	now := time.Now()
	if deps.Reminders.Now != nil {
		now = deps.Reminders.Now()
	}

	var total SendPaymentRemindersResult
	for _, sess := range sessions {
		if now.Before(sess.StartDate) {
			continue
		}
		for _, subjectType := range []string{domainSubject.TypePlayer, domainSubject.TypeCoach} {
			r, err := ExecuteSendPaymentReminders(ctx, SendPaymentRemindersInput{SessionID: sess.ID, SubjectType: subjectType}, deps.Reminders)
			if err != nil {
				slog.Error("reminder_sweep_failed", "session_id", sess.ID, "subject_type", subjectType, "error", err.Error())
				continue
			}
			total.Sent += r.Sent
			total.Skipped += r.Skipped
			total.Failed += r.Failed
		}
	}
	return total, nil
}

// StartReminderWorker periodically runs RunReminderSweep.
// PRE: stopCh is provided to signal shutdown; interval > 0
// POST: Worker runs until stopCh is closed
func StartReminderWorker(deps ReminderWorkerDeps, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := RunReminderSweep(ctx, deps); err != nil {
					slog.Error("reminder_background_sweep_failed", "error", err.Error())
				}
				cancel()
			case <-stopCh:
				slog.Info("reminder_background_worker_stopped")
				return
			}
		}
	}()
}
