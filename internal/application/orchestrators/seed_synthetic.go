package orchestrators

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

type synSessionStore interface {
	GetByID(ctx context.Context, id string) (domainSession.Session, error)
	Save(ctx context.Context, s domainSession.Session) error
	Enroll(ctx context.Context, sessionID string, subjectIDs ...string) error
	List(ctx context.Context) ([]domainSession.Session, error)
}

type synSubjectStore interface {
	GetByID(ctx context.Context, id string) (domainSubject.Subject, error)
	Save(ctx context.Context, s domainSubject.Subject) error
}

// SyntheticSeedDeps holds the stores needed for synthetic data seeding.
type SyntheticSeedDeps struct {
	SessionStore synSessionStore
	SubjectStore synSubjectStore
	PaymentStore PaymentRecordStore
	Now          func() time.Time
}

type synSubject struct {
	name   string
	typ    string
	group  string
	email  string
	amount int64
}

var synSubjects = []synSubject{
	{"Ana Silva", domainSubject.TypePlayer, "U12", "ana.silva@example.com", 45},
	{"Bruno Costa", domainSubject.TypePlayer, "U12", "", 45},
	{"Carla Dias", domainSubject.TypePlayer, "U14", "carla.dias@example.com", 50},
	{"Duarte Ramos", domainSubject.TypePlayer, "U14", "duarte.ramos@example.com", 50},
	{"Eva Martins", domainSubject.TypePlayer, "U16", "", 55},
	{"Filipe Sousa", domainSubject.TypePlayer, "U16", "filipe.sousa@example.com", 55},
	{"Gabriela Nunes", domainSubject.TypePlayer, "Seniors", "gabriela.nunes@example.com", 60},
	{"Hugo Pereira", domainSubject.TypePlayer, "Seniors", "", 60},
	{"Rui Almeida", domainSubject.TypeCoach, "Goalkeepers", "rui.almeida@example.com", 300},
	{"Sofia Lopes", domainSubject.TypeCoach, "Fitness", "sofia.lopes@example.com", 250},
	{"Tiago Ferreira", domainSubject.TypeCoach, "Head coach", "", 450},
}

// ExecuteSeedSynthetic creates a season spanning the current month with players,
// coaches and a mix of payment records. It is idempotent and skips when any
// session already exists.
// POST: One session with enrolled subjects; older months mostly paid
func ExecuteSeedSynthetic(ctx context.Context, deps SyntheticSeedDeps) error {
	existing, err := deps.SessionStore.List(ctx)
	if err != nil {
		return fmt.Errorf("seed_synthetic: list sessions: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("seed_event", "event", "synthetic_skip", "reason", "already_seeded")
		return nil
	}

	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	start := time.Date(now.Year(), now.Month()-3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month()+3, 0, 0, 0, 0, 0, time.UTC)

	sess := domainSession.Session{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("Season %d/%d", start.Year(), end.Year()%100),
		StartDate: start,
		EndDate:   end,
	}
	if err := deps.SessionStore.Save(ctx, sess); err != nil {
		return fmt.Errorf("seed_synthetic: save session: %w", err)
	}

	ids := make([]string, 0, len(synSubjects))
	subjects := make([]domainSubject.Subject, 0, len(synSubjects))
	for _, s := range synSubjects {
		subj := domainSubject.Subject{
			ID:         uuid.NewString(),
			Name:       s.name,
			Type:       s.typ,
			Group:      s.group,
			Email:      s.email,
			BaseAmount: decimal.NewFromInt(s.amount),
		}
		if err := deps.SubjectStore.Save(ctx, subj); err != nil {
			return fmt.Errorf("seed_synthetic: save subject %s: %w", s.name, err)
		}
		ids = append(ids, subj.ID)
		subjects = append(subjects, subj)
	}
	if err := deps.SessionStore.Enroll(ctx, sess.ID, ids...); err != nil {
		return fmt.Errorf("seed_synthetic: enroll: %w", err)
	}

	sess, err = deps.SessionStore.GetByID(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("seed_synthetic: reload session: %w", err)
	}
	months, err := sess.Months()
	if err != nil {
		return fmt.Errorf("seed_synthetic: %w", err)
	}

	payDeps := SetPaymentStatusDeps{
		SessionStore: deps.SessionStore,
		SubjectStore: deps.SubjectStore,
		PaymentStore: deps.PaymentStore,
		Now:          func() time.Time { return now },
	}
	records := 0
	for i, subj := range subjects {
		for j, m := range months {
			if !m.Elapsed(now) {
				break
			}
			// Every third subject falls behind from the second month on.
			if i%3 == 2 && j > 0 {
				break
			}
			if _, err := ExecuteMarkPaid(ctx, MarkPaidInput{
				SessionID:   sess.ID,
				SubjectID:   subj.ID,
				SubjectType: subj.Type,
				Year:        m.Year,
				Month:       int(m.Month),
				Amount:      subj.BaseAmount,
			}, payDeps); err != nil {
				return fmt.Errorf("seed_synthetic: mark paid: %w", err)
			}
			records++
		}
	}

	slog.Info("seed_event", "event", "synthetic_seeded",
		"session_id", sess.ID, "subjects", len(subjects), "months", len(months), "records", records)
	return nil
}
