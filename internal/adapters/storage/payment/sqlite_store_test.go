package payment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"clubdues/internal/adapters/storage"
	"clubdues/internal/domain/calendar"
	domain "clubdues/internal/domain/payment"
)

func openTestStore(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ":memory:"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, q := range []string{
		`INSERT INTO subject (id, name, type, base_amount) VALUES ('p1', 'Ana', 'player', '90'), ('c1', 'Rui', 'coach', '300')`,
		`INSERT INTO billing_session (id, name, start_date, end_date) VALUES ('s1', 'Winter', '2024-01-01', '2024-03-31')`,
		`INSERT INTO session_enrollment (session_id, subject_id) VALUES ('s1', 'p1'), ('s1', 'c1')`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return NewSQLiteStore(db), db
}

func record(id, subjectID, subjectType string, month time.Month, status domain.Status) domain.Record {
	return domain.Record{
		ID:          id,
		SessionID:   "s1",
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Year:        2024,
		Month:       month,
		Status:      status,
		Amount:      decimal.RequireFromString("90.50"),
		UpdatedAt:   time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC),
	}
}

// TestSQLiteStore_GetMissing verifies an absent cell reports sql.ErrNoRows.
func TestSQLiteStore_GetMissing(t *testing.T) {
	store, _ := openTestStore(t)
	key := domain.Key{SessionID: "s1", SubjectID: "p1", Month: calendar.MonthKey{Year: 2024, Month: time.January}}

	_, err := store.Get(context.Background(), key)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Get() error = %v, want sql.ErrNoRows", err)
	}
}

// TestSQLiteStore_UpsertRoundTrip verifies fields survive storage, including decimal amounts.
func TestSQLiteStore_UpsertRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	in := record("r1", "p1", "player", time.February, domain.StatusPaid)
	in.Notes = "cash"

	id, err := store.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id != "r1" {
		t.Errorf("Upsert id = %q, want r1", id)
	}
	got, err := store.Get(ctx, in.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "r1" || got.Status != domain.StatusPaid || got.Notes != "cash" {
		t.Errorf("got %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("90.5")) {
		t.Errorf("Amount = %s, want 90.5", got.Amount)
	}
	if !got.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, in.UpdatedAt)
	}
}

// TestSQLiteStore_UpsertOverwrites verifies a second write for the same key updates in place.
func TestSQLiteStore_UpsertOverwrites(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	first := record("r1", "p1", "player", time.February, domain.StatusDelayed)
	if _, err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	second := record("r2", "p1", "player", time.February, domain.StatusPaid)
	second.Amount = decimal.NewFromInt(100)
	id, err := store.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if id != "r1" {
		t.Errorf("second Upsert id = %q, want stored r1", id)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM payment_record").Scan(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
	got, _ := store.Get(ctx, first.Key())
	if got.ID != "r1" {
		t.Errorf("ID = %q, want original r1", got.ID)
	}
	if got.Status != domain.StatusPaid || !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("got status=%s amount=%s, want paid 100", got.Status, got.Amount)
	}
}

// TestSQLiteStore_ConcurrentUpsert verifies concurrent writers to one cell leave a single row.
func TestSQLiteStore_ConcurrentUpsert(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, status := range []domain.Status{domain.StatusPaid, domain.StatusDelayed, domain.StatusPending, domain.StatusPaid} {
		wg.Add(1)
		go func(i int, status domain.Status) {
			defer wg.Done()
			r := record(string(rune('a'+i)), "p1", "player", time.March, status)
			if _, err := store.Upsert(ctx, r); err != nil {
				t.Errorf("Upsert: %v", err)
			}
		}(i, status)
	}
	wg.Wait()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM payment_record WHERE month = 3").Scan(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

// TestSQLiteStore_ListBySession verifies filtering by subject type and ordering.
func TestSQLiteStore_ListBySession(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for _, r := range []domain.Record{
		record("r3", "p1", "player", time.March, domain.StatusPending),
		record("r1", "p1", "player", time.January, domain.StatusPaid),
		record("r2", "c1", "coach", time.January, domain.StatusPaid),
	} {
		if _, err := store.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	players, err := store.ListBySession(ctx, "s1", "player")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(players) != 2 || players[0].Month != time.January || players[1].Month != time.March {
		t.Errorf("players = %+v", players)
	}

	coaches, _ := store.ListBySession(ctx, "s1", "coach")
	if len(coaches) != 1 || coaches[0].SubjectID != "c1" {
		t.Errorf("coaches = %+v", coaches)
	}

	none, _ := store.ListBySession(ctx, "other", "player")
	if len(none) != 0 {
		t.Errorf("unknown session returned %d records", len(none))
	}
}

// TestSQLiteStore_CorruptUpdatedAt verifies an unparsable timestamp is reported, not zeroed.
func TestSQLiteStore_CorruptUpdatedAt(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	r := record("r1", "p1", "player", time.January, domain.StatusPaid)
	if _, err := store.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := db.Exec("UPDATE payment_record SET updated_at = 'yesterday'"); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := store.Get(ctx, r.Key()); err == nil || errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Get() error = %v, want parse error", err)
	}
	if _, err := store.ListBySession(ctx, "s1", "player"); err == nil {
		t.Error("ListBySession() should fail on a corrupt row")
	}
}
