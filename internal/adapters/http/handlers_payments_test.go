package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"clubdues/internal/adapters/email"
	"clubdues/internal/adapters/http/middleware"
	"clubdues/internal/adapters/metrics"
	"clubdues/internal/adapters/storage"
	paymentStore "clubdues/internal/adapters/storage/payment"
	reminderStore "clubdues/internal/adapters/storage/reminder"
	sessionStore "clubdues/internal/adapters/storage/session"
	subjectStore "clubdues/internal/adapters/storage/subject"
	"clubdues/internal/application/projections"
	domainPayment "clubdues/internal/domain/payment"
	domainSession "clubdues/internal/domain/session"
	domainSubject "clubdues/internal/domain/subject"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []email.SendRequest
}

// Send records the request.
func (s *recordingSender) Send(_ context.Context, req email.SendRequest) (email.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return email.SendResult{MessageID: "test-msg", SentAt: time.Now()}, nil
}

type testServer struct {
	handler http.Handler
	metrics *metrics.Metrics
	db      *sql.DB
}

// newTestServer seeds a Jan-Mar 2024 session with two players and one coach.
func newTestServer(t *testing.T, now time.Time, opts Options) *testServer {
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

	s := &Stores{
		DB:            db,
		SessionStore:  sessionStore.NewSQLiteStore(db),
		SubjectStore:  subjectStore.NewSQLiteStore(db),
		PaymentStore:  paymentStore.NewSQLiteStore(db),
		ReminderStore: reminderStore.NewSQLiteStore(db),
	}
	ctx := context.Background()
	for _, subj := range []domainSubject.Subject{
		{ID: "p1", Name: "Ana Silva", Type: domainSubject.TypePlayer, Group: "U12", Email: "ana@example.com", BaseAmount: decimal.NewFromInt(100)},
		{ID: "p2", Name: "Bruno Costa", Type: domainSubject.TypePlayer, Group: "U14", BaseAmount: decimal.NewFromInt(80)},
		{ID: "c1", Name: "Rui Almeida", Type: domainSubject.TypeCoach, Group: "Goalkeepers", BaseAmount: decimal.NewFromInt(300)},
	} {
		if err := s.SubjectStore.Save(ctx, subj); err != nil {
			t.Fatalf("save subject: %v", err)
		}
	}
	if err := s.SessionStore.Save(ctx, domainSession.Session{
		ID:        "s1",
		Name:      "Winter 2024",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := s.SessionStore.Enroll(ctx, "s1", "p1", "p2", "c1"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	prevNow, prevRate, prevSender := timeNow, RateLimitPerSecond, emailSender
	timeNow = func() time.Time { return now }
	RateLimitPerSecond = 10000
	t.Cleanup(func() {
		timeNow, RateLimitPerSecond, emailSender = prevNow, prevRate, prevSender
	})

	if opts.CSRFKey == nil {
		opts.CSRFKey = bytes.Repeat([]byte("k"), 32)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &testServer{handler: NewMux(s, opts), metrics: opts.Metrics, db: db}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

type scheduleBody struct {
	SessionID string                    `json:"sessionId"`
	Months    []string                  `json:"months"`
	Schedule  []projections.ScheduleRow `json:"schedule"`
	Matched   int                       `json:"matched"`
	Page      struct {
		Page       int `json:"page"`
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

func decodeSchedule(t *testing.T, rr *httptest.ResponseRecorder) scheduleBody {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body scheduleBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v\n%s", err, rr.Body.String())
	}
	return body
}

func statuses(row projections.ScheduleRow) string {
	parts := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		parts[i] = string(c.Status)
	}
	return strings.Join(parts, ",")
}

// TestGetPaymentSchedule_AllDelayedAfterSession verifies defaults resolve against the clock.
func TestGetPaymentSchedule_AllDelayedAfterSession(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC), Options{})

	body := decodeSchedule(t, ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player", ""))
	if strings.Join(body.Months, ",") != "2024-01,2024-02,2024-03" {
		t.Errorf("months = %v", body.Months)
	}
	if len(body.Schedule) != 2 || body.Schedule[0].SubjectID != "p1" {
		t.Fatalf("schedule = %+v", body.Schedule)
	}
	for _, row := range body.Schedule {
		if statuses(row) != "delayed,delayed,delayed" {
			t.Errorf("%s statuses = %s", row.SubjectID, statuses(row))
		}
	}
	if !body.Schedule[1].Cells[0].Amount.Equal(decimal.NewFromInt(80)) {
		t.Errorf("synthesized amount = %s, want base amount 80", body.Schedule[1].Cells[0].Amount)
	}
	if strings.Contains(ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player", "").Body.String(), "ana@example.com") {
		t.Error("schedule response leaks subject email")
	}
}

// TestPostPaymentStatus_PaidFebruary verifies the write and that only Feb changes.
func TestPostPaymentStatus_PaidFebruary(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC), Options{})

	rr := ts.do(t, "POST", "/api/sessions/s1/payments/status",
		`{"subjectId":"p1","subjectType":"player","year":2024,"month":2,"status":"paid","amount":90}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var cell cellResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cell); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cell.StoredStatus != domainPayment.StatusPaid || !cell.Amount.Equal(decimal.NewFromInt(90)) || cell.Month.String() != "2024-02" {
		t.Errorf("cell = %+v", cell)
	}

	body := decodeSchedule(t, ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player", ""))
	if got := statuses(body.Schedule[0]); got != "delayed,paid,delayed" {
		t.Errorf("p1 statuses = %s", got)
	}
	if got := statuses(body.Schedule[1]); got != "delayed,delayed,delayed" {
		t.Errorf("p2 statuses = %s", got)
	}
	if !body.Schedule[0].Cells[1].Recorded || body.Schedule[0].Cells[0].Recorded {
		t.Error("only February should be backed by a record")
	}
}

// TestPostPaymentStatus_Errors verifies the HTTP mapping of engine errors.
func TestPostPaymentStatus_Errors(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"out of range", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2025,"month":1,"status":"paid"}`, http.StatusBadRequest},
		{"invalid status", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"done"}`, http.StatusBadRequest},
		{"invalid subject type", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"parent","year":2024,"month":1,"status":"paid"}`, http.StatusBadRequest},
		{"month 13", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":13,"status":"paid"}`, http.StatusBadRequest},
		{"negative amount", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid","amount":-5}`, http.StatusBadRequest},
		{"unknown field", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid","extra":1}`, http.StatusBadRequest},
		{"missing subject", "/api/sessions/s1/payments/status", `{"subjectType":"player","year":2024,"month":1,"status":"paid"}`, http.StatusBadRequest},
		{"negative amount, unknown session", "/api/sessions/nope/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid","amount":-5}`, http.StatusBadRequest},
		{"unknown session", "/api/sessions/nope/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid"}`, http.StatusNotFound},
		{"unknown subject", "/api/sessions/s1/payments/status", `{"subjectId":"zz","subjectType":"player","year":2024,"month":1,"status":"paid"}`, http.StatusNotFound},
		{"type mismatch", "/api/sessions/s1/payments/status", `{"subjectId":"c1","subjectType":"player","year":2024,"month":1,"status":"paid"}`, http.StatusNotFound},
		{"mark-paid without amount", "/api/sessions/s1/payments/mark-paid", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, "POST", tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// TestPostMarkPaid_ReportsMissingField verifies validation failures list JSON field names.
func TestPostMarkPaid_ReportsMissingField(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})

	rr := ts.do(t, "POST", "/api/sessions/s1/payments/mark-paid", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1}`)
	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Fields["amount"] != "required" {
		t.Errorf("fields = %v, want amount=required", body.Fields)
	}
}

// TestPostMarkPaid verifies the convenience route stores paid with the amount.
func TestPostMarkPaid(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})

	rr := ts.do(t, "POST", "/api/sessions/s1/payments/mark-paid",
		`{"subjectId":"c1","subjectType":"coach","year":2024,"month":1,"amount":"275.50","notes":"bank transfer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var cell cellResponse
	json.Unmarshal(rr.Body.Bytes(), &cell)
	if cell.Status != domainPayment.StatusPaid || cell.Notes != "bank transfer" || !cell.Amount.Equal(decimal.RequireFromString("275.5")) {
		t.Errorf("cell = %+v", cell)
	}
}

// TestPostCycleStatus verifies pending advances to delayed, and an elapsed default to paid.
func TestPostCycleStatus(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})

	tests := []struct {
		month int
		want  domainPayment.Status
	}{
		{3, domainPayment.StatusDelayed}, // pending -> delayed
		{3, domainPayment.StatusPaid},    // delayed -> paid
		{3, domainPayment.StatusPending}, // paid -> pending
		{1, domainPayment.StatusPaid},    // elapsed pending reads as delayed -> paid
	}
	for _, tt := range tests {
		rr := ts.do(t, "POST", "/api/sessions/s1/payments/cycle",
			`{"subjectId":"p2","subjectType":"player","year":2024,"month":`+strconv.Itoa(tt.month)+`}`)
		var cell cellResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &cell); err != nil || rr.Code != http.StatusOK {
			t.Fatalf("cycle month %d: status %d, err %v", tt.month, rr.Code, err)
		}
		if cell.StoredStatus != tt.want {
			t.Errorf("cycle month %d = %s, want %s", tt.month, cell.StoredStatus, tt.want)
		}
	}
}

// TestGetPaymentSchedule_QueryParams verifies filters, sort and pagination.
func TestGetPaymentSchedule_QueryParams(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})
	// p1: Jan paid, Feb paid; p2: defaults (Jan delayed, Feb/Mar pending).
	for _, m := range []string{"1", "2"} {
		if rr := ts.do(t, "POST", "/api/sessions/s1/payments/mark-paid",
			`{"subjectId":"p1","subjectType":"player","year":2024,"month":`+m+`,"amount":100}`); rr.Code != http.StatusOK {
			t.Fatalf("mark-paid: %d %s", rr.Code, rr.Body.String())
		}
	}

	tests := []struct {
		query string
		want  string
	}{
		{"q=costa", "p2"},
		{"group=U12", "p1"},
		{"group=all", "p1,p2"},
		{"status=delayed", "p2"},
		{"status=paid", "p1"},
		{"status=upcoming", "p1,p2"},
		{"sort=nearestDue", "p2,p1"},
		{"page=2&per_page=10", "p1,p2"}, // clamped to the only page
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			body := decodeSchedule(t, ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player&"+tt.query, ""))
			got := make([]string, len(body.Schedule))
			for i, r := range body.Schedule {
				got[i] = r.SubjectID
			}
			if strings.Join(got, ",") != tt.want {
				t.Errorf("rows = %v, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"status=overdue", "sort=name", ""} {
		path := "/api/sessions/s1/payments/schedule?" + bad
		if bad != "" {
			path += "&subjectType=player"
		}
		if rr := ts.do(t, "GET", path, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%q status = %d, want 400", bad, rr.Code)
		}
	}
	if rr := ts.do(t, "GET", "/api/sessions/nope/payments/schedule?subjectType=player", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rr.Code)
	}
}

// TestGetPaymentSummary verifies totals and the month parameter.
func TestGetPaymentSummary(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC), Options{})
	ts.do(t, "POST", "/api/sessions/s1/payments/mark-paid", `{"subjectId":"p1","subjectType":"player","year":2024,"month":2,"amount":90}`)

	rr := ts.do(t, "GET", "/api/sessions/s1/payments/summary?subjectType=player", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var sum projections.GetPaymentSummaryResult
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sum.Expected.Equal(decimal.NewFromInt(530)) || !sum.Collected.Equal(decimal.NewFromInt(90)) || !sum.Overdue.Equal(decimal.NewFromInt(440)) {
		t.Errorf("totals = %s / %s / %s, want 530 / 90 / 440", sum.Expected, sum.Collected, sum.Overdue)
	}
	if len(sum.Months) != 3 || len(sum.Rows) != 2 {
		t.Errorf("months = %d, rows = %d", len(sum.Months), len(sum.Rows))
	}

	if rr := ts.do(t, "GET", "/api/sessions/s1/payments/summary?subjectType=player&month=2025-01", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("out-of-range month status = %d, want 400", rr.Code)
	}
	if rr := ts.do(t, "GET", "/api/sessions/s1/payments/summary?subjectType=player&month=Feb", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("malformed month status = %d, want 400", rr.Code)
	}
}

// TestPostSendReminders verifies overdue subjects with an email are reminded once.
func TestPostSendReminders(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{ClubName: "Riverside FC"})
	sender := &recordingSender{}
	SetEmailSender(sender)

	rr := ts.do(t, "POST", "/api/sessions/s1/payments/reminders?subjectType=player", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"sent":1`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if len(sender.sent) != 1 || sender.sent[0].To[0] != "ana@example.com" || !strings.Contains(sender.sent[0].HTML, "Riverside FC") {
		t.Errorf("sent = %+v", sender.sent)
	}

	rr = ts.do(t, "POST", "/api/sessions/s1/payments/reminders?subjectType=player", "")
	if !strings.Contains(rr.Body.String(), `"sent":0`) {
		t.Errorf("second run body = %s, want throttled", rr.Body.String())
	}
}

// TestOperatorKeyGuardsMutations verifies writes need the key and reads do not.
func TestOperatorKeyGuardsMutations(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("treasurer"), bcrypt.MinCost)
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{OperatorKeyHash: string(hash)})
	body := `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid"}`

	if rr := ts.do(t, "POST", "/api/sessions/s1/payments/status", body); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rr.Code)
	}
	if rr := ts.do(t, "POST", "/api/sessions/s1/payments/status", body, middleware.OperatorKeyHeader, "treasurer"); rr.Code != http.StatusOK {
		t.Errorf("with key status = %d, want 200", rr.Code)
	}
	if rr := ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player", ""); rr.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", rr.Code)
	}
}

// TestHealthzAndMetrics verifies the operational endpoints.
func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})
	ts.do(t, "POST", "/api/sessions/s1/payments/status", `{"subjectId":"p1","subjectType":"player","year":2024,"month":1,"status":"paid"}`)
	ts.do(t, "GET", "/api/sessions/s1/payments/schedule?subjectType=player", "")

	if rr := ts.do(t, "GET", "/healthz", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rr.Code, rr.Body.String())
	}
	rr := ts.do(t, "GET", "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	for _, want := range []string{
		`clubdues_payment_status_changes_total{outcome="ok",status="paid",subject_type="player"} 1`,
		`clubdues_schedule_rows_count 1`,
		`route="/api/sessions/{sessionId}/payments/schedule"`,
	} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

// TestUnknownPathsShareOneRouteSeries verifies scanned URLs do not grow /metrics.
func TestUnknownPathsShareOneRouteSeries(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})
	for i := 0; i < 300; i++ {
		if rr := ts.do(t, "GET", "/nope-"+strconv.Itoa(i), ""); rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
	}
	n, err := testutil.GatherAndCount(ts.metrics.Registry(), "clubdues_http_request_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("series after 300 unknown paths = %d, want 1", n)
	}
}

// TestHealthz_DatabaseDown verifies an unreachable database reports 503.
func TestHealthz_DatabaseDown(t *testing.T) {
	ts := newTestServer(t, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), Options{})
	ts.db.Close()

	rr := ts.do(t, "GET", "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"unavailable"`) {
		t.Errorf("healthz = %d %s, want 503 unavailable", rr.Code, rr.Body.String())
	}
}
