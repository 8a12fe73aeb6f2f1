package web

import (
	"context"
	"net/http"
	"time"

	"clubdues/internal/adapters/email"
	"clubdues/internal/adapters/http/middleware"
	"clubdues/internal/adapters/metrics"
	paymentStore "clubdues/internal/adapters/storage/payment"
	reminderStore "clubdues/internal/adapters/storage/reminder"
	sessionStore "clubdues/internal/adapters/storage/session"
	subjectStore "clubdues/internal/adapters/storage/subject"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Stores holds all storage dependencies.
type Stores struct {
	DB            Pinger // checked by /healthz
	SessionStore  sessionStore.Store
	SubjectStore  subjectStore.Store
	PaymentStore  paymentStore.Store
	ReminderStore reminderStore.Store
}

// Options configures the middleware chain and handler behaviour.
type Options struct {
	Metrics         *metrics.Metrics // optional
	CSRFKey         []byte           // 32 bytes
	SecureCookies   bool
	TrustedOrigins  []string // CSRF trusted origins (host:port)
	CORSOrigins     []string
	OperatorKeyHash string // bcrypt hash; empty disables the operator check
	SlowRequest     time.Duration
	ClubName        string // signature on reminder emails
}

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 10

// Global store set (set by NewMux)
var stores *Stores

// Global metrics (set by NewMux, nil-safe)
var appMetrics *metrics.Metrics

// Club name used in reminder emails (set by NewMux)
var clubName string

// Global email sender instance (set by SetEmailSender)
var emailSender email.Sender = email.NewNoopSender()

// SetEmailSender sets the sender used for payment reminders.
func SetEmailSender(sender email.Sender) {
	if sender == nil {
		sender = email.NewNoopSender()
	}
	emailSender = sender
}

// NewMux wires HTTP handlers for the app.
func NewMux(s *Stores, opts Options) http.Handler {
	stores = s
	appMetrics = opts.Metrics
	clubName = opts.ClubName

	mux := http.NewServeMux()
	registerRoutes(mux, middleware.RequireOperator(opts.OperatorKeyHash))
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	// Rate limiter: configurable requests per second per IP (OWASP A04)
	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Outer to inner: CORS -> SecurityHeaders -> CSRF -> RateLimit -> Timing -> Mux
	return middleware.Chain(mux,
		middleware.CORS(opts.CORSOrigins),
		middleware.SecurityHeaders,
		middleware.CSRF(opts.CSRFKey, opts.SecureCookies, opts.TrustedOrigins),
		middleware.RateLimit(limiter),
		middleware.Timing(opts.Metrics, opts.SlowRequest),
	)
}

// registerRoutes maps URL patterns to handlers. operator guards mutations.
func registerRoutes(mux *http.ServeMux, operator func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /api/sessions/{sessionId}/payments/schedule", handleGetPaymentSchedule)
	mux.HandleFunc("GET /api/sessions/{sessionId}/payments/summary", handleGetPaymentSummary)
	mux.Handle("POST /api/sessions/{sessionId}/payments/status", operator(http.HandlerFunc(handlePostPaymentStatus)))
	mux.Handle("POST /api/sessions/{sessionId}/payments/mark-paid", operator(http.HandlerFunc(handlePostMarkPaid)))
	mux.Handle("POST /api/sessions/{sessionId}/payments/cycle", operator(http.HandlerFunc(handlePostCycleStatus)))
	mux.Handle("POST /api/sessions/{sessionId}/payments/reminders", operator(http.HandlerFunc(handlePostSendReminders)))
}
