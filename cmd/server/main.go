package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	emailPkg "clubdues/internal/adapters/email"
	web "clubdues/internal/adapters/http"
	"clubdues/internal/adapters/metrics"
	"clubdues/internal/adapters/storage"
	paymentStore "clubdues/internal/adapters/storage/payment"
	reminderStore "clubdues/internal/adapters/storage/reminder"
	sessionStore "clubdues/internal/adapters/storage/session"
	subjectStore "clubdues/internal/adapters/storage/subject"
	"clubdues/internal/application/orchestrators"
	"clubdues/internal/application/projections"
	"clubdues/internal/config"
	"clubdues/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", false)
		slog.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.Production())
	if cfg.DotEnvLoaded {
		slog.Info("config_event", "event", "dotenv_loaded")
	}
	if cfg.GeneratedCSRFKey {
		slog.Warn("config_event", "event", "random_csrf_key", "hint", "set CLUBDUES_CSRF_KEY to keep tokens valid across restarts")
	}

	if err := run(cfg); err != nil {
		slog.Error("server_failed", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("server_stopped")
}

// run wires and serves the app until a signal arrives or the listener fails.
// Deferred cleanup (worker stop, database close) always runs before it returns.
func run(cfg config.Config) error {
	// WAL mode, foreign keys, and busy timeout on every pooled connection
	dsn := "file:" + cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Connection pool settings for WAL mode
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if err := storage.MigrateDB(db, cfg.DBPath); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("database_ready", "path", cfg.DBPath, "schema", storage.LatestSchemaVersion())

	// Instrumentation: every store call goes through the timed wrapper
	m := metrics.New()
	timedDB := storage.NewTimedDB(db, m, cfg.SlowQuery)

	stores := &web.Stores{
		DB:            timedDB,
		SessionStore:  sessionStore.NewSQLiteStore(timedDB),
		SubjectStore:  subjectStore.NewSQLiteStore(timedDB),
		PaymentStore:  paymentStore.NewSQLiteStore(timedDB),
		ReminderStore: reminderStore.NewSQLiteStore(timedDB),
	}

	// Seed synthetic data for development only
	if !cfg.Production() {
		synDeps := orchestrators.SyntheticSeedDeps{
			SessionStore: stores.SessionStore,
			SubjectStore: stores.SubjectStore,
			PaymentStore: stores.PaymentStore,
		}
		if err := orchestrators.ExecuteSeedSynthetic(context.Background(), synDeps); err != nil {
			return fmt.Errorf("seed synthetic data: %w", err)
		}
	}

	// Configure email sender
	var sender emailPkg.Sender
	if cfg.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.ResendKey, cfg.ResendFrom, cfg.ReplyTo)
		slog.Info("email_sender_configured", "provider", "resend")
	} else {
		sender = emailPkg.NewNoopSender()
		if cfg.Production() {
			slog.Warn("email_sender_disabled", "hint", "CLUBDUES_RESEND_KEY is not set, reminders will not be delivered")
		} else {
			slog.Info("email_sender_configured", "provider", "noop")
		}
	}
	web.SetEmailSender(sender)

	// Start the reminder worker when an interval is configured
	reminderStopCh := make(chan struct{})
	defer close(reminderStopCh)
	if cfg.ReminderInterval > 0 {
		workerDeps := orchestrators.ReminderWorkerDeps{
			Sessions: stores.SessionStore,
			Reminders: orchestrators.SendPaymentRemindersDeps{
				Schedule: projections.GetPaymentScheduleDeps{
					SessionStore: stores.SessionStore,
					SubjectStore: stores.SubjectStore,
					PaymentStore: stores.PaymentStore,
				},
				ReminderStore: stores.ReminderStore,
				Sender:        sender,
				Metrics:       m,
				ClubName:      cfg.ClubName,
			},
		}
		orchestrators.StartReminderWorker(workerDeps, cfg.ReminderInterval, reminderStopCh)
		slog.Info("reminder_worker_started", "interval", cfg.ReminderInterval.String())
	}

	handler := web.NewMux(stores, web.Options{
		Metrics:         m,
		CSRFKey:         cfg.CSRFKey,
		SecureCookies:   cfg.Production(),
		TrustedOrigins:  trustedOrigins(cfg.CORSOrigins),
		CORSOrigins:     cfg.CORSOrigins,
		OperatorKeyHash: cfg.OperatorKeyHash,
		SlowRequest:     cfg.SlowRequest,
		ClubName:        cfg.ClubName,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server_starting", "version", version, "addr", cfg.Addr, "env", cfg.Env)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		slog.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server_shutdown_failed", "error", err.Error())
		}
	}
	return nil
}

// trustedOrigins converts CORS origins (scheme://host:port) to the host:port
// form the CSRF middleware expects.
func trustedOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
