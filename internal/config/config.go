// Package config loads server settings from the environment. A .env file in the
// working directory is read first when present; real environment variables win.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config errors
var (
	ErrBadCSRFKey      = errors.New("CLUBDUES_CSRF_KEY must be 64 hex characters (32 bytes)")
	ErrMissingCSRFKey  = errors.New("CLUBDUES_CSRF_KEY is required in production")
	ErrMissingOperator = errors.New("CLUBDUES_OPERATOR_KEY_HASH is required in production")
	ErrBadDuration     = errors.New("invalid duration")
	ErrBadMilliseconds = errors.New("invalid millisecond value")
	ErrUnknownEnv      = errors.New("CLUBDUES_ENV must be development or production")
)

// Config holds all runtime settings.
type Config struct {
	Addr            string
	DBPath          string
	Env             string
	CSRFKey         []byte
	OperatorKeyHash string // bcrypt hash of the X-Operator-Key value
	ResendKey       string
	ResendFrom      string
	ReplyTo         string
	ClubName        string
	CORSOrigins     []string
	LogLevel        string
	SlowRequest     time.Duration
	SlowQuery       time.Duration
	// ReminderInterval enables the background reminder sweep when > 0.
	ReminderInterval time.Duration

	// Set by Load so the caller can report them once logging is configured.
	DotEnvLoaded     bool
	GeneratedCSRFKey bool
}

// Production reports whether the server runs in production mode.
func (c Config) Production() bool {
	return c.Env == EnvProduction
}

// Load reads .env (if present) and the process environment.
// POST: Returns a Config with defaults applied, or the first invalid setting
func Load() (Config, error) {
	loaded := godotenv.Load() == nil
	cfg, err := FromLookup(os.LookupEnv)
	cfg.DotEnvLoaded = loaded
	return cfg, err
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := Config{
		Addr:            get("CLUBDUES_ADDR", ":8080"),
		DBPath:          get("CLUBDUES_DB_PATH", "clubdues.db"),
		Env:             strings.ToLower(get("CLUBDUES_ENV", EnvDevelopment)),
		OperatorKeyHash: get("CLUBDUES_OPERATOR_KEY_HASH", ""),
		ResendKey:       get("CLUBDUES_RESEND_KEY", ""),
		ResendFrom:      get("CLUBDUES_RESEND_FROM", "Club Dues <noreply@clubdues.local>"),
		ReplyTo:         get("CLUBDUES_REPLY_TO", ""),
		ClubName:        get("CLUBDUES_CLUB_NAME", "Club Dues"),
		CORSOrigins:     splitList(get("CLUBDUES_CORS_ORIGINS", "")),
		LogLevel:        get("LOG_LEVEL", "info"),
	}
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownEnv, cfg.Env)
	}

	var err error
	if cfg.SlowRequest, err = millis(get("CLUBDUES_SLOW_REQUEST_MS", "500")); err != nil {
		return Config{}, fmt.Errorf("CLUBDUES_SLOW_REQUEST_MS: %w", err)
	}
	if cfg.SlowQuery, err = millis(get("CLUBDUES_SLOW_QUERY_MS", "50")); err != nil {
		return Config{}, fmt.Errorf("CLUBDUES_SLOW_QUERY_MS: %w", err)
	}
	if v := get("CLUBDUES_REMINDER_INTERVAL", ""); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil || d < 0 {
			return Config{}, fmt.Errorf("CLUBDUES_REMINDER_INTERVAL: %w: %q", ErrBadDuration, v)
		}
		cfg.ReminderInterval = d
	}

	if cfg.CSRFKey, err = csrfKey(get("CLUBDUES_CSRF_KEY", ""), cfg.Production()); err != nil {
		return Config{}, err
	}
	cfg.GeneratedCSRFKey = get("CLUBDUES_CSRF_KEY", "") == ""
	if cfg.Production() && cfg.OperatorKeyHash == "" {
		return Config{}, ErrMissingOperator
	}
	return cfg, nil
}

// csrfKey decodes the hex key, or generates a random one outside production.
func csrfKey(keyHex string, production bool) ([]byte, error) {
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, ErrBadCSRFKey
		}
		return key, nil
	}
	if production {
		return nil, ErrMissingCSRFKey
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate CSRF key: %w", err)
	}
	return key, nil
}

func millis(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadMilliseconds, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
