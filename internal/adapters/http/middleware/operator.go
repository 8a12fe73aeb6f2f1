package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// OperatorKeyHeader carries the shared operator secret on mutating requests.
const OperatorKeyHeader = "X-Operator-Key"

// RequireOperator rejects requests whose X-Operator-Key does not match the
// bcrypt hash. An empty hash disables the check (development only; config
// refuses to start production without one).
func RequireOperator(keyHash string) func(http.Handler) http.Handler {
	if keyHash == "" {
		slog.Warn("operator_key_disabled", "hint", "set CLUBDUES_OPERATOR_KEY_HASH to protect payment mutations")
		return func(next http.Handler) http.Handler { return next }
	}
	hash := []byte(keyHash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(OperatorKeyHeader)
			if key == "" {
				writeJSONError(w, http.StatusUnauthorized, "operator key required")
				return
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				slog.Warn("operator_key_rejected", "path", r.URL.Path, "ip", clientIP(r))
				writeJSONError(w, http.StatusForbidden, "invalid operator key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
