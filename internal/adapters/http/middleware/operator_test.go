package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestRequireOperator verifies the key check and the disabled mode.
func TestRequireOperator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name string
		hash string
		key  string
		want int
	}{
		{"valid key", string(hash), "s3cret", http.StatusNoContent},
		{"missing key", string(hash), "", http.StatusUnauthorized},
		{"wrong key", string(hash), "guess", http.StatusForbidden},
		{"disabled", "", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/sessions/s1/payments/status", nil)
			if tt.key != "" {
				req.Header.Set(OperatorKeyHeader, tt.key)
			}
			rr := httptest.NewRecorder()
			RequireOperator(tt.hash)(ok).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
