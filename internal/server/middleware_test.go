package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/auth"
	"github.com/solacehq/solace/internal/model"
	"github.com/solacehq/solace/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeAPIError(t *testing.T, body []byte) model.APIError {
	t.Helper()
	var e model.APIError
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("problems: %w: title required", model.ErrValidation), http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"unauthorized", model.ErrUnauthorized, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"not found", fmt.Errorf("storage: %w", model.ErrNotFound), http.StatusNotFound, model.ErrCodeNotFound},
		{"conflict", fmt.Errorf("readingplan: %w", model.ErrConflict), http.StatusConflict, model.ErrCodeConflict},
		{"upstream", fmt.Errorf("advice: %w: status 503", model.ErrUpstream), http.StatusBadGateway, model.ErrCodeUpstream},
		{"internal", fmt.Errorf("retrieval: %w", model.ErrInternal), http.StatusInternalServerError, model.ErrCodeInternalError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("problems: create: %w", fmt.Errorf("%w: title and description are required", model.ErrValidation))
	assert.Equal(t, "validation failed: title and description are required", publicMessage(err))
	assert.Equal(t, "boom", publicMessage(errors.New("boom")))
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	t.Parallel()
	h := NewHandlers(HandlersDeps{Logger: discardLogger()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/problems", nil)

	h.writeServiceError(rec, req, errors.New("storage: dial tcp 10.0.0.5:5432: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeAPIError(t, rec.Body.Bytes())
	assert.Equal(t, "internal server error", e.Error.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantStatus int
	}{
		{"valid", `{"api_key":"k"}`, 1024, 0},
		{"unknown field", `{"api_key":"k","extra":1}`, 1024, http.StatusBadRequest},
		{"trailing object", `{"api_key":"k"}{"api_key":"j"}`, 1024, http.StatusBadRequest},
		{"malformed", `{"api_key":`, 1024, http.StatusBadRequest},
		{"too large", `{"api_key":"` + strings.Repeat("x", 100) + `"}`, 16, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(tt.body))

			var target model.AuthTokenRequest
			err := decodeJSON(rec, req, &target, tt.maxBytes)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "k", target.APIKey)
				return
			}
			require.Error(t, err)
			handleDecodeError(rec, req, err)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	user := uuid.New()
	token, _, err := mgr.IssueToken(user, auth.RoleUser)
	require.NoError(t, err)

	var seen uuid.UUID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = callerID(r)
		w.WriteHeader(http.StatusNoContent)
	})
	h := authMiddleware(mgr, inner)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public health", "/health", "", http.StatusNoContent},
		{"public token", "/auth/token", "", http.StatusNoContent},
		{"missing header", "/v1/problems", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/problems", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "/v1/problems", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "/v1/problems", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "/v1/problems", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, user, seen)
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	userToken, _, err := mgr.IssueToken(uuid.New(), auth.RoleUser)
	require.NoError(t, err)
	adminToken, _, err := mgr.IssueToken(auth.AdminSubject, auth.RoleAdmin)
	require.NoError(t, err)

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := authMiddleware(mgr, requireAdmin(inner))

	for token, want := range map[string]int{userToken: http.StatusForbidden, adminToken: http.StatusNoContent} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/verses", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	h := requestIDMiddleware(recoveryMiddleware(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/problems", nil)
	req.Header.Set("X-Request-ID", "req-panic")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeAPIError(t, rec.Body.Bytes())
	assert.Equal(t, model.ErrCodeInternalError, e.Error.Code)
	assert.Equal(t, "req-panic", e.Meta.RequestID)
}

func TestLoggingMiddlewareRecordsUser(t *testing.T) {
	t.Parallel()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	user := uuid.New()
	token, _, err := mgr.IssueToken(user, auth.RoleUser)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	h := requestIDMiddleware(loggingMiddleware(logger, authMiddleware(mgr, inner)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/problems", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, user.String(), entry["user_id"])
	assert.InDelta(t, http.StatusAccepted, entry["status"], 0)
	assert.NotEmpty(t, entry["request_id"])
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := securityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestUserRateLimit(t *testing.T) {
	t.Parallel()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	userToken, _, err := mgr.IssueToken(uuid.New(), auth.RoleUser)
	require.NoError(t, err)
	adminToken, _, err := mgr.IssueToken(auth.AdminSubject, auth.RoleAdmin)
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := authMiddleware(mgr, ratelimit.Middleware(limiter, userKeyFunc, nil, discardLogger())(inner))

	do := func(token string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/problems", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do(userToken))
	assert.Equal(t, http.StatusTooManyRequests, do(userToken))
	for range 3 {
		assert.Equal(t, http.StatusNoContent, do(adminToken), "admins are exempt")
	}
}
