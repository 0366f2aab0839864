package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehq/solace/internal/model"
)

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("backend down") }
func (errLimiter) Close() error { return nil }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
func (denyLimiter) Close() error { return nil }

func serve(t *testing.T, l Limiter, keyFunc KeyFunc) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(l, keyFunc, func(*http.Request) string { return "req-1" }, logger)(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/problems", nil))
	return rec
}

func TestMiddlewareThrottles(t *testing.T) {
	m, _ := newLimiter(t, 0.5, 1)

	first := serve(t, m, IPKeyFunc)
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := serve(t, m, IPKeyFunc)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)
}

func TestMiddlewareRetryAfterFloor(t *testing.T) {
	rec := serve(t, denyLimiter{}, IPKeyFunc)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddlewareFailsOpen(t *testing.T) {
	rec := serve(t, errLimiter{}, IPKeyFunc)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	rec := serve(t, denyLimiter{}, func(*http.Request) string { return "" })
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "ip:192.0.2.1"},
		{"[2001:db8::1]:443", "ip:2001:db8::1"},
		{"unix-socket", "ip:unix-socket"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, IPKeyFunc(r))
	}
}
