package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/auth"
)

func TestRateLimitByIP(t *testing.T) {
	limit := middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute})
	handler := limit(okHandler)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:4001").Code)

	rec := send("10.0.0.1:4002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2:4000").Code, "other clients keep their budget")
}

func TestRateLimitByOperator(t *testing.T) {
	svc := newJWTService(t, nil)
	limited := middleware.OperatorAuth(svc, auth.RoleAdmin)(
		middleware.RateLimitByOperator(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute})(okHandler),
	)

	alice := issue(t, svc, "alice", auth.RoleAdmin)
	bob := issue(t, svc, "bob", auth.RoleAdmin)

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/probes", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	assert.Equal(t, http.StatusOK, send(bob), "operators sharing an address are limited separately")
}
