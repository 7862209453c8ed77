package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/auth"
)

const testSigningKey = "test-secret-key-for-testing-only"

func newJWTService(t *testing.T, now func() time.Time) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: testSigningKey,
		Issuer:     "voxgate",
		Audience:   "voxgate-ops",
		Now:        now,
	})
	require.NoError(t, err)
	return svc
}

func issue(t *testing.T, svc *auth.JWTService, subject, role string) string {
	t.Helper()
	token, _, err := svc.IssueToken(subject, role, time.Hour)
	require.NoError(t, err)
	return token
}

func TestOperatorAuth(t *testing.T) {
	svc := newJWTService(t, nil)
	stale := newJWTService(t, func() time.Time { return time.Now().Add(-3 * time.Hour) })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic b3BzOm9wcw==", http.StatusUnauthorized},
		{"empty bearer", "Bearer   ", http.StatusUnauthorized},
		{"malformed token", "Bearer abc.def", http.StatusUnauthorized},
		{"expired token", "Bearer " + issue(t, stale, "oncall", auth.RoleAdmin), http.StatusUnauthorized},
		{"viewer lacks role", "Bearer " + issue(t, svc, "intern", auth.RoleViewer), http.StatusForbidden},
		{"admin allowed", "Bearer " + issue(t, svc, "oncall", auth.RoleAdmin), http.StatusOK},
		{"scheme is case insensitive", "bearer " + issue(t, svc, "oncall", auth.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var operator *auth.Claims
			handler := middleware.OperatorAuth(svc, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				operator = middleware.GetOperator(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/breakers/deepgram/reset", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			switch tt.want {
			case http.StatusOK:
				require.NotNil(t, operator)
				assert.Equal(t, "oncall", operator.Subject)
			case http.StatusUnauthorized:
				assert.Nil(t, operator)
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			default:
				assert.Nil(t, operator)
			}
		})
	}
}

func TestOperatorAuth_ForeignSigningKey(t *testing.T) {
	svc := newJWTService(t, nil)
	foreign, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "some-other-deployment-key",
		Issuer:     "voxgate",
		Audience:   "voxgate-ops",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/probes", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, foreign, "oncall", auth.RoleAdmin))
	rec := httptest.NewRecorder()
	middleware.OperatorAuth(svc)(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetOperator_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, middleware.GetOperator(req.Context()))
}
