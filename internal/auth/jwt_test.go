package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/auth"
)

func newService(t *testing.T, now func() time.Time) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "voxgate",
		Audience:   "voxgate-ops",
		Now:        now,
	})
	require.NoError(t, err)
	return svc
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	svc := newService(t, nil)

	token, expiresAt, err := svc.IssueToken("oncall@voxgate", auth.RoleAdmin, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenTTL), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "oncall@voxgate", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "voxgate", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestNewJWTService_RequiresKey(t *testing.T) {
	_, err := auth.NewJWTService(auth.JWTConfig{})
	assert.ErrorIs(t, err, auth.ErrMissingSignKey)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newService(t, nil)

	other, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "another-key",
		Issuer:     "voxgate",
		Audience:   "voxgate-ops",
	})
	require.NoError(t, err)
	foreign, _, err := other.IssueToken("mallory", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	wrongAudience, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "voxgate",
		Audience:   "somebody-else",
	})
	require.NoError(t, err)
	misdirected, _, err := wrongAudience.IssueToken("oncall", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "voxgate",
		"aud": "voxgate-ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"foreign signing key", foreign},
		{"wrong audience", misdirected},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := newService(t, func() time.Time { return issuedAt })
	token, _, err := issuer.IssueToken("oncall", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	later := newService(t, func() time.Time { return issuedAt.Add(2 * time.Minute) })
	_, err = later.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		claims  *auth.Claims
		allowed []string
		wantErr bool
	}{
		{"admin allowed", &auth.Claims{Role: auth.RoleAdmin}, []string{auth.RoleAdmin}, false},
		{"viewer rejected", &auth.Claims{Role: auth.RoleViewer}, []string{auth.RoleAdmin}, true},
		{"viewer on read route", &auth.Claims{Role: auth.RoleViewer}, []string{auth.RoleAdmin, auth.RoleViewer}, false},
		{"no claims", nil, []string{auth.RoleAdmin}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authorize(tt.claims, tt.allowed...)
			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrForbiddenRole)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
