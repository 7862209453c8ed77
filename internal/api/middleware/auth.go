package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/voxgate/voxgate/internal/api/models"
	"github.com/voxgate/voxgate/internal/auth"
)

type operatorKey struct{}

// OperatorAuth requires a valid operator bearer token carrying one of roles.
func OperatorAuth(svc *auth.JWTService, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}
			token := strings.TrimSpace(header[len(bearerPrefix):])
			if token == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					writeUnauthorized(w, r, "operator token has expired")
				} else {
					writeUnauthorized(w, r, "invalid operator token")
				}
				return
			}

			if err := auth.Authorize(claims, roles...); err != nil {
				problem := models.NewForbidden(GetRequestID(r.Context()), "operator role "+claims.Role+" may not perform this action")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized lives here rather than in package response, which
// imports middleware.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="voxgate-ops"`)
	problem.Write(w)
}

// GetOperator returns the authenticated operator, or nil.
func GetOperator(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(operatorKey{}).(*auth.Claims)
	return claims
}
