// internal/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey string

const (
	ContextAdminID contextKey = "adminID"
	ContextRole    contextKey = "role"
)

const RoleAdmin = "admin"

// Claims are the admin API token claims.
type Claims struct {
	AdminID string `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 admin tokens issued with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) ParseAndValidate(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	parser := jwt.NewParser(
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for adminID; used by operators to mint API tokens and by tests.
func (v *Verifier) Issue(adminID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AdminID: adminID,
		Role:    RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequireAdmin rejects requests without a valid admin bearer token. A verifier
// without a secret disables the admin API entirely.
func RequireAdmin(v *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil || len(v.secret) == 0 {
				response.Error(w, http.StatusServiceUnavailable, "admin API is not configured")
				return
			}

			token := extractToken(r)
			if token == "" {
				response.Error(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claims, err := v.ParseAndValidate(token)
			if err != nil {
				logger.Warn("rejected admin token",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				response.Error(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if claims.Role != RoleAdmin {
				response.Error(w, http.StatusForbidden, "Admin role required")
				return
			}

			ctx := context.WithValue(r.Context(), ContextAdminID, claims.AdminID)
			ctx = context.WithValue(ctx, ContextRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetAdminID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextAdminID).(string)
	return val, ok
}

func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
