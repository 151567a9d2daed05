package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// Claims are the access token claims. Subject carries the numeric owner id.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: "loandesk"}
}

// Sign issues an access token for ownerID. Used by the CLI and tests; token
// issuance for end users lives with the identity provider.
func (v *TokenVerifier) Sign(ownerID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(ownerID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    v.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses the token and returns the owner id it was issued for.
func (v *TokenVerifier) Verify(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return 0, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return 0, &domain.ErrUnauthorized{Message: "invalid token type"}
	}

	ownerID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || ownerID <= 0 {
		return 0, &domain.ErrUnauthorized{Message: "token subject is not an owner id"}
	}
	return ownerID, nil
}

// JWTAuthMiddleware validates Bearer tokens and injects the owner id into context.
func JWTAuthMiddleware(verifier *TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			ownerID, err := verifier.Verify(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerIDFromContext extracts the authenticated owner id from context.
func OwnerIDFromContext(ctx context.Context) int64 {
	v, _ := ctx.Value(ownerIDKey).(int64)
	return v
}
