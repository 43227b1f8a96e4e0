package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxSubject ctxKey = "sub"

// ErrMissingSubject is returned for a valid token without a sub claim
var ErrMissingSubject = errors.New("token has no subject")

// JWTCfg holds JWT authentication configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	Issuer      string // optional; checked when set
}

// ValidateToken verifies an HS256 token and returns its subject
func ValidateToken(tok string, cfg JWTCfg) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.HS256Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("jwt validation failed: %w", err)
	}
	if !t.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Middleware creates HTTP middleware for JWT authentication.
// Requests need "Authorization: Bearer <token>"; the subject is stored in
// the request context.
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tok == "" {
				log.Warn().Str("path", r.URL.Path).Msg("missing bearer token")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sub, err := ValidateToken(tok, cfg)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CtxSubject, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject extracts the authenticated subject from request context
// Returns empty string if not authenticated
func Subject(ctx context.Context) string {
	if v := ctx.Value(CtxSubject); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
