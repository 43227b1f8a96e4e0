package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// refreshBuffer is how long before expiry a cached token is replaced
const refreshBuffer = 30 * time.Second

// TokenSource mints and caches HS256 bearer tokens for one subject.
// It satisfies the REST client's token provider contract.
type TokenSource struct {
	secret  []byte
	subject string
	issuer  string
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source. ttl <= 0 means one hour.
func NewTokenSource(secret, subject, issuer string, ttl time.Duration) (*TokenSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if subject == "" {
		return nil, ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSource{
		secret:  []byte(secret),
		subject: subject,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token returns the cached token, minting a new one when it is missing or
// about to expire
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshBuffer).Before(s.expiry) {
		return s.token, nil
	}

	expiry := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
		ID:        uuid.NewString(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.token, s.expiry = tok, expiry
	log.Debug().Str("sub", s.subject).Time("expiresAt", expiry).Msg("minted bearer token")
	return tok, nil
}

// Invalidate drops the cached token
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.expiry = "", time.Time{}
}
