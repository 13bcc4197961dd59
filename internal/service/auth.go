package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/limiter"
)

// AdminScope is the limiter scope for mutation authentication.
const AdminScope = "admin"

// AuthService issues and verifies admin tokens.
type AuthService interface {
	// Issue mints a signed token for subject.
	Issue(subject string) (token string, expiresAt time.Time, err error)
	// Authenticate verifies token with rate limiting by peer and returns its subject.
	Authenticate(ctx context.Context, token, peer string) (subject string, err error)
}

type AuthServiceImpl struct {
	signKey  []byte
	tokenTTL time.Duration
	lim      limiter.Limiter
}

// NewAuthService constructs AuthService. lim may be nil to disable throttling.
func NewAuthService(signKey []byte, tokenTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthServiceImpl{signKey: signKey, tokenTTL: tokenTTL, lim: lim}
}

// Issue creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("validation: %w: empty subject", errs.ErrInvalidArgument)
	}
	now := time.Now()
	exp := now.Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Authenticate checks the limiter, verifies the token and records the outcome.
// Limiter errors do not block authentication.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token, peer string) (string, error) {
	peerHash := limiter.HashPeer(peer)

	if s.lim != nil {
		allowed, _, err := s.lim.Allow(ctx, AdminScope, peerHash)
		if err == nil && !allowed {
			return "", errs.ErrRateLimited
		}
	}

	subject, err := s.verify(token)
	if err != nil {
		if s.lim != nil {
			if blocked, _, ferr := s.lim.Failure(ctx, AdminScope, peerHash); ferr == nil && blocked {
				return "", errs.ErrRateLimited
			}
		}
		return "", fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}

	if s.lim != nil {
		_ = s.lim.Success(ctx, AdminScope, peerHash)
	}
	return subject, nil
}

func (s *AuthServiceImpl) verify(token string) (string, error) {
	if token == "" {
		return "", errors.New("no bearer token")
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("bad subject")
	}
	return claims.Subject, nil
}
