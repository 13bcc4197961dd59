package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/limiter"
)

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	lastScope string

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, scope string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastScope = scope
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func TestAuth_IssueAndAuthenticate(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService([]byte("secret"), 2*time.Minute, lim)

	if _, _, err := s.Issue(""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want validation error on empty subject, got %v", err)
	}

	tok, exp, err := s.Issue("editor")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok == "" || time.Until(exp) <= 0 {
		t.Fatalf("bad token: %q exp=%v", tok, exp)
	}

	sub, err := s.Authenticate(context.Background(), tok, "127.0.0.1:123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sub != "editor" {
		t.Fatalf("subject want editor, got %q", sub)
	}
	if lim.successCalls != 1 || lim.lastScope != AdminScope {
		t.Fatalf("expected Success() in admin scope, calls=%d scope=%q", lim.successCalls, lim.lastScope)
	}
}

func TestAuth_Authenticate_RejectsAndThrottles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService([]byte("secret"), time.Minute, lim)

	other := NewAuthService([]byte("other-key"), time.Minute, nil)
	foreign, _, err := other.Issue("editor")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, tok := range []string{"", "garbage", foreign} {
		if _, err := s.Authenticate(ctx, tok, "p"); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("token %q: want ErrUnauthorized, got %v", tok, err)
		}
	}
	if lim.failureCalls != 3 {
		t.Fatalf("failures not recorded: %d", lim.failureCalls)
	}

	lim.failBlocked = true
	if _, err := s.Authenticate(ctx, "garbage", "p"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}
	lim.failBlocked = false

	good, _, _ := s.Issue("editor")
	lim.allowOK = false
	if _, err := s.Authenticate(ctx, good, "p"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited while blocked, got %v", err)
	}

	lim.allowErr = errors.New("db down")
	if _, err := s.Authenticate(ctx, good, "p"); err != nil {
		t.Fatalf("limiter errors must not lock admins out: %v", err)
	}
}

func TestAuth_Authenticate_ExpiredAndNoSubject(t *testing.T) {
	t.Parallel()
	key := []byte("secret")
	s := NewAuthService(key, time.Minute, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "editor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	tok, _ := expired.SignedString(key)
	if _, err := s.Authenticate(context.Background(), tok, "p"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on expired token, got %v", err)
	}

	anon := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tok, _ = anon.SignedString(key)
	if _, err := s.Authenticate(context.Background(), tok, "p"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized without subject, got %v", err)
	}
}
