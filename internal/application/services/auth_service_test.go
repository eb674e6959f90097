package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	return NewAuthService(
		config.JWTConfig{Secret: "test-secret", ExpiresIn: time.Hour, Issuer: "telemind"},
		config.AuthConfig{AdminPasswordHash: hash},
		logger.NewNop(),
	)
}

func TestAuth_LoginAndValidate(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(context.Background(), ports.TokenRequest{Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected token response: %+v", resp)
	}

	claims, err := auth.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "admin" || claims.Scope != ScopeTrigger {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestAuth_RejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t)
	if _, err := auth.Login(context.Background(), ports.TokenRequest{Password: "battery staple"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuth_DisabledWithoutHash(t *testing.T) {
	auth := NewAuthService(config.JWTConfig{Secret: "s", ExpiresIn: time.Hour}, config.AuthConfig{}, logger.NewNop())
	if _, err := auth.Login(context.Background(), ports.TokenRequest{Password: "whatever1"}); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}

func TestAuth_RejectsExpiredAndForeignTokens(t *testing.T) {
	auth := newTestAuth(t)
	resp, err := auth.IssueToken("cron")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := auth.ValidateToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}

	other := NewAuthService(config.JWTConfig{Secret: "other-secret", ExpiresIn: time.Hour, Issuer: "telemind"}, config.AuthConfig{}, logger.NewNop())
	foreign, err := other.IssueToken("cron")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := newTestAuth(t).ValidateToken(foreign.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected token signed with another secret to be rejected, got %v", err)
	}
}
