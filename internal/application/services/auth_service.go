package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("admin authentication is not configured")
	ErrInvalidToken       = errors.New("invalid token")
)

// ScopeTrigger allows calling the scan and task inspection API
const ScopeTrigger = "trigger"

// Claims represents the JWT claims
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// AuthService issues and validates the tokens that protect the trigger API
type AuthService struct {
	jwtConfig config.JWTConfig
	adminHash string
	logger    *logger.Logger
	now       func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(jwtConfig config.JWTConfig, authConfig config.AuthConfig, logger *logger.Logger) *AuthService {
	return &AuthService{
		jwtConfig: jwtConfig,
		adminHash: authConfig.AdminPasswordHash,
		logger:    logger.WithComponent("auth"),
		now:       time.Now,
	}
}

// Login checks the admin password and returns an access token
func (s *AuthService) Login(ctx context.Context, req ports.TokenRequest) (*ports.TokenResponse, error) {
	if s.adminHash == "" {
		return nil, ErrAuthDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.adminHash), []byte(req.Password)); err != nil {
		s.logger.Warnw("Token request with invalid password")
		return nil, ErrInvalidCredentials
	}

	return s.IssueToken("admin")
}

// IssueToken signs a trigger-scoped token for subject
func (s *AuthService) IssueToken(subject string) (*ports.TokenResponse, error) {
	if s.jwtConfig.Secret == "" {
		return nil, ErrAuthDisabled
	}

	now := s.now()
	claims := &Claims{
		Scope: ScopeTrigger,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtConfig.ExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.jwtConfig.Issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Infow("Token issued", "subject", subject)
	return &ports.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtConfig.ExpiresIn.Seconds()),
	}, nil
}

// ValidateToken validates a JWT token and returns claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtConfig.Secret), nil
	}, jwt.WithIssuer(s.jwtConfig.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != ScopeTrigger {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces the bcrypt hash stored in auth.admin_password_hash
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
