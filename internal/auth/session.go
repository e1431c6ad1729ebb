package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// SessionClaims are carried by a signed session token
type SessionClaims struct {
	Role        domain.UserRole `json:"role"`
	DisplayName string          `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokens issues and validates HS256 session tokens
type SessionTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens creates a token service from auth configuration
func NewSessionTokens(cfg *config.AuthConfig) *SessionTokens {
	return &SessionTokens{
		secret: []byte(cfg.SessionSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.SessionTTLDuration(),
		now:    time.Now,
	}
}

// Issue signs a token for user
func (s *SessionTokens) Issue(user *UserContext) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("session secret not configured")
	}
	now := s.now()
	claims := &SessionClaims{
		Role:        user.Role,
		DisplayName: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(user.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate checks signature, issuer and expiry and returns the user
func (s *SessionTokens) Validate(tokenString string) (*UserContext, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: session secret not configured", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &SessionClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return &UserContext{
		UserID:      userID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}
