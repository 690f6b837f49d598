package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lorekeep/lorekeep/pkg/models"
)

const tokenIssuer = "lorekeep"

// Claims carries the author identity inside a signed token. Worlds, when
// present, limits the token to the named worlds.
type Claims struct {
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Worlds []string `json:"worlds,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies author tokens with a shared HS256 secret.
type JWTService struct {
	secret []byte
	expiry time.Duration
	parser *jwt.Parser
}

// NewJWTService builds a JWT helper with the given secret and expiry.
// A non-positive expiry issues tokens that do not expire.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		),
	}
}

// Generate issues a signed token for the given user, carrying any world
// restriction on the user into the token.
func (s *JWTService) Generate(user *models.User) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Email:  strings.TrimSpace(user.Email),
		Name:   strings.TrimSpace(user.Name),
		Worlds: user.Worlds,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate verifies a token and returns the author it identifies.
func (s *JWTService) Validate(token string) (*models.User, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	parsed, err := s.parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return &models.User{
		ID:     claims.Subject,
		Email:  strings.TrimSpace(claims.Email),
		Name:   strings.TrimSpace(claims.Name),
		Worlds: claims.Worlds,
	}, nil
}
