package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Config configures authentication helpers.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
}

// APIKeyConfig declares a static API key and the author identity it acts
// as. Worlds, when set, restricts the key to the named worlds.
type APIKeyConfig struct {
	Key    string
	UserID string
	Email  string
	Name   string
	Worlds []string
}

// Service validates JWTs and API keys. Both credential kinds resolve to a
// models.User, which downstream handlers use for ownership and world
// scoping.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]*models.User
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{apiKeys: map[string]*models.User{}}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	for _, entry := range cfg.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		service.apiKeys[key] = apiKeyUser(key, entry)
	}
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// GenerateJWT issues a signed token for the given user.
func (s *Service) GenerateJWT(user *models.User) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// ValidateJWT validates a JWT and returns the associated user.
func (s *Service) ValidateJWT(token string) (*models.User, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey validates an API key and returns the associated user.
// Every configured key is compared in constant time so response timing
// reveals nothing about which keys exist.
func (s *Service) ValidateAPIKey(key string) (*models.User, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matched *models.User
	for storedKey, user := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matched = user
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}
	return matched, nil
}

// apiKeyUser builds the identity an API key acts as. Keys without a
// configured user id get a stable derived one so conversations created
// through them stay attributable.
func apiKeyUser(key string, entry APIKeyConfig) *models.User {
	userID := strings.TrimSpace(entry.UserID)
	if userID == "" {
		sum := sha256.Sum256([]byte(key))
		userID = "api_" + hex.EncodeToString(sum[:8])
	}
	return &models.User{
		ID:     userID,
		Email:  strings.TrimSpace(entry.Email),
		Name:   strings.TrimSpace(entry.Name),
		Worlds: entry.Worlds,
	}
}

type userContextKey struct{}

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the authenticated user from the context.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok
}
