package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/loomtale/loomtale/internal/shared"
)

// apiKeyPrefix marks keys issued by this service.
const apiKeyPrefix = "lt_"

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	acc, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.Active() {
		return nil, shared.ErrAccountInactive
	}
	return acc, nil
}

// IssueAPIKey creates a key for the user and returns the raw secret once.
func (s *Service) IssueAPIKey(ctx context.Context, userID, name string) (APIKey, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return APIKey{}, "", err
	}
	raw := apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	key, err := s.repo.CreateAPIKey(ctx, userID, strings.TrimSpace(name), raw[:len(apiKeyPrefix)+6], HashAPIKey(raw))
	if err != nil {
		return APIKey{}, "", err
	}
	return key, raw, nil
}

// HashAPIKey returns the stored form of a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
