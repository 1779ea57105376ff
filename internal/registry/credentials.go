package registry

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"trading-bot-platform/internal/models"
)

// ErrCredentialsMissing is returned when a user has no usable API key and
// secret for the requested exchange.
var ErrCredentialsMissing = errors.New("exchange credentials not configured")

// CredentialSource resolves a user's API credentials for an exchange.
type CredentialSource interface {
	CredentialsFor(userID uint, exchange string) (apiKey, apiSecret string, err error)
}

// ProfileCredentialSource reads credentials from the user_profiles table.
type ProfileCredentialSource struct {
	db *gorm.DB
}

// NewProfileCredentialSource creates a database-backed credential source.
func NewProfileCredentialSource(db *gorm.DB) *ProfileCredentialSource {
	return &ProfileCredentialSource{db: db}
}

// CredentialsFor implements CredentialSource.
func (s *ProfileCredentialSource) CredentialsFor(userID uint, exchange string) (string, string, error) {
	var profile models.UserProfile
	if err := s.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", fmt.Errorf("%w: user %d has no profile", ErrCredentialsMissing, userID)
		}
		return "", "", fmt.Errorf("could not load user profile: %w", err)
	}

	key, secret, ok := profile.CredentialsFor(exchange)
	if !ok {
		return "", "", fmt.Errorf("%w: user %d, exchange %s", ErrCredentialsMissing, userID, exchange)
	}
	return key, secret, nil
}
