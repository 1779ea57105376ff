package models

import "gorm.io/gorm"

// UserProfile stores a user's exchange API credentials. Exchange-specific
// keys win over the generic fallback pair.
type UserProfile struct {
	gorm.Model
	UserID   uint   `gorm:"uniqueIndex"`
	Username string `gorm:"uniqueIndex"`

	APIKey    string
	APISecret string

	BinanceAPIKey    string
	BinanceAPISecret string
	KrakenAPIKey     string
	KrakenAPISecret  string
}

// CredentialsFor returns the API key/secret for the given exchange,
// falling back to the generic pair. ok is false when neither is set.
func (p *UserProfile) CredentialsFor(exchange string) (key, secret string, ok bool) {
	switch exchange {
	case "binance":
		key, secret = p.BinanceAPIKey, p.BinanceAPISecret
	case "kraken":
		key, secret = p.KrakenAPIKey, p.KrakenAPISecret
	}
	if key == "" || secret == "" {
		key, secret = p.APIKey, p.APISecret
	}
	return key, secret, key != "" && secret != ""
}
