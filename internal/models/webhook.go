package models

import (
	"crypto/rand"
	"math/big"
	"time"

	"gorm.io/gorm"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateWebhookSecret returns a random alphanumeric secret of the given
// length. The secret is the sole authentication factor for inbound signals.
func GenerateWebhookSecret(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// WebhookRegistration binds an inbound signal secret to a user and pair.
type WebhookRegistration struct {
	gorm.Model
	UserID         uint `gorm:"index:idx_webhook_user_active"`
	SubscriptionID uint
	Subscription   UserSubscription
	PairConfigID   uint
	PairConfig     PairConfig

	Name   string
	Secret string `gorm:"uniqueIndex;size:100;not null"`

	IsActive bool `gorm:"index:idx_webhook_user_active;default:true"`

	// IP policy. AllowedIPs is only consulted when EnableIPAllowList is set.
	EnableIPAllowList bool
	AllowedIPs        StringList `gorm:"type:text"`

	// Trigger statistics.
	TotalTriggers      int
	SuccessfulTriggers int
	LastTriggeredAt    *time.Time
	LastIPAddress      string
}

// RecordTrigger updates the trigger counters after an execution attempt.
// It is called for both successful and failed webhook orders.
func (w *WebhookRegistration) RecordTrigger(success bool, ip string) {
	now := time.Now()
	w.LastTriggeredAt = &now
	w.TotalTriggers++
	if success {
		w.SuccessfulTriggers++
	}
	if ip != "" {
		w.LastIPAddress = ip
	}
}

// TradingViewConfig is the alert template users paste into TradingView.
type TradingViewConfig struct {
	Action   string `json:"action"`
	Ticker   string `json:"ticker"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Secret   string `json:"secret"`
}

// TradingViewTemplate returns the alert payload template for this webhook.
func (w *WebhookRegistration) TradingViewTemplate() TradingViewConfig {
	return TradingViewConfig{
		Action:   "{{strategy.order.action}}",
		Ticker:   "{{ticker}}",
		Price:    "{{close}}",
		Quantity: "{{strategy.order.contracts}}",
		Secret:   w.Secret,
	}
}
