package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription statuses.
const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
	SubscriptionSuspended = "suspended"
)

// SubscriptionPlan is a purchasable plan. Managed-bot plans carry the
// profit-share terms; all plans carry the webhook rate limit.
type SubscriptionPlan struct {
	gorm.Model
	PlanType     string `gorm:"not null"`
	Name         string `gorm:"not null"`
	MonthlyPrice float64

	WebhookRequestsPerHour int `gorm:"default:100"`

	ProfitSharePercentage float64
	MinInvestment         float64

	IsActive bool `gorm:"default:true"`
}

// UserSubscription is a user's subscription to a plan. Entitlement checks
// in the webhook gateway go through IsCurrentlyActive.
type UserSubscription struct {
	gorm.Model
	UserID uint `gorm:"index:idx_sub_user_status"`
	PlanID uint
	Plan   SubscriptionPlan

	Status    string `gorm:"index:idx_sub_user_status;default:trial"`
	StartDate time.Time
	EndDate   time.Time
}

// IsCurrentlyActive reports whether the subscription entitles the user to
// trigger trades right now.
func (s *UserSubscription) IsCurrentlyActive() bool {
	return s.Status == SubscriptionActive && !time.Now().After(s.EndDate)
}
