package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Order kinds.
const (
	OrderKindMarket = "market"
	OrderKindLimit  = "limit"
)

// Order statuses. An order leaves pending exactly once and is immutable
// after reaching a terminal status.
const (
	OrderStatusPending   = "pending"
	OrderStatusExecuted  = "executed"
	OrderStatusCancelled = "cancelled"
	OrderStatusFailed    = "failed"
)

// Order sources.
const (
	OrderSourceManual  = "manual"
	OrderSourceWebhook = "webhook"
	OrderSourceBot     = "bot"
)

// Order is one trading order, persisted before dispatch so failed
// executions leave an audit trail.
type Order struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       uint   `gorm:"index:idx_order_user_status"`
	PairConfigID uint   `gorm:"index:idx_order_pair_status"`
	PairConfig   PairConfig

	Action   string  `gorm:"not null"`
	Kind     string  `gorm:"default:market"`
	Quantity float64 `gorm:"not null"`
	Price    float64

	ExecutedPrice    float64
	ExecutedQuantity float64
	ExchangeOrderID  string

	Status        string `gorm:"index:idx_order_user_status;index:idx_order_pair_status;default:pending"`
	Source        string `gorm:"default:manual"`
	WebhookSecret string `gorm:"index"`

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExecutedAt *time.Time
}

// BeforeCreate assigns a UUID primary key when none is set.
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal reports whether the order has reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusExecuted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}
