package models

import "gorm.io/gorm"

// Bot types supported for a pair configuration.
const (
	BotTypeCustom  = "custom"
	BotTypeManaged = "managed"
)

// PairConfig holds the trading parameters for one pair on one exchange.
// It doubles as the managed-bot product definition: managed pairs carry
// the profit-share terms applied by the performance ledger.
type PairConfig struct {
	gorm.Model
	Name       string `gorm:"not null"`
	PairSymbol string `gorm:"uniqueIndex:idx_pair_exchange;not null"`
	Exchange   string `gorm:"uniqueIndex:idx_pair_exchange;not null"`
	BotType    string `gorm:"default:custom"`

	MinOrderSize    float64 `gorm:"not null"`
	MaxOrderSize    float64 `gorm:"not null"`
	DefaultQuantity float64

	// Managed bot terms.
	IsManaged             bool
	ProfitSharePercentage float64
	MinInvestment         float64

	IsActive bool `gorm:"default:true"`
	IsPublic bool `gorm:"default:true"`
}
