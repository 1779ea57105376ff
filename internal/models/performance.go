package models

import (
	"time"

	"gorm.io/gorm"
)

// PerformanceRecord tracks realized P&L for one (user, pair). It is
// derived from the executed order history and written only by the
// performance ledger; current balance is always
// initial investment + total profit - total loss.
type PerformanceRecord struct {
	gorm.Model
	UserID       uint `gorm:"uniqueIndex:idx_perf_user_pair"`
	PairConfigID uint `gorm:"uniqueIndex:idx_perf_user_pair"`
	PairConfig   PairConfig

	InitialInvestment float64
	CurrentBalance    float64
	TotalProfit       float64
	TotalLoss         float64
	NetProfit         float64
	ProfitPercentage  float64

	ProfitShareOwed float64
	ProfitSharePaid float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	LastCalculated time.Time
}

// ProfitShareRemaining is the share still owed to the platform.
func (r *PerformanceRecord) ProfitShareRemaining() float64 {
	return r.ProfitShareOwed - r.ProfitSharePaid
}
