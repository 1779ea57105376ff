package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/models"
)

// Result holds the realized P&L derived from one (user, pair) fill history.
type Result struct {
	TotalProfit      float64
	TotalLoss        float64
	NetProfit        float64
	CurrentBalance   float64
	ProfitPercentage float64

	ProfitShareOwed float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
}

// buyLot is one open buy position awaiting FIFO matching.
type buyLot struct {
	price     float64
	remaining float64
	timestamp time.Time
}

// Compute runs the FIFO matcher over executed orders in non-decreasing
// timestamp order and derives the realized totals. It is a pure function
// of its inputs: re-running it over the same history reproduces identical
// totals.
//
// Each sell is matched against the oldest open buy lots first. A sell
// exceeding the open lot quantity leaves the excess unmatched; it
// contributes no further P&L. A trade is counted once per sell-side match
// group, not once per lot.
func Compute(initialInvestment, profitSharePct float64, orders []models.Order) Result {
	var res Result
	var lots []buyLot

	for _, order := range orders {
		if order.Status != models.OrderStatusExecuted {
			continue
		}

		price := order.ExecutedPrice
		if price == 0 {
			price = order.Price
		}
		quantity := order.ExecutedQuantity
		if quantity == 0 {
			quantity = order.Quantity
		}

		switch order.Action {
		case models.ActionBuy:
			lots = append(lots, buyLot{price: price, remaining: quantity, timestamp: order.CreatedAt})

		case models.ActionSell:
			if len(lots) == 0 {
				continue
			}
			remaining := quantity
			var groupPnL float64
			matched := false

			for len(lots) > 0 && remaining > 0 {
				lot := &lots[0]
				m := remaining
				if lot.remaining < m {
					m = lot.remaining
				}

				pnl := (price - lot.price) * m
				if pnl > 0 {
					res.TotalProfit += pnl
				} else {
					res.TotalLoss += -pnl
				}
				groupPnL += pnl
				matched = true

				lot.remaining -= m
				remaining -= m
				if lot.remaining <= 0 {
					lots = lots[1:]
				}
			}

			if matched {
				res.TotalTrades++
				if groupPnL > 0 {
					res.WinningTrades++
				} else {
					res.LosingTrades++
				}
			}
		}
	}

	res.NetProfit = res.TotalProfit - res.TotalLoss
	res.CurrentBalance = initialInvestment + res.NetProfit
	if initialInvestment > 0 {
		res.ProfitPercentage = res.NetProfit / initialInvestment * 100
	}

	// Share is owed on gross realized profit; losses do not reduce it.
	res.ProfitShareOwed = res.TotalProfit * profitSharePct / 100

	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	}
	return res
}

// Ledger recomputes and persists performance records from order history.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger creates a performance ledger.
func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.Named("ledger")}
}

// Recompute rebuilds the PerformanceRecord for (user, pair) from the
// executed order history. Idempotent: the record is fully derived from the
// history plus the stored initial investment and paid share.
func (l *Ledger) Recompute(ctx context.Context, userID, pairConfigID uint) (*models.PerformanceRecord, error) {
	var record models.PerformanceRecord
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND pair_config_id = ?", userID, pairConfigID).
		First(&record).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("could not load performance record: %w", err)
		}
		record = models.PerformanceRecord{UserID: userID, PairConfigID: pairConfigID}
	}

	var pairCfg models.PairConfig
	if err := l.db.WithContext(ctx).First(&pairCfg, pairConfigID).Error; err != nil {
		return nil, fmt.Errorf("could not load pair config: %w", err)
	}

	var orders []models.Order
	err = l.db.WithContext(ctx).
		Where("user_id = ? AND pair_config_id = ? AND status = ?",
			userID, pairConfigID, models.OrderStatusExecuted).
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("could not load executed orders: %w", err)
	}

	res := Compute(record.InitialInvestment, pairCfg.ProfitSharePercentage, orders)

	record.TotalProfit = res.TotalProfit
	record.TotalLoss = res.TotalLoss
	record.NetProfit = res.NetProfit
	record.CurrentBalance = res.CurrentBalance
	record.ProfitPercentage = res.ProfitPercentage
	record.ProfitShareOwed = res.ProfitShareOwed
	record.TotalTrades = res.TotalTrades
	record.WinningTrades = res.WinningTrades
	record.LosingTrades = res.LosingTrades
	record.WinRate = res.WinRate
	record.LastCalculated = time.Now()

	if err := l.db.WithContext(ctx).Save(&record).Error; err != nil {
		return nil, fmt.Errorf("could not save performance record: %w", err)
	}

	l.logger.Debug("Recomputed performance",
		zap.Uint("user_id", userID),
		zap.Uint("pair_config_id", pairConfigID),
		zap.Float64("net_profit", record.NetProfit),
	)
	return &record, nil
}

// Summary aggregates a user's performance records across pairs.
type Summary struct {
	TotalInvested    float64
	CurrentValue     float64
	TotalProfit      float64
	TotalLoss        float64
	NetProfit        float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	Records          []models.PerformanceRecord
}

// Summarize aggregates all of a user's performance records.
func (l *Ledger) Summarize(ctx context.Context, userID uint) (*Summary, error) {
	var records []models.PerformanceRecord
	err := l.db.WithContext(ctx).Preload("PairConfig").
		Where("user_id = ?", userID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("could not load performance records: %w", err)
	}

	summary := &Summary{Records: records}
	for _, r := range records {
		summary.TotalInvested += r.InitialInvestment
		summary.CurrentValue += r.CurrentBalance
		summary.TotalProfit += r.TotalProfit
		summary.TotalLoss += r.TotalLoss
		summary.TotalTrades += r.TotalTrades
		summary.WinningTrades += r.WinningTrades
		summary.LosingTrades += r.LosingTrades
	}
	summary.NetProfit = summary.TotalProfit - summary.TotalLoss
	if summary.TotalInvested > 0 {
		summary.ProfitPercentage = summary.NetProfit / summary.TotalInvested * 100
	}
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100
	}
	return summary, nil
}
