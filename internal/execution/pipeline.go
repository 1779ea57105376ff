package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/ledger"
	"trading-bot-platform/internal/models"
	"trading-bot-platform/internal/registry"
)

// ErrOrderNotPending is returned when execution is attempted on an order
// that already reached a terminal status.
var ErrOrderNotPending = errors.New("order is not pending")

// ValidationError reports an intent rejected before an order was created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order field %q: %s", e.Field, e.Message)
}

// Intent is an admitted trade request ready for execution.
type Intent struct {
	UserID     uint
	PairConfig *models.PairConfig
	Action     string
	Quantity   float64
	Price      float64
	HasPrice   bool

	Source        string
	WebhookSecret string
}

// Pipeline converts admitted trade intents into persisted, executed
// orders. Dispatch is serialized per BotKey: at most one order is in
// flight per bot at a time.
type Pipeline struct {
	db       *gorm.DB
	registry *registry.Registry
	ledger   *ledger.Ledger
	logger   *zap.Logger
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline creates an order execution pipeline.
func NewPipeline(db *gorm.DB, reg *registry.Registry, led *ledger.Ledger, cfg config.Bots, logger *zap.Logger) *Pipeline {
	timeout := time.Duration(cfg.AdapterTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Pipeline{
		db:       db,
		registry: reg,
		ledger:   led,
		logger:   logger.Named("execution"),
		timeout:  timeout,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}

// validate fails fast before any order row is created.
func (p *Pipeline) validate(intent *Intent) error {
	if intent.Action != models.ActionBuy && intent.Action != models.ActionSell {
		return &ValidationError{Field: "action", Message: "must be 'buy' or 'sell'"}
	}
	if intent.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be greater than 0"}
	}
	if intent.HasPrice && intent.Price <= 0 {
		return &ValidationError{Field: "price", Message: "must be greater than 0"}
	}

	cfg := intent.PairConfig
	if cfg.MinOrderSize > 0 && intent.Quantity < cfg.MinOrderSize {
		return &ValidationError{
			Field:   "quantity",
			Message: fmt.Sprintf("below minimum order size %g", cfg.MinOrderSize),
		}
	}
	if cfg.MaxOrderSize > 0 && intent.Quantity > cfg.MaxOrderSize {
		return &ValidationError{
			Field:   "quantity",
			Message: fmt.Sprintf("above maximum order size %g", cfg.MaxOrderSize),
		}
	}
	return nil
}

// ExecuteOrder validates the intent, persists a pending order, dispatches
// it through the bot instance for the key and records the outcome. The
// order row is retained on failure for audit; the triggering error is
// surfaced to the caller.
func (p *Pipeline) ExecuteOrder(ctx context.Context, intent *Intent) (*models.Order, error) {
	if err := p.validate(intent); err != nil {
		return nil, err
	}

	key := registry.BotKey{
		UserID:     intent.UserID,
		PairSymbol: intent.PairConfig.PairSymbol,
		Exchange:   intent.PairConfig.Exchange,
	}

	// One in-flight dispatch per bot key.
	lock := p.keyLock(key.String())
	lock.Lock()
	defer lock.Unlock()

	kind := models.OrderKindMarket
	if intent.HasPrice {
		kind = models.OrderKindLimit
	}

	order := models.Order{
		UserID:        intent.UserID,
		PairConfigID:  intent.PairConfig.ID,
		Action:        intent.Action,
		Kind:          kind,
		Quantity:      intent.Quantity,
		Price:         intent.Price,
		Status:        models.OrderStatusPending,
		Source:        intent.Source,
		WebhookSecret: intent.WebhookSecret,
	}
	if order.Source == "" {
		order.Source = models.OrderSourceManual
	}
	if err := p.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("could not create order: %w", err)
	}

	bot, err := p.registry.GetOrCreateBot(intent.UserID, intent.PairConfig, intent.PairConfig.Exchange)
	if err != nil {
		p.failOrder(ctx, &order)
		return &order, err
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	l := p.logger.With(
		zap.String("order_id", order.ID),
		zap.String("bot_key", key.String()),
		zap.String("action", intent.Action),
		zap.Float64("quantity", intent.Quantity),
	)
	l.Info("Dispatching order")

	var fill *fillResult
	if intent.HasPrice {
		fill, err = p.dispatchLimit(execCtx, bot, intent)
	} else {
		fill, err = p.dispatchMarket(execCtx, bot, intent)
	}
	if err != nil {
		l.Error("Order execution failed", zap.Error(err))
		p.failOrder(ctx, &order)
		return &order, fmt.Errorf("order execution failed: %w", err)
	}

	if err := p.markExecuted(ctx, &order, fill); err != nil {
		return &order, err
	}
	l.Info("Order executed",
		zap.Float64("executed_price", fill.price),
		zap.Float64("executed_quantity", fill.quantity),
		zap.String("exchange_order_id", fill.exchangeOrderID),
	)

	p.afterFill(ctx, &order)
	return &order, nil
}

type fillResult struct {
	price           float64
	quantity        float64
	exchangeOrderID string
}

func (p *Pipeline) dispatchMarket(ctx context.Context, bot *registry.BotInstance, intent *Intent) (*fillResult, error) {
	fill, err := bot.Adapter().ExecuteMarketOrder(ctx, intent.Action, intent.Quantity)
	if err != nil {
		return nil, err
	}
	return &fillResult{price: fill.Price, quantity: fill.Quantity, exchangeOrderID: fill.ExchangeOrderID}, nil
}

func (p *Pipeline) dispatchLimit(ctx context.Context, bot *registry.BotInstance, intent *Intent) (*fillResult, error) {
	fill, err := bot.Adapter().ExecuteLimitOrder(ctx, intent.Action, intent.Quantity, intent.Price)
	if err != nil {
		return nil, err
	}
	return &fillResult{price: fill.Price, quantity: fill.Quantity, exchangeOrderID: fill.ExchangeOrderID}, nil
}

// markExecuted moves a pending order to executed exactly once. The status
// guard in the WHERE clause keeps terminal orders immutable.
func (p *Pipeline) markExecuted(ctx context.Context, order *models.Order, fill *fillResult) error {
	now := time.Now()
	result := p.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":            models.OrderStatusExecuted,
			"executed_price":    fill.price,
			"executed_quantity": fill.quantity,
			"exchange_order_id": fill.exchangeOrderID,
			"executed_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("could not mark order executed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotPending, order.ID)
	}
	order.Status = models.OrderStatusExecuted
	order.ExecutedPrice = fill.price
	order.ExecutedQuantity = fill.quantity
	order.ExchangeOrderID = fill.exchangeOrderID
	order.ExecutedAt = &now
	return nil
}

func (p *Pipeline) failOrder(ctx context.Context, order *models.Order) {
	result := p.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Update("status", models.OrderStatusFailed)
	if result.Error != nil {
		p.logger.Error("Failed to mark order failed",
			zap.String("order_id", order.ID), zap.Error(result.Error))
		return
	}
	if result.RowsAffected > 0 {
		order.Status = models.OrderStatusFailed
	}

	err := p.db.WithContext(ctx).Model(&models.BotSession{}).
		Where("user_id = ? AND pair_config_id = ? AND status = ?",
			order.UserID, order.PairConfigID, models.SessionRunning).
		Updates(map[string]interface{}{
			"total_orders":  gorm.Expr("total_orders + 1"),
			"failed_orders": gorm.Expr("failed_orders + 1"),
			"last_activity": time.Now(),
		}).Error
	if err != nil {
		p.logger.Error("Failed to update session counters",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

// afterFill runs the explicit post-fill bookkeeping: session counters and
// the performance ledger recompute.
func (p *Pipeline) afterFill(ctx context.Context, order *models.Order) {
	err := p.db.WithContext(ctx).Model(&models.BotSession{}).
		Where("user_id = ? AND pair_config_id = ? AND status = ?",
			order.UserID, order.PairConfigID, models.SessionRunning).
		Updates(map[string]interface{}{
			"total_orders":      gorm.Expr("total_orders + 1"),
			"successful_orders": gorm.Expr("successful_orders + 1"),
			"last_activity":     time.Now(),
		}).Error
	if err != nil {
		p.logger.Error("Failed to update session counters",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	record, err := p.ledger.Recompute(ctx, order.UserID, order.PairConfigID)
	if err != nil {
		p.logger.Error("Failed to recompute performance",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}

	if order.Action == models.ActionSell {
		err = p.db.WithContext(ctx).Model(&models.BotSession{}).
			Where("user_id = ? AND pair_config_id = ? AND status = ?",
				order.UserID, order.PairConfigID, models.SessionRunning).
			Update("total_profit_loss", record.NetProfit).Error
		if err != nil {
			p.logger.Error("Failed to update session profit",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}
}
