package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-bot-platform/internal/exchange"
	"trading-bot-platform/internal/models"
)

// Signal is an advisory trade recommendation from a SignalProvider.
type Signal struct {
	Action   string
	Quantity float64
}

// SignalProvider is the pluggable strategy boundary. Evaluate returns nil
// when no trade is advised. Signal generation itself is external to this
// system.
type SignalProvider interface {
	Evaluate(ctx context.Context, pairSymbol string, balances map[string]exchange.Balance) (*Signal, error)
}

// TradeFunc submits a bot-sourced trade intent for execution. Wired to the
// order execution pipeline at startup; nil means the loop only monitors.
type TradeFunc func(ctx context.Context, key BotKey, pairConfigID uint, action string, quantity float64) error

// BotInstance is the in-memory execution capability for one BotKey. It is
// owned exclusively by the registry and reused across sessions.
type BotInstance struct {
	Key     BotKey
	adapter exchange.Adapter
	pairCfg models.PairConfig
	logger  *zap.Logger

	tick    time.Duration
	signals SignalProvider
	trade   TradeFunc
}

// Adapter exposes the underlying exchange adapter for order dispatch.
func (b *BotInstance) Adapter() exchange.Adapter {
	return b.adapter
}

// PairConfig returns the pair configuration the instance trades.
func (b *BotInstance) PairConfig() models.PairConfig {
	return b.pairCfg
}

// run is the bot's trading loop. It polls the account on every tick and
// consults the signal provider; advisory signals are handed to the trade
// function. Errors are logged and the loop continues; only context
// cancellation ends it.
func (b *BotInstance) run(ctx context.Context) {
	b.logger.Info("Starting bot loop",
		zap.String("bot_key", b.Key.String()),
		zap.Duration("interval", b.tick),
	)

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bot loop stopped", zap.String("bot_key", b.Key.String()))
			return
		case <-ticker.C:
			if err := b.scout(ctx); err != nil {
				b.logger.Error("Bot tick failed",
					zap.String("bot_key", b.Key.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// scout performs one tick: refresh balances, evaluate the signal provider,
// submit any advised trade.
func (b *BotInstance) scout(ctx context.Context) error {
	balances, err := b.adapter.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("could not get account balance: %w", err)
	}

	if b.signals == nil {
		return nil
	}

	signal, err := b.signals.Evaluate(ctx, b.Key.PairSymbol, balances)
	if err != nil {
		return fmt.Errorf("signal evaluation failed: %w", err)
	}
	if signal == nil {
		return nil
	}

	b.logger.Info("Signal received",
		zap.String("bot_key", b.Key.String()),
		zap.String("action", signal.Action),
		zap.Float64("quantity", signal.Quantity),
	)

	if b.trade == nil {
		return nil
	}
	if err := b.trade(ctx, b.Key, b.pairCfg.ID, signal.Action, signal.Quantity); err != nil {
		return fmt.Errorf("trade submission failed: %w", err)
	}
	return nil
}
