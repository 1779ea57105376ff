package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"trading-bot-platform/internal/config"
)

// Factory builds exchange adapters from user credentials. The registry
// calls it lazily, once per bot key.
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates an adapter factory.
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// SupportedExchanges lists the exchange identifiers the factory can build.
func (f *Factory) SupportedExchanges() []string {
	return []string{"binance", "kraken"}
}

// NewAdapter builds an adapter for the given exchange, bound to one pair
// symbol and one user's credentials. Returns ErrUnsupportedExchange for
// unknown identifiers.
func (f *Factory) NewAdapter(exchange, symbol, apiKey, apiSecret string) (Adapter, error) {
	switch exchange {
	case "binance":
		return NewBinanceAdapter(&f.cfg.Binance, symbol, apiKey, apiSecret, f.logger), nil
	case "kraken":
		return NewKrakenAdapter(&f.cfg.Kraken, symbol, apiKey, apiSecret, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, exchange)
	}
}
