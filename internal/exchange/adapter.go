package exchange

import (
	"context"
	"errors"
)

// Order sides and kinds as sent to exchanges.
const (
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// ErrUnsupportedExchange is returned by the factory for unknown exchange
// identifiers.
var ErrUnsupportedExchange = errors.New("unsupported exchange")

// Fill is an exchange's report of an order execution.
type Fill struct {
	Price           float64
	Quantity        float64
	ExchangeOrderID string
	RawStatus       string
}

// Balance is one asset's balance on the exchange account.
type Balance struct {
	Free   float64
	Locked float64
	Total  float64
}

// OpenOrder is a resting order on the exchange.
type OpenOrder struct {
	ExchangeOrderID string
	Symbol          string
	Side            string
	Price           float64
	Quantity        float64
}

// Adapter is the per-exchange execution capability. One implementation
// per exchange; the registry holds the interface, never concrete types.
type Adapter interface {
	// Name returns the exchange identifier ("binance", "kraken", ...).
	Name() string

	// ExecuteMarketOrder places a market order and reports the fill.
	ExecuteMarketOrder(ctx context.Context, action string, quantity float64) (*Fill, error)

	// ExecuteLimitOrder places a limit order and reports the fill.
	ExecuteLimitOrder(ctx context.Context, action string, quantity, price float64) (*Fill, error)

	// GetAccountBalance returns per-asset balances with non-zero totals.
	GetAccountBalance(ctx context.Context) (map[string]Balance, error)

	// GetOpenOrders returns the resting orders for the adapter's pair.
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
}

// sideForAction maps a payload action (buy/sell) to the exchange side.
func sideForAction(action string) string {
	if action == "sell" {
		return OrderSideSell
	}
	return OrderSideBuy
}
