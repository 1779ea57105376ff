package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trading-bot-platform/internal/config"
)

const (
	binanceBaseURL        = "https://api.binance.com/api/v3"
	binanceTestnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow            = "5000" // How long a request is valid in milliseconds
)

// BinanceAdapter executes orders on Binance spot for one trading pair.
// It implements the Adapter interface.
type BinanceAdapter struct {
	client    *resty.Client
	symbol    string
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure BinanceAdapter implements the interface
var _ Adapter = (*BinanceAdapter)(nil)

// NewBinanceAdapter creates a Binance adapter bound to one pair symbol
// with the given user credentials.
func NewBinanceAdapter(cfg *config.Exchange, symbol, apiKey, secretKey string, logger *zap.Logger) *BinanceAdapter {
	var baseURL string
	if cfg.Testnet {
		baseURL = binanceTestnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		baseURL = binanceBaseURL
	}

	client := resty.New().SetBaseURL(baseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &BinanceAdapter{
		client:    client,
		symbol:    symbol,
		apiKey:    apiKey,
		secretKey: secretKey,
		logger:    logger.Named("binance"),
		limiter:   limiter,
	}
}

// Name returns the exchange identifier.
func (a *BinanceAdapter) Name() string { return "binance" }

// sign creates a HMAC-SHA256 signature for the request.
func (a *BinanceAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(a.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (a *BinanceAdapter) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		a.logger.Debug("Executing request", zap.String("method", method), zap.String("url", a.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		a.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// binanceFill is one partial fill in an order response.
type binanceFill struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// binanceOrderResponse represents the response from creating a new order.
type binanceOrderResponse struct {
	Symbol              string        `json:"symbol"`
	OrderID             int64         `json:"orderId"`
	ClientOrderID       string        `json:"clientOrderId"`
	TransactTime        int64         `json:"transactTime"`
	Price               string        `json:"price"`
	OrigQuantity        string        `json:"origQty"`
	ExecutedQuantity    string        `json:"executedQty"`
	CummulativeQuoteQty string        `json:"cummulativeQuoteQty"`
	Status              string        `json:"status"`
	Side                string        `json:"side"`
	Fills               []binanceFill `json:"fills"`
}

// toFill converts an order response into a Fill. Market orders report a
// weighted average price across partial fills.
func (r *binanceOrderResponse) toFill() *Fill {
	executedQty, _ := strconv.ParseFloat(r.ExecutedQuantity, 64)

	var price float64
	if len(r.Fills) > 0 {
		var totalValue, totalQty float64
		for _, f := range r.Fills {
			p, _ := strconv.ParseFloat(f.Price, 64)
			q, _ := strconv.ParseFloat(f.Qty, 64)
			totalValue += p * q
			totalQty += q
		}
		if totalQty > 0 {
			price = totalValue / totalQty
		}
		if executedQty == 0 {
			executedQty = totalQty
		}
	} else {
		price, _ = strconv.ParseFloat(r.Price, 64)
		if price == 0 && executedQty > 0 {
			quoteQty, _ := strconv.ParseFloat(r.CummulativeQuoteQty, 64)
			price = quoteQty / executedQty
		}
	}

	return &Fill{
		Price:           price,
		Quantity:        executedQty,
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		RawStatus:       r.Status,
	}
}

func (a *BinanceAdapter) placeOrder(ctx context.Context, params url.Values) (*Fill, error) {
	params.Set("symbol", a.symbol)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("newOrderRespType", "FULL")

	queryString := params.Encode()
	signature := a.sign(queryString)
	params.Set("signature", signature)

	req := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&binanceOrderResponse{})

	resp, err := a.doRequest(ctx, "POST", "/order", req)
	if err != nil {
		a.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", a.symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*binanceOrderResponse)
	a.logger.Info("Order created",
		zap.String("symbol", a.symbol),
		zap.Int64("exchange_order_id", result.OrderID),
		zap.String("status", result.Status),
	)
	return result.toFill(), nil
}

// ExecuteMarketOrder places a market order and reports the fill.
func (a *BinanceAdapter) ExecuteMarketOrder(ctx context.Context, action string, quantity float64) (*Fill, error) {
	params := url.Values{}
	params.Set("side", sideForAction(action))
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	return a.placeOrder(ctx, params)
}

// ExecuteLimitOrder places a GTC limit order and reports the fill.
func (a *BinanceAdapter) ExecuteLimitOrder(ctx context.Context, action string, quantity, price float64) (*Fill, error) {
	params := url.Values{}
	params.Set("side", sideForAction(action))
	params.Set("type", OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	return a.placeOrder(ctx, params)
}

// binanceAccountResponse represents the /account endpoint response.
type binanceAccountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetAccountBalance returns per-asset balances with non-zero totals.
func (a *BinanceAdapter) GetAccountBalance(ctx context.Context) (map[string]Balance, error) {
	params := url.Values{}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", a.sign(params.Encode()))

	req := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&binanceAccountResponse{})

	resp, err := a.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	result := resp.Result().(*binanceAccountResponse)
	balances := make(map[string]Balance, len(result.Balances))
	for _, b := range result.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		total := free + locked
		if total > 0 {
			balances[b.Asset] = Balance{Free: free, Locked: locked, Total: total}
		}
	}
	return balances, nil
}

// binanceOpenOrder represents one entry of the /openOrders response.
type binanceOpenOrder struct {
	OrderID  int64  `json:"orderId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	OrigQty  string `json:"origQty"`
}

// GetOpenOrders returns the resting orders for the adapter's pair.
func (a *BinanceAdapter) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", a.symbol)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", a.sign(params.Encode()))

	var raw []binanceOpenOrder
	req := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&raw)

	resp, err := a.doRequest(ctx, "GET", "/openOrders", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}

	result := resp.Result().(*[]binanceOpenOrder)
	orders := make([]OpenOrder, 0, len(*result))
	for _, o := range *result {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)
		orders = append(orders, OpenOrder{
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:          o.Symbol,
			Side:            o.Side,
			Price:           price,
			Quantity:        qty,
		})
	}
	return orders, nil
}
