package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"trading-bot-platform/internal/models"
)

// ValidationError reports a malformed payload with field-level detail.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Message)
}

// Payload is the parsed body of an inbound trade signal, in the
// TradingView alert format.
type Payload struct {
	Action   string `json:"action"`
	Ticker   string `json:"ticker"`
	Quantity string `json:"quantity"`
	Price    string `json:"price,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// TradeIntent is the validated, numeric form of a payload. HasPrice false
// means a market order.
type TradeIntent struct {
	Action   string
	Ticker   string
	Quantity float64
	Price    float64
	HasPrice bool
}

// ParsePayload decodes and validates a raw webhook body. Validation runs
// before any admission check and fails with field-level detail.
func ParsePayload(body []byte) (*Payload, *TradeIntent, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, &ValidationError{Field: "body", Message: "malformed JSON"}
	}

	intent, err := payload.Validate()
	if err != nil {
		return &payload, nil, err
	}
	return &payload, intent, nil
}

// Validate checks the payload schema and converts it to a TradeIntent.
func (p *Payload) Validate() (*TradeIntent, error) {
	action := strings.ToLower(strings.TrimSpace(p.Action))
	if action != models.ActionBuy && action != models.ActionSell {
		return nil, &ValidationError{Field: "action", Message: "must be 'buy' or 'sell'"}
	}

	ticker := strings.TrimSpace(p.Ticker)
	if ticker == "" {
		return nil, &ValidationError{Field: "ticker", Message: "is required"}
	}

	if strings.TrimSpace(p.Quantity) == "" {
		return nil, &ValidationError{Field: "quantity", Message: "is required"}
	}
	quantity, err := strconv.ParseFloat(p.Quantity, 64)
	if err != nil {
		return nil, &ValidationError{Field: "quantity", Message: "must be a decimal number"}
	}
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be greater than 0"}
	}

	intent := &TradeIntent{Action: action, Ticker: ticker, Quantity: quantity}

	if strings.TrimSpace(p.Price) != "" {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return nil, &ValidationError{Field: "price", Message: "must be a decimal number"}
		}
		if price <= 0 {
			return nil, &ValidationError{Field: "price", Message: "must be greater than 0"}
		}
		intent.Price = price
		intent.HasPrice = true
	}

	return intent, nil
}

// Sanitized returns a copy safe for audit logging: any embedded secret is
// truncated to its first four characters.
func (p *Payload) Sanitized() Payload {
	out := *p
	if len(out.Secret) > 4 {
		out.Secret = out.Secret[:4] + "..."
	}
	return out
}
