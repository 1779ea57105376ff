package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_MarketOrder(t *testing.T) {
	body := []byte(`{"action": "buy", "ticker": "BTCUSDT", "quantity": "0.5"}`)

	payload, intent, err := ParsePayload(body)

	require.NoError(t, err)
	assert.Equal(t, "buy", payload.Action)
	assert.Equal(t, "buy", intent.Action)
	assert.Equal(t, 0.5, intent.Quantity)
	assert.False(t, intent.HasPrice)
}

func TestParsePayload_LimitOrder(t *testing.T) {
	body := []byte(`{"action": "sell", "ticker": "BTCUSDT", "quantity": "1.5", "price": "67500.50"}`)

	_, intent, err := ParsePayload(body)

	require.NoError(t, err)
	assert.Equal(t, "sell", intent.Action)
	assert.Equal(t, 1.5, intent.Quantity)
	assert.Equal(t, 67500.50, intent.Price)
	assert.True(t, intent.HasPrice)
}

func TestParsePayload_MalformedJSON(t *testing.T) {
	_, _, err := ParsePayload([]byte(`{not json`))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "body", vErr.Field)
}

func TestPayloadValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		field   string
	}{
		{"unknown action", Payload{Action: "hold", Ticker: "BTCUSDT", Quantity: "1"}, "action"},
		{"missing action", Payload{Ticker: "BTCUSDT", Quantity: "1"}, "action"},
		{"missing ticker", Payload{Action: "buy", Quantity: "1"}, "ticker"},
		{"missing quantity", Payload{Action: "buy", Ticker: "BTCUSDT"}, "quantity"},
		{"non-numeric quantity", Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "lots"}, "quantity"},
		{"zero quantity", Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "0"}, "quantity"},
		{"negative quantity", Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "-1"}, "quantity"},
		{"non-numeric price", Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "1", Price: "dear"}, "price"},
		{"negative price", Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "1", Price: "-5"}, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.payload.Validate()

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestPayloadValidate_NormalizesAction(t *testing.T) {
	payload := Payload{Action: "  BUY ", Ticker: "BTCUSDT", Quantity: "1"}

	intent, err := payload.Validate()

	require.NoError(t, err)
	assert.Equal(t, "buy", intent.Action)
}

func TestPayloadSanitized_TruncatesSecret(t *testing.T) {
	payload := Payload{Action: "buy", Secret: "super-secret-value"}

	out := payload.Sanitized()

	assert.Equal(t, "supe...", out.Secret)
	assert.Equal(t, "super-secret-value", payload.Secret)
}
