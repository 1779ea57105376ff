package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWebhookSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		secret, err := GenerateWebhookSecret(32)
		require.NoError(t, err)
		require.Len(t, secret, 32)

		for _, r := range secret {
			assert.Contains(t, secretAlphabet, string(r))
		}
		assert.False(t, seen[secret], "secrets must not repeat")
		seen[secret] = true
	}
}

func TestWebhookRegistration_RecordTrigger(t *testing.T) {
	var w WebhookRegistration

	w.RecordTrigger(true, "1.2.3.4")
	w.RecordTrigger(false, "5.6.7.8")
	w.RecordTrigger(false, "")

	assert.Equal(t, 3, w.TotalTriggers)
	assert.Equal(t, 1, w.SuccessfulTriggers)
	assert.Equal(t, "5.6.7.8", w.LastIPAddress)
	assert.NotNil(t, w.LastTriggeredAt)
}

func TestUserSubscription_IsCurrentlyActive(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	assert.True(t, (&UserSubscription{Status: SubscriptionActive, EndDate: future}).IsCurrentlyActive())
	assert.False(t, (&UserSubscription{Status: SubscriptionActive, EndDate: past}).IsCurrentlyActive())
	assert.False(t, (&UserSubscription{Status: SubscriptionTrial, EndDate: future}).IsCurrentlyActive())
	assert.False(t, (&UserSubscription{Status: SubscriptionCancelled, EndDate: future}).IsCurrentlyActive())
}

func TestUserProfile_CredentialsFor(t *testing.T) {
	profile := UserProfile{
		APIKey: "generic-key", APISecret: "generic-secret",
		BinanceAPIKey: "b-key", BinanceAPISecret: "b-secret",
	}

	key, secret, ok := profile.CredentialsFor("binance")
	require.True(t, ok)
	assert.Equal(t, "b-key", key)
	assert.Equal(t, "b-secret", secret)

	// Kraken keys are unset; the generic pair is the fallback.
	key, secret, ok = profile.CredentialsFor("kraken")
	require.True(t, ok)
	assert.Equal(t, "generic-key", key)
	assert.Equal(t, "generic-secret", secret)

	empty := UserProfile{}
	_, _, ok = empty.CredentialsFor("binance")
	assert.False(t, ok)
}

func TestOrder_IsTerminal(t *testing.T) {
	assert.False(t, (&Order{Status: OrderStatusPending}).IsTerminal())
	assert.True(t, (&Order{Status: OrderStatusExecuted}).IsTerminal())
	assert.True(t, (&Order{Status: OrderStatusCancelled}).IsTerminal())
	assert.True(t, (&Order{Status: OrderStatusFailed}).IsTerminal())
}

func TestBotSession_IsTerminal(t *testing.T) {
	assert.False(t, (&BotSession{Status: SessionRunning}).IsTerminal())
	assert.False(t, (&BotSession{Status: SessionPaused}).IsTerminal())
	assert.True(t, (&BotSession{Status: SessionStopped}).IsTerminal())
	assert.True(t, (&BotSession{Status: SessionError}).IsTerminal())
}

func TestStringList_Roundtrip(t *testing.T) {
	list := StringList{"1.2.3.4", "5.6.7.8"}

	value, err := list.Value()
	require.NoError(t, err)

	var out StringList
	require.NoError(t, out.Scan(value))
	assert.Equal(t, list, out)
	assert.True(t, out.Contains("1.2.3.4"))
	assert.False(t, out.Contains("9.9.9.9"))
}

func TestTradingViewTemplate(t *testing.T) {
	w := WebhookRegistration{Secret: "abc123"}

	template := w.TradingViewTemplate()

	assert.Equal(t, "{{strategy.order.action}}", template.Action)
	assert.Equal(t, "{{ticker}}", template.Ticker)
	assert.Equal(t, "abc123", template.Secret)
}
