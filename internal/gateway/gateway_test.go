package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/models"
	"trading-bot-platform/internal/ratelimit"
)

// countingStore wraps the in-memory window store and counts accesses, so
// tests can prove that rejected requests never touch rate-limit state.
type countingStore struct {
	inner ratelimit.WindowStore

	mu   sync.Mutex
	gets int
	sets int
}

func (s *countingStore) Get(ctx context.Context, key string) ([]time.Time, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.inner.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, stamps []time.Time, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.inner.Set(ctx, key, stamps, ttl)
}

// recordingAudit collects audit entries for assertions.
type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAudit) Record(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) last(t *testing.T) AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.entries)
	return a.entries[len(a.entries)-1]
}

type gatewayFixture struct {
	db           *gorm.DB
	gateway      *Gateway
	store        *countingStore
	audit        *recordingAudit
	plan         models.SubscriptionPlan
	registration models.WebhookRegistration
}

func setupGatewayTest(t *testing.T) *gatewayFixture {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.PairConfig{},
		&models.SubscriptionPlan{},
		&models.UserSubscription{},
		&models.WebhookRegistration{},
	)
	require.NoError(t, err)

	pairCfg := models.PairConfig{
		Name: "BTC/USDT", PairSymbol: "BTCUSDT", Exchange: "binance",
		MinOrderSize: 0.001, MaxOrderSize: 10,
	}
	require.NoError(t, db.Create(&pairCfg).Error)

	plan := models.SubscriptionPlan{PlanType: "custom", Name: "Starter"}
	require.NoError(t, db.Create(&plan).Error)
	// Zero the hourly quota so the configured default window applies; the
	// column default would otherwise kick in on insert.
	require.NoError(t, db.Model(&plan).Update("webhook_requests_per_hour", 0).Error)

	subscription := models.UserSubscription{
		UserID: 1, PlanID: plan.ID,
		Status:    models.SubscriptionActive,
		StartDate: time.Now().Add(-24 * time.Hour),
		EndDate:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&subscription).Error)

	registration := models.WebhookRegistration{
		UserID:         1,
		SubscriptionID: subscription.ID,
		PairConfigID:   pairCfg.ID,
		Name:           "tv-alerts",
		Secret:         "valid-secret-0001",
		IsActive:       true,
	}
	require.NoError(t, db.Create(&registration).Error)

	store := &countingStore{inner: ratelimit.NewMemoryStore()}
	audit := &recordingAudit{}
	cfg := config.Webhook{RateLimit: 10, WindowSeconds: 60}
	gw := NewGateway(db, ratelimit.NewLimiter(store, zap.NewNop()), audit, cfg, zap.NewNop())

	return &gatewayFixture{db: db, gateway: gw, store: store, audit: audit, plan: plan, registration: registration}
}

func validPayload() Payload {
	return Payload{Action: "buy", Ticker: "BTCUSDT", Quantity: "0.5"}
}

func TestGateway_AdmitsValidRequest(t *testing.T) {
	f := setupGatewayTest(t)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Equal(t, OutcomeAdmitted, decision.Outcome)
	require.NotNil(t, decision.Registration)
	assert.Equal(t, uint(1), decision.Registration.UserID)
	assert.Equal(t, "BTCUSDT", decision.Registration.PairConfig.PairSymbol)

	entry := f.audit.last(t)
	assert.Equal(t, OutcomeAdmitted, entry.Outcome)
	assert.Equal(t, "1.2.3.4", entry.ClientIP)
}

func TestGateway_RejectsUnknownSecret(t *testing.T) {
	f := setupGatewayTest(t)

	decision, err := f.gateway.Admit(context.Background(), "no-such-secret", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeUnauthorized, decision.Outcome)
	assert.Nil(t, decision.Registration)

	// The lookup failed before any rate-limit state was touched.
	assert.Equal(t, 0, f.store.gets)
	assert.Equal(t, 0, f.store.sets)
}

func TestGateway_InactiveWebhookRejectedBeforeRateLimit(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.WebhookRegistration{}).
		Where("id = ?", f.registration.ID).
		Update("is_active", false).Error)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeUnauthorized, decision.Outcome)

	// Inactive registrations must not consume or even read quota.
	assert.Equal(t, 0, f.store.gets)
	assert.Equal(t, 0, f.store.sets)
}

func TestGateway_RateLimitRejection(t *testing.T) {
	f := setupGatewayTest(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := f.gateway.Admit(ctx, "valid-secret-0001", "1.2.3.4", "tv", validPayload())
		require.NoError(t, err)
		require.True(t, decision.Admitted, "request %d should be admitted", i+1)
	}

	decision, err := f.gateway.Admit(ctx, "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeRateLimited, decision.Outcome)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.Equal(t, 10, decision.RateLimit)

	entry := f.audit.last(t)
	assert.Equal(t, OutcomeRateLimited, entry.Outcome)
}

func TestGateway_PlanQuotaOverridesDefault(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.SubscriptionPlan{}).
		Where("id = ?", f.plan.ID).
		Update("webhook_requests_per_hour", 2).Error)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		decision, err := f.gateway.Admit(ctx, "valid-secret-0001", "1.2.3.4", "tv", validPayload())
		require.NoError(t, err)
		require.True(t, decision.Admitted)
	}

	decision, err := f.gateway.Admit(ctx, "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeRateLimited, decision.Outcome)
	assert.Equal(t, 2, decision.RateLimit)
}

func TestGateway_IPAllowList(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.WebhookRegistration{}).
		Where("id = ?", f.registration.ID).
		Updates(map[string]interface{}{
			"enable_ip_allow_list": true,
			"allowed_ips":          models.StringList{"52.89.214.238"},
		}).Error)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeForbidden, decision.Outcome)

	decision, err = f.gateway.Admit(context.Background(), "valid-secret-0001", "52.89.214.238", "tv", validPayload())
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestGateway_AllowListIgnoredWhenDisabled(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.WebhookRegistration{}).
		Where("id = ?", f.registration.ID).
		Update("allowed_ips", models.StringList{"52.89.214.238"}).Error)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestGateway_ExpiredSubscriptionRejected(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.UserSubscription{}).
		Where("id = ?", f.registration.SubscriptionID).
		Update("end_date", time.Now().Add(-time.Hour)).Error)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeSubscriptionRequired, decision.Outcome)
}

func TestGateway_CancelledSubscriptionRejected(t *testing.T) {
	f := setupGatewayTest(t)
	require.NoError(t, f.db.Model(&models.UserSubscription{}).
		Where("id = ?", f.registration.SubscriptionID).
		Update("status", models.SubscriptionCancelled).Error)

	decision, err := f.gateway.Admit(context.Background(), "valid-secret-0001", "1.2.3.4", "tv", validPayload())

	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, OutcomeSubscriptionRequired, decision.Outcome)
}

func TestGateway_EveryDecisionIsAudited(t *testing.T) {
	f := setupGatewayTest(t)
	ctx := context.Background()

	_, err := f.gateway.Admit(ctx, "valid-secret-0001", "1.2.3.4", "tv", validPayload())
	require.NoError(t, err)
	_, err = f.gateway.Admit(ctx, "no-such-secret", "1.2.3.4", "tv", validPayload())
	require.NoError(t, err)

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	assert.Len(t, f.audit.entries, 2)
}

func TestGateway_RecordTriggerPersistsStats(t *testing.T) {
	f := setupGatewayTest(t)
	registration := f.registration

	err := f.gateway.RecordTrigger(context.Background(), &registration, true, "1.2.3.4")
	require.NoError(t, err)
	err = f.gateway.RecordTrigger(context.Background(), &registration, false, "5.6.7.8")
	require.NoError(t, err)

	var stored models.WebhookRegistration
	require.NoError(t, f.db.First(&stored, registration.ID).Error)
	assert.Equal(t, 2, stored.TotalTriggers)
	assert.Equal(t, 1, stored.SuccessfulTriggers)
	assert.Equal(t, "5.6.7.8", stored.LastIPAddress)
	assert.NotNil(t, stored.LastTriggeredAt)
}
