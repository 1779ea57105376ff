package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/exchange"
	"trading-bot-platform/internal/models"
)

// MockAdapter is a mock implementation of exchange.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdapter) ExecuteMarketOrder(ctx context.Context, action string, quantity float64) (*exchange.Fill, error) {
	args := m.Called(ctx, action, quantity)
	return args.Get(0).(*exchange.Fill), args.Error(1)
}

func (m *MockAdapter) ExecuteLimitOrder(ctx context.Context, action string, quantity, price float64) (*exchange.Fill, error) {
	args := m.Called(ctx, action, quantity, price)
	return args.Get(0).(*exchange.Fill), args.Error(1)
}

func (m *MockAdapter) GetAccountBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]exchange.Balance), args.Error(1)
}

func (m *MockAdapter) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	args := m.Called(ctx)
	return args.Get(0).([]exchange.OpenOrder), args.Error(1)
}

// countingFactory hands out idle mock adapters and counts constructions.
type countingFactory struct {
	mu    sync.Mutex
	built int
}

func (f *countingFactory) NewAdapter(exchangeName, symbol, apiKey, apiSecret string) (exchange.Adapter, error) {
	f.mu.Lock()
	f.built++
	f.mu.Unlock()

	adapter := new(MockAdapter)
	adapter.On("Name").Return(exchangeName).Maybe()
	adapter.On("GetAccountBalance", mock.Anything).
		Return(map[string]exchange.Balance{}, nil).Maybe()
	return adapter, nil
}

// staticCredentials satisfies CredentialSource without a database.
type staticCredentials struct{}

func (staticCredentials) CredentialsFor(userID uint, exchange string) (string, string, error) {
	return "test-key", "test-secret", nil
}

func setupRegistryTest(t *testing.T) (*gorm.DB, *Registry, *countingFactory, *models.PairConfig) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.PairConfig{}, &models.BotSession{})
	require.NoError(t, err)

	pairCfg := models.PairConfig{
		Name: "BTC/USDT", PairSymbol: "BTCUSDT", Exchange: "binance",
		MinOrderSize: 0.001, MaxOrderSize: 10,
	}
	require.NoError(t, db.Create(&pairCfg).Error)

	factory := &countingFactory{}
	cfg := config.Bots{TickInterval: 3600} // ticks never fire within a test
	reg := NewRegistry(db, factory, staticCredentials{}, cfg, zap.NewNop())

	return db, reg, factory, &pairCfg
}

func TestRegistry_CreateBotIsIdempotent(t *testing.T) {
	_, reg, factory, pairCfg := setupRegistryTest(t)

	first, err := reg.CreateBot(1, pairCfg, "binance")
	require.NoError(t, err)
	second, err := reg.CreateBot(1, pairCfg, "binance")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.built)
}

func TestRegistry_ConcurrentCreateBuildsOneAdapter(t *testing.T) {
	_, reg, factory, pairCfg := setupRegistryTest(t)

	const workers = 20
	var wg sync.WaitGroup
	bots := make([]*BotInstance, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bot, err := reg.CreateBot(1, pairCfg, "binance")
			require.NoError(t, err)
			bots[i] = bot
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, factory.built)
	for _, bot := range bots {
		assert.Same(t, bots[0], bot)
	}
}

func TestRegistry_DistinctKeysGetDistinctBots(t *testing.T) {
	_, reg, factory, pairCfg := setupRegistryTest(t)

	a, err := reg.CreateBot(1, pairCfg, "binance")
	require.NoError(t, err)
	b, err := reg.CreateBot(2, pairCfg, "binance")
	require.NoError(t, err)
	c, err := reg.CreateBot(1, pairCfg, "kraken")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 3, factory.built)
}

func TestRegistry_StartBotCreatesRunningSession(t *testing.T) {
	db, reg, _, pairCfg := setupRegistryTest(t)
	defer reg.StopAll()

	sessionID, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	var session models.BotSession
	require.NoError(t, db.Where("session_id = ?", sessionID).First(&session).Error)
	assert.Equal(t, models.SessionRunning, session.Status)
	assert.Equal(t, uint(1), session.UserID)
	assert.Equal(t, "BTCUSDT", session.PairSymbol)
}

func TestRegistry_StartBotRejectsSecondSession(t *testing.T) {
	_, reg, _, pairCfg := setupRegistryTest(t)
	defer reg.StopAll()

	_, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)

	_, err = reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})

	assert.ErrorIs(t, err, ErrSessionAlreadyRunning)
}

func TestRegistry_StartAfterStopSucceeds(t *testing.T) {
	_, reg, factory, pairCfg := setupRegistryTest(t)
	defer reg.StopAll()

	first, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.StopBot(1, "BTCUSDT", "binance", first))

	second, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})

	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	// The instance survives across sessions; the adapter is built once.
	assert.Equal(t, 1, factory.built)
}

func TestRegistry_StopBotMarksSessionStopped(t *testing.T) {
	db, reg, _, pairCfg := setupRegistryTest(t)

	sessionID, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)

	err = reg.StopBot(1, "BTCUSDT", "binance", sessionID)
	require.NoError(t, err)

	var session models.BotSession
	require.NoError(t, db.Where("session_id = ?", sessionID).First(&session).Error)
	assert.Equal(t, models.SessionStopped, session.Status)
	assert.NotNil(t, session.StoppedAt)
	assert.True(t, session.IsTerminal())
}

func TestRegistry_StopBotJoinsLoopGoroutine(t *testing.T) {
	_, reg, _, pairCfg := setupRegistryTest(t)

	sessionID, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)

	require.NoError(t, reg.StopBot(1, "BTCUSDT", "binance", sessionID))

	// After StopBot returns the session is no longer tracked as live.
	reg.mu.Lock()
	_, tracked := reg.sessions[sessionID]
	reg.mu.Unlock()
	assert.False(t, tracked)
}

func TestRegistry_StopBotOnStoppedBotIsNoOp(t *testing.T) {
	_, reg, _, pairCfg := setupRegistryTest(t)

	sessionID, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.StopBot(1, "BTCUSDT", "binance", sessionID))

	// Stopping again, and stopping a bot that never ran, both succeed.
	assert.NoError(t, reg.StopBot(1, "BTCUSDT", "binance", sessionID))
	assert.NoError(t, reg.StopBot(9, "ETHUSDT", "binance", ""))
}

func TestRegistry_GetActiveSessions(t *testing.T) {
	_, reg, _, pairCfg := setupRegistryTest(t)
	defer reg.StopAll()

	_, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)
	_, err = reg.StartBot(context.Background(), 2, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)

	all, err := reg.GetActiveSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := reg.GetActiveSessions(1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, uint(1), mine[0].UserID)
}

func TestRegistry_StopAll(t *testing.T) {
	db, reg, _, pairCfg := setupRegistryTest(t)

	_, err := reg.StartBot(context.Background(), 1, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)
	_, err = reg.StartBot(context.Background(), 2, pairCfg, "binance", SessionConfig{})
	require.NoError(t, err)

	reg.StopAll()

	var running int64
	db.Model(&models.BotSession{}).
		Where("status = ?", models.SessionRunning).
		Count(&running)
	assert.Equal(t, int64(0), running)

	reg.mu.Lock()
	live := len(reg.sessions)
	reg.mu.Unlock()
	assert.Equal(t, 0, live)
}

func TestBotKey_String(t *testing.T) {
	key := BotKey{UserID: 42, PairSymbol: "BTCUSDT", Exchange: "binance"}
	assert.Equal(t, "42_BTCUSDT_binance", key.String())
}

func TestBotInstance_ScoutSubmitsSignal(t *testing.T) {
	adapter := new(MockAdapter)
	adapter.On("GetAccountBalance", mock.Anything).
		Return(map[string]exchange.Balance{"BTC": {Free: 1, Total: 1}}, nil)

	var submitted []Signal
	bot := &BotInstance{
		Key:     BotKey{UserID: 1, PairSymbol: "BTCUSDT", Exchange: "binance"},
		adapter: adapter,
		logger:  zap.NewNop(),
		tick:    time.Hour,
		signals: signalFunc(func(ctx context.Context, pairSymbol string, balances map[string]exchange.Balance) (*Signal, error) {
			return &Signal{Action: models.ActionBuy, Quantity: 0.5}, nil
		}),
		trade: func(ctx context.Context, key BotKey, pairConfigID uint, action string, quantity float64) error {
			submitted = append(submitted, Signal{Action: action, Quantity: quantity})
			return nil
		},
	}

	err := bot.scout(context.Background())

	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, models.ActionBuy, submitted[0].Action)
	assert.Equal(t, 0.5, submitted[0].Quantity)
	adapter.AssertExpectations(t)
}

// signalFunc adapts a function to the SignalProvider interface.
type signalFunc func(ctx context.Context, pairSymbol string, balances map[string]exchange.Balance) (*Signal, error)

func (f signalFunc) Evaluate(ctx context.Context, pairSymbol string, balances map[string]exchange.Balance) (*Signal, error) {
	return f(ctx, pairSymbol, balances)
}
