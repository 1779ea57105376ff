package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/exchange"
	"trading-bot-platform/internal/models"
)

// ErrSessionAlreadyRunning is returned by StartBot when a non-terminal
// session already exists for the bot key.
var ErrSessionAlreadyRunning = errors.New("a session is already running for this bot")

// AdapterFactory builds exchange adapters. Satisfied by exchange.Factory.
type AdapterFactory interface {
	NewAdapter(exchangeName, symbol, apiKey, apiSecret string) (exchange.Adapter, error)
}

// SessionConfig carries optional per-session overrides.
type SessionConfig struct {
	TickInterval time.Duration
}

// runningSession tracks the live goroutine behind one session id so stops
// can signal cancellation and join deterministically.
type runningSession struct {
	key    BotKey
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the lifecycle of bot instances and sessions. It guarantees
// at most one live instance per BotKey and at most one non-terminal session
// per BotKey. All map mutations happen under one mutex; run loops execute
// on their own goroutines and never hold it.
type Registry struct {
	mu       sync.Mutex
	bots     map[string]*BotInstance
	sessions map[string]*runningSession

	db      *gorm.DB
	factory AdapterFactory
	creds   CredentialSource
	logger  *zap.Logger
	cfg     config.Bots

	signals SignalProvider
	trade   TradeFunc
}

// NewRegistry creates a bot registry.
func NewRegistry(db *gorm.DB, factory AdapterFactory, creds CredentialSource, cfg config.Bots, logger *zap.Logger) *Registry {
	return &Registry{
		bots:     make(map[string]*BotInstance),
		sessions: make(map[string]*runningSession),
		db:       db,
		factory:  factory,
		creds:    creds,
		logger:   logger.Named("registry"),
		cfg:      cfg,
	}
}

// SetSignalProvider installs the advisory strategy used by new instances.
func (r *Registry) SetSignalProvider(p SignalProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = p
}

// SetTradeFunc wires bot-sourced trades into the execution pipeline.
// Called once at startup, before any bot runs.
func (r *Registry) SetTradeFunc(fn TradeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trade = fn
}

// CreateBot builds or returns the existing instance for the bot key.
// Concurrent calls for the same key return the same instance; the adapter
// is constructed at most once.
func (r *Registry) CreateBot(userID uint, pairCfg *models.PairConfig, exchangeName string) (*BotInstance, error) {
	if exchangeName == "" {
		exchangeName = pairCfg.Exchange
	}
	key := BotKey{UserID: userID, PairSymbol: pairCfg.PairSymbol, Exchange: exchangeName}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createBotLocked(key, pairCfg)
}

// createBotLocked requires r.mu to be held.
func (r *Registry) createBotLocked(key BotKey, pairCfg *models.PairConfig) (*BotInstance, error) {
	if bot, ok := r.bots[key.String()]; ok {
		return bot, nil
	}

	apiKey, apiSecret, err := r.creds.CredentialsFor(key.UserID, key.Exchange)
	if err != nil {
		return nil, err
	}

	adapter, err := r.factory.NewAdapter(key.Exchange, key.PairSymbol, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}

	tick := time.Duration(r.cfg.TickInterval) * time.Second
	if tick <= 0 {
		tick = 10 * time.Second
	}

	bot := &BotInstance{
		Key:     key,
		adapter: adapter,
		pairCfg: *pairCfg,
		logger:  r.logger,
		tick:    tick,
		signals: r.signals,
		trade:   r.trade,
	}
	r.bots[key.String()] = bot
	r.logger.Info("Created bot instance",
		zap.String("bot_key", key.String()),
		zap.String("exchange", key.Exchange),
	)
	return bot, nil
}

// StartBot ensures an instance exists, records a new session and launches
// the run loop. Returns the new session id, or ErrSessionAlreadyRunning if
// a non-terminal session exists for the key.
func (r *Registry) StartBot(ctx context.Context, userID uint, pairCfg *models.PairConfig, exchangeName string, sessionCfg SessionConfig) (string, error) {
	if exchangeName == "" {
		exchangeName = pairCfg.Exchange
	}
	key := BotKey{UserID: userID, PairSymbol: pairCfg.PairSymbol, Exchange: exchangeName}

	r.mu.Lock()
	defer r.mu.Unlock()

	var existing int64
	err := r.db.Model(&models.BotSession{}).
		Where("user_id = ? AND pair_config_id = ? AND exchange = ? AND status IN ?",
			userID, pairCfg.ID, exchangeName,
			[]string{models.SessionStarting, models.SessionRunning, models.SessionPaused}).
		Count(&existing).Error
	if err != nil {
		return "", fmt.Errorf("could not check existing sessions: %w", err)
	}
	if existing > 0 {
		return "", fmt.Errorf("%w: %s", ErrSessionAlreadyRunning, key.String())
	}

	bot, err := r.createBotLocked(key, pairCfg)
	if err != nil {
		return "", err
	}

	session := models.BotSession{
		UserID:       userID,
		PairConfigID: pairCfg.ID,
		PairSymbol:   pairCfg.PairSymbol,
		Exchange:     exchangeName,
		BotType:      pairCfg.BotType,
		Status:       models.SessionStarting,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := r.db.Create(&session).Error; err != nil {
		return "", fmt.Errorf("could not create bot session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rs := &runningSession{key: key, cancel: cancel, done: make(chan struct{})}
	r.sessions[session.SessionID] = rs

	if sessionCfg.TickInterval > 0 {
		bot.tick = sessionCfg.TickInterval
	}

	go r.runSession(runCtx, bot, session.SessionID, rs)

	if err := r.db.Model(&models.BotSession{}).
		Where("session_id = ?", session.SessionID).
		Update("status", models.SessionRunning).Error; err != nil {
		r.logger.Error("Failed to mark session running",
			zap.String("session_id", session.SessionID), zap.Error(err))
	}

	r.logger.Info("Started bot",
		zap.String("bot_key", key.String()),
		zap.String("session_id", session.SessionID),
	)
	return session.SessionID, nil
}

// runSession supervises one run loop. Panics are caught at this boundary
// and recorded as session error; they never reach the caller of StartBot
// or affect other bots.
func (r *Registry) runSession(ctx context.Context, bot *BotInstance, sessionID string, rs *runningSession) {
	defer close(rs.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Bot loop panicked",
				zap.String("session_id", sessionID),
				zap.Any("panic", rec),
			)
			r.db.Model(&models.BotSession{}).
				Where("session_id = ? AND status NOT IN ?", sessionID,
					[]string{models.SessionStopped, models.SessionError}).
				Update("status", models.SessionError)
		}
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
	}()

	bot.run(ctx)
}

// StopBot signals the session's run loop to end, marks the session (or all
// running sessions for the key when sessionID is empty) stopped, and joins
// the loop goroutine. Stopping an already-stopped bot is a no-op.
func (r *Registry) StopBot(userID uint, pairSymbol, exchangeName, sessionID string) error {
	key := BotKey{UserID: userID, PairSymbol: pairSymbol, Exchange: exchangeName}

	r.mu.Lock()
	var toStop []*runningSession
	var ids []string
	for id, rs := range r.sessions {
		if rs.key != key {
			continue
		}
		if sessionID != "" && id != sessionID {
			continue
		}
		toStop = append(toStop, rs)
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, rs := range toStop {
		rs.cancel()
	}

	now := time.Now()
	query := r.db.Model(&models.BotSession{}).
		Where("user_id = ? AND pair_symbol = ? AND exchange = ? AND status IN ?",
			userID, pairSymbol, exchangeName,
			[]string{models.SessionStarting, models.SessionRunning, models.SessionPaused})
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	if err := query.Updates(map[string]interface{}{
		"status":     models.SessionStopped,
		"stopped_at": now,
	}).Error; err != nil {
		return fmt.Errorf("could not update sessions: %w", err)
	}

	// Join the loop goroutines for deterministic shutdown.
	for _, rs := range toStop {
		<-rs.done
	}

	if len(ids) > 0 {
		r.logger.Info("Stopped bot",
			zap.String("bot_key", key.String()),
			zap.Strings("session_ids", ids),
		)
	}
	return nil
}

// StopAll stops every running session. Used during process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	var all []*runningSession
	for _, rs := range r.sessions {
		all = append(all, rs)
	}
	r.mu.Unlock()

	for _, rs := range all {
		rs.cancel()
	}
	now := time.Now()
	r.db.Model(&models.BotSession{}).
		Where("status IN ?", []string{models.SessionStarting, models.SessionRunning, models.SessionPaused}).
		Updates(map[string]interface{}{"status": models.SessionStopped, "stopped_at": now})
	for _, rs := range all {
		<-rs.done
	}
}

// GetBot returns the live instance for the key, or nil.
func (r *Registry) GetBot(userID uint, pairSymbol, exchangeName string) *BotInstance {
	key := BotKey{UserID: userID, PairSymbol: pairSymbol, Exchange: exchangeName}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bots[key.String()]
}

// GetOrCreateBot returns the live instance for the key, creating it when
// absent. Used by the execution pipeline for webhook-triggered orders.
func (r *Registry) GetOrCreateBot(userID uint, pairCfg *models.PairConfig, exchangeName string) (*BotInstance, error) {
	return r.CreateBot(userID, pairCfg, exchangeName)
}

// GetActiveSessions returns running sessions, optionally filtered by user
// (0 means all users).
func (r *Registry) GetActiveSessions(userID uint) ([]models.BotSession, error) {
	var sessions []models.BotSession
	query := r.db.Preload("PairConfig").
		Where("status = ?", models.SessionRunning)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("started_at desc").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("could not list active sessions: %w", err)
	}
	return sessions, nil
}
