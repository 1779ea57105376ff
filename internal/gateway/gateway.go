package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/models"
	"trading-bot-platform/internal/ratelimit"
)

// Outcome classifies an admission decision.
type Outcome string

const (
	OutcomeAdmitted             = Outcome("admitted")
	OutcomeUnauthorized         = Outcome("unauthorized")
	OutcomeRateLimited          = Outcome("rate_limited")
	OutcomeForbidden            = Outcome("forbidden")
	OutcomeSubscriptionRequired = Outcome("subscription_required")
)

// Decision is the result of running the admission checks.
type Decision struct {
	Admitted     bool
	Outcome      Outcome
	Reason       string
	Registration *models.WebhookRegistration
	RetryAfter   time.Duration
	RateLimit    int
}

// Gateway decides whether an inbound signed trade signal may proceed to
// execution. Checks run in a fixed order and short-circuit on the first
// failure: secret lookup, active flag, rate limit, IP allow-list,
// subscription entitlement.
type Gateway struct {
	db      *gorm.DB
	limiter *ratelimit.Limiter
	audit   AuditLog
	cfg     config.Webhook
	logger  *zap.Logger
}

// NewGateway creates a webhook admission gateway.
func NewGateway(db *gorm.DB, limiter *ratelimit.Limiter, audit AuditLog, cfg config.Webhook, logger *zap.Logger) *Gateway {
	return &Gateway{
		db:      db,
		limiter: limiter,
		audit:   audit,
		cfg:     cfg,
		logger:  logger.Named("gateway"),
	}
}

// Admit runs the admission checks for the given secret and caller. The
// payload is already validated and is only carried for the audit trail.
func (g *Gateway) Admit(ctx context.Context, secret, clientIP, userAgent string, payload Payload) (*Decision, error) {
	decision, err := g.check(ctx, secret, clientIP)
	if err != nil {
		return nil, err
	}

	g.audit.Record(AuditEntry{
		Secret:    secret,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Payload:   payload.Sanitized(),
		Outcome:   decision.Outcome,
		Reason:    decision.Reason,
		Timestamp: time.Now(),
	})
	return decision, nil
}

func (g *Gateway) check(ctx context.Context, secret, clientIP string) (*Decision, error) {
	// 1. Secret lookup.
	var registration models.WebhookRegistration
	err := g.db.WithContext(ctx).
		Preload("Subscription").
		Preload("Subscription.Plan").
		Preload("PairConfig").
		Where("secret = ?", secret).
		First(&registration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Decision{Outcome: OutcomeUnauthorized, Reason: "invalid webhook secret"}, nil
		}
		return nil, fmt.Errorf("could not look up webhook registration: %w", err)
	}

	decision := &Decision{Registration: &registration}

	// 2. Active flag, before any rate-limit state is touched.
	if !registration.IsActive {
		decision.Outcome = OutcomeUnauthorized
		decision.Reason = "webhook is inactive"
		return decision, nil
	}

	// 3. Rate limit, keyed by the secret. A plan with an hourly webhook
	// quota overrides the configured default window.
	limit, window := g.limitFor(&registration)
	decision.RateLimit = limit
	ok, retryAfter, err := g.limiter.Allow(ctx, secret, limit, window)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !ok {
		decision.Outcome = OutcomeRateLimited
		decision.Reason = "rate limit exceeded"
		decision.RetryAfter = retryAfter
		return decision, nil
	}

	// 4. IP allow-list, only when enabled on the registration.
	if registration.EnableIPAllowList && !registration.AllowedIPs.Contains(clientIP) {
		decision.Outcome = OutcomeForbidden
		decision.Reason = fmt.Sprintf("IP address %s not allowed", clientIP)
		return decision, nil
	}

	// 5. Subscription entitlement.
	if !registration.Subscription.IsCurrentlyActive() {
		decision.Outcome = OutcomeSubscriptionRequired
		decision.Reason = "subscription not active"
		return decision, nil
	}

	decision.Admitted = true
	decision.Outcome = OutcomeAdmitted
	decision.Reason = "admitted"
	return decision, nil
}

// limitFor picks the rate-limit policy for a registration: the owning
// plan's hourly webhook quota when set, else the configured default.
func (g *Gateway) limitFor(registration *models.WebhookRegistration) (int, time.Duration) {
	if plan := registration.Subscription.Plan; plan.WebhookRequestsPerHour > 0 {
		return plan.WebhookRequestsPerHour, time.Hour
	}
	limit := g.cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	window := time.Duration(g.cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

// RecordTrigger persists updated trigger statistics for a registration
// after an execution attempt.
func (g *Gateway) RecordTrigger(ctx context.Context, registration *models.WebhookRegistration, success bool, clientIP string) error {
	registration.RecordTrigger(success, clientIP)
	err := g.db.WithContext(ctx).Model(registration).Updates(map[string]interface{}{
		"total_triggers":      registration.TotalTriggers,
		"successful_triggers": registration.SuccessfulTriggers,
		"last_triggered_at":   registration.LastTriggeredAt,
		"last_ip_address":     registration.LastIPAddress,
	}).Error
	if err != nil {
		return fmt.Errorf("could not record webhook trigger: %w", err)
	}
	return nil
}
