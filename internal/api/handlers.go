package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/execution"
	"trading-bot-platform/internal/gateway"
	"trading-bot-platform/internal/models"
	"trading-bot-platform/internal/registry"
)

// webhookResponse is the body returned for every inbound signal.
type webhookResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	OrderID          string `json:"order_id,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// handleWebhookReceive is the inbound trade-signal endpoint. The secret in
// the URL is the sole authentication factor. Every request, admitted or
// not, is audit-logged by the gateway.
func (s *Server) handleWebhookReceive(c *gin.Context) {
	start := time.Now()
	secret := c.Param("secret")

	respond := func(status int, message, orderID string) {
		c.JSON(status, webhookResponse{
			Status:           statusWord(status),
			Message:          message,
			OrderID:          orderID,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		respond(http.StatusBadRequest, "could not read request body", "")
		return
	}

	payload, intent, err := gateway.ParsePayload(body)
	if err != nil {
		respond(http.StatusBadRequest, err.Error(), "")
		return
	}

	decision, err := s.gateway.Admit(c.Request.Context(), secret, c.ClientIP(), c.Request.UserAgent(), *payload)
	if err != nil {
		s.logger.Error("Admission check failed", zap.Error(err))
		respond(http.StatusInternalServerError, "internal server error", "")
		return
	}

	if !decision.Admitted {
		switch decision.Outcome {
		case gateway.OutcomeRateLimited:
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.RateLimit))
			respond(http.StatusTooManyRequests, decision.Reason, "")
		case gateway.OutcomeForbidden:
			respond(http.StatusForbidden, decision.Reason, "")
		case gateway.OutcomeSubscriptionRequired:
			respond(http.StatusForbidden, decision.Reason, "")
		default:
			respond(http.StatusUnauthorized, decision.Reason, "")
		}
		return
	}

	registration := decision.Registration
	order, err := s.pipeline.ExecuteOrder(c.Request.Context(), &execution.Intent{
		UserID:        registration.UserID,
		PairConfig:    &registration.PairConfig,
		Action:        intent.Action,
		Quantity:      intent.Quantity,
		Price:         intent.Price,
		HasPrice:      intent.HasPrice,
		Source:        models.OrderSourceWebhook,
		WebhookSecret: secret,
	})

	success := err == nil
	if recordErr := s.gateway.RecordTrigger(c.Request.Context(), registration, success, c.ClientIP()); recordErr != nil {
		s.logger.Error("Failed to record webhook trigger", zap.Error(recordErr))
	}

	if err != nil {
		var vErr *execution.ValidationError
		if errors.As(err, &vErr) {
			respond(http.StatusBadRequest, vErr.Error(), "")
			return
		}
		// Execution failures are a 400: the request was understood but the
		// order could not be filled. The failed order id is reported so the
		// caller can find the audit row.
		orderID := ""
		if order != nil {
			orderID = order.ID
		}
		respond(http.StatusBadRequest, "order execution failed", orderID)
		return
	}

	respond(http.StatusOK, "order executed", order.ID)
}

func statusWord(status int) string {
	if status >= 200 && status < 300 {
		return "success"
	}
	return "error"
}

type startBotRequest struct {
	UserID       uint   `json:"user_id" binding:"required"`
	PairConfigID uint   `json:"pair_config_id" binding:"required"`
	Exchange     string `json:"exchange"`
	TickSeconds  int    `json:"tick_seconds"`
}

// handleBotStart launches a new bot session for (user, pair, exchange).
func (s *Server) handleBotStart(c *gin.Context) {
	var req startBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	var pairCfg models.PairConfig
	if err := s.db.First(&pairCfg, req.PairConfigID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "pair config not found"})
			return
		}
		s.fail(c, err)
		return
	}

	sessionCfg := registry.SessionConfig{}
	if req.TickSeconds > 0 {
		sessionCfg.TickInterval = time.Duration(req.TickSeconds) * time.Second
	}

	sessionID, err := s.registry.StartBot(s.rootCtx, req.UserID, &pairCfg, req.Exchange, sessionCfg)
	if err != nil {
		if errors.Is(err, registry.ErrSessionAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
			return
		}
		if errors.Is(err, registry.ErrCredentialsMissing) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "session_id": sessionID})
}

type stopBotRequest struct {
	UserID     uint   `json:"user_id" binding:"required"`
	PairSymbol string `json:"pair_symbol" binding:"required"`
	Exchange   string `json:"exchange" binding:"required"`
	SessionID  string `json:"session_id"`
}

// handleBotStop stops matching sessions. Stopping an already-stopped bot
// succeeds without effect.
func (s *Server) handleBotStop(c *gin.Context) {
	var req stopBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if err := s.registry.StopBot(req.UserID, req.PairSymbol, req.Exchange, req.SessionID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleListSessions returns running sessions, optionally for one user.
func (s *Server) handleListSessions(c *gin.Context) {
	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid user_id"})
			return
		}
		userID = uint(parsed)
	}

	sessions, err := s.registry.GetActiveSessions(userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "sessions": sessions})
}

// handleSessionDetail returns one session by id with its recent orders.
func (s *Server) handleSessionDetail(c *gin.Context) {
	var session models.BotSession
	err := s.db.Preload("PairConfig").
		Where("session_id = ?", c.Param("id")).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "session not found"})
			return
		}
		s.fail(c, err)
		return
	}

	var orders []models.Order
	err = s.db.
		Where("user_id = ? AND pair_config_id = ? AND created_at >= ?",
			session.UserID, session.PairConfigID, session.StartedAt).
		Order("created_at desc").
		Limit(20).
		Find(&orders).Error
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "session": session, "recent_orders": orders})
}

type createWebhookRequest struct {
	UserID         uint   `json:"user_id" binding:"required"`
	SubscriptionID uint   `json:"subscription_id" binding:"required"`
	PairConfigID   uint   `json:"pair_config_id" binding:"required"`
	Name           string `json:"name"`

	EnableIPAllowList bool     `json:"enable_ip_allow_list"`
	AllowedIPs        []string `json:"allowed_ips"`
}

// handleWebhookCreate registers a webhook with a freshly generated secret
// and returns the TradingView alert template alongside it.
func (s *Server) handleWebhookCreate(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	var pairCfg models.PairConfig
	if err := s.db.First(&pairCfg, req.PairConfigID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "pair config not found"})
			return
		}
		s.fail(c, err)
		return
	}

	secretLength := s.cfg.Webhook.SecretLength
	if secretLength <= 0 {
		secretLength = 32
	}
	secret, err := models.GenerateWebhookSecret(secretLength)
	if err != nil {
		s.fail(c, fmt.Errorf("could not generate webhook secret: %w", err))
		return
	}

	registration := models.WebhookRegistration{
		UserID:            req.UserID,
		SubscriptionID:    req.SubscriptionID,
		PairConfigID:      req.PairConfigID,
		Name:              req.Name,
		Secret:            secret,
		IsActive:          true,
		EnableIPAllowList: req.EnableIPAllowList,
		AllowedIPs:        models.StringList(req.AllowedIPs),
	}
	if err := s.db.Create(&registration).Error; err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":               "success",
		"webhook":              registration,
		"url":                  fmt.Sprintf("/api/webhook/receive/%s", secret),
		"tradingview_template": registration.TradingViewTemplate(),
	})
}

// handleWebhookList returns a user's webhook registrations.
func (s *Server) handleWebhookList(c *gin.Context) {
	raw := c.Query("user_id")
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid user_id"})
		return
	}

	var registrations []models.WebhookRegistration
	if err := s.db.Preload("PairConfig").
		Where("user_id = ?", uint(userID)).
		Find(&registrations).Error; err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "webhooks": registrations})
}

type webhookToggleRequest struct {
	IsActive bool `json:"is_active"`
}

// handleWebhookToggle activates or deactivates a registration. Inactive
// webhooks are rejected at admission before any rate-limit state changes.
func (s *Server) handleWebhookToggle(c *gin.Context) {
	var req webhookToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	result := s.db.Model(&models.WebhookRegistration{}).
		Where("id = ?", c.Param("id")).
		Update("is_active", req.IsActive)
	if result.Error != nil {
		s.fail(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleWebhookDetail returns one registration with its alert template.
func (s *Server) handleWebhookDetail(c *gin.Context) {
	var registration models.WebhookRegistration
	err := s.db.Preload("PairConfig").First(&registration, c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "webhook not found"})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               "success",
		"webhook":              registration,
		"url":                  fmt.Sprintf("/api/webhook/receive/%s", registration.Secret),
		"tradingview_template": registration.TradingViewTemplate(),
	})
}

// handleWebhookDelete removes a registration. Its secret stops being
// honored immediately.
func (s *Server) handleWebhookDelete(c *gin.Context) {
	result := s.db.Where("id = ?", c.Param("id")).Delete(&models.WebhookRegistration{})
	if result.Error != nil {
		s.fail(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "webhook not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleWebhookTest is a connectivity check: it reports whether the
// registration would pass admission right now, without consuming rate-limit
// quota or placing an order.
func (s *Server) handleWebhookTest(c *gin.Context) {
	var registration models.WebhookRegistration
	err := s.db.Preload("Subscription").Preload("PairConfig").
		First(&registration, c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "webhook not found"})
			return
		}
		s.fail(c, err)
		return
	}

	checks := gin.H{
		"webhook_active":      registration.IsActive,
		"subscription_active": registration.Subscription.IsCurrentlyActive(),
		"ip_allowed":          !registration.EnableIPAllowList || registration.AllowedIPs.Contains(c.ClientIP()),
	}
	ready := registration.IsActive &&
		registration.Subscription.IsCurrentlyActive() &&
		(!registration.EnableIPAllowList || registration.AllowedIPs.Contains(c.ClientIP()))

	c.JSON(http.StatusOK, gin.H{
		"status":               "success",
		"ready":                ready,
		"checks":               checks,
		"url":                  fmt.Sprintf("/api/webhook/receive/%s", registration.Secret),
		"tradingview_template": registration.TradingViewTemplate(),
	})
}

// handlePerformance returns the aggregated P&L summary for a user.
func (s *Server) handlePerformance(c *gin.Context) {
	raw := c.Query("user_id")
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid user_id"})
		return
	}

	summary, err := s.ledger.Summarize(c.Request.Context(), uint(userID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "summary": summary})
}

// handleListOrders returns a user's order history, newest first.
func (s *Server) handleListOrders(c *gin.Context) {
	raw := c.Query("user_id")
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid user_id"})
		return
	}

	query := s.db.Preload("PairConfig").Where("user_id = ?", uint(userID))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var orders []models.Order
	if err := query.Order("created_at desc").Limit(200).Find(&orders).Error; err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "orders": orders})
}

// handleListPairs returns public, active pair configurations.
func (s *Server) handleListPairs(c *gin.Context) {
	var pairs []models.PairConfig
	if err := s.db.Where("is_active = ? AND is_public = ?", true, true).
		Find(&pairs).Error; err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "pairs": pairs})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("Request failed",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal server error"})
}
