package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading-bot-platform/internal/config"
	"trading-bot-platform/internal/execution"
	"trading-bot-platform/internal/gateway"
	"trading-bot-platform/internal/ledger"
	"trading-bot-platform/internal/registry"
)

// Server exposes the platform over HTTP.
type Server struct {
	server   *http.Server
	db       *gorm.DB
	cfg      config.Config
	logger   *zap.Logger
	rootCtx  context.Context
	registry *registry.Registry
	gateway  *gateway.Gateway
	pipeline *execution.Pipeline
	ledger   *ledger.Ledger
}

// NewServer creates the API server. rootCtx is the lifetime context handed
// to bot sessions started over HTTP, so process shutdown cancels them.
func NewServer(
	rootCtx context.Context,
	db *gorm.DB,
	cfg config.Config,
	reg *registry.Registry,
	gw *gateway.Gateway,
	pipeline *execution.Pipeline,
	led *ledger.Ledger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		db:       db,
		cfg:      cfg,
		logger:   logger.Named("api-server"),
		rootCtx:  rootCtx,
		registry: reg,
		gateway:  gw,
		pipeline: pipeline,
		ledger:   led,
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(s.logger), Recovery(s.logger))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/webhook/receive/:secret", s.handleWebhookReceive)

		api.POST("/bots/start", s.handleBotStart)
		api.POST("/bots/stop", s.handleBotStop)
		api.GET("/bots/sessions", s.handleListSessions)
		api.GET("/bots/sessions/:id", s.handleSessionDetail)

		api.POST("/webhooks", s.handleWebhookCreate)
		api.GET("/webhooks", s.handleWebhookList)
		api.GET("/webhooks/:id", s.handleWebhookDetail)
		api.PATCH("/webhooks/:id", s.handleWebhookToggle)
		api.DELETE("/webhooks/:id", s.handleWebhookDelete)
		api.POST("/webhooks/:id/test", s.handleWebhookTest)

		api.GET("/orders", s.handleListOrders)
		api.GET("/pairs", s.handleListPairs)
		api.GET("/performance", s.handlePerformance)
	}
	return r
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}
