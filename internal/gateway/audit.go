package gateway

import (
	"time"

	"go.uber.org/zap"
)

// AuditEntry describes one admission decision for the audit trail.
type AuditEntry struct {
	Secret    string
	ClientIP  string
	UserAgent string
	Payload   Payload
	Outcome   Outcome
	Reason    string
	Timestamp time.Time
}

// AuditLog receives every admitted and rejected webhook request.
type AuditLog interface {
	Record(entry AuditEntry)
}

// ZapAuditLog writes audit entries to a named structured logger.
type ZapAuditLog struct {
	logger *zap.Logger
}

// NewZapAuditLog creates a zap-backed audit log.
func NewZapAuditLog(logger *zap.Logger) *ZapAuditLog {
	return &ZapAuditLog{logger: logger.Named("webhook-audit")}
}

// Record implements AuditLog.
func (a *ZapAuditLog) Record(entry AuditEntry) {
	secret := entry.Secret
	if len(secret) > 4 {
		secret = secret[:4] + "..."
	}
	a.logger.Info("Webhook request",
		zap.String("secret", secret),
		zap.String("client_ip", entry.ClientIP),
		zap.String("user_agent", entry.UserAgent),
		zap.String("outcome", string(entry.Outcome)),
		zap.String("reason", entry.Reason),
		zap.String("action", entry.Payload.Action),
		zap.String("ticker", entry.Payload.Ticker),
		zap.String("quantity", entry.Payload.Quantity),
		zap.Time("timestamp", entry.Timestamp),
	)
}
