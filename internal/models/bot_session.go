package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bot session statuses. Transitions are monotonic:
// starting -> running -> {stopped, error}. Paused is reserved; there is
// no resume transition.
const (
	SessionStarting = "starting"
	SessionRunning  = "running"
	SessionPaused   = "paused"
	SessionStopped  = "stopped"
	SessionError    = "error"
)

// BotSession records one run of a bot. The registry is the only writer
// of Status.
type BotSession struct {
	SessionID    string `gorm:"primaryKey;size:36"`
	UserID       uint   `gorm:"index:idx_session_user_status"`
	PairConfigID uint   `gorm:"index:idx_session_pair_status"`
	PairConfig   PairConfig
	PairSymbol   string `gorm:"index"`
	Exchange     string
	BotType      string

	Status string `gorm:"index:idx_session_user_status;index:idx_session_pair_status;default:starting"`

	TotalOrders      int
	SuccessfulOrders int
	FailedOrders     int
	TotalProfitLoss  float64

	StartedAt    time.Time
	StoppedAt    *time.Time
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BeforeCreate assigns a UUID session id when none is set.
func (s *BotSession) BeforeCreate(tx *gorm.DB) error {
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	return nil
}

// IsTerminal reports whether the session can never run again.
func (s *BotSession) IsTerminal() bool {
	return s.Status == SessionStopped || s.Status == SessionError
}
