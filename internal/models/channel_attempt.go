package models

import "time"

// Channel attempt outcomes.
const (
	AttemptOutcomeDelivered = "delivered"
	AttemptOutcomeRetry     = "retry"
	AttemptOutcomeFailed    = "failed"
)

// ChannelAttempt is an append-only log entry for one send attempt.
type ChannelAttempt struct {
	BaseModel

	NotificationID string    `gorm:"size:64;not null;index:idx_channel_attempts_pair,priority:1" json:"-"`
	RecipientID    string    `gorm:"size:64;not null;index:idx_channel_attempts_pair,priority:2" json:"-"`
	Channel        Channel   `gorm:"size:16;not null" json:"channel"`
	Attempt        int       `gorm:"not null" json:"attempt"`
	AttemptedAt    time.Time `gorm:"not null;index" json:"attempted_at"`
	Outcome        string    `gorm:"size:16;not null" json:"outcome"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
}
