package models

import (
	"fmt"
	"time"
)

// Channel is an out-of-band delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// ChannelStatus tracks a queued channel job.
type ChannelStatus string

const (
	ChannelStatusPending   ChannelStatus = "pending"
	ChannelStatusSending   ChannelStatus = "sending"
	ChannelStatusDelivered ChannelStatus = "delivered"
	ChannelStatusFailed    ChannelStatus = "failed"
)

// ChannelDelivery is a queued out-of-band delivery for one recipient and
// channel. Failed is terminal.
type ChannelDelivery struct {
	BaseModel

	NotificationID string        `gorm:"size:64;not null;uniqueIndex:idx_channel_deliveries_key,priority:1" json:"notification_id"`
	RecipientID    string        `gorm:"size:64;not null;uniqueIndex:idx_channel_deliveries_key,priority:2" json:"recipient_id"`
	Channel        Channel       `gorm:"size:16;not null;uniqueIndex:idx_channel_deliveries_key,priority:3" json:"channel"`
	Status         ChannelStatus `gorm:"size:16;not null;index:idx_channel_deliveries_due,priority:1" json:"status"`
	Attempts       int           `gorm:"not null" json:"attempts"`
	NextAttemptAt  time.Time     `gorm:"index:idx_channel_deliveries_due,priority:2" json:"next_attempt_at"`
	LockedUntil    *time.Time    `json:"locked_until,omitempty"`
	LastError      string        `gorm:"type:text" json:"last_error,omitempty"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`
}

// IdempotencyKey identifies the logical message across retries.
func (c *ChannelDelivery) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s", c.NotificationID, c.RecipientID, c.Channel)
}
