package models

import "time"

// Delivery is the per-recipient ledger row for a notification. Recipient
// visible state lives here and nowhere else.
type Delivery struct {
	NotificationID string     `gorm:"primaryKey;size:64" json:"notification_id"`
	RecipientID    string     `gorm:"primaryKey;size:64;index:idx_deliveries_recipient_delivered,priority:1" json:"recipient_id"`
	DeliveredAt    *time.Time `gorm:"index:idx_deliveries_recipient_delivered,priority:2" json:"delivered_at"`
	ReadAt         *time.Time `json:"read_at"`
	DismissedAt    *time.Time `json:"dismissed_at"`
	CreatedAt      time.Time  `json:"created_at"`

	Notification    *Notification    `gorm:"foreignKey:NotificationID;references:ID" json:"notification,omitempty"`
	ChannelAttempts []ChannelAttempt `gorm:"-" json:"channel_attempts"`
}

// IsRead reports whether the recipient acknowledged the row.
func (d *Delivery) IsRead() bool { return d.ReadAt != nil }

// IsDismissed reports whether the recipient dismissed the row.
func (d *Delivery) IsDismissed() bool { return d.DismissedAt != nil }
