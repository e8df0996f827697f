package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationPreference stores one recipient's delivery preferences.
type NotificationPreference struct {
	RecipientID string `gorm:"primaryKey;size:64" json:"recipient_id"`

	OptedOutTypes datatypes.JSONSlice[NotificationType] `json:"opted_out_types"`
	Channels      datatypes.JSONSlice[Channel]          `json:"channels"`

	QuietHoursStart    string `gorm:"size:5" json:"quiet_hours_start,omitempty"`
	QuietHoursEnd      string `gorm:"size:5" json:"quiet_hours_end,omitempty"`
	QuietHoursTimezone string `gorm:"size:64" json:"quiet_hours_timezone,omitempty"`

	SoundEnabled   bool `gorm:"not null" json:"sound_enabled"`
	DesktopEnabled bool `gorm:"not null" json:"desktop_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreference returns the system defaults for a recipient with no row.
func DefaultPreference(recipientID string) NotificationPreference {
	return NotificationPreference{
		RecipientID:    recipientID,
		OptedOutTypes:  datatypes.JSONSlice[NotificationType]{},
		Channels:       datatypes.JSONSlice[Channel]{},
		SoundEnabled:   true,
		DesktopEnabled: true,
	}
}

// HasQuietHours reports whether a quiet window is configured.
func (p *NotificationPreference) HasQuietHours() bool {
	return p.QuietHoursStart != "" && p.QuietHoursEnd != "" && p.QuietHoursStart != p.QuietHoursEnd
}

// OptedOut reports whether the recipient opted out of t.
func (p *NotificationPreference) OptedOut(t NotificationType) bool {
	for _, candidate := range p.OptedOutTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
