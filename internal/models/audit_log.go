package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records producer and operator actions.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    *string   `gorm:"size:64;index" json:"user_id"`
	Username  string    `json:"username"`
	Action    string    `gorm:"not null;index" json:"action"`
	Resource  string    `gorm:"index" json:"resource"`
	Result    string    `gorm:"not null" json:"result"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Metadata  string    `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
