package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a PBX identity as known to the directory. ID is the stable
// identity string notifications are addressed to, usually the extension.
type User struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `gorm:"index" json:"email"`
	Phone       string `json:"phone"`

	IsRoot   bool `gorm:"not null" json:"is_root"`
	IsActive bool `gorm:"not null;index" json:"is_active"`

	Roles  []Role  `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	Groups []Group `gorm:"many2many:user_groups;" json:"groups,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures an identifier is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
