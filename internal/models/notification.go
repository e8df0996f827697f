package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	TypeSystem       NotificationType = "system"
	TypeCall         NotificationType = "call"
	TypeVoicemail    NotificationType = "voicemail"
	TypeSMS          NotificationType = "sms"
	TypeAlert        NotificationType = "alert"
	TypeMessage      NotificationType = "message"
	TypeTask         NotificationType = "task"
	TypeAnnouncement NotificationType = "announcement"
)

// NotificationTypes lists every supported type in declaration order.
func NotificationTypes() []NotificationType {
	return []NotificationType{
		TypeSystem, TypeCall, TypeVoicemail, TypeSMS,
		TypeAlert, TypeMessage, TypeTask, TypeAnnouncement,
	}
}

// Valid reports whether t is one of the declared types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeSystem, TypeCall, TypeVoicemail, TypeSMS, TypeAlert, TypeMessage, TypeTask, TypeAnnouncement:
		return true
	}
	return false
}

// Priority orders notifications for quiet hour handling and display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is an immutable record of intent. Only the promotion flag
// changes after creation.
type Notification struct {
	BaseModel

	Type     NotificationType `gorm:"size:32;not null;index" json:"type"`
	Title    string           `gorm:"type:varchar(255);not null" json:"title"`
	Message  string           `gorm:"type:text" json:"message"`
	Icon     string           `gorm:"size:64" json:"icon"`
	Link     string           `gorm:"type:text" json:"link"`
	Priority Priority         `gorm:"size:16;not null;default:'normal'" json:"priority"`

	TargetUserID    string `gorm:"size:64;index" json:"target_user_id,omitempty"`
	TargetRole      string `gorm:"size:128" json:"target_role,omitempty"`
	TargetGroup     string `gorm:"size:128" json:"target_group,omitempty"`
	TargetBroadcast bool   `gorm:"not null" json:"target_broadcast,omitempty"`

	TemplateName string         `gorm:"size:128" json:"template_name,omitempty"`
	CreatedBy    string         `gorm:"size:64;index" json:"created_by"`
	ScheduledFor *time.Time     `gorm:"index" json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time     `gorm:"index" json:"expires_at,omitempty"`
	Promoted     bool           `gorm:"not null;index" json:"promoted"`
	PromotedAt   *time.Time     `json:"promoted_at,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
}

// Target returns the targeting descriptor stored on the notification.
func (n *Notification) Target() Target {
	return Target{
		UserID:    n.TargetUserID,
		Role:      n.TargetRole,
		Group:     n.TargetGroup,
		Broadcast: n.TargetBroadcast,
	}
}

// SetTarget copies the descriptor into the target columns.
func (n *Notification) SetTarget(t Target) {
	n.TargetUserID = t.UserID
	n.TargetRole = t.Role
	n.TargetGroup = t.Group
	n.TargetBroadcast = t.Broadcast
}

// Expired reports whether the notification has passed its expiry at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}
