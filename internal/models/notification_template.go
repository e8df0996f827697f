package models

// NotificationTemplate is a named, operator-managed title/message pattern.
type NotificationTemplate struct {
	BaseModel

	Name            string           `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Type            NotificationType `gorm:"size:32;not null" json:"type"`
	TitlePattern    string           `gorm:"type:text;not null" json:"title_pattern"`
	MessagePattern  string           `gorm:"type:text" json:"message_pattern"`
	DefaultIcon     string           `gorm:"size:64" json:"default_icon"`
	DefaultPriority Priority         `gorm:"size:16;not null;default:'normal'" json:"default_priority"`
	Description     string           `json:"description"`
}
