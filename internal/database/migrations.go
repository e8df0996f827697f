package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/permissions"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Group{},
		&models.Permission{},
		&models.Notification{},
		&models.Delivery{},
		&models.ChannelDelivery{},
		&models.ChannelAttempt{},
		&models.NotificationPreference{},
		&models.NotificationTemplate{},
		&models.CacheEntry{},
		&models.AuditLog{},
	)
}

// SeedData populates permissions, default roles, and the template catalog.
func SeedData(db *gorm.DB) error {
	if err := permissions.Sync(context.Background(), db); err != nil {
		return err
	}

	roles := []models.Role{
		{
			BaseModel:   models.BaseModel{ID: "admin"},
			Name:        "admin",
			Description: "Full notification administration",
			IsSystem:    true,
		},
		{
			BaseModel:   models.BaseModel{ID: "producer"},
			Name:        "producer",
			Description: "Internal services that author notifications",
			IsSystem:    true,
		},
		{
			BaseModel:   models.BaseModel{ID: "user"},
			Name:        "user",
			Description: "Standard PBX user",
			IsSystem:    true,
		},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{BaseModel: models.BaseModel{ID: role.ID}}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	if err := assignRolePermissions(db, "admin", permissions.IDs()); err != nil {
		return fmt.Errorf("assign admin permissions: %w", err)
	}
	if err := assignRolePermissions(db, "producer", []string{permissions.NotificationPublish, permissions.TemplateView}); err != nil {
		return fmt.Errorf("assign producer permissions: %w", err)
	}

	for _, tpl := range defaultTemplates() {
		if err := db.Where(models.NotificationTemplate{Name: tpl.Name}).Attrs(tpl).FirstOrCreate(&models.NotificationTemplate{}).Error; err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.Name, err)
		}
	}

	return nil
}

func defaultTemplates() []models.NotificationTemplate {
	return []models.NotificationTemplate{
		{
			Name:            "missed_call",
			Type:            models.TypeCall,
			TitlePattern:    "Missed call from {{.caller}}",
			MessagePattern:  "{{.caller_name}} ({{.caller}}) called at {{.time}}",
			DefaultIcon:     "phone-missed",
			DefaultPriority: models.PriorityNormal,
			Description:     "Raised by the missed call detector",
		},
		{
			Name:            "voicemail",
			Type:            models.TypeVoicemail,
			TitlePattern:    "New voicemail from {{.caller}}",
			MessagePattern:  "{{.duration}}s message in mailbox {{.mailbox}}",
			DefaultIcon:     "voicemail",
			DefaultPriority: models.PriorityHigh,
			Description:     "Raised when a voicemail lands in a mailbox",
		},
		{
			Name:            "sms_received",
			Type:            models.TypeSMS,
			TitlePattern:    "SMS from {{.from}}",
			MessagePattern:  "{{.body}}",
			DefaultIcon:     "message-square",
			DefaultPriority: models.PriorityNormal,
			Description:     "Raised by SMS ingestion",
		},
		{
			Name:            "task_assigned",
			Type:            models.TypeTask,
			TitlePattern:    "Task assigned: {{.task}}",
			MessagePattern:  "{{.assigner}} assigned you a task due {{.due}}",
			DefaultIcon:     "clipboard-check",
			DefaultPriority: models.PriorityNormal,
			Description:     "Raised when a task is assigned",
		},
		{
			Name:            "announcement",
			Type:            models.TypeAnnouncement,
			TitlePattern:    "{{.title}}",
			MessagePattern:  "{{.body}}",
			DefaultIcon:     "megaphone",
			DefaultPriority: models.PriorityNormal,
			Description:     "Operator broadcast",
		},
		{
			Name:            "system_alert",
			Type:            models.TypeAlert,
			TitlePattern:    "{{.component}} alert",
			MessagePattern:  "{{.detail}}",
			DefaultIcon:     "alert-triangle",
			DefaultPriority: models.PriorityUrgent,
			Description:     "Raised by PBX health monitoring",
		},
	}
}
