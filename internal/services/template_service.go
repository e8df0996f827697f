package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

// TemplateInput carries operator supplied template attributes.
type TemplateInput struct {
	Name            string
	Type            models.NotificationType
	TitlePattern    string
	MessagePattern  string
	DefaultIcon     string
	DefaultPriority models.Priority
	Description     string
}

// TemplateService manages the notification template catalog.
type TemplateService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *gorm.DB, audit *AuditService) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	return &TemplateService{db: db, audit: audit}, nil
}

// List returns every template ordered by name.
func (s *TemplateService) List(ctx context.Context) ([]models.NotificationTemplate, error) {
	ctx = ensureContext(ctx)

	var templates []models.NotificationTemplate
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("template service: list templates: %w", err)
	}
	return templates, nil
}

// Get loads a template by name.
func (s *TemplateService) Get(ctx context.Context, name string) (*models.NotificationTemplate, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidation("template name is required")
	}

	var tpl models.NotificationTemplate
	if err := s.db.WithContext(ctx).Where("name = ?", name).Take(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("template %q not found", name))
		}
		return nil, fmt.Errorf("template service: get template: %w", err)
	}
	return &tpl, nil
}

// Create adds a template to the catalog.
func (s *TemplateService) Create(ctx context.Context, input TemplateInput) (*models.NotificationTemplate, error) {
	ctx = ensureContext(ctx)

	tpl, err := buildTemplate(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage(fmt.Sprintf("template %q already exists", tpl.Name))
		}
		return nil, fmt.Errorf("template service: create template: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "template.create",
		Resource: "template:" + tpl.Name,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"type": tpl.Type},
	})
	return tpl, nil
}

// Update replaces the patterns and defaults of an existing template. The name is immutable.
func (s *TemplateService) Update(ctx context.Context, name string, input TemplateInput) (*models.NotificationTemplate, error) {
	ctx = ensureContext(ctx)

	existing, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	input.Name = existing.Name
	updated, err := buildTemplate(input)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"type":             updated.Type,
		"title_pattern":    updated.TitlePattern,
		"message_pattern":  updated.MessagePattern,
		"default_icon":     updated.DefaultIcon,
		"default_priority": updated.DefaultPriority,
		"description":      updated.Description,
	}
	if err := s.db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("template service: update template: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "template.update",
		Resource: "template:" + existing.Name,
		Result:   AuditResultSuccess,
	})
	return s.Get(ctx, existing.Name)
}

// Delete removes a template. Notifications keep their rendered text and template name.
func (s *TemplateService) Delete(ctx context.Context, name string) error {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.NotificationTemplate{})
	if result.Error != nil {
		return fmt.Errorf("template service: delete template: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage(fmt.Sprintf("template %q not found", name))
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "template.delete",
		Resource: "template:" + name,
		Result:   AuditResultSuccess,
	})
	return nil
}

// Render expands the named template with vars without persisting anything.
func (s *TemplateService) Render(ctx context.Context, name string, vars map[string]any) (*models.NotificationTemplate, Rendered, error) {
	tpl, err := s.Get(ctx, name)
	if err != nil {
		return nil, Rendered{}, err
	}
	out, err := RenderTemplate(*tpl, vars)
	if err != nil {
		return nil, Rendered{}, err
	}
	return tpl, out, nil
}

func buildTemplate(input TemplateInput) (*models.NotificationTemplate, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidation("template name is required")
	}
	if !input.Type.Valid() {
		return nil, apperrors.NewValidation("unknown notification type %q", input.Type)
	}

	priority := input.DefaultPriority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidation("unknown priority %q", input.DefaultPriority)
	}

	title := strings.TrimSpace(input.TitlePattern)
	if title == "" {
		return nil, apperrors.NewValidation("title pattern is required")
	}
	if _, err := parsePattern(name+".title", title); err != nil {
		return nil, apperrors.NewValidation("title pattern: %v", err)
	}
	message := strings.TrimSpace(input.MessagePattern)
	if _, err := parsePattern(name+".message", message); err != nil {
		return nil, apperrors.NewValidation("message pattern: %v", err)
	}

	return &models.NotificationTemplate{
		Name:            name,
		Type:            input.Type,
		TitlePattern:    title,
		MessagePattern:  message,
		DefaultIcon:     strings.TrimSpace(input.DefaultIcon),
		DefaultPriority: priority,
		Description:     strings.TrimSpace(input.Description),
	}, nil
}
