package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

// CreateNotificationInput is a producer's authoring request. Either Title or
// TemplateName must be supplied.
type CreateNotificationInput struct {
	Type         models.NotificationType
	Title        string
	Message      string
	Icon         string
	Link         string
	Priority     models.Priority
	Target       models.Target
	TemplateName string
	Vars         map[string]any
	ScheduleAt   *time.Time
	ExpiresAt    *time.Time
	Metadata     map[string]any
	CreatedBy    string
}

// CreateNotificationResult describes an accepted notification.
type CreateNotificationResult struct {
	Notification *models.Notification `json:"notification"`
	Scheduled    bool                 `json:"scheduled"`
	FanOut       *FanOutResult        `json:"fanout,omitempty"`
}

// NotificationStatus is the producer view of a notification and its ledger.
type NotificationStatus struct {
	Notification *models.Notification `json:"notification"`
	Stats        DeliveryStats        `json:"stats"`
}

// NotificationService is the producer facing authoring API.
type NotificationService struct {
	db        *gorm.DB
	templates *TemplateService
	promotion *PromotionService
	ledger    *DeliveryLedger
	audit     *AuditService
	now       Clock
	log       *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, templates *TemplateService, promotion *PromotionService, ledger *DeliveryLedger, audit *AuditService) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if promotion == nil {
		return nil, errors.New("notification service: promotion service is required")
	}
	if ledger == nil {
		return nil, errors.New("notification service: delivery ledger is required")
	}
	return &NotificationService{
		db:        db,
		templates: templates,
		promotion: promotion,
		ledger:    ledger,
		audit:     audit,
		now:       systemClock,
		log:       logger.WithModule("notifications"),
	}, nil
}

// WithClock overrides the authoring clock.
func (s *NotificationService) WithClock(clock Clock) *NotificationService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create validates and stores a notification. Immediate notifications are
// promoted and fanned out before Create returns; scheduled ones wait for the
// promotion sweep. Nothing is stored when validation fails.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*CreateNotificationResult, error) {
	ctx = ensureContext(ctx)

	notification, err := s.build(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	scheduled := notification.ScheduledFor != nil
	schedule := "immediate"
	if scheduled {
		schedule = "scheduled"
	}
	metrics.NotificationsAuthored.WithLabelValues(string(notification.Type), schedule).Inc()

	target := notification.Target()
	kind, _ := target.Kind()
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "notification.create",
		Resource: "notification:" + notification.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"type":        notification.Type,
			"priority":    notification.Priority,
			"target_kind": kind,
			"scheduled":   scheduled,
			"template":    notification.TemplateName,
		},
	})

	result := &CreateNotificationResult{Notification: notification, Scheduled: scheduled}
	if scheduled {
		return result, nil
	}

	won, fanout, err := s.promotion.Promote(ctx, notification)
	if won {
		notification.Promoted = true
		result.FanOut = &fanout
	}
	if err != nil {
		s.log.Warn("immediate fan-out incomplete",
			zap.String("notification_id", notification.ID),
			zap.Bool("promoted", won),
			zap.Error(err),
		)
	}
	return result, nil
}

func (s *NotificationService) build(ctx context.Context, input CreateNotificationInput) (*models.Notification, error) {
	target := input.Target.Normalized()
	if _, err := target.Kind(); err != nil {
		return nil, apperrors.NewValidation("malformed target: %v", err)
	}

	notification := &models.Notification{
		Type:         input.Type,
		Title:        strings.TrimSpace(input.Title),
		Message:      strings.TrimSpace(input.Message),
		Icon:         strings.TrimSpace(input.Icon),
		Link:         strings.TrimSpace(input.Link),
		Priority:     input.Priority,
		TemplateName: strings.TrimSpace(input.TemplateName),
		CreatedBy:    defaultIfEmpty(strings.TrimSpace(input.CreatedBy), actorIdentity(ctx)),
	}
	notification.SetTarget(target)

	if notification.TemplateName != "" {
		if s.templates == nil {
			return nil, apperrors.NewValidation("templates are not available")
		}
		tpl, rendered, err := s.templates.Render(ctx, notification.TemplateName, input.Vars)
		if err != nil {
			return nil, err
		}
		if notification.Type == "" {
			notification.Type = tpl.Type
		}
		notification.Title = defaultIfEmpty(notification.Title, rendered.Title)
		notification.Message = defaultIfEmpty(notification.Message, rendered.Message)
		notification.Icon = defaultIfEmpty(notification.Icon, rendered.Icon)
		if notification.Priority == "" {
			notification.Priority = rendered.Priority
		}
	}

	if !notification.Type.Valid() {
		return nil, apperrors.NewValidation("unknown notification type %q", notification.Type)
	}
	if notification.Title == "" {
		return nil, apperrors.NewValidation("title or template_name is required")
	}
	if notification.Priority == "" {
		notification.Priority = models.PriorityNormal
	}
	if !notification.Priority.Valid() {
		return nil, apperrors.NewValidation("unknown priority %q", notification.Priority)
	}
	notification.Icon = defaultIfEmpty(notification.Icon, DefaultIcon(notification.Type))

	now := s.now()
	startsAt := now
	if input.ScheduleAt != nil && input.ScheduleAt.After(now) {
		at := input.ScheduleAt.UTC()
		notification.ScheduledFor = &at
		startsAt = at
	}
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(startsAt) {
			return nil, apperrors.NewValidation("expires_at must be after the delivery time")
		}
		expires := input.ExpiresAt.UTC()
		notification.ExpiresAt = &expires
	}

	if len(input.Metadata) > 0 {
		payload, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, apperrors.NewValidation("metadata is not serialisable: %v", err)
		}
		notification.Metadata = datatypes.JSON(payload)
	}
	return notification, nil
}

// Unschedule withdraws a notification that has not been promoted yet.
func (s *NotificationService) Unschedule(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)

	result := s.db.WithContext(ctx).
		Where("id = ? AND promoted = ?", id, false).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: unschedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("notification service: unschedule lookup: %w", err)
		}
		if count == 0 {
			return apperrors.ErrNotFound.WithMessage("notification not found")
		}
		return apperrors.ErrAlreadyPromoted
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "notification.unschedule",
		Resource: "notification:" + id,
		Result:   AuditResultSuccess,
	})
	return nil
}

// Get returns a notification with its delivery statistics.
func (s *NotificationService) Get(ctx context.Context, id string) (*NotificationStatus, error) {
	ctx = ensureContext(ctx)

	var notification models.Notification
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("notification not found")
		}
		return nil, fmt.Errorf("notification service: get notification: %w", err)
	}

	stats, err := s.ledger.Stats(ctx, notification.ID)
	if err != nil {
		return nil, err
	}
	return &NotificationStatus{Notification: &notification, Stats: stats}, nil
}
