package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/permissions"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

// QuietHoursInput describes a daily quiet window in the recipient's timezone.
type QuietHoursInput struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// PreferenceInput is the full replacement payload for a recipient's preferences.
type PreferenceInput struct {
	OptedOutTypes  []models.NotificationType
	Channels       []models.Channel
	QuietHours     *QuietHoursInput
	SoundEnabled   *bool
	DesktopEnabled *bool
}

// PermissionChecker evaluates whether an identity holds a permission.
type PermissionChecker interface {
	Check(ctx context.Context, userID, permissionID string) (bool, error)
}

// PreferenceService stores per-recipient delivery preferences.
type PreferenceService struct {
	db      *gorm.DB
	audit   *AuditService
	checker PermissionChecker
}

// NewPreferenceService constructs a PreferenceService. checker may be nil, in
// which case only recipients may manage their own preferences.
func NewPreferenceService(db *gorm.DB, audit *AuditService, checker PermissionChecker) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db, audit: audit, checker: checker}, nil
}

// Get returns the stored preferences or system defaults when none exist.
func (s *PreferenceService) Get(ctx context.Context, recipientID string) (models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return models.NotificationPreference{}, apperrors.NewValidation("recipient id is required")
	}

	var pref models.NotificationPreference
	err := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID).Take(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultPreference(recipientID), nil
	}
	if err != nil {
		return models.NotificationPreference{}, fmt.Errorf("preference service: load preference: %w", err)
	}
	return pref, nil
}

// GetMany loads preferences for every id in one query, filling defaults.
func (s *PreferenceService) GetMany(ctx context.Context, recipientIDs []string) (map[string]models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	ids := normaliseIDs(recipientIDs)
	out := make(map[string]models.NotificationPreference, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.NotificationPreference
	for start := 0; start < len(ids); start += preferenceBatchSize {
		end := min(start+preferenceBatchSize, len(ids))
		var batch []models.NotificationPreference
		if err := s.db.WithContext(ctx).Where("recipient_id IN ?", ids[start:end]).Find(&batch).Error; err != nil {
			return nil, fmt.Errorf("preference service: load preferences: %w", err)
		}
		rows = append(rows, batch...)
	}

	for _, row := range rows {
		out[row.RecipientID] = row
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = models.DefaultPreference(id)
		}
	}
	return out, nil
}

const preferenceBatchSize = 500

// Replace overwrites the recipient's preferences, creating the row on first write.
func (s *PreferenceService) Replace(ctx context.Context, recipientID string, input PreferenceInput) (models.NotificationPreference, error) {
	ctx = ensureContext(ctx)
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return models.NotificationPreference{}, apperrors.NewValidation("recipient id is required")
	}

	pref, err := buildPreference(recipientID, input)
	if err != nil {
		return models.NotificationPreference{}, err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"opted_out_types", "channels",
			"quiet_hours_start", "quiet_hours_end", "quiet_hours_timezone",
			"sound_enabled", "desktop_enabled", "updated_at",
		}),
	}).Create(&pref).Error
	if err != nil {
		return models.NotificationPreference{}, fmt.Errorf("preference service: save preference: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "preference.update",
		Resource: "preferences:" + recipientID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"opted_out_types": pref.OptedOutTypes,
			"channels":        pref.Channels,
			"quiet_hours":     pref.HasQuietHours(),
		},
	})

	return s.Get(ctx, recipientID)
}

// CanManage reports whether actorID may read or replace recipientID's preferences.
func (s *PreferenceService) CanManage(ctx context.Context, actorID, recipientID string) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, nil
	}
	if actorID == strings.TrimSpace(recipientID) {
		return true, nil
	}
	if s.checker == nil {
		return false, nil
	}
	allowed, err := s.checker.Check(ensureContext(ctx), actorID, permissions.PreferenceManage)
	if err != nil {
		return false, fmt.Errorf("preference service: check permission: %w", err)
	}
	return allowed, nil
}

func buildPreference(recipientID string, input PreferenceInput) (models.NotificationPreference, error) {
	pref := models.DefaultPreference(recipientID)

	for _, typ := range input.OptedOutTypes {
		if !typ.Valid() {
			return pref, apperrors.NewValidation("unknown notification type %q", typ)
		}
		if !pref.OptedOut(typ) {
			pref.OptedOutTypes = append(pref.OptedOutTypes, typ)
		}
	}
	for _, channel := range input.Channels {
		if !channel.Valid() {
			return pref, apperrors.NewValidation("unknown channel %q", channel)
		}
		if !containsChannel(pref.Channels, channel) {
			pref.Channels = append(pref.Channels, channel)
		}
	}

	if quiet := input.QuietHours; quiet != nil {
		start := strings.TrimSpace(quiet.Start)
		end := strings.TrimSpace(quiet.End)
		if _, err := parseClock(start); err != nil {
			return pref, apperrors.NewValidation("quiet hours start: %v", err)
		}
		if _, err := parseClock(end); err != nil {
			return pref, apperrors.NewValidation("quiet hours end: %v", err)
		}
		tz := strings.TrimSpace(quiet.Timezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return pref, apperrors.NewValidation("unknown timezone %q", tz)
			}
		}
		pref.QuietHoursStart = start
		pref.QuietHoursEnd = end
		pref.QuietHoursTimezone = tz
	}

	if input.SoundEnabled != nil {
		pref.SoundEnabled = *input.SoundEnabled
	}
	if input.DesktopEnabled != nil {
		pref.DesktopEnabled = *input.DesktopEnabled
	}
	if pref.OptedOutTypes == nil {
		pref.OptedOutTypes = datatypes.JSONSlice[models.NotificationType]{}
	}
	if pref.Channels == nil {
		pref.Channels = datatypes.JSONSlice[models.Channel]{}
	}
	return pref, nil
}
