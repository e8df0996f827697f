package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/pbxnotify/internal/channels"
	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

// DispatchConfig tunes channel delivery retries.
type DispatchConfig struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Lease       time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	return c
}

// DispatchResult summarises one dispatch sweep.
type DispatchResult struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// ChannelDispatcher drains queued channel deliveries. It never touches the
// in-app delivery ledger.
type ChannelDispatcher struct {
	db        *gorm.DB
	directory Directory
	registry  *channels.Registry
	cfg       DispatchConfig
	now       Clock
	log       *zap.Logger
}

// NewChannelDispatcher constructs a dispatcher. A nil registry means every
// channel is unconfigured and queued jobs fail permanently.
func NewChannelDispatcher(db *gorm.DB, directory Directory, registry *channels.Registry, cfg DispatchConfig) (*ChannelDispatcher, error) {
	if db == nil {
		return nil, errors.New("channel dispatcher: db is required")
	}
	if directory == nil {
		return nil, errors.New("channel dispatcher: directory is required")
	}
	return &ChannelDispatcher{
		db:        db,
		directory: directory,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		now:       systemClock,
		log:       logger.WithModule("dispatch"),
	}, nil
}

// WithClock overrides the dispatcher clock.
func (d *ChannelDispatcher) WithClock(clock Clock) *ChannelDispatcher {
	if clock != nil {
		d.now = clock
	}
	return d
}

// Enqueue queues one job per channel for the pair. Existing jobs are kept.
func (d *ChannelDispatcher) Enqueue(ctx context.Context, notificationID, recipientID string, chs []models.Channel) (int64, error) {
	ctx = ensureContext(ctx)
	if len(chs) == 0 {
		return 0, nil
	}

	now := d.now()
	jobs := make([]models.ChannelDelivery, 0, len(chs))
	for _, channel := range chs {
		if !channel.Valid() {
			return 0, apperrors.NewValidation("unknown channel %q", channel)
		}
		jobs = append(jobs, models.ChannelDelivery{
			NotificationID: notificationID,
			RecipientID:    recipientID,
			Channel:        channel,
			Status:         models.ChannelStatusPending,
			NextAttemptAt:  now,
		})
	}

	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&jobs)
	if result.Error != nil {
		return 0, fmt.Errorf("channel dispatcher: enqueue: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Sweep claims due jobs, sends them and records the outcome of each attempt.
// Jobs abandoned by a crashed worker are reclaimed once their lease lapses.
func (d *ChannelDispatcher) Sweep(ctx context.Context) (DispatchResult, error) {
	ctx = ensureContext(ctx)
	now := d.now()

	var due []models.ChannelDelivery
	if err := d.claimable(d.db.WithContext(ctx), now).
		Order("next_attempt_at ASC").
		Limit(d.cfg.BatchSize).
		Find(&due).Error; err != nil {
		return DispatchResult{}, fmt.Errorf("channel dispatcher: select due jobs: %w", err)
	}

	var (
		result DispatchResult
		errs   error
	)
	for i := range due {
		job := &due[i]
		claimed, err := d.claim(ctx, job, now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !claimed {
			continue
		}
		result.Claimed++

		outcome, err := d.process(ctx, job)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		switch outcome {
		case models.AttemptOutcomeDelivered:
			result.Delivered++
		case models.AttemptOutcomeRetry:
			result.Retried++
		case models.AttemptOutcomeFailed:
			result.Failed++
		}
	}
	return result, errs
}

func (d *ChannelDispatcher) claimable(tx *gorm.DB, now time.Time) *gorm.DB {
	return tx.Model(&models.ChannelDelivery{}).
		Where("((status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until <= ?))",
			models.ChannelStatusPending, now, models.ChannelStatusSending, now)
}

func (d *ChannelDispatcher) claim(ctx context.Context, job *models.ChannelDelivery, now time.Time) (bool, error) {
	lockedUntil := now.Add(d.cfg.Lease)
	result := d.claimable(d.db.WithContext(ctx), now).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       models.ChannelStatusSending,
			"locked_until": lockedUntil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("channel dispatcher: claim job %s: %w", job.ID, result.Error)
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	job.Status = models.ChannelStatusSending
	job.LockedUntil = &lockedUntil
	return true, nil
}

func (d *ChannelDispatcher) process(ctx context.Context, job *models.ChannelDelivery) (string, error) {
	attempt := job.Attempts + 1
	sendErr := d.send(ctx, job)
	now := d.now()

	outcome := models.AttemptOutcomeDelivered
	updates := map[string]any{
		"attempts":     attempt,
		"locked_until": nil,
	}
	switch {
	case sendErr == nil:
		updates["status"] = models.ChannelStatusDelivered
		updates["delivered_at"] = now
		updates["last_error"] = ""
	case channels.IsPermanent(sendErr) || attempt >= d.cfg.MaxAttempts:
		outcome = models.AttemptOutcomeFailed
		updates["status"] = models.ChannelStatusFailed
		updates["last_error"] = sendErr.Error()
	default:
		outcome = models.AttemptOutcomeRetry
		updates["status"] = models.ChannelStatusPending
		updates["next_attempt_at"] = now.Add(d.backoff(attempt))
		updates["last_error"] = sendErr.Error()
	}

	record := models.ChannelAttempt{
		NotificationID: job.NotificationID,
		RecipientID:    job.RecipientID,
		Channel:        job.Channel,
		Attempt:        attempt,
		AttemptedAt:    now,
		Outcome:        outcome,
	}
	if sendErr != nil {
		record.Error = sendErr.Error()
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("channel dispatcher: record attempt: %w", err)
	}
	if err := d.db.WithContext(ctx).
		Model(&models.ChannelDelivery{}).
		Where("id = ?", job.ID).
		Updates(updates).Error; err != nil {
		return "", fmt.Errorf("channel dispatcher: update job %s: %w", job.ID, err)
	}

	metrics.ChannelAttempts.WithLabelValues(string(job.Channel), outcome).Inc()
	if sendErr != nil {
		d.log.Warn("channel delivery attempt failed",
			zap.String("notification_id", job.NotificationID),
			zap.String("recipient_id", job.RecipientID),
			zap.String("channel", string(job.Channel)),
			zap.Int("attempt", attempt),
			zap.String("outcome", outcome),
			zap.Error(sendErr),
		)
	}
	return outcome, nil
}

func (d *ChannelDispatcher) send(ctx context.Context, job *models.ChannelDelivery) error {
	var notification models.Notification
	if err := d.db.WithContext(ctx).Where("id = ?", job.NotificationID).Take(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return channels.Permanent(fmt.Errorf("notification %s no longer exists", job.NotificationID))
		}
		return fmt.Errorf("load notification: %w", err)
	}
	if notification.Expired(d.now()) {
		return channels.Permanent(fmt.Errorf("notification %s expired", notification.ID))
	}

	sender, ok := d.registry.Lookup(job.Channel)
	if !ok {
		return channels.Permanent(fmt.Errorf("channel %s is not configured", job.Channel))
	}

	user, err := d.directory.User(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return channels.Permanent(err)
		}
		return fmt.Errorf("load recipient: %w", err)
	}

	return sender.Send(ctx, channels.Envelope{
		IdempotencyKey: job.IdempotencyKey(),
		NotificationID: notification.ID,
		Recipient: channels.Recipient{
			ID:    user.ID,
			Name:  defaultIfEmpty(user.DisplayName, user.Username),
			Email: user.Email,
			Phone: user.Phone,
		},
		Type:     notification.Type,
		Priority: notification.Priority,
		Title:    notification.Title,
		Message:  notification.Message,
		Link:     notification.Link,
	})
}

// backoff returns the delay before retrying after the given attempt number.
func (d *ChannelDispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}
