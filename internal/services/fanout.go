package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

// ChannelQueue accepts out-of-band delivery jobs produced by fan-out.
type ChannelQueue interface {
	Enqueue(ctx context.Context, notificationID, recipientID string, channels []models.Channel) (int64, error)
}

// FanOutResult reports what one fan-out produced.
type FanOutResult struct {
	Recipients   int `json:"recipients"`
	Materialized int `json:"materialized"`
	Suppressed   int `json:"suppressed"`
	QuietHours   int `json:"quiet_hours"`
	ChannelJobs  int `json:"channel_jobs"`
}

// FanOutService expands a promoted notification into ledger rows and channel jobs.
type FanOutService struct {
	resolver    *TargetResolver
	preferences *PreferenceService
	ledger      *DeliveryLedger
	queue       ChannelQueue
	now         Clock
	log         *zap.Logger
}

// NewFanOutService wires the fan-out pipeline. queue may be nil when no
// channel transport is configured.
func NewFanOutService(resolver *TargetResolver, preferences *PreferenceService, ledger *DeliveryLedger, queue ChannelQueue) (*FanOutService, error) {
	if resolver == nil {
		return nil, errors.New("fanout: target resolver is required")
	}
	if preferences == nil {
		return nil, errors.New("fanout: preference service is required")
	}
	if ledger == nil {
		return nil, errors.New("fanout: delivery ledger is required")
	}
	return &FanOutService{
		resolver:    resolver,
		preferences: preferences,
		ledger:      ledger,
		queue:       queue,
		now:         systemClock,
		log:         logger.WithModule("fanout"),
	}, nil
}

// WithClock overrides the clock used for quiet hour evaluation.
func (f *FanOutService) WithClock(clock Clock) *FanOutService {
	if clock != nil {
		f.now = clock
	}
	return f
}

// FanOut resolves the target, applies preferences and writes one delivered
// ledger row per remaining recipient. Resolution or ledger failures abort
// before any row is written; channel enqueue failures are collected and
// returned together after every recipient has been processed.
func (f *FanOutService) FanOut(ctx context.Context, notification *models.Notification) (FanOutResult, error) {
	ctx = ensureContext(ctx)
	var result FanOutResult
	if notification == nil {
		return result, errors.New("fanout: notification is required")
	}

	recipients, err := f.resolver.Resolve(ctx, notification.Target())
	if err != nil {
		return result, fmt.Errorf("fanout: %w", err)
	}
	result.Recipients = len(recipients)
	if len(recipients) == 0 {
		f.log.Info("notification resolved to no recipients", zap.String("notification_id", notification.ID))
		return result, nil
	}

	prefs, err := f.preferences.GetMany(ctx, recipients)
	if err != nil {
		return result, fmt.Errorf("fanout: %w", err)
	}

	now := f.now()
	decisions := make(map[string]Decision, len(recipients))
	accepted := make([]string, 0, len(recipients))
	for _, id := range recipients {
		decision := Decide(prefs[id], notification, now)
		if decision.SuppressInApp {
			result.Suppressed++
			metrics.PreferenceSuppressions.WithLabelValues("opt_out").Inc()
			continue
		}
		if decision.InQuietHours {
			result.QuietHours++
			metrics.PreferenceSuppressions.WithLabelValues("quiet_hours").Inc()
		}
		decisions[id] = decision
		accepted = append(accepted, id)
	}

	inserted, err := f.ledger.Deliver(ctx, notification.ID, accepted)
	if err != nil {
		return result, fmt.Errorf("fanout: %w", err)
	}
	result.Materialized = int(inserted)
	metrics.DeliveriesMaterialized.Add(float64(inserted))

	var errs error
	for _, id := range accepted {
		channels := decisions[id].ChannelsToAttempt
		if len(channels) == 0 || f.queue == nil {
			continue
		}
		queued, err := f.queue.Enqueue(ctx, notification.ID, id, channels)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", id, err))
			continue
		}
		result.ChannelJobs += int(queued)
	}

	if errs != nil {
		f.log.Warn("fan-out completed with recipient failures",
			zap.String("notification_id", notification.ID),
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
	}
	f.log.Debug("fan-out complete",
		zap.String("notification_id", notification.ID),
		zap.Int("recipients", result.Recipients),
		zap.Int("materialized", result.Materialized),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("channel_jobs", result.ChannelJobs),
	)
	return result, errs
}
