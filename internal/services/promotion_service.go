package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

// Promotion outcomes used for metrics.
const (
	promotionWon   = "won"
	promotionLost  = "lost"
	promotionError = "error"
)

// PromotionResult summarises one promotion sweep.
type PromotionResult struct {
	Due       int `json:"due"`
	Promoted  int `json:"promoted"`
	RaceLost  int `json:"race_lost"`
	Delivered int `json:"delivered"`
}

// PromotionService moves due scheduled notifications into fan-out. The
// promoted flag is the only mutual exclusion between concurrent sweepers.
type PromotionService struct {
	db        *gorm.DB
	fanout    *FanOutService
	batchSize int
	now       Clock
	log       *zap.Logger
}

// NewPromotionService constructs a PromotionService.
func NewPromotionService(db *gorm.DB, fanout *FanOutService, batchSize int) (*PromotionService, error) {
	if db == nil {
		return nil, errors.New("promotion service: db is required")
	}
	if fanout == nil {
		return nil, errors.New("promotion service: fanout is required")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PromotionService{
		db:        db,
		fanout:    fanout,
		batchSize: batchSize,
		now:       systemClock,
		log:       logger.WithModule("promotion"),
	}, nil
}

// WithClock overrides the promotion clock.
func (s *PromotionService) WithClock(clock Clock) *PromotionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TryPromote flips the promoted flag with a conditional update. It reports
// false, without error, when another worker already won.
func (s *PromotionService) TryPromote(ctx context.Context, notificationID string) (bool, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND promoted = ?", notificationID, false).
		Updates(map[string]any{
			"promoted":    true,
			"promoted_at": s.now(),
		})
	if result.Error != nil {
		metrics.Promotions.WithLabelValues(promotionError).Inc()
		return false, fmt.Errorf("promotion service: flip promoted: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		metrics.Promotions.WithLabelValues(promotionLost).Inc()
		return false, nil
	}
	metrics.Promotions.WithLabelValues(promotionWon).Inc()
	return true, nil
}

// Promote runs TryPromote and, only when it wins, fans the notification out.
func (s *PromotionService) Promote(ctx context.Context, notification *models.Notification) (bool, FanOutResult, error) {
	won, err := s.TryPromote(ctx, notification.ID)
	if err != nil || !won {
		return false, FanOutResult{}, err
	}
	result, err := s.fanout.FanOut(ctx, notification)
	return true, result, err
}

// Sweep promotes every notification whose schedule has come due, oldest
// first. Immediate notifications whose inline promotion never happened are
// picked up here too.
func (s *PromotionService) Sweep(ctx context.Context) (PromotionResult, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var due []models.Notification
	if err := s.db.WithContext(ctx).
		Where("promoted = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)", false, now).
		Order("COALESCE(scheduled_for, created_at) ASC").
		Order("id ASC").
		Limit(s.batchSize).
		Find(&due).Error; err != nil {
		return PromotionResult{}, fmt.Errorf("promotion service: select due: %w", err)
	}

	result := PromotionResult{Due: len(due)}
	var errs error
	for i := range due {
		notification := &due[i]
		won, fanout, err := s.Promote(ctx, notification)
		if won {
			result.Promoted++
			result.Delivered += fanout.Materialized
		} else if err == nil {
			result.RaceLost++
			s.log.Debug("promotion race lost", zap.String("notification_id", notification.ID))
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notification %s: %w", notification.ID, err))
		}
	}

	if result.Promoted > 0 || errs != nil {
		s.log.Info("promotion sweep finished",
			zap.Int("due", result.Due),
			zap.Int("promoted", result.Promoted),
			zap.Int("race_lost", result.RaceLost),
			zap.Int("delivered", result.Delivered),
			zap.Error(errs),
		)
	}
	return result, errs
}
