package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/channels"
	"github.com/charlesng35/pbxnotify/internal/models"
)

type scriptedSender struct {
	mu      sync.Mutex
	channel models.Channel
	errs    []error
	sent    []channels.Envelope
}

func (s *scriptedSender) Channel() models.Channel { return s.channel }

func (s *scriptedSender) Send(_ context.Context, env channels.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newDispatcher(t *testing.T, senders ...channels.Sender) (*ChannelDispatcher, *gorm.DB, *fakeClock) {
	t.Helper()
	db := openEngineDB(t)
	dir, err := NewDatabaseDirectory(db)
	require.NoError(t, err)
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	dispatcher, err := NewChannelDispatcher(db, dir, channels.NewRegistry(senders...), DispatchConfig{
		BatchSize:   10,
		MaxAttempts: 3,
		BaseBackoff: time.Minute,
		MaxBackoff:  5 * time.Minute,
		Lease:       2 * time.Minute,
	})
	require.NoError(t, err)
	return dispatcher.WithClock(clock.Now), db, clock
}

func loadJob(t *testing.T, db *gorm.DB, nid, rid string, channel models.Channel) models.ChannelDelivery {
	t.Helper()
	var job models.ChannelDelivery
	require.NoError(t, db.Where("notification_id = ? AND recipient_id = ? AND channel = ?", nid, rid, channel).Take(&job).Error)
	return job
}

func TestDispatcherDeliversAndRecordsAttempt(t *testing.T) {
	email := &scriptedSender{channel: models.ChannelEmail}
	dispatcher, db, _ := newDispatcher(t, email)
	ctx := context.Background()
	insertNotification(t, db, "n1", "New voicemail", func(n *models.Notification) {
		n.Type = models.TypeVoicemail
		n.Priority = models.PriorityHigh
	})

	queued, err := dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelEmail})
	require.NoError(t, err)
	require.Equal(t, int64(1), queued)
	queued, err = dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelEmail})
	require.NoError(t, err)
	require.Zero(t, queued)

	result, err := dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, DispatchResult{Claimed: 1, Delivered: 1}, result)

	require.Len(t, email.sent, 1)
	env := email.sent[0]
	require.Equal(t, "n1:2000:email", env.IdempotencyKey)
	require.Equal(t, "alice@pbx.test", env.Recipient.Email)
	require.Equal(t, "New voicemail", env.Title)
	require.Equal(t, models.PriorityHigh, env.Priority)

	job := loadJob(t, db, "n1", "2000", models.ChannelEmail)
	require.Equal(t, models.ChannelStatusDelivered, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.DeliveredAt)
	require.Nil(t, job.LockedUntil)

	var attempts []models.ChannelAttempt
	require.NoError(t, db.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	require.Equal(t, models.AttemptOutcomeDelivered, attempts[0].Outcome)

	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Claimed, "delivered jobs are not resent")
}

func TestDispatcherRetriesWithBackoffThenFails(t *testing.T) {
	transient := errors.New("smtp 451 try again")
	email := &scriptedSender{channel: models.ChannelEmail, errs: []error{transient, transient, transient}}
	dispatcher, db, clock := newDispatcher(t, email)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	_, err := dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelEmail})
	require.NoError(t, err)

	result, err := dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Retried)
	job := loadJob(t, db, "n1", "2000", models.ChannelEmail)
	require.Equal(t, models.ChannelStatusPending, job.Status)
	require.True(t, job.NextAttemptAt.Equal(clock.Now().Add(time.Minute)))
	require.Equal(t, transient.Error(), job.LastError)

	// not due yet
	clock.Advance(30 * time.Second)
	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Claimed)

	clock.Advance(30 * time.Second)
	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Retried)
	job = loadJob(t, db, "n1", "2000", models.ChannelEmail)
	require.True(t, job.NextAttemptAt.Equal(clock.Now().Add(2*time.Minute)))

	clock.Advance(2 * time.Minute)
	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	job = loadJob(t, db, "n1", "2000", models.ChannelEmail)
	require.Equal(t, models.ChannelStatusFailed, job.Status)
	require.Equal(t, 3, job.Attempts)

	clock.Advance(time.Hour)
	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Claimed, "failed is terminal")
	require.Equal(t, 3, email.count())

	var outcomes []string
	require.NoError(t, db.Model(&models.ChannelAttempt{}).Order("attempt ASC").Pluck("outcome", &outcomes).Error)
	require.Equal(t, []string{models.AttemptOutcomeRetry, models.AttemptOutcomeRetry, models.AttemptOutcomeFailed}, outcomes)
}

func TestDispatcherPermanentFailures(t *testing.T) {
	sms := &scriptedSender{channel: models.ChannelSMS, errs: []error{channels.Permanent(errors.New("no phone"))}}
	dispatcher, db, _ := newDispatcher(t, sms)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")

	_, err := dispatcher.Enqueue(ctx, "n1", "2002", []models.Channel{models.ChannelSMS, models.ChannelPush})
	require.NoError(t, err)
	_, err = dispatcher.Enqueue(ctx, "n1", "unknown", []models.Channel{models.ChannelSMS})
	require.NoError(t, err)

	result, err := dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, DispatchResult{Claimed: 3, Failed: 3}, result)

	require.Contains(t, loadJob(t, db, "n1", "2002", models.ChannelPush).LastError, "not configured")
	require.Contains(t, loadJob(t, db, "n1", "2002", models.ChannelSMS).LastError, "no phone")
	require.Contains(t, loadJob(t, db, "n1", "unknown", models.ChannelSMS).LastError, "not found")
	require.Equal(t, 1, sms.count(), "unknown recipients never reach the transport")
}

func TestDispatcherSkipsExpiredNotifications(t *testing.T) {
	push := &scriptedSender{channel: models.ChannelPush}
	dispatcher, db, clock := newDispatcher(t, push)
	ctx := context.Background()
	expires := clock.Now().Add(time.Minute)
	insertNotification(t, db, "n1", "Conference starting", func(n *models.Notification) { n.ExpiresAt = &expires })
	_, err := dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelPush})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	result, err := dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Zero(t, push.count())
}

func TestDispatcherReclaimsStaleLeases(t *testing.T) {
	push := &scriptedSender{channel: models.ChannelPush}
	dispatcher, db, clock := newDispatcher(t, push)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	_, err := dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelPush})
	require.NoError(t, err)

	// a worker claimed the job and died
	lease := clock.Now().Add(2 * time.Minute)
	require.NoError(t, db.Model(&models.ChannelDelivery{}).Where("recipient_id = ?", "2000").
		Updates(map[string]any{"status": models.ChannelStatusSending, "locked_until": lease}).Error)

	result, err := dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Claimed)

	clock.Advance(3 * time.Minute)
	result, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Delivered)
}

func TestDispatcherFailuresLeaveDeliveryRowsAlone(t *testing.T) {
	email := &scriptedSender{channel: models.ChannelEmail, errs: []error{channels.Permanent(errors.New("bounced"))}}
	dispatcher, db, _ := newDispatcher(t, email)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	ledger, err := NewDeliveryLedger(db)
	require.NoError(t, err)
	_, err = ledger.Materialize(ctx, "n1", []string{"2000"})
	require.NoError(t, err)
	_, err = ledger.MarkDelivered(ctx, "n1", "2000")
	require.NoError(t, err)
	_, err = dispatcher.Enqueue(ctx, "n1", "2000", []models.Channel{models.ChannelEmail})
	require.NoError(t, err)

	_, err = dispatcher.Sweep(ctx)
	require.NoError(t, err)

	row, err := ledger.Get(ctx, "2000", "n1")
	require.NoError(t, err)
	require.NotNil(t, row.DeliveredAt)
	require.Nil(t, row.ReadAt)
	require.Len(t, row.ChannelAttempts, 1)
	require.Equal(t, models.AttemptOutcomeFailed, row.ChannelAttempts[0].Outcome)
}

func TestDispatcherBackoffIsCapped(t *testing.T) {
	dispatcher, _, _ := newDispatcher(t)
	require.Equal(t, time.Minute, dispatcher.backoff(1))
	require.Equal(t, 2*time.Minute, dispatcher.backoff(2))
	require.Equal(t, 4*time.Minute, dispatcher.backoff(3))
	require.Equal(t, 5*time.Minute, dispatcher.backoff(4))
	require.Equal(t, 5*time.Minute, dispatcher.backoff(10))
}

func TestDispatchConfigDefaults(t *testing.T) {
	cfg := DispatchConfig{BaseBackoff: time.Hour}.withDefaults()
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, time.Hour, cfg.MaxBackoff)
	require.Equal(t, 2*time.Minute, cfg.Lease)
}
