package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

func newLedger(t *testing.T) (*DeliveryLedger, *gorm.DB, *fakeClock) {
	t.Helper()
	db := openEngineDB(t)
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ledger, err := NewDeliveryLedger(db)
	require.NoError(t, err)
	return ledger.WithClock(clock.Now), db, clock
}

func insertNotification(t *testing.T, db *gorm.DB, id, title string, mutate ...func(*models.Notification)) *models.Notification {
	t.Helper()
	n := &models.Notification{
		BaseModel: models.BaseModel{ID: id},
		Type:      models.TypeCall,
		Title:     title,
		Priority:  models.PriorityNormal,
		Promoted:  true,
	}
	n.SetTarget(models.Target{UserID: "2000"})
	for _, fn := range mutate {
		fn(n)
	}
	require.NoError(t, db.Create(n).Error)
	return n
}

func TestLedgerMaterializeIsIdempotent(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")

	inserted, err := ledger.Materialize(ctx, "n1", []string{"2000", "2001", "2000"})
	require.NoError(t, err)
	require.Equal(t, int64(2), inserted)

	inserted, err = ledger.Materialize(ctx, "n1", []string{"2000", "2001", "2002"})
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)

	for _, id := range []string{"2000", "2001", "2002"} {
		var count int64
		require.NoError(t, db.Model(&models.Delivery{}).Where("notification_id = ? AND recipient_id = ?", "n1", id).Count(&count).Error)
		require.Equal(t, int64(1), count)
	}

	inserted, err = ledger.Materialize(ctx, "n1", nil)
	require.NoError(t, err)
	require.Zero(t, inserted)
}

func TestLedgerMarkReadBeforeDelivered(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	_, err := ledger.Materialize(ctx, "n1", []string{"2000"})
	require.NoError(t, err)

	_, err = ledger.MarkRead(ctx, "2000", "n1")
	require.True(t, errors.Is(err, apperrors.ErrNotDelivered))
	_, err = ledger.MarkDismissed(ctx, "2000", "n1")
	require.True(t, errors.Is(err, apperrors.ErrNotDelivered))

	var row models.Delivery
	require.NoError(t, db.Where("notification_id = ? AND recipient_id = ?", "n1", "2000").Take(&row).Error)
	require.Nil(t, row.DeliveredAt)
	require.Nil(t, row.ReadAt)
	require.Nil(t, row.DismissedAt)

	_, err = ledger.MarkRead(ctx, "2001", "n1")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
	require.Equal(t, int64(1), countDeliveries(t, db, "n1"), "failed mark read must not create rows")
}

func TestLedgerMarkDeliveredAndReadAreMonotonic(t *testing.T) {
	ledger, db, clock := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	_, err := ledger.Materialize(ctx, "n1", []string{"2000"})
	require.NoError(t, err)

	changed, err := ledger.MarkDelivered(ctx, "n1", "2000")
	require.NoError(t, err)
	require.True(t, changed)
	deliveredAt := clock.Now()

	clock.Advance(time.Minute)
	changed, err = ledger.MarkDelivered(ctx, "n1", "2000")
	require.NoError(t, err)
	require.False(t, changed)

	row, err := ledger.MarkRead(ctx, "2000", "n1")
	require.NoError(t, err)
	require.NotNil(t, row.ReadAt)
	firstRead := *row.ReadAt
	require.True(t, row.DeliveredAt.Equal(deliveredAt))
	require.NotNil(t, row.Notification)
	require.Equal(t, "Missed call", row.Notification.Title)

	clock.Advance(time.Minute)
	row, err = ledger.MarkRead(ctx, "2000", "n1")
	require.NoError(t, err)
	require.True(t, row.ReadAt.Equal(firstRead), "read_at must not move")

	row, err = ledger.MarkDismissed(ctx, "2000", "n1")
	require.NoError(t, err)
	require.NotNil(t, row.DismissedAt)
}

func TestLedgerOwnership(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Missed call")
	_, err := ledger.Materialize(ctx, "n1", []string{"2000"})
	require.NoError(t, err)

	require.NoError(t, ledger.Ownership(ctx, "2000", "n1"))
	require.True(t, errors.Is(ledger.Ownership(ctx, "2001", "n1"), apperrors.ErrForbidden))
	require.True(t, errors.Is(ledger.Ownership(ctx, "2000", "missing"), apperrors.ErrNotFound))
}

func TestLedgerListForRecipient(t *testing.T) {
	ledger, db, clock := newLedger(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		insertNotification(t, db, id, "Title "+id)
		_, err := ledger.Materialize(ctx, id, []string{"2000"})
		require.NoError(t, err)
	}
	expiresSoon := clock.Now().Add(30 * time.Minute)
	insertNotification(t, db, "expiring", "Expiring", func(n *models.Notification) { n.ExpiresAt = &expiresSoon })
	insertNotification(t, db, "pending", "Never delivered")
	_, err := ledger.Materialize(ctx, "expiring", []string{"2000"})
	require.NoError(t, err)
	_, err = ledger.Materialize(ctx, "pending", []string{"2000"})
	require.NoError(t, err)

	// a and b share a timestamp, c and d and expiring are later
	_, err = ledger.MarkDelivered(ctx, "a", "2000")
	require.NoError(t, err)
	_, err = ledger.MarkDelivered(ctx, "b", "2000")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	for _, id := range []string{"c", "d", "expiring"} {
		_, err = ledger.MarkDelivered(ctx, id, "2000")
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	_, err = ledger.MarkDismissed(ctx, "2000", "c")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.ChannelAttempt{
		NotificationID: "d", RecipientID: "2000", Channel: models.ChannelEmail,
		Attempt: 1, AttemptedAt: clock.Now(), Outcome: models.AttemptOutcomeDelivered,
	}).Error)

	page, err := ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"expiring", "d"}, deliveryIDs(page.Items))
	require.NotEmpty(t, page.NextCursor)
	require.Len(t, page.Items[1].ChannelAttempts, 1)
	require.Empty(t, page.Items[0].ChannelAttempts)
	require.NotNil(t, page.Items[0].Notification)

	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, deliveryIDs(page.Items))
	require.Empty(t, page.NextCursor)

	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", IncludeDismissed: true})
	require.NoError(t, err)
	require.Equal(t, []string{"expiring", "d", "c", "b", "a"}, deliveryIDs(page.Items))

	unread, err := ledger.CountUnread(ctx, "2000")
	require.NoError(t, err)
	require.Equal(t, int64(5), unread)

	clock.Advance(time.Hour)
	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000"})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "b", "a"}, deliveryIDs(page.Items))
	unread, err = ledger.CountUnread(ctx, "2000")
	require.NoError(t, err)
	require.Equal(t, int64(4), unread)

	empty, err := ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2001"})
	require.NoError(t, err)
	require.NotNil(t, empty.Items)
	require.Empty(t, empty.Items)
}

func TestLedgerListRejectsBadCursor(t *testing.T) {
	ledger, _, _ := newLedger(t)

	_, err := ledger.ListForRecipient(context.Background(), ListDeliveriesInput{RecipientID: "2000", Cursor: "!!not-base64"})
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = ledger.ListForRecipient(context.Background(), ListDeliveriesInput{RecipientID: "2000", Cursor: encodeCursor(listCursor{DeliveredAt: time.Now()})})
	require.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestLedgerListPutsUnreadFirstAmongEqualTimestamps(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()

	for _, id := range []string{"n-a", "n-b", "n-c"} {
		insertNotification(t, db, id, "Voicemail "+id)
		_, err := ledger.Materialize(ctx, id, []string{"2000"})
		require.NoError(t, err)
		_, err = ledger.MarkDelivered(ctx, id, "2000")
		require.NoError(t, err)
	}
	_, err := ledger.MarkRead(ctx, "2000", "n-c")
	require.NoError(t, err)
	_, err = ledger.MarkRead(ctx, "2000", "n-b")
	require.NoError(t, err)

	page, err := ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000"})
	require.NoError(t, err)
	require.Equal(t, []string{"n-a", "n-c", "n-b"}, deliveryIDs(page.Items))

	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"n-a"}, deliveryIDs(page.Items))
	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Equal(t, []string{"n-c"}, deliveryIDs(page.Items))
	page, err = ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: "2000", Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Equal(t, []string{"n-b"}, deliveryIDs(page.Items))
	require.Empty(t, page.NextCursor)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultListLimit, ClampListLimit(0))
	require.Equal(t, DefaultListLimit, ClampListLimit(-3))
	require.Equal(t, 7, ClampListLimit(7))
	require.Equal(t, MaxListLimit, ClampListLimit(1000))
}

func TestLedgerStats(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Broadcast")
	_, err := ledger.Materialize(ctx, "n1", []string{"2000", "2001", "2002"})
	require.NoError(t, err)
	for _, id := range []string{"2000", "2001"} {
		_, err = ledger.MarkDelivered(ctx, "n1", id)
		require.NoError(t, err)
	}
	_, err = ledger.MarkRead(ctx, "2000", "n1")
	require.NoError(t, err)
	_, err = ledger.MarkDismissed(ctx, "2001", "n1")
	require.NoError(t, err)

	stats, err := ledger.Stats(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, DeliveryStats{Recipients: 3, Delivered: 2, Read: 1, Dismissed: 1}, stats)
}

func TestLedgerConcurrentMarkReadConverges(t *testing.T) {
	ledger, db, _ := newLedger(t)
	ctx := context.Background()
	insertNotification(t, db, "n1", "Voicemail")
	_, err := ledger.Materialize(ctx, "n1", []string{"2000"})
	require.NoError(t, err)
	_, err = ledger.MarkDelivered(ctx, "n1", "2000")
	require.NoError(t, err)

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	reads := make([]*time.Time, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, err := ledger.MarkRead(ctx, "2000", "n1")
			errs[i] = err
			if row != nil {
				reads[i] = row.ReadAt
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, reads[i])
		require.True(t, reads[i].Equal(*reads[0]))
	}
	require.Equal(t, int64(1), countDeliveries(t, db, "n1"))
}

func TestLedgerInvariantsHoldUnderRandomOperations(t *testing.T) {
	ledger, db, clock := newLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	notifications := []string{"n1", "n2", "n3"}
	recipients := []string{"2000", "2001", "2002"}
	for _, id := range notifications {
		insertNotification(t, db, id, "Title "+id)
	}

	for step := 0; step < 300; step++ {
		nid := notifications[rng.Intn(len(notifications))]
		rid := recipients[rng.Intn(len(recipients))]
		clock.Advance(time.Duration(rng.Intn(5)) * time.Second)

		var err error
		switch rng.Intn(4) {
		case 0:
			_, err = ledger.Materialize(ctx, nid, []string{rid})
		case 1:
			_, err = ledger.MarkDelivered(ctx, nid, rid)
		case 2:
			_, err = ledger.MarkRead(ctx, rid, nid)
		case 3:
			_, err = ledger.MarkDismissed(ctx, rid, nid)
		}
		if err != nil {
			require.True(t,
				errors.Is(err, apperrors.ErrNotDelivered) || errors.Is(err, apperrors.ErrNotFound),
				"unexpected error at step %d: %v", step, err)
		}

		var rows []models.Delivery
		require.NoError(t, db.Find(&rows).Error)
		for _, row := range rows {
			if row.ReadAt != nil {
				require.NotNil(t, row.DeliveredAt, "read_at without delivered_at for %s/%s", row.NotificationID, row.RecipientID)
				require.False(t, row.ReadAt.Before(*row.DeliveredAt))
			}
			if row.DismissedAt != nil {
				require.NotNil(t, row.DeliveredAt)
			}
		}
	}
}

func deliveryIDs(rows []models.Delivery) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.NotificationID)
	}
	return ids
}

func TestLedgerDeliverStampsNewAndStrandedRows(t *testing.T) {
	ledger, db, clock := newLedger(t)
	ctx := context.Background()

	insertNotification(t, db, "n-stranded", "Missed call")
	_, err := ledger.Materialize(ctx, "n-stranded", []string{"2000"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	inserted, err := ledger.Deliver(ctx, "n-stranded", []string{"2000", "2001"})
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)

	for _, recipient := range []string{"2000", "2001"} {
		row, err := ledger.Get(ctx, recipient, "n-stranded")
		require.NoError(t, err)
		require.NotNil(t, row.DeliveredAt, recipient)
		require.True(t, row.DeliveredAt.Equal(clock.Now()), recipient)
	}

	_, err = ledger.MarkRead(ctx, "2000", "n-stranded")
	require.NoError(t, err)
}
