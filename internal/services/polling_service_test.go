package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
)

func TestHeartbeatRequiresSession(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.polling.Heartbeat(ctx, "2000")
	require.True(t, errors.Is(err, apperrors.ErrUnauthenticated))
	require.True(t, errors.Is(engine.polling.RequireActive(ctx, "2000"), apperrors.ErrUnauthenticated))

	_, err = engine.polling.Heartbeat(ctx, " ")
	require.True(t, errors.Is(err, apperrors.ErrUnauthenticated))
}

func TestHeartbeatIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.notifications.Create(ctx, CreateNotificationInput{
		Type: models.TypeVoicemail, Title: "New voicemail", Target: models.Target{UserID: "2000"},
	})
	require.NoError(t, err)
	_, err = engine.notifications.Create(ctx, CreateNotificationInput{
		Type: models.TypeMessage, Title: "Lunch?", Target: models.Target{UserID: "2000"},
	})
	require.NoError(t, err)

	marker, err := engine.polling.BeginSession(ctx, "2000")
	require.NoError(t, err)
	require.Equal(t, engine.clock.Now(), marker.LoginAt)

	first, err := engine.polling.Heartbeat(ctx, "2000")
	require.NoError(t, err)
	require.True(t, first.LoggedIn)
	require.Equal(t, int64(2), first.UnreadCount)
	require.Len(t, first.Recent, 2)
	require.True(t, first.SoundEnabled)

	engine.clock.Advance(10 * time.Second)
	second, err := engine.polling.Heartbeat(ctx, "2000")
	require.NoError(t, err)
	require.Equal(t, first.UnreadCount, second.UnreadCount)
	require.Equal(t, deliveryIDs(first.Recent), deliveryIDs(second.Recent))
	require.True(t, second.Session.LastActivityAt.After(first.Session.LastActivityAt))
	require.Equal(t, first.Session.LoginAt, second.Session.LoginAt)
	for _, row := range second.Recent {
		require.Nil(t, row.ReadAt)
	}
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.polling.BeginSession(ctx, "2001")
	require.NoError(t, err)

	engine.clock.Advance(29 * time.Minute)
	_, err = engine.polling.Heartbeat(ctx, "2001")
	require.NoError(t, err)

	engine.clock.Advance(29 * time.Minute)
	require.NoError(t, engine.polling.RequireActive(ctx, "2001"))

	engine.clock.Advance(time.Minute)
	_, err = engine.polling.Heartbeat(ctx, "2001")
	require.True(t, errors.Is(err, apperrors.ErrUnauthenticated))
}

func TestEndSessionKeepsDeliveries(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.notifications.Create(ctx, CreateNotificationInput{
		Type: models.TypeTask, Title: "Call back customer", Target: models.Target{UserID: "2000"},
	})
	require.NoError(t, err)

	_, err = engine.polling.BeginSession(ctx, "2000")
	require.NoError(t, err)
	require.NoError(t, engine.polling.EndSession(ctx, "2000"))
	require.NoError(t, engine.polling.EndSession(ctx, "2000"))

	_, err = engine.polling.Heartbeat(ctx, "2000")
	require.True(t, errors.Is(err, apperrors.ErrUnauthenticated))

	unread, err := engine.ledger.CountUnread(ctx, "2000")
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)
}

func TestPollingMutationsCheckOwnership(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.notifications.Create(ctx, CreateNotificationInput{
		Type: models.TypeVoicemail, Title: "Private voicemail", Target: models.Target{UserID: "2000"},
	})
	require.NoError(t, err)
	nid := created.Notification.ID

	_, err = engine.polling.MarkRead(ctx, "2001", nid)
	require.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, err = engine.polling.MarkRead(ctx, "2000", "unknown")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
	_, err = engine.polling.MarkDismissed(ctx, "2000", "")
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	row, err := engine.polling.MarkRead(ctx, "2000", nid)
	require.NoError(t, err)
	require.NotNil(t, row.ReadAt)
	require.NotNil(t, row.ChannelAttempts)

	row, err = engine.polling.MarkDismissed(ctx, "2000", nid)
	require.NoError(t, err)
	require.NotNil(t, row.DismissedAt)

	page, err := engine.polling.ListMine(ctx, "2000", "", 0, false)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	page, err = engine.polling.ListMine(ctx, "2000", "", 0, true)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestConcurrentMarkReadKeepsFirstTimestamp(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.notifications.Create(ctx, CreateNotificationInput{
		Type: models.TypeAlert, Title: "Disk nearly full", Target: models.Target{UserID: "2000"},
	})
	require.NoError(t, err)
	nid := created.Notification.ID

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		reads []time.Time
		errs  []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := engine.polling.MarkRead(ctx, "2000", nid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			reads = append(reads, *row.ReadAt)
		}()
		engine.clock.Advance(time.Second)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, reads, 8)
	for _, at := range reads[1:] {
		require.True(t, at.Equal(reads[0]))
	}

	unread, err := engine.ledger.CountUnread(ctx, "2000")
	require.NoError(t, err)
	require.Zero(t, unread)
}
