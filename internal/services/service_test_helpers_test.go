package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/cache"
	"github.com/charlesng35/pbxnotify/internal/channels"
	"github.com/charlesng35/pbxnotify/internal/database/testutil"
	"github.com/charlesng35/pbxnotify/internal/models"
)

type mockPermissionChecker struct {
	grants map[string]bool
	err    error
}

func (m *mockPermissionChecker) Check(_ context.Context, _ string, permissionID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.grants == nil {
		return false, nil
	}
	return m.grants[permissionID], nil
}

// fakeClock is a settable clock shared by the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now.UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// openEngineDB returns a seeded database with a small PBX directory:
// 2000 (alice), 2001 and 2002 in role support and group sales, 2003 in
// support but inactive, 2004 with no memberships.
func openEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	support := models.Role{BaseModel: models.BaseModel{ID: "support"}, Name: "support"}
	require.NoError(t, db.Create(&support).Error)
	sales := models.Group{Name: "sales", Kind: models.GroupKindRing, Extension: "600"}
	require.NoError(t, db.Create(&sales).Error)

	users := []models.User{
		{ID: "2000", Username: "alice", Email: "alice@pbx.test", Phone: "+14155550100", IsActive: true},
		{ID: "2001", Username: "bob", Email: "bob@pbx.test", Phone: "+14155550101", IsActive: true},
		{ID: "2002", Username: "carol", Email: "carol@pbx.test", IsActive: true},
		{ID: "2003", Username: "dave", IsActive: false},
		{ID: "2004", Username: "erin", IsActive: true},
	}
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	addRole(t, db, "2001", support)
	addRole(t, db, "2002", support)
	addRole(t, db, "2003", support)
	addGroup(t, db, "2001", sales)
	addGroup(t, db, "2002", sales)

	return db
}

func addRole(t *testing.T, db *gorm.DB, userID string, role models.Role) {
	t.Helper()
	user := models.User{ID: userID}
	require.NoError(t, db.Model(&user).Association("Roles").Append(&role))
}

func removeRole(t *testing.T, db *gorm.DB, userID string, role models.Role) {
	t.Helper()
	user := models.User{ID: userID}
	require.NoError(t, db.Model(&user).Association("Roles").Delete(&role))
}

func addGroup(t *testing.T, db *gorm.DB, userID string, group models.Group) {
	t.Helper()
	user := models.User{ID: userID}
	require.NoError(t, db.Model(&user).Association("Groups").Append(&group))
}

func countDeliveries(t *testing.T, db *gorm.DB, notificationID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Delivery{}).Where("notification_id = ?", notificationID).Count(&count).Error)
	return count
}

// testEngine wires every service over one database and clock.
type testEngine struct {
	db            *gorm.DB
	clock         *fakeClock
	audit         *AuditService
	templates     *TemplateService
	preferences   *PreferenceService
	ledger        *DeliveryLedger
	dispatcher    *ChannelDispatcher
	fanout        *FanOutService
	promotion     *PromotionService
	notifications *NotificationService
	polling       *PollingService
	liveness      *auth.LivenessStore
}

func newTestEngine(t *testing.T, senders ...channels.Sender) *testEngine {
	t.Helper()
	db := openEngineDB(t)
	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	templates, err := NewTemplateService(db, audit)
	require.NoError(t, err)
	preferences, err := NewPreferenceService(db, audit, nil)
	require.NoError(t, err)
	ledger, err := NewDeliveryLedger(db)
	require.NoError(t, err)
	ledger.WithClock(clock.Now)

	directory, err := NewDatabaseDirectory(db)
	require.NoError(t, err)
	resolver, err := NewTargetResolver(directory)
	require.NoError(t, err)

	dispatcher, err := NewChannelDispatcher(db, directory, channels.NewRegistry(senders...), DispatchConfig{MaxAttempts: 3})
	require.NoError(t, err)
	dispatcher.WithClock(clock.Now)

	fanout, err := NewFanOutService(resolver, preferences, ledger, dispatcher)
	require.NoError(t, err)
	fanout.WithClock(clock.Now)

	promotion, err := NewPromotionService(db, fanout, 10)
	require.NoError(t, err)
	promotion.WithClock(clock.Now)

	notifications, err := NewNotificationService(db, templates, promotion, ledger, audit)
	require.NoError(t, err)
	notifications.WithClock(clock.Now)

	liveness, err := auth.NewLivenessStore(cache.NewDatabaseStore(db), 30*time.Minute, auth.WithLivenessClock(clock.Now))
	require.NoError(t, err)
	polling, err := NewPollingService(ledger, preferences, liveness, DefaultHeartbeatRecent)
	require.NoError(t, err)

	return &testEngine{
		db:            db,
		clock:         clock,
		audit:         audit,
		templates:     templates,
		preferences:   preferences,
		ledger:        ledger,
		dispatcher:    dispatcher,
		fanout:        fanout,
		promotion:     promotion,
		notifications: notifications,
		polling:       polling,
		liveness:      liveness,
	}
}
