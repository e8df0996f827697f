package models

import (
	"testing"
	"time"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"role", func() *BaseModel {
			r := &Role{}
			return &r.BaseModel
		}},
		{"group", func() *BaseModel {
			g := &Group{}
			return &g.BaseModel
		}},
		{"permission", func() *BaseModel {
			p := &Permission{}
			return &p.BaseModel
		}},
		{"notification", func() *BaseModel {
			n := &Notification{}
			return &n.BaseModel
		}},
		{"channel_delivery", func() *BaseModel {
			c := &ChannelDelivery{}
			return &c.BaseModel
		}},
		{"template", func() *BaseModel {
			m := &NotificationTemplate{}
			return &m.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestUserBeforeCreateKeepsExtension(t *testing.T) {
	u := &User{ID: "2000"}
	if err := u.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if u.ID != "2000" {
		t.Fatalf("expected explicit id to be preserved, got %s", u.ID)
	}
}

func TestTargetKind(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		want   TargetKind
		ok     bool
	}{
		{"user", Target{UserID: "2000"}, TargetKindUser, true},
		{"role", Target{Role: "support"}, TargetKindRole, true},
		{"group", Target{Group: "sales"}, TargetKindGroup, true},
		{"broadcast", Target{Broadcast: true}, TargetKindBroadcast, true},
		{"none", Target{}, "", false},
		{"blank user", Target{UserID: "   "}, "", false},
		{"two", Target{UserID: "2000", Role: "support"}, "", false},
		{"broadcast and group", Target{Group: "sales", Broadcast: true}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := tc.target.Kind()
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if kind != tc.want {
					t.Fatalf("expected %s, got %s", tc.want, kind)
				}
				return
			}
			if err != ErrMalformedTarget {
				t.Fatalf("expected ErrMalformedTarget, got %v", err)
			}
		})
	}
}

func TestNotificationTargetRoundTrip(t *testing.T) {
	var n Notification
	n.SetTarget(Target{Role: "support"})
	if got := n.Target(); got.Role != "support" || got.UserID != "" || got.Broadcast {
		t.Fatalf("unexpected target: %+v", got)
	}
}

func TestNotificationExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := Notification{}
	if n.Expired(now) {
		t.Fatal("notification without expiry must not expire")
	}
	past := now.Add(-time.Minute)
	n.ExpiresAt = &past
	if !n.Expired(now) {
		t.Fatal("expected notification to be expired")
	}
	future := now.Add(time.Minute)
	n.ExpiresAt = &future
	if n.Expired(now) {
		t.Fatal("did not expect future expiry to be expired")
	}
}

func TestEnumsValid(t *testing.T) {
	for _, typ := range NotificationTypes() {
		if !typ.Valid() {
			t.Fatalf("expected %s to be valid", typ)
		}
	}
	if NotificationType("fax").Valid() {
		t.Fatal("unexpected valid type")
	}
	if !PriorityUrgent.Valid() || Priority("critical").Valid() {
		t.Fatal("unexpected priority validity")
	}
	for _, ch := range Channels() {
		if !ch.Valid() {
			t.Fatalf("expected %s to be valid", ch)
		}
	}
	if Channel("fax").Valid() {
		t.Fatal("unexpected valid channel")
	}
}

func TestPreferenceHelpers(t *testing.T) {
	pref := DefaultPreference("2000")
	if !pref.SoundEnabled || !pref.DesktopEnabled {
		t.Fatal("expected sound and desktop enabled by default")
	}
	if pref.HasQuietHours() {
		t.Fatal("expected no quiet hours by default")
	}
	pref.OptedOutTypes = append(pref.OptedOutTypes, TypeSMS)
	if !pref.OptedOut(TypeSMS) || pref.OptedOut(TypeCall) {
		t.Fatal("unexpected opt-out evaluation")
	}
	pref.QuietHoursStart, pref.QuietHoursEnd = "22:00", "22:00"
	if pref.HasQuietHours() {
		t.Fatal("equal start and end disables quiet hours")
	}
}

func TestChannelDeliveryIdempotencyKey(t *testing.T) {
	job := ChannelDelivery{NotificationID: "n1", RecipientID: "2000", Channel: ChannelSMS}
	if got := job.IdempotencyKey(); got != "n1:2000:sms" {
		t.Fatalf("unexpected key %s", got)
	}
}
