package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/models"
	apperrors "github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
)

// DefaultHeartbeatRecent is how many deliveries a heartbeat returns.
const DefaultHeartbeatRecent = 5

// HeartbeatResult is the polling heartbeat payload.
type HeartbeatResult struct {
	LoggedIn       bool              `json:"logged_in"`
	UnreadCount    int64             `json:"unread_count"`
	Recent         []models.Delivery `json:"recent"`
	SoundEnabled   bool              `json:"sound_enabled"`
	DesktopEnabled bool              `json:"desktop_enabled"`
	Session        auth.Marker       `json:"session"`
}

// PollingService is the client facing gateway over the delivery ledger. Every
// call is scoped to the authenticated identity.
type PollingService struct {
	ledger      *DeliveryLedger
	preferences *PreferenceService
	liveness    auth.Liveness
	recent      int
}

// NewPollingService constructs a PollingService.
func NewPollingService(ledger *DeliveryLedger, preferences *PreferenceService, liveness auth.Liveness, recent int) (*PollingService, error) {
	if ledger == nil {
		return nil, errors.New("polling service: delivery ledger is required")
	}
	if preferences == nil {
		return nil, errors.New("polling service: preference service is required")
	}
	if liveness == nil {
		return nil, errors.New("polling service: liveness store is required")
	}
	if recent <= 0 {
		recent = DefaultHeartbeatRecent
	}
	return &PollingService{ledger: ledger, preferences: preferences, liveness: liveness, recent: recent}, nil
}

// BeginSession marks identity as active.
func (s *PollingService) BeginSession(ctx context.Context, identity string) (auth.Marker, error) {
	identity, err := requireIdentity(identity)
	if err != nil {
		return auth.Marker{}, err
	}
	marker, err := s.liveness.Begin(ensureContext(ctx), identity)
	if err != nil {
		return auth.Marker{}, fmt.Errorf("polling service: begin session: %w", err)
	}
	return marker, nil
}

// EndSession drops the liveness marker. Delivery and preference state are untouched.
func (s *PollingService) EndSession(ctx context.Context, identity string) error {
	identity, err := requireIdentity(identity)
	if err != nil {
		return err
	}
	if err := s.liveness.End(ensureContext(ctx), identity); err != nil {
		return fmt.Errorf("polling service: end session: %w", err)
	}
	return nil
}

// RequireActive fails with ErrUnauthenticated unless identity has a live marker.
func (s *PollingService) RequireActive(ctx context.Context, identity string) error {
	identity, err := requireIdentity(identity)
	if err != nil {
		return err
	}
	active, err := s.liveness.IsActive(ensureContext(ctx), identity)
	if err != nil {
		return fmt.Errorf("polling service: check session: %w", err)
	}
	if !active {
		return apperrors.ErrUnauthenticated
	}
	return nil
}

// Heartbeat refreshes the session and reports unread state. It never changes
// delivery rows.
func (s *PollingService) Heartbeat(ctx context.Context, identity string) (*HeartbeatResult, error) {
	ctx = ensureContext(ctx)
	identity, err := requireIdentity(identity)
	if err != nil {
		return nil, err
	}

	marker, err := s.liveness.Refresh(ctx, identity)
	if errors.Is(err, auth.ErrSessionInactive) {
		metrics.Heartbeats.WithLabelValues("unauthenticated").Inc()
		return nil, apperrors.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("polling service: refresh session: %w", err)
	}

	unread, err := s.ledger.CountUnread(ctx, identity)
	if err != nil {
		return nil, err
	}
	page, err := s.ledger.ListForRecipient(ctx, ListDeliveriesInput{RecipientID: identity, Limit: s.recent})
	if err != nil {
		return nil, err
	}
	pref, err := s.preferences.Get(ctx, identity)
	if err != nil {
		return nil, err
	}

	metrics.Heartbeats.WithLabelValues("active").Inc()
	return &HeartbeatResult{
		LoggedIn:       true,
		UnreadCount:    unread,
		Recent:         page.Items,
		SoundEnabled:   pref.SoundEnabled,
		DesktopEnabled: pref.DesktopEnabled,
		Session:        marker,
	}, nil
}

// ListMine pages through the caller's deliveries.
func (s *PollingService) ListMine(ctx context.Context, identity, cursor string, limit int, includeDismissed bool) (*DeliveryPage, error) {
	identity, err := requireIdentity(identity)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListForRecipient(ctx, ListDeliveriesInput{
		RecipientID:      identity,
		Cursor:           cursor,
		Limit:            limit,
		IncludeDismissed: includeDismissed,
	})
}

// MarkRead marks the caller's delivery read after checking ownership.
func (s *PollingService) MarkRead(ctx context.Context, identity, notificationID string) (*models.Delivery, error) {
	return s.mutate(ctx, identity, notificationID, s.ledger.MarkRead)
}

// MarkDismissed dismisses the caller's delivery after checking ownership.
func (s *PollingService) MarkDismissed(ctx context.Context, identity, notificationID string) (*models.Delivery, error) {
	return s.mutate(ctx, identity, notificationID, s.ledger.MarkDismissed)
}

func (s *PollingService) mutate(
	ctx context.Context,
	identity, notificationID string,
	op func(context.Context, string, string) (*models.Delivery, error),
) (*models.Delivery, error) {
	ctx = ensureContext(ctx)
	identity, err := requireIdentity(identity)
	if err != nil {
		return nil, err
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, apperrors.NewValidation("notification id is required")
	}

	if err := s.ledger.Ownership(ctx, identity, notificationID); err != nil {
		return nil, err
	}
	row, err := op(ctx, identity, notificationID)
	if err != nil {
		return nil, err
	}
	rows := []models.Delivery{*row}
	if err := s.ledger.attachAttempts(ctx, identity, rows); err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func requireIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", apperrors.ErrUnauthenticated
	}
	return identity, nil
}
