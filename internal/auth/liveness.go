package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/pbxnotify/internal/cache"
)

// DefaultSessionTimeout bounds how long a liveness marker survives without a refresh.
const DefaultSessionTimeout = 30 * time.Minute

const livenessKeyPrefix = "liveness:"

// ErrSessionInactive is returned when an identity has no live marker.
var ErrSessionInactive = errors.New("liveness: session is not active")

// Marker is the session liveness record for one identity.
type Marker struct {
	Identity       string    `json:"identity"`
	LoginAt        time.Time `json:"login_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ExpiresAt reports when the marker lapses without further activity.
func (m Marker) ExpiresAt(timeout time.Duration) time.Time {
	return m.LastActivityAt.Add(timeout)
}

// Liveness tracks which identities have an active polling session.
type Liveness interface {
	Begin(ctx context.Context, identity string) (Marker, error)
	Refresh(ctx context.Context, identity string) (Marker, error)
	IsActive(ctx context.Context, identity string) (bool, error)
	Marker(ctx context.Context, identity string) (Marker, bool, error)
	End(ctx context.Context, identity string) error
}

// LivenessStore keeps markers in a cache.Store with a TTL equal to the
// session timeout, so expiry is enforced by the store itself.
type LivenessStore struct {
	store   cache.Store
	timeout time.Duration
	now     func() time.Time
}

// LivenessOption customises a LivenessStore.
type LivenessOption func(*LivenessStore)

// WithLivenessClock overrides the clock, primarily for tests.
func WithLivenessClock(now func() time.Time) LivenessOption {
	return func(s *LivenessStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLivenessStore constructs a LivenessStore backed by the shared cache.
func NewLivenessStore(store cache.Store, timeout time.Duration, opts ...LivenessOption) (*LivenessStore, error) {
	if store == nil {
		return nil, errors.New("liveness: cache store is required")
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	s := &LivenessStore{store: store, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Timeout returns the configured inactivity window.
func (s *LivenessStore) Timeout() time.Duration {
	return s.timeout
}

// Begin starts (or restarts) a session for identity.
func (s *LivenessStore) Begin(ctx context.Context, identity string) (Marker, error) {
	key, err := livenessKey(identity)
	if err != nil {
		return Marker{}, err
	}

	now := s.now().UTC()
	marker := Marker{Identity: strings.TrimSpace(identity), LoginAt: now, LastActivityAt: now}
	if err := s.write(ctx, key, marker); err != nil {
		return Marker{}, err
	}
	return marker, nil
}

// Refresh extends an active session. Inactive identities get ErrSessionInactive.
func (s *LivenessStore) Refresh(ctx context.Context, identity string) (Marker, error) {
	key, err := livenessKey(identity)
	if err != nil {
		return Marker{}, err
	}

	marker, ok, err := s.read(ctx, key)
	if err != nil {
		return Marker{}, err
	}
	if !ok {
		return Marker{}, ErrSessionInactive
	}

	marker.LastActivityAt = s.now().UTC()
	payload, err := json.Marshal(marker)
	if err != nil {
		return Marker{}, fmt.Errorf("liveness: encode marker: %w", err)
	}
	// A concurrent End between the read and this write must win.
	updated, err := s.store.SetIfExists(ctx, key, payload, s.timeout)
	if err != nil {
		return Marker{}, fmt.Errorf("liveness: refresh marker: %w", err)
	}
	if !updated {
		return Marker{}, ErrSessionInactive
	}
	return marker, nil
}

// IsActive reports whether identity holds a live marker.
func (s *LivenessStore) IsActive(ctx context.Context, identity string) (bool, error) {
	_, ok, err := s.Marker(ctx, identity)
	return ok, err
}

// Marker returns the current marker without refreshing it.
func (s *LivenessStore) Marker(ctx context.Context, identity string) (Marker, bool, error) {
	key, err := livenessKey(identity)
	if err != nil {
		return Marker{}, false, err
	}
	return s.read(ctx, key)
}

// End deletes the marker. Ending an inactive session is not an error.
func (s *LivenessStore) End(ctx context.Context, identity string) error {
	key, err := livenessKey(identity)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("liveness: delete marker: %w", err)
	}
	return nil
}

func (s *LivenessStore) read(ctx context.Context, key string) (Marker, bool, error) {
	data, found, err := s.store.Get(ctx, key)
	if err != nil {
		return Marker{}, false, fmt.Errorf("liveness: read marker: %w", err)
	}
	if !found {
		return Marker{}, false, nil
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return Marker{}, false, fmt.Errorf("liveness: decode marker: %w", err)
	}
	if !s.now().Before(marker.ExpiresAt(s.timeout)) {
		return Marker{}, false, nil
	}
	return marker, true, nil
}

func (s *LivenessStore) write(ctx context.Context, key string, marker Marker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("liveness: encode marker: %w", err)
	}
	if err := s.store.Set(ctx, key, payload, s.timeout); err != nil {
		return fmt.Errorf("liveness: write marker: %w", err)
	}
	return nil
}

func livenessKey(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", errors.New("liveness: identity is required")
	}
	return livenessKeyPrefix + identity, nil
}
