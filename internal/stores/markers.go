package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMarkerBackend wraps Redis failures from the marker store.
var ErrMarkerBackend = errors.New("marker backend unavailable")

// Markers provides atomic check-and-set flags with a TTL. One instance
// serves two concerns: the "recently rotated" guard on token rotation and
// the fingerprint replay window.
type Markers struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMarkers(client redis.UniversalClient, prefix string) *Markers {
	if prefix == "" {
		prefix = "ma"
	}
	return &Markers{redis: client, prefix: prefix}
}

// CheckAndSet atomically records the key and reports whether it was already
// present inside the window. The first caller gets false and owns the
// window; every later caller gets true until the TTL lapses.
func (m *Markers) CheckAndSet(ctx context.Context, kind, key string, window time.Duration) (bool, error) {
	set, err := m.redis.SetNX(ctx, m.key(kind, key), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMarkerBackend, err)
	}
	return !set, nil
}

// Seen implements the fingerprint engine's ReplayMarker interface.
func (m *Markers) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	return m.CheckAndSet(ctx, "fp", key, window)
}

// RecentlyRotated implements the rotation race guard: the loser of a
// concurrent rotation proceeds with the original token instead of erroring.
func (m *Markers) RecentlyRotated(ctx context.Context, tokenID string, window time.Duration) (bool, error) {
	return m.CheckAndSet(ctx, "rot", tokenID, window)
}

// LoginInFlight guards the supersede-and-create window of a login so two
// concurrent logins for one user serialize instead of both winning the
// single-session invalidation race.
func (m *Markers) LoginInFlight(ctx context.Context, userID string, window time.Duration) (bool, error) {
	return m.CheckAndSet(ctx, "lg", userID, window)
}

// ReleaseLogin drops the login guard early. The TTL covers holders that
// crashed before releasing.
func (m *Markers) ReleaseLogin(ctx context.Context, userID string) error {
	if err := m.redis.Del(ctx, m.key("lg", userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMarkerBackend, err)
	}
	return nil
}

func (m *Markers) key(kind, key string) string {
	return m.prefix + ":mk:" + kind + ":" + key
}
