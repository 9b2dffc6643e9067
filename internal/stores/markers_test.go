package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestMarkersCheckAndSet(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedis(t)
	m := NewMarkers(client, "ma")

	seen, err := m.CheckAndSet(ctx, "fp", "k1", time.Minute)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if seen {
		t.Fatal("first caller must own the window")
	}

	seen, err = m.CheckAndSet(ctx, "fp", "k1", time.Minute)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !seen {
		t.Fatal("second caller inside the window must see the marker")
	}

	mr.FastForward(2 * time.Minute)

	seen, err = m.CheckAndSet(ctx, "fp", "k1", time.Minute)
	if err != nil {
		t.Fatalf("check after expiry: %v", err)
	}
	if seen {
		t.Fatal("expired marker must not be reported as seen")
	}
}

func TestMarkersKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestRedis(t)
	m := NewMarkers(client, "ma")

	if seen, _ := m.Seen(ctx, "shared-key", time.Minute); seen {
		t.Fatal("fresh replay marker reported as seen")
	}
	if seen, _ := m.RecentlyRotated(ctx, "shared-key", time.Minute); seen {
		t.Fatal("rotation marker collided with replay marker")
	}
	if seen, _ := m.RecentlyRotated(ctx, "shared-key", time.Minute); !seen {
		t.Fatal("second rotation check must see the marker")
	}
}

func TestMarkersBackendFailure(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedis(t)
	m := NewMarkers(client, "ma")
	mr.Close()

	if _, err := m.CheckAndSet(ctx, "fp", "k1", time.Minute); !errors.Is(err, ErrMarkerBackend) {
		t.Fatalf("expected ErrMarkerBackend, got %v", err)
	}
}
