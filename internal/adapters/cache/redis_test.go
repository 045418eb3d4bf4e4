package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekit/portal/internal/ports"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessionStoreRoundTrip(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", ports.SessionKeyRemember, "1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "sid-1", ports.SessionKeyRemember)
	if err != nil || !ok || value != "1" {
		t.Fatalf("get returned %q ok=%v err=%v", value, ok, err)
	}

	if err := store.Remove(ctx, "sid-1", ports.SessionKeyRemember); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "sid-1", ports.SessionKeyRemember); ok {
		t.Fatalf("expected key absent after remove")
	}
}

func TestSessionStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	store := NewRedisSessionStore(client, time.Hour)

	value, ok, err := store.Get(context.Background(), "sid-unknown", "whatever")
	if err != nil {
		t.Fatalf("get on missing session errored: %v", err)
	}
	if ok || value != "" {
		t.Fatalf("expected absent value, got %q ok=%v", value, ok)
	}
}

func TestSessionStoreTakeIsSingleUse(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", ports.SessionKeyFlash, "warning"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, ok, err := store.Take(ctx, "sid-1", ports.SessionKeyFlash)
	if err != nil || !ok || value != "warning" {
		t.Fatalf("take returned %q ok=%v err=%v", value, ok, err)
	}
	if _, ok, _ := store.Take(ctx, "sid-1", ports.SessionKeyFlash); ok {
		t.Fatalf("second take must find nothing")
	}
}

func TestSessionStoreDestroy(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	_ = store.Set(ctx, "sid-1", ports.SessionKeyUserID, "user-1")
	_ = store.Set(ctx, "sid-1", ports.SessionKeyRemember, "1")
	if err := store.Destroy(ctx, "sid-1"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "sid-1", ports.SessionKeyUserID); ok {
		t.Fatalf("expected session empty after destroy")
	}
	// Destroy on an already-empty session stays error free.
	if err := store.Destroy(ctx, "sid-1"); err != nil {
		t.Fatalf("repeated destroy failed: %v", err)
	}
}

func TestSessionStoreExpireAfter(t *testing.T) {
	t.Parallel()

	mr, client := newTestClient(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	_ = store.Set(ctx, "sid-1", ports.SessionKeyUserID, "user-1")
	if err := store.ExpireAfter(ctx, "sid-1", time.Minute); err != nil {
		t.Fatalf("expire failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "sid-1", ports.SessionKeyUserID); ok {
		t.Fatalf("expected session expired")
	}
}

func TestHandshakeStateStoreRoundTrip(t *testing.T) {
	t.Parallel()

	mr, client := newTestClient(t)
	store := NewRedisHandshakeStateStore(client)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	state := ports.HandshakeState{
		Issuer:       "https://provider.example",
		SessionID:    "sid-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		Next:         "/reports",
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	if err := store.Put(ctx, "state-1", state, 10*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "state-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Issuer != state.Issuer || got.Next != state.Next || got.SessionID != state.SessionID {
		t.Fatalf("unexpected state: %+v", got)
	}

	if err := store.Delete(ctx, "state-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got, _ := store.Get(ctx, "state-1"); got != nil {
		t.Fatalf("expected state gone after delete")
	}

	_ = store.Put(ctx, "state-2", state, time.Minute)
	mr.FastForward(2 * time.Minute)
	if got, _ := store.Get(ctx, "state-2"); got != nil {
		t.Fatalf("expected state expired")
	}
}
