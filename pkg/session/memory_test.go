package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	memTestTTL        = 5 * time.Minute
	memTestGoroutines = 10
	memTestIterations = 100
	memTestUser1      = "user-1"
)

func newTestSession(userID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		Username:  "name-" + userID,
		Roles:     NewRoleSet("employee"),
		Token:     "tok-" + userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Method:    AuthMethodToken,
	}
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession(memTestUser1, memTestTTL)))

	got, err := store.Get(ctx, memTestUser1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, memTestUser1, got.UserID)
	assert.Equal(t, "name-user-1", got.Username)
	assert.True(t, got.Roles.Has("employee"))
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore(0)

	got, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_GetExpiredRemovesEntry(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession(memTestUser1, -10*time.Second)))

	got, err := store.Get(ctx, memTestUser1)
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should be treated as absent")

	store.mu.RLock()
	_, present := store.sessions[memTestUser1]
	store.mu.RUnlock()
	assert.False(t, present, "expired session should be removed on read")
}

func TestMemoryStore_PutReplacesExisting(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession(memTestUser1, memTestTTL)))

	replacement := newTestSession(memTestUser1, memTestTTL)
	replacement.Roles = NewRoleSet("admin")
	require.NoError(t, store.Put(ctx, replacement))

	got, err := store.Get(ctx, memTestUser1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Roles.Has("admin"))
	assert.False(t, got.Roles.Has("employee"))
}

func TestMemoryStore_MaxSessions(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession("u1", memTestTTL)))
	require.NoError(t, store.Put(ctx, newTestSession("u2", memTestTTL)))

	err := store.Put(ctx, newTestSession("u3", memTestTTL))
	assert.ErrorIs(t, err, ErrStoreFull)

	// Replacing an existing caller is always allowed.
	assert.NoError(t, store.Put(ctx, newTestSession("u1", memTestTTL)))
}

func TestMemoryStore_MaxSessionsEvictsExpired(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession("u1", -time.Second)))
	require.NoError(t, store.Put(ctx, newTestSession("u2", memTestTTL)))

	// The expired entry should not count against the cap.
	assert.NoError(t, store.Put(ctx, newTestSession("u3", memTestTTL)))
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession(memTestUser1, memTestTTL)))
	require.NoError(t, store.Delete(ctx, memTestUser1))
	require.NoError(t, store.Delete(ctx, memTestUser1), "second delete should not error")

	got, err := store.Get(ctx, memTestUser1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ListExcludesExpired(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession("u1", memTestTTL)))
	require.NoError(t, store.Put(ctx, newTestSession("u2", memTestTTL)))
	require.NoError(t, store.Put(ctx, newTestSession("expired", -time.Second)))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession("active", memTestTTL)))
	require.NoError(t, store.Put(ctx, newTestSession("expired", -10*time.Second)))

	require.NoError(t, store.Cleanup(ctx))

	got, err := store.Get(ctx, "active")
	require.NoError(t, err)
	assert.NotNil(t, got)

	store.mu.RLock()
	_, present := store.sessions["expired"]
	store.mu.RUnlock()
	assert.False(t, present, "sweep should remove the expired session")
}

func TestMemoryStore_SweepLifecycle(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestSession(memTestUser1, 30*time.Millisecond)))

	store.StartSweep(20 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions, "sweep should have removed the expired session")

	assert.NoError(t, store.Close())
}

func TestMemoryStore_CloseWithoutSweep(t *testing.T) {
	store := NewMemoryStore(0)
	assert.NoError(t, store.Close(), "Close without StartSweep should not panic")
}

func TestMemoryStore_ConcurrentAccess(_ *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range memTestGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range memTestIterations {
				_ = store.Put(ctx, newTestSession("concurrent", memTestTTL))
				_, _ = store.Get(ctx, "concurrent")
				_, _ = store.List(ctx)
				_ = store.Cleanup(ctx)
				_ = store.Delete(ctx, "concurrent")
			}
		}()
	}
	wg.Wait()
}
