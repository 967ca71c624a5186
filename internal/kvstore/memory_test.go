package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key", "value", 0))

	got, err := m.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	defer m.Stop()

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key", "value", 0))
	require.NoError(t, m.Delete(ctx, "key"))

	_, err := m.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, m.Delete(ctx, "key"))
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", "value", 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "forever", "value", 0))

	got, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	time.Sleep(25 * time.Millisecond)

	_, err = m.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound, "expired entry must be treated as absent")

	_, err = m.Get(ctx, "forever")
	assert.NoError(t, err, "zero TTL means no expiry")
}

func TestMemoryOverwriteResetsTTL(t *testing.T) {
	m := NewMemory()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key", "old", 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "key", "new", time.Minute))

	time.Sleep(25 * time.Millisecond)

	got, err := m.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestMemoryRemoveExpired(t *testing.T) {
	m := NewMemory()
	defer m.Stop()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "stale", "value", time.Millisecond))
	require.NoError(t, m.Set(ctx, "live", "value", time.Minute))
	time.Sleep(5 * time.Millisecond)

	m.removeExpired()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.NotContains(t, m.entries, "stale")
	assert.Contains(t, m.entries, "live")
}

func TestMemoryStopIdempotent(t *testing.T) {
	m := NewMemory()
	m.Stop()
	m.Stop()
}
