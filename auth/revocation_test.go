package auth_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/auth"
)

func TestMemoryRevocations_ExpireWithToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC)
	m := auth.NewMemoryRevocations()
	m.Now = func() time.Time { return now }

	require.NoError(t, m.Revoke(ctx, "jti-1", now.Add(time.Minute)))
	require.NoError(t, m.Revoke(ctx, "jti-old", now.Add(-time.Minute)))

	revoked, err := m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = m.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no entry")

	now = now.Add(2 * time.Minute)
	revoked, err = m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

// Runs only when REDIS_ADDR points at a disposable Redis.
func TestRedisRevocations(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := auth.NewRedisClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	r := auth.NewRedisRevocations(client, "bakery-test:"+uuid.NewString()+":")
	id := uuid.NewString()

	revoked, err := r.IsRevoked(ctx, id)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, r.Revoke(ctx, id, time.Now().Add(time.Minute)))
	revoked, err = r.IsRevoked(ctx, id)
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, r.Revoke(ctx, "past", time.Now().Add(-time.Second)))
	revoked, err = r.IsRevoked(ctx, "past")
	require.NoError(t, err)
	assert.False(t, revoked)
}
