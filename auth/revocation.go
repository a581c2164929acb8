package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REVOCATION STORE - Signed-out token ids
// =============================================================================

// RevocationStore remembers revoked token ids until the tokens expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ----------------------------------------------------------------------------
// In-memory (single process)
// ----------------------------------------------------------------------------

type MemoryRevocations struct {
	mu    sync.Mutex
	until map[string]time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

var _ RevocationStore = (*MemoryRevocations)(nil)

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{until: make(map[string]time.Time), Now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	if until.After(m.Now()) {
		m.until[tokenID] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.until[tokenID]
	return ok && m.Now().Before(until), nil
}

func (m *MemoryRevocations) purgeLocked() {
	now := m.Now()
	for id, until := range m.until {
		if !now.Before(until) {
			delete(m.until, id)
		}
	}
}

// ----------------------------------------------------------------------------
// Redis (shared across server instances)
// ----------------------------------------------------------------------------

// RedisRevocations stores each revoked id as a key that expires with the token.
type RedisRevocations struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

var _ RevocationStore = (*RedisRevocations)(nil)

func NewRedisRevocations(client redis.Cmdable, prefix string) *RedisRevocations {
	if prefix == "" {
		prefix = "bakery:revoked:"
	}
	return &RedisRevocations{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}
