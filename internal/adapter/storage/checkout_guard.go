package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const (
	checkoutKeyPrefix  = "checkout:"
	defaultCheckoutTTL = 30 * time.Second
	releaseTimeout     = time.Second
)

// Deletes the lock only if it still holds our token, so an expired lock
// taken over by a later checkout is left alone.
var releaseCheckoutScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisCheckoutGuard serializes checkouts per user across processes. The TTL
// bounds how long a crashed holder can block the user.
type RedisCheckoutGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCheckoutGuard(client redis.UniversalClient, ttl time.Duration) *RedisCheckoutGuard {
	if ttl <= 0 {
		ttl = defaultCheckoutTTL
	}
	return &RedisCheckoutGuard{client: client, ttl: ttl}
}

func (g *RedisCheckoutGuard) Acquire(ctx context.Context, userID string) (func(), error) {
	key := checkoutKeyPrefix + userID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire checkout lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrConflict
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		releaseCheckoutScript.Run(ctx, g.client, []string{key}, token)
	}, nil
}

// MemoryCheckoutGuard serializes checkouts per user within one process.
type MemoryCheckoutGuard struct {
	inflight sync.Map
}

func NewMemoryCheckoutGuard() *MemoryCheckoutGuard {
	return &MemoryCheckoutGuard{}
}

func (g *MemoryCheckoutGuard) Acquire(_ context.Context, userID string) (func(), error) {
	if _, loaded := g.inflight.LoadOrStore(userID, struct{}{}); loaded {
		return nil, domain.ErrConflict
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.inflight.Delete(userID) })
	}, nil
}
