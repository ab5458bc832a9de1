package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cap5/settlement_service/internal/infrastructure/cache"
)

const (
	// DefaultWindow is how long a key stays held after it is first acquired
	DefaultWindow = 5 * time.Second

	defaultMemoryKeys = 10_000
	keyPrefix         = "settlement:debounce:"
)

// Guard suppresses repeated submissions of the same key within a window
type Guard interface {
	// Acquire returns true when key was free and is now held for the window
	Acquire(ctx context.Context, key string) (bool, error)
	// Release drops a held key before its window ends
	Release(ctx context.Context, key string) error
}

// MemoryGuard holds keys in a process-local expiring LRU
type MemoryGuard struct {
	mu   sync.Mutex
	keys *expirable.LRU[string, time.Time]
}

func NewMemoryGuard(window time.Duration) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryGuard{
		keys: expirable.NewLRU[string, time.Time](defaultMemoryKeys, nil, window),
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.keys.Get(key); held {
		return false, nil
	}
	g.keys.Add(key, time.Now())
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys.Remove(key)
	return nil
}

// RedisGuard shares the window across replicas through SET NX
type RedisGuard struct {
	client cache.RedisClient
	window time.Duration
}

func NewRedisGuard(client cache.RedisClient, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{client: client, window: window}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().Unix(), g.window)
	if err != nil {
		return false, fmt.Errorf("debounce acquire: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, keyPrefix+key)
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
