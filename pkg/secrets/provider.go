package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrSecretNotFound is returned when a provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// Provider reads secrets by key. Settlement only ever reads.
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// StaticProvider serves secrets from a fixed map
type StaticProvider map[string]string

func (p StaticProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, ok := p[key]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

type CachedProvider struct {
	provider Provider
	mu       sync.RWMutex
	cache    map[string]cachedSecret
	ttl      time.Duration
	now      func() time.Time
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewCachedProvider(provider Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string]cachedSecret),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (p *CachedProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && p.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	value, err := p.provider.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedSecret{
		value:     value,
		expiresAt: p.now().Add(p.ttl),
	}
	p.mu.Unlock()

	return value, nil
}

// Invalidate drops a cached key so the next read hits the provider
func (p *CachedProvider) Invalidate(key string) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}

type Manager struct {
	provider Provider
}

func NewManager(provider Provider) *Manager {
	return &Manager{provider: provider}
}

// GetTreasuryKey returns the raw treasury signing key stored under name
func (m *Manager) GetTreasuryKey(ctx context.Context, name string) (string, error) {
	return m.provider.GetSecret(ctx, name)
}

// NewProvider builds the configured provider wrapped in a TTL cache
func NewProvider(ctx context.Context, kind, region, prefix string, cacheTTL time.Duration) (Provider, error) {
	switch kind {
	case "", "env":
		return NewCachedProvider(NewEnvProvider(), cacheTTL), nil
	case "aws":
		return NewAWSSecretsManagerProvider(ctx, region, prefix, cacheTTL)
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", kind)
	}
}
