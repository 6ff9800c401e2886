package store

import (
	"context"
	"sync"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
)

// apiKeyCacheTTL bounds how long a cached key entry is served. Short on
// purpose: disabling a key has to take effect within this window.
const apiKeyCacheTTL = 30 * time.Second

type cachedApiKey struct {
	key      *model.ApiKey
	cachedAt time.Time
}

// CacheApiKeyStore wraps ApiKeyStore with a small in-process cache so the
// admission path does not hit the database on every request.
type CacheApiKeyStore struct {
	delegate ApiKey
	keys     map[string]cachedApiKey
	mu       sync.Mutex
}

func NewCacheApiKeyStore(delegate ApiKey) ApiKey {
	return &CacheApiKeyStore{
		delegate: delegate,
		keys:     make(map[string]cachedApiKey),
	}
}

func (c *CacheApiKeyStore) InitialMigration(ctx context.Context) error {
	return c.delegate.InitialMigration(ctx)
}

func (c *CacheApiKeyStore) Create(ctx context.Context, key model.ApiKey) (*model.ApiKey, error) {
	c.invalidate(key.KeyID)
	return c.delegate.Create(ctx, key)
}

func (c *CacheApiKeyStore) Get(ctx context.Context, keyID string) (*model.ApiKey, error) {
	c.mu.Lock()
	entry, found := c.keys[keyID]
	c.mu.Unlock()

	if found && time.Since(entry.cachedAt) < apiKeyCacheTTL {
		return entry.key, nil
	}

	key, err := c.delegate.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.keys[keyID] = cachedApiKey{key: key, cachedAt: time.Now()}
	c.mu.Unlock()

	return key, nil
}

func (c *CacheApiKeyStore) Touch(ctx context.Context, keyID string, seenAt time.Time) error {
	return c.delegate.Touch(ctx, keyID, seenAt)
}

func (c *CacheApiKeyStore) Delete(ctx context.Context, keyID string) error {
	c.invalidate(keyID)
	return c.delegate.Delete(ctx, keyID)
}

func (c *CacheApiKeyStore) invalidate(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, keyID)
}
