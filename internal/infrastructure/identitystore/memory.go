package identitystore

import (
	"context"
	"sync"

	"github.com/chatsim/joinsync/internal/domain/identity"
)

// MemoryCache keeps identities for the life of the process.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[identity.Key]*identity.Identity
}

var _ identity.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[identity.Key]*identity.Identity)}
}

func (c *MemoryCache) Load(_ context.Context, key identity.Key) (*identity.Identity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[key].Clone(), nil
}

func (c *MemoryCache) Save(_ context.Context, key identity.Key, id *identity.Identity) error {
	if err := key.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == nil {
		delete(c.items, key)
		return nil
	}
	c.items[key] = id.Clone()
	return nil
}

func (c *MemoryCache) Purge(_ context.Context, key identity.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}
