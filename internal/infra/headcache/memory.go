package headcache

import (
	"context"
	"sync"

	"custodia/internal/domain"
)

type MemoryCache struct {
	mu    sync.Mutex
	heads map[string]domain.ChainHead
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{heads: make(map[string]domain.ChainHead)}
}

func (c *MemoryCache) GetHead(_ context.Context, runID string) (*domain.ChainHead, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, ok := c.heads[runID]
	if !ok {
		return nil, nil
	}
	out := head
	return &out, nil
}

func (c *MemoryCache) SetHead(_ context.Context, head domain.ChainHead) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heads[head.RunID] = head
	return nil
}
