package cache

import (
	"context"
	"sync"

	"github.com/collabcore/docserver/internal/crdt"
)

// MemoryCache is an in-process Cache used by tests in place of Redis:
// a map behind an RWMutex with the same get/put/delete/update contract.
type MemoryCache struct {
	mu   sync.RWMutex
	docs map[string]*crdt.Document
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{docs: make(map[string]*crdt.Document)}
}

func (c *MemoryCache) Get(_ context.Context, id string) (*crdt.Document, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	return doc.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, id string, doc *crdt.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[id] = doc.Clone()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
	return nil
}

func (c *MemoryCache) Update(_ context.Context, id string, mutate func(*crdt.Document) (*crdt.Document, error)) (*crdt.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, ErrAbsent
	}
	updated, err := mutate(doc)
	if err != nil {
		return nil, false, err
	}
	c.docs[id] = updated
	return updated.Clone(), true, nil
}

func (c *MemoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.docs))
	for id := range c.docs {
		out = append(out, id)
	}
	return out, nil
}

func (c *MemoryCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = make(map[string]*crdt.Document)
	return nil
}
