package durable

import (
	"context"
	"sync"
	"time"

	"github.com/collabcore/docserver/internal/crdt"
)

// MemoryStore is an in-process Store used by tests in place of a real
// Postgres connection: map-backed, mutex-guarded, with the same
// version-gating contract as the real adapter.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*crdt.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*crdt.Document)}
}

func (s *MemoryStore) CreateDoc(_ context.Context, doc *crdt.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[doc.ID]; ok && existing.Status != crdt.StatusDeleted {
		return ErrConflict
	}
	for _, d := range s.docs {
		if d.ChannelID == doc.ChannelID && equalParent(d.ParentID, doc.ParentID) && d.Name == doc.Name && d.Status != crdt.StatusDeleted {
			return ErrConflict
		}
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) LoadDoc(_ context.Context, id string) (*crdt.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) ListDocs(_ context.Context, channelID string) ([]*crdt.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*crdt.Document
	for _, d := range s.docs {
		if d.ChannelID == channelID && d.Status != crdt.StatusDeleted {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllDocs(_ context.Context) ([]*crdt.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*crdt.Document
	for _, d := range s.docs {
		if d.Status != crdt.StatusDeleted {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) WriteThrough(_ context.Context, id string, in WriteThroughInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if crdt.Compare(in.Version, doc.Version) <= 0 {
		return nil // only strictly increasing versions write
	}
	doc.Chunks = crdt.FromUnordered(in.Chunks)
	doc.OpLog = append([]crdt.OpLogEntry{}, in.OpLog...)
	doc.Version = in.Version
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, id string, in SnapshotInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Chunks = crdt.FromUnordered(in.Chunks)
	doc.OpLog = nil
	doc.Version = in.Version
	doc.UpdatedAt = in.At
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = crdt.StatusDeleted
	return nil
}

func (s *MemoryStore) Rename(_ context.Context, id string, in RenameInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	name := doc.Name
	if in.Name != nil {
		name = *in.Name
	}
	parent := doc.ParentID
	if in.ParentID != nil {
		parent = in.ParentID
	}
	for otherID, d := range s.docs {
		if otherID != id && d.ChannelID == doc.ChannelID && equalParent(d.ParentID, parent) && d.Name == name && d.Status != crdt.StatusDeleted {
			return ErrConflict
		}
	}
	doc.Name = name
	doc.ParentID = parent
	return nil
}

func equalParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
