// Package cache implements the hot tier: a per-document record held in
// a shared key-value layer, fronting the durable store for live
// editing. Reads and writes degrade to a configured fallback (absent /
// false) when the backing layer is unreachable.
package cache

import (
	"context"

	"github.com/collabcore/docserver/internal/crdt"
)

// Cache is the hot tier's contract. Implementations do not need to make
// Update atomic across the network — the edit dispatcher serializes
// mutations to a given document id at the process level, so a plain
// read-modify-write here is sufficient.
type Cache interface {
	Get(ctx context.Context, id string) (*crdt.Document, bool, error)
	Put(ctx context.Context, id string, doc *crdt.Document) error
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, mutate func(*crdt.Document) (*crdt.Document, error)) (*crdt.Document, bool, error)
	// Flush drops every entry. Called once at process startup — a stale
	// cache surviving a prior crash must not be trusted.
	Flush(ctx context.Context) error
	// Keys lists the ids of every resident document; the shutdown path
	// uses it to write through everything still cached.
	Keys(ctx context.Context) ([]string, error)
}

// ErrAbsent is returned by Update when the target id has no cached
// record to read-modify-write.
var ErrAbsent = errAbsent{}

type errAbsent struct{}

func (errAbsent) Error() string { return "cache: document not resident" }
