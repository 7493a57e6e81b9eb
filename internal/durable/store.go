// Package durable adapts the relational store of record — the
// authoritative row per document — onto the in-memory crdt.Document shape
// used by the rest of the core: load, write-through (version-gated),
// snapshot, and soft-delete.
package durable

import (
	"context"
	"errors"
	"time"

	"github.com/collabcore/docserver/internal/crdt"
)

// ErrNotFound is returned by LoadDoc when no row exists for the id.
var ErrNotFound = errors.New("durable: document not found")

// ErrConflict is returned by rename/move when the target
// (channelId, parentId, name) triple is already taken.
var ErrConflict = errors.New("durable: name already in use under parent")

// WriteThroughInput bundles the fields a write-through updates —
// everything the cache accumulates between persistence points.
type WriteThroughInput struct {
	Content string
	Chunks  []crdt.Chunk
	OpLog   []crdt.OpLogEntry
	Version crdt.Version
}

// SnapshotInput bundles the fields a snapshot replaces the row with: the
// op log is truncated to empty and chunks become the new baseline.
type SnapshotInput struct {
	Content string
	Chunks  []crdt.Chunk
	Version crdt.Version
	At      time.Time
}

// RenameInput describes an optional rename/move; nil fields are left
// unchanged.
type RenameInput struct {
	Name     *string
	ParentID *string
}

// Store is the durable adapter's contract. Implementations must keep
// the stored version monotone: WriteThrough only writes when the
// supplied version strictly exceeds the stored version.
type Store interface {
	CreateDoc(ctx context.Context, doc *crdt.Document) error
	LoadDoc(ctx context.Context, id string) (*crdt.Document, error)
	ListDocs(ctx context.Context, channelID string) ([]*crdt.Document, error)
	// ListAllDocs returns every non-deleted document across channels; used
	// by the startup prefetch.
	ListAllDocs(ctx context.Context) ([]*crdt.Document, error)
	WriteThrough(ctx context.Context, id string, in WriteThroughInput) error
	Snapshot(ctx context.Context, id string, in SnapshotInput) error
	SoftDelete(ctx context.Context, id string) error
	Rename(ctx context.Context, id string, in RenameInput) error
}
