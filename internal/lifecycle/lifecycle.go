// Package lifecycle implements the lifecycle controller: document
// lock/unlock, last-viewer write-through, snapshot and sync
// orchestration, startup rehydrate, and graceful shutdown.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/cache"
	"github.com/collabcore/docserver/internal/crdt"
	"github.com/collabcore/docserver/internal/dispatch"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/metrics"
	"github.com/collabcore/docserver/internal/registry"
)

// ErrNotOwner is returned when a non-owner requests snapshot or sync.
var ErrNotOwner = errors.New("lifecycle: only the document owner may do this")

// ErrNotFound mirrors durable.ErrNotFound for callers that only import
// this package.
var ErrNotFound = durable.ErrNotFound

// Controller orchestrates the persistence side of a document's life. It
// shares the per-document lanes with the edit dispatcher so that lock,
// snapshot, and write-through never interleave with a live edit.
type Controller struct {
	cache cache.Cache
	store durable.Store
	reg   *registry.Registry
	disp  *dispatch.Dispatcher
	lanes *dispatch.Lanes
	log   *zap.Logger
	now   func() time.Time
}

func New(c cache.Cache, st durable.Store, reg *registry.Registry, disp *dispatch.Dispatcher, lanes *dispatch.Lanes, log *zap.Logger) *Controller {
	return &Controller{cache: c, store: st, reg: reg, disp: disp, lanes: lanes, log: log, now: time.Now}
}

// LockDoc sets the document's cached status to LOCKED and notifies
// viewers. The edit dispatcher rejects edits until UnlockDoc. The lock is
// transient — it is never persisted to the durable store.
func (c *Controller) LockDoc(ctx context.Context, docID, reason string) error {
	unlock := c.lanes.Lock(docID)
	err := c.setStatus(ctx, docID, crdt.StatusLocked)
	unlock()
	if err != nil {
		return err
	}
	c.reg.Broadcast(registry.DocRoom, docID, "docStatusChanged", map[string]any{
		"docId":  docID,
		"status": "locked",
		"reason": reason,
	}, nil)
	return nil
}

// UnlockDoc restores NORMAL status and notifies viewers.
func (c *Controller) UnlockDoc(ctx context.Context, docID string) error {
	unlock := c.lanes.Lock(docID)
	err := c.setStatus(ctx, docID, crdt.StatusNormal)
	unlock()
	if err != nil {
		return err
	}
	c.reg.Broadcast(registry.DocRoom, docID, "docStatusChanged", map[string]any{
		"docId":  docID,
		"status": "normal",
	}, nil)
	return nil
}

func (c *Controller) setStatus(ctx context.Context, docID string, status crdt.Status) error {
	_, _, err := c.cache.Update(ctx, docID, func(doc *crdt.Document) (*crdt.Document, error) {
		doc.Status = status
		return doc, nil
	})
	if errors.Is(err, cache.ErrAbsent) {
		// Not resident: materialize first, then set.
		doc, mErr := c.disp.Materialize(ctx, docID)
		if mErr != nil {
			return mErr
		}
		doc.Status = status
		return c.cache.Put(ctx, docID, doc)
	}
	return err
}

// OnLastViewerLeave writes the cached record through to the durable
// store when a document's viewer count reaches zero, so edits accrued
// during the session survive process loss. Failure is logged without
// retry — the next snapshot or sync covers it.
func (c *Controller) OnLastViewerLeave(ctx context.Context, docID string) {
	if c.reg.DocUserCount(docID) != 0 {
		return
	}
	unlock := c.lanes.Lock(docID)
	defer unlock()

	doc, ok, err := c.cache.Get(ctx, docID)
	if err != nil || !ok {
		return
	}
	if err := c.writeThrough(ctx, doc); err != nil {
		c.log.Warn("last-viewer write-through failed",
			zap.String("component", "lifecycle"),
			zap.String("doc", docID),
			zap.Error(err))
	}
}

func (c *Controller) writeThrough(ctx context.Context, doc *crdt.Document) error {
	metrics.WriteThroughs.Inc()
	var chunks []crdt.Chunk
	if doc.Chunks != nil {
		chunks = doc.Chunks.Chunks()
	}
	return c.store.WriteThrough(ctx, doc.ID, durable.WriteThroughInput{
		Content: doc.Content(),
		Chunks:  chunks,
		OpLog:   doc.OpLog,
		Version: doc.Version,
	})
}

// SnapshotDoc cuts a snapshot: lock, write through, truncate the durable
// op log and adopt the chunk list as the new baseline, clear the
// in-memory log, bump the snapshot version, reload the cache record,
// unlock, then notify viewers with the new version and content. Only the
// document's creator may snapshot.
func (c *Controller) SnapshotDoc(ctx context.Context, docID, requesterID string) (*crdt.Document, error) {
	doc, err := c.disp.Materialize(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !durable.DocOwner(doc, requesterID) {
		return nil, ErrNotOwner
	}

	if err := c.LockDoc(ctx, docID, "snapshot in progress"); err != nil {
		return nil, err
	}
	defer c.UnlockDoc(ctx, docID)

	unlock := c.lanes.Lock(docID)
	doc, ok, err := c.cache.Get(ctx, docID)
	if err != nil || !ok {
		unlock()
		return nil, durable.ErrNotFound
	}

	if err := c.writeThrough(ctx, doc); err != nil {
		unlock()
		return nil, err
	}

	doc.Version = doc.Version.BumpSnapshot()
	doc.OpLog = nil
	doc.Status = crdt.StatusNormal
	if doc.Chunks == nil {
		doc.Chunks = crdt.NewChunkList(nil)
	}
	at := c.now()
	if err := c.store.Snapshot(ctx, docID, durable.SnapshotInput{
		Content: doc.Content(),
		Chunks:  doc.Chunks.Chunks(),
		Version: doc.Version,
		At:      at,
	}); err != nil {
		unlock()
		return nil, err
	}
	if err := c.cache.Put(ctx, docID, doc); err != nil {
		unlock()
		return nil, err
	}
	unlock()
	metrics.Snapshots.Inc()

	c.reg.Broadcast(registry.DocRoom, docID, "docSnapshotCreated", map[string]any{
		"docId":   docID,
		"version": doc.Version,
		"content": doc.Content(),
	}, nil)
	return doc, nil
}

// SyncDoc forces a write-through under lock, then notifies the channel.
// Only the document's creator may sync.
func (c *Controller) SyncDoc(ctx context.Context, docID, requesterID string) (*crdt.Document, error) {
	doc, err := c.disp.Materialize(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !durable.DocOwner(doc, requesterID) {
		return nil, ErrNotOwner
	}

	if err := c.LockDoc(ctx, docID, "sync in progress"); err != nil {
		return nil, err
	}
	defer c.UnlockDoc(ctx, docID)

	unlock := c.lanes.Lock(docID)
	doc, ok, err := c.cache.Get(ctx, docID)
	if err != nil || !ok {
		unlock()
		return nil, durable.ErrNotFound
	}
	err = c.writeThrough(ctx, doc)
	unlock()
	if err != nil {
		return nil, err
	}

	c.reg.Broadcast(registry.ChannelRoom, doc.ChannelID, "docSyncCompleted", map[string]any{
		"docId":   docID,
		"version": doc.Version,
	}, nil)
	return doc, nil
}

// Startup flushes the hot tier (a stale cache from a prior crash must
// not be trusted) and prefetches every non-deleted document. A prefetch
// failure for one document is logged and does not block startup — that
// doc loads lazily on first viewer.
func (c *Controller) Startup(ctx context.Context) error {
	if err := c.cache.Flush(ctx); err != nil {
		return err
	}
	docs, err := c.store.ListAllDocs(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		// A LOCKED status is transient and never survives a restart.
		if doc.Status == crdt.StatusLocked {
			doc.Status = crdt.StatusNormal
		}
		if err := c.cache.Put(ctx, doc.ID, doc); err != nil {
			c.log.Warn("startup prefetch failed",
				zap.String("component", "lifecycle"),
				zap.String("doc", doc.ID),
				zap.Error(err))
		}
	}
	c.log.Info("startup rehydrate complete", zap.Int("docs", len(docs)))
	return nil
}

// Shutdown writes through every cached document. Socket close and
// connection teardown are the transport's responsibility; this covers
// the data. Write-through is version-gated, so re-writing a clean doc is
// a no-op at the store.
func (c *Controller) Shutdown(ctx context.Context) {
	ids, err := c.cache.Keys(ctx)
	if err != nil {
		c.log.Error("shutdown: cache key scan failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		unlock := c.lanes.Lock(id)
		doc, ok, err := c.cache.Get(ctx, id)
		if err == nil && ok && doc.Status != crdt.StatusDeleted {
			if err := c.writeThrough(ctx, doc); err != nil {
				c.log.Warn("shutdown write-through failed", zap.String("doc", id), zap.Error(err))
			}
		}
		unlock()
	}
	c.log.Info("shutdown write-through complete", zap.Int("docs", len(ids)))
}
