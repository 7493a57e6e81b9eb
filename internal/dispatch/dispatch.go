// Package dispatch implements the edit dispatcher: the single-writer
// pipeline that validates an edit intent, mutates the document's chunk
// list through the hot tier, appends to the op log, bumps the version,
// and fans the authoritative result out to every viewer.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/cache"
	"github.com/collabcore/docserver/internal/crdt"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/metrics"
	"github.com/collabcore/docserver/internal/registry"
)

// OutcomeKind tags the dispatcher's result. The dispatcher never raises;
// the wire layer converts outcomes to protocol envelopes.
type OutcomeKind int

const (
	// Applied: the edit mutated the document and was broadcast.
	Applied OutcomeKind = iota
	// Rejected: the document is locked; the sender gets editRejected.
	Rejected
	// Invalid: a validation or authorization failure; the sender gets
	// systemmessage and nothing was mutated.
	Invalid
	// AlreadyDeleted: the target chunk is gone. A success for delete
	// idempotence purposes; no log entry was appended.
	AlreadyDeleted
)

// Outcome is the dispatcher's tagged result.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string
	Entries []crdt.OpLogEntry
	Version crdt.Version
	Content string
}

func invalid(reason string) Outcome {
	metrics.EditsRejected.WithLabelValues("validation").Inc()
	return Outcome{Kind: Invalid, Reason: reason}
}

// Dispatcher routes edit intents through the validation pipeline and
// serializes all mutation of one document through its lane.
type Dispatcher struct {
	cache cache.Cache
	store durable.Store
	reg   *registry.Registry
	lanes *Lanes
	log   *zap.Logger
	now   func() time.Time
}

func New(c cache.Cache, st durable.Store, reg *registry.Registry, lanes *Lanes, log *zap.Logger) *Dispatcher {
	return &Dispatcher{cache: c, store: st, reg: reg, lanes: lanes, log: log, now: time.Now}
}

// Materialize returns the cached record for a document, loading it from
// the durable store on a cache miss. Soft-deleted documents are never
// materialized: a deleted row evicts any cache remnant and reports
// not-found.
func (d *Dispatcher) Materialize(ctx context.Context, docID string) (*crdt.Document, error) {
	doc, ok, err := d.cache.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if ok {
		if doc.Status == crdt.StatusDeleted {
			d.cache.Delete(ctx, docID)
			return nil, durable.ErrNotFound
		}
		if doc.Chunks == nil {
			doc.Chunks = crdt.NewChunkList(nil)
		}
		return doc, nil
	}

	doc, err = d.store.LoadDoc(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status == crdt.StatusDeleted {
		return nil, durable.ErrNotFound
	}
	if doc.Chunks == nil {
		doc.Chunks = crdt.NewChunkList(nil)
	}
	if err := d.cache.Put(ctx, docID, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// EditDoc applies a single-operation edit intent (the editDoc event).
// On success the dispatcher broadcasts docOp to every viewer of the doc,
// including the originator — the broadcast carries the authoritative id
// allocated by the server.
func (d *Dispatcher) EditDoc(ctx context.Context, s *registry.Session, docID string, intent EditIntent) Outcome {
	if reason, ok := d.precheck(s, docID); !ok {
		return invalid(reason)
	}

	unlock := d.lanes.Lock(docID)
	defer unlock()

	doc, out, ok := d.loadForEdit(ctx, docID)
	if !ok {
		return out
	}

	var entry crdt.OpLogEntry
	switch intent.Intent {
	case "insert":
		if len([]rune(intent.Value)) != 1 {
			return invalid("insert value must be exactly one character")
		}
		id, err := doc.Chunks.InsertChunk(intent.LeftID, intent.RightID, intent.Value)
		if err != nil {
			return invalid(err.Error())
		}
		entry = crdt.NewInsertEntry(s.UserID, d.now(), id, intent.LeftID, intent.RightID, intent.Value)
	case "delete":
		if len(intent.ID) == 0 {
			return invalid("delete requires a chunk id")
		}
		text, err := doc.Chunks.DeleteChunk(intent.ID)
		if errors.Is(err, crdt.ErrAlreadyDeleted) {
			metrics.EditsRejected.WithLabelValues("already_deleted").Inc()
			return Outcome{Kind: AlreadyDeleted, Version: doc.Version, Content: doc.Content()}
		}
		if err != nil {
			return invalid(err.Error())
		}
		entry = crdt.NewDeleteEntry(s.UserID, d.now(), intent.ID, text)
	default:
		return invalid("unknown edit intent: " + intent.Intent)
	}

	out = d.commit(ctx, doc, []crdt.OpLogEntry{entry})
	if out.Kind == Applied {
		d.broadcastOps(docID, "docOp", s.UserID, out)
	}
	return out
}

// EditDocBatch applies a grouped edit (the editDocBatch event). All
// operations in the batch apply atomically under the document's lane; a
// failure partway through leaves the cached record untouched. On success
// docOpBatch is broadcast to every viewer including the originator.
func (d *Dispatcher) EditDocBatch(ctx context.Context, s *registry.Session, docID string, batch BatchEdit) Outcome {
	if reason, ok := d.precheck(s, docID); !ok {
		return invalid(reason)
	}

	unlock := d.lanes.Lock(docID)
	defer unlock()

	doc, out, ok := d.loadForEdit(ctx, docID)
	if !ok {
		return out
	}

	entries, err := d.applyBatch(doc, s.UserID, batch)
	if err != nil {
		if errors.Is(err, crdt.ErrAlreadyDeleted) {
			metrics.EditsRejected.WithLabelValues("already_deleted").Inc()
			return Outcome{Kind: AlreadyDeleted, Version: doc.Version, Content: doc.Content()}
		}
		return invalid(err.Error())
	}

	out = d.commit(ctx, doc, entries)
	if out.Kind == Applied {
		d.broadcastOps(docID, "docOpBatch", s.UserID, out)
	}
	return out
}

// precheck runs the session-level validation steps that need no document
// state: the originator must be currently viewing the target doc.
func (d *Dispatcher) precheck(s *registry.Session, docID string) (string, bool) {
	if docID == "" {
		return "missing document id", false
	}
	if s.CurrentDoc() != docID {
		return "not viewing this document", false
	}
	return "", true
}

// loadForEdit materializes the doc under the lane and checks its status.
// The third return is false when the returned Outcome should be handed
// straight back to the caller.
func (d *Dispatcher) loadForEdit(ctx context.Context, docID string) (*crdt.Document, Outcome, bool) {
	doc, err := d.Materialize(ctx, docID)
	if errors.Is(err, durable.ErrNotFound) {
		return nil, invalid("document not found"), false
	}
	if err != nil {
		d.log.Warn("edit: materialize failed", zap.String("doc", docID), zap.Error(err))
		return nil, invalid("document unavailable"), false
	}
	switch doc.Status {
	case crdt.StatusLocked:
		metrics.EditsRejected.WithLabelValues("locked").Inc()
		return nil, Outcome{Kind: Rejected, Reason: "document is locked"}, false
	case crdt.StatusDeleted:
		return nil, invalid("document deleted"), false
	}
	if doc.Chunks == nil {
		doc.Chunks = crdt.NewChunkList(nil)
	}
	return doc, Outcome{}, true
}

// applyBatch mutates doc.Chunks for all three batch shapes, returning
// the log entries with server-allocated ids.
func (d *Dispatcher) applyBatch(doc *crdt.Document, userID string, batch BatchEdit) ([]crdt.OpLogEntry, error) {
	switch {
	case len(batch.Ops) > 0:
		return d.applyOpSequence(doc, userID, batch.Ops)
	case len(batch.TargetID) > 0:
		res, err := doc.Chunks.SplitAndInsert(batch.TargetID, batch.Offset, batch.Text)
		if err != nil {
			return nil, err
		}
		return []crdt.OpLogEntry{crdt.NewSplitEntry(userID, d.now(),
			batch.TargetID, batch.Offset, res.LeftText,
			res.InsertID, batch.Text, res.RightID, res.RightText)}, nil
	default:
		if batch.Text == "" {
			return nil, errors.New("batch insert requires text")
		}
		id, err := doc.Chunks.InsertChunk(batch.LeftID, batch.RightID, batch.Text)
		if err != nil {
			return nil, err
		}
		return []crdt.OpLogEntry{crdt.NewInsertEntry(userID, d.now(), id, batch.LeftID, batch.RightID, batch.Text)}, nil
	}
}

func (d *Dispatcher) applyOpSequence(doc *crdt.Document, userID string, ops []BatchOp) ([]crdt.OpLogEntry, error) {
	temps := make(resolver)
	entries := make([]crdt.OpLogEntry, 0, len(ops))
	for n, op := range ops {
		switch op.Op {
		case "insert":
			leftID, err := temps.resolve(op.LeftID)
			if err != nil {
				return nil, err
			}
			rightID, err := temps.resolve(op.RightID)
			if err != nil {
				return nil, err
			}
			if op.Text == "" {
				return nil, errors.New("insert requires text")
			}
			id, err := doc.Chunks.InsertChunk(leftID, rightID, op.Text)
			if err != nil {
				return nil, err
			}
			temps[tempKey(n)] = id
			entries = append(entries, crdt.NewInsertEntry(userID, d.now(), id, leftID, rightID, op.Text))
		case "split":
			targetID, err := temps.resolve(op.TargetID)
			if err != nil {
				return nil, err
			}
			if len(targetID) == 0 {
				return nil, errors.New("split requires a target id")
			}
			res, err := doc.Chunks.SplitAndInsert(targetID, op.Offset, op.Text)
			if err != nil {
				return nil, err
			}
			temps[tempKey(n)] = res.InsertID
			entries = append(entries, crdt.NewSplitEntry(userID, d.now(),
				targetID, op.Offset, res.LeftText, res.InsertID, op.Text, res.RightID, res.RightText))
		case "delete":
			id, err := temps.resolve(op.ID)
			if err != nil {
				return nil, err
			}
			if len(id) == 0 {
				return nil, errors.New("delete requires a chunk id")
			}
			text, err := doc.Chunks.DeleteChunk(id)
			if err != nil {
				return nil, err
			}
			entries = append(entries, crdt.NewDeleteEntry(userID, d.now(), id, text))
		case "trim":
			id, err := temps.resolve(op.ID)
			if err != nil {
				return nil, err
			}
			if len(id) == 0 {
				return nil, errors.New("trim requires a chunk id")
			}
			res, err := doc.Chunks.Trim(id, op.Start, op.End)
			if err != nil {
				return nil, err
			}
			entries = append(entries, crdt.NewTrimEntry(userID, d.now(), id, op.Start, op.End, res.DeletedText, res.NewText))
		default:
			return nil, errors.New("unknown batch op: " + op.Op)
		}
	}
	return entries, nil
}

// commit appends the entries to the op log, bumps the log version once
// per entry, and writes the record back to the hot tier.
func (d *Dispatcher) commit(ctx context.Context, doc *crdt.Document, entries []crdt.OpLogEntry) Outcome {
	doc.OpLog = append(doc.OpLog, entries...)
	for range entries {
		doc.Version = doc.Version.BumpLog()
	}
	doc.UpdatedAt = d.now()

	if err := d.cache.Put(ctx, doc.ID, doc); err != nil {
		d.log.Error("edit: cache write failed", zap.String("doc", doc.ID), zap.Error(err))
		return invalid("document store unavailable")
	}

	for _, e := range entries {
		metrics.EditsApplied.WithLabelValues(string(e.Kind)).Inc()
	}
	return Outcome{Kind: Applied, Entries: entries, Version: doc.Version, Content: doc.Content()}
}

func (d *Dispatcher) broadcastOps(docID, event, userID string, out Outcome) {
	data := map[string]any{
		"docId":   docID,
		"userId":  userID,
		"version": out.Version,
		"content": out.Content,
	}
	if event == "docOp" {
		data["op"] = out.Entries[0]
	} else {
		data["ops"] = out.Entries
	}
	metrics.BroadcastsSent.WithLabelValues(event).Inc()
	d.reg.Broadcast(registry.DocRoom, docID, event, data, nil)
}
