package wire

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/crdt"
	"github.com/collabcore/docserver/internal/dispatch"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/lifecycle"
	"github.com/collabcore/docserver/internal/registry"
)

type docRequest struct {
	DocID       string  `json:"docId,omitempty"`
	ChannelID   string  `json:"channelId,omitempty"`
	Name        string  `json:"name,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	IsDirectory bool    `json:"isDirectory,omitempty"`
}

// docMeta is the metadata shape shipped in docList/docCreated replies.
func docMeta(d *crdt.Document) map[string]any {
	m := map[string]any{
		"docId":       d.ID,
		"channelId":   d.ChannelID,
		"name":        d.Name,
		"isDirectory": d.IsDirectory,
		"status":      d.Status.String(),
		"version":     d.Version,
		"createdBy":   d.CreatedBy,
	}
	if d.ParentID != nil {
		m["parentId"] = *d.ParentID
	}
	return m
}

func (s *Server) handleCreateDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Name == "" {
		c.enqueue(systemMessage("createDoc requires a name"))
		return
	}
	channelID := req.ChannelID
	if channelID == "" {
		channelID = sess.CurrentChannel()
	}
	if channelID == "" {
		c.enqueue(systemMessage("createDoc requires a channel"))
		return
	}
	if !s.requireMember(ctx, c, channelID) {
		return
	}

	now := time.Now()
	doc := &crdt.Document{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		Name:        req.Name,
		ParentID:    req.ParentID,
		IsDirectory: req.IsDirectory,
		Status:      crdt.StatusNormal,
		CreatedBy:   c.userID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     crdt.NewVersion(s.svcVer),
		Chunks:      crdt.NewChunkList(nil),
	}
	if err := s.store.CreateDoc(ctx, doc); err != nil {
		if errors.Is(err, durable.ErrConflict) {
			c.enqueue(systemMessage("a document with this name already exists here"))
			return
		}
		s.log.Error("create doc failed", zap.String("channel", channelID), zap.Error(err))
		c.enqueue(systemMessage("could not create document"))
		return
	}
	if err := s.cache.Put(ctx, doc.ID, doc); err != nil {
		s.log.Warn("create doc: cache put failed", zap.String("doc", doc.ID), zap.Error(err))
	}

	c.Deliver("docCreated", docMeta(doc))
	s.reg.Broadcast(registry.ChannelRoom, channelID, "docListChanged",
		map[string]any{"channelId": channelID}, nil)
}

func (s *Server) handleDeleteDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("deleteDoc requires a docId"))
		return
	}
	doc, err := s.disp.Materialize(ctx, req.DocID)
	if err != nil {
		c.enqueue(systemMessage("document not found"))
		return
	}
	if !durable.DocOwner(doc, c.userID) {
		c.enqueue(systemMessage("only the document owner may delete it"))
		return
	}

	if err := s.store.SoftDelete(ctx, req.DocID); err != nil {
		s.log.Error("soft delete failed", zap.String("doc", req.DocID), zap.Error(err))
		c.enqueue(systemMessage("could not delete document"))
		return
	}
	// Deleted documents never stay in the cache.
	s.cache.Delete(ctx, req.DocID)

	s.reg.Broadcast(registry.DocRoom, req.DocID, "docDeleted",
		map[string]any{"docId": req.DocID}, nil)
	s.reg.DetachAllFromDoc(req.DocID)
	s.reg.Broadcast(registry.ChannelRoom, doc.ChannelID, "docListChanged",
		map[string]any{"channelId": doc.ChannelID}, nil)
	c.Deliver("docDeleted", map[string]any{"docId": req.DocID})
}

func (s *Server) handleListDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	json.Unmarshal(data, &req)
	channelID := req.ChannelID
	if channelID == "" {
		channelID = sess.CurrentChannel()
	}
	if channelID == "" {
		c.enqueue(systemMessage("listDoc requires a channel"))
		return
	}
	if !s.requireMember(ctx, c, channelID) {
		return
	}

	docs, err := s.store.ListDocs(ctx, channelID)
	if err != nil {
		s.log.Error("list docs failed", zap.String("channel", channelID), zap.Error(err))
		c.enqueue(systemMessage("could not list documents"))
		return
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, docMeta(d))
	}
	c.Deliver("docList", map[string]any{"channelId": channelID, "docs": out})
}

func (s *Server) handleUpdateDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("updateDoc requires a docId"))
		return
	}
	if req.Name == "" && req.ParentID == nil {
		c.enqueue(systemMessage("updateDoc requires a new name or parent"))
		return
	}
	doc, err := s.disp.Materialize(ctx, req.DocID)
	if err != nil {
		c.enqueue(systemMessage("document not found"))
		return
	}
	if !s.requireMember(ctx, c, doc.ChannelID) {
		return
	}

	in := durable.RenameInput{ParentID: req.ParentID}
	if req.Name != "" {
		in.Name = &req.Name
	}
	if err := s.store.Rename(ctx, req.DocID, in); err != nil {
		if errors.Is(err, durable.ErrConflict) {
			c.enqueue(systemMessage("a document with this name already exists here"))
			return
		}
		s.log.Error("rename failed", zap.String("doc", req.DocID), zap.Error(err))
		c.enqueue(systemMessage("could not update document"))
		return
	}

	// Keep the cached record's metadata in line with the row.
	s.cache.Update(ctx, req.DocID, func(d *crdt.Document) (*crdt.Document, error) {
		if in.Name != nil {
			d.Name = *in.Name
		}
		if in.ParentID != nil {
			d.ParentID = in.ParentID
		}
		return d, nil
	})

	info := map[string]any{"docId": req.DocID}
	if in.Name != nil {
		info["name"] = *in.Name
	}
	if in.ParentID != nil {
		info["parentId"] = *in.ParentID
	}
	c.Deliver("docUpdated", info)
	s.reg.Broadcast(registry.DocRoom, req.DocID, "docInfoChanged", info, sess)
	s.reg.Broadcast(registry.ChannelRoom, doc.ChannelID, "docListChanged",
		map[string]any{"channelId": doc.ChannelID}, nil)
}

func (s *Server) handleEnterDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("enterDoc requires a docId"))
		return
	}
	channel := sess.CurrentChannel()
	if channel == "" {
		c.enqueue(systemMessage("enter a channel first"))
		return
	}

	doc, err := s.disp.Materialize(ctx, req.DocID)
	if err != nil {
		c.enqueue(systemMessage("document not found"))
		return
	}
	if doc.ChannelID != channel {
		c.enqueue(systemMessage("document belongs to a different channel"))
		return
	}
	if doc.IsDirectory {
		c.enqueue(systemMessage("cannot open a directory for editing"))
		return
	}

	s.leaveDocInternal(ctx, sess, c)
	s.reg.AttachDoc(sess, req.DocID)

	// Re-entering always ships a full snapshot of the current state, so a
	// client that suspects divergence can resync by re-entering.
	c.Deliver("docEntered", map[string]any{
		"docId":   doc.ID,
		"name":    doc.Name,
		"content": doc.Content(),
		"chunks":  doc.Chunks.Chunks(),
		"version": doc.Version,
		"status":  doc.Status.String(),
		"users":   s.reg.DocUsers(req.DocID),
	})
	s.reg.Broadcast(registry.DocRoom, req.DocID, "userEnteredDoc",
		map[string]any{"docId": req.DocID, "userId": c.userID}, sess)
	s.reg.Broadcast(registry.ChannelRoom, channel, "userDocStatusChanged",
		map[string]any{"userId": c.userID, "currentDoc": req.DocID}, sess)
}

func (s *Server) handleLeaveDoc(ctx context.Context, sess *registry.Session, c *Client, _ json.RawMessage) {
	if sess.CurrentDoc() == "" {
		c.enqueue(systemMessage("not viewing a document"))
		return
	}
	s.leaveDocInternal(ctx, sess, c)
	c.Deliver("docLeft", nil)
}

// leaveDocInternal detaches the session from its doc room, notifies
// remaining viewers, and triggers the last-viewer write-through when the
// room empties. Shared by leaveDoc, enterDoc/enterChannel transitions,
// and the disconnect path.
func (s *Server) leaveDocInternal(ctx context.Context, sess *registry.Session, c *Client) {
	docID := sess.CurrentDoc()
	if docID == "" {
		return
	}
	s.reg.DetachDoc(sess)
	s.reg.Broadcast(registry.DocRoom, docID, "userLeftDoc",
		map[string]any{"docId": docID, "userId": c.userID}, sess)
	if ch := sess.CurrentChannel(); ch != "" {
		s.reg.Broadcast(registry.ChannelRoom, ch, "userDocStatusChanged",
			map[string]any{"userId": c.userID, "currentDoc": ""}, sess)
	}
	s.life.OnLastViewerLeave(ctx, docID)
}

type editRequest struct {
	DocID string `json:"docId"`
	dispatch.EditIntent
}

func (s *Server) handleEditDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req editRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(protocolError("editDoc", "malformed edit"))
		return
	}
	out := s.disp.EditDoc(ctx, sess, req.DocID, req.EditIntent)
	s.replyOutcome(c, req.DocID, out)
}

type editBatchRequest struct {
	DocID string `json:"docId"`
	dispatch.BatchEdit
}

func (s *Server) handleEditDocBatch(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req editBatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueue(protocolError("editDocBatch", "malformed batch edit"))
		return
	}
	out := s.disp.EditDocBatch(ctx, sess, req.DocID, req.BatchEdit)
	s.replyOutcome(c, req.DocID, out)
}

// replyOutcome converts a dispatcher outcome into sender-facing frames.
// Applied edits were already broadcast to the whole doc room (originator
// included), so nothing more is owed to the sender.
func (s *Server) replyOutcome(c *Client, docID string, out dispatch.Outcome) {
	switch out.Kind {
	case dispatch.Applied:
		// docOp/docOpBatch already delivered via the room broadcast.
	case dispatch.Rejected:
		c.Deliver("editRejected", map[string]any{
			"docId":  docID,
			"reason": out.Reason,
		})
	case dispatch.AlreadyDeleted:
		c.Deliver("alreadyDeleted", map[string]any{
			"docId":   docID,
			"version": out.Version,
		})
	case dispatch.Invalid:
		c.enqueue(systemMessage(out.Reason))
	}
}

func (s *Server) handleSyncDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("syncDoc requires a docId"))
		return
	}
	doc, err := s.life.SyncDoc(ctx, req.DocID, c.userID)
	if err != nil {
		s.replyLifecycleErr(c, "sync", req.DocID, err)
		return
	}
	c.Deliver("docSynced", map[string]any{"docId": req.DocID, "version": doc.Version})
}

func (s *Server) handleSnapshotDoc(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("snapshotDoc requires a docId"))
		return
	}
	doc, err := s.life.SnapshotDoc(ctx, req.DocID, c.userID)
	if err != nil {
		s.replyLifecycleErr(c, "snapshot", req.DocID, err)
		return
	}
	c.Deliver("snapshotCreated", map[string]any{
		"docId":   req.DocID,
		"version": doc.Version,
		"content": doc.Content(),
	})
}

func (s *Server) replyLifecycleErr(c *Client, op, docID string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotOwner):
		c.enqueue(systemMessage("only the document owner may " + op))
	case errors.Is(err, durable.ErrNotFound):
		c.enqueue(systemMessage("document not found"))
	default:
		s.log.Error(op+" failed", zap.String("doc", docID), zap.Error(err))
		c.enqueue(systemMessage("could not " + op + " document"))
	}
}

func (s *Server) handleGetDocUsers(_ context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	json.Unmarshal(data, &req)
	docID := req.DocID
	if docID == "" {
		docID = sess.CurrentDoc()
	}
	if docID == "" {
		c.enqueue(systemMessage("getDocUsers requires a docId"))
		return
	}
	c.Deliver("docUsers", map[string]any{
		"docId": docID,
		"users": s.reg.DocUsers(docID),
	})
}

func (s *Server) handleGetDocStatus(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req docRequest
	if err := json.Unmarshal(data, &req); err != nil || req.DocID == "" {
		c.enqueue(systemMessage("getDocStatus requires a docId"))
		return
	}
	doc, err := s.disp.Materialize(ctx, req.DocID)
	if err != nil {
		c.enqueue(systemMessage("document not found"))
		return
	}
	c.Deliver("docStatus", map[string]any{
		"docId":   req.DocID,
		"status":  doc.Status.String(),
		"version": doc.Version,
		"viewers": s.reg.DocUserCount(req.DocID),
	})
}

// requireMember checks channel membership, replying with systemmessage
// on failure.
func (s *Server) requireMember(ctx context.Context, c *Client, channelID string) bool {
	member, err := s.channels.IsMember(ctx, channelID, c.userID)
	if err != nil {
		s.log.Error("membership check failed", zap.String("channel", channelID), zap.Error(err))
		c.enqueue(systemMessage("could not verify channel membership"))
		return false
	}
	if !member {
		c.enqueue(systemMessage("not a member of this channel"))
		return false
	}
	return true
}
