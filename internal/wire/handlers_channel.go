package wire

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/registry"
)

type channelRequest struct {
	ChannelID string `json:"channelId,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (s *Server) handleCreateChannel(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req channelRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Name == "" {
		c.enqueue(systemMessage("createChannel requires a name"))
		return
	}

	ch := &durable.Channel{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerID:   c.userID,
		CreatedAt: time.Now(),
	}
	if err := s.channels.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, durable.ErrConflict) {
			c.enqueue(systemMessage("channel name already in use"))
			return
		}
		s.log.Error("create channel failed", zap.String("name", req.Name), zap.Error(err))
		c.enqueue(systemMessage("could not create channel"))
		return
	}
	c.Deliver("channelCreated", map[string]any{
		"channelId": ch.ID,
		"name":      ch.Name,
	})
}

func (s *Server) handleJoinChannel(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req channelRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChannelID == "" {
		c.enqueue(systemMessage("joinChannel requires a channelId"))
		return
	}
	if _, err := s.channels.GetChannel(ctx, req.ChannelID); err != nil {
		c.enqueue(systemMessage("channel not found"))
		return
	}
	if err := s.channels.JoinChannel(ctx, req.ChannelID, c.userID); err != nil {
		s.log.Error("join channel failed", zap.String("channel", req.ChannelID), zap.Error(err))
		c.enqueue(systemMessage("could not join channel"))
		return
	}
	c.Deliver("channelJoined", map[string]any{"channelId": req.ChannelID})
}

func (s *Server) handleListChannel(ctx context.Context, _ *registry.Session, c *Client, _ json.RawMessage) {
	channels, err := s.channels.ListChannels(ctx, c.userID)
	if err != nil {
		s.log.Error("list channels failed", zap.String("user", c.userID), zap.Error(err))
		c.enqueue(systemMessage("could not list channels"))
		return
	}
	out := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]any{
			"channelId": ch.ID,
			"name":      ch.Name,
			"ownerId":   ch.OwnerID,
		})
	}
	c.Deliver("channelList", map[string]any{"channels": out})
}

func (s *Server) handleQuitChannel(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req channelRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChannelID == "" {
		c.enqueue(systemMessage("quitChannel requires a channelId"))
		return
	}
	// Quitting the channel you are currently in leaves its rooms first.
	if sess.CurrentChannel() == req.ChannelID {
		s.leaveChannelInternal(ctx, sess, c)
	}
	if err := s.channels.QuitChannel(ctx, req.ChannelID, c.userID); err != nil {
		s.log.Error("quit channel failed", zap.String("channel", req.ChannelID), zap.Error(err))
		c.enqueue(systemMessage("could not quit channel"))
		return
	}
	c.Deliver("channelQuit", map[string]any{"channelId": req.ChannelID})
}

func (s *Server) handleEnterChannel(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage) {
	var req channelRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChannelID == "" {
		c.enqueue(systemMessage("enterChannel requires a channelId"))
		return
	}
	member, err := s.channels.IsMember(ctx, req.ChannelID, c.userID)
	if err != nil {
		s.log.Error("membership check failed", zap.String("channel", req.ChannelID), zap.Error(err))
		c.enqueue(systemMessage("could not enter channel"))
		return
	}
	if !member {
		c.enqueue(systemMessage("not a member of this channel"))
		return
	}

	// Entering a new channel leaves the previous one (and its doc room).
	s.leaveDocInternal(ctx, sess, c)
	if prev := sess.CurrentChannel(); prev != "" && prev != req.ChannelID {
		s.reg.Broadcast(registry.ChannelRoom, prev, "userLeft",
			map[string]any{"userId": c.userID}, sess)
	}

	s.reg.AttachChannel(sess, req.ChannelID)
	s.reg.Broadcast(registry.ChannelRoom, req.ChannelID, "userEntered",
		map[string]any{"userId": c.userID}, sess)

	c.Deliver("channelEntered", map[string]any{
		"channelId": req.ChannelID,
		"users":     presenceList(s.reg.ChannelUsers(req.ChannelID)),
	})
}

func (s *Server) handleLeaveChannel(ctx context.Context, sess *registry.Session, c *Client, _ json.RawMessage) {
	if sess.CurrentChannel() == "" {
		c.enqueue(systemMessage("not in a channel"))
		return
	}
	s.leaveChannelInternal(ctx, sess, c)
	c.Deliver("channelLeft", nil)
}

// leaveChannelInternal detaches the session from its doc and channel
// rooms, notifying peers. Shared by leaveChannel and quitChannel.
func (s *Server) leaveChannelInternal(ctx context.Context, sess *registry.Session, c *Client) {
	s.leaveDocInternal(ctx, sess, c)
	ch := sess.CurrentChannel()
	if ch == "" {
		return
	}
	s.reg.DetachChannel(sess)
	s.reg.Broadcast(registry.ChannelRoom, ch, "userLeft",
		map[string]any{"userId": c.userID}, sess)
}

func (s *Server) handleGetChannelUsers(_ context.Context, sess *registry.Session, c *Client, _ json.RawMessage) {
	ch := sess.CurrentChannel()
	if ch == "" {
		c.enqueue(systemMessage("not in a channel"))
		return
	}
	c.Deliver("channelUsers", map[string]any{
		"channelId": ch,
		"users":     presenceList(s.reg.ChannelUsers(ch)),
	})
}

func presenceList(users []registry.ChannelPresence) []map[string]any {
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		entry := map[string]any{"userId": u.UserID}
		if u.CurrentDoc != "" {
			entry["currentDoc"] = u.CurrentDoc
		}
		out = append(out, entry)
	}
	return out
}
