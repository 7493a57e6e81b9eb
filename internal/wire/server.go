package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/auth"
	"github.com/collabcore/docserver/internal/cache"
	"github.com/collabcore/docserver/internal/dispatch"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/lifecycle"
	"github.com/collabcore/docserver/internal/metrics"
	"github.com/collabcore/docserver/internal/registry"
)

// requestTimeout bounds the external I/O behind a single inbound event.
// A timeout yields an error reply for that event without aborting the
// connection.
const requestTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires the websocket surface to the core: registry, dispatcher,
// lifecycle controller, and the channel/document boundaries.
type Server struct {
	reg      *registry.Registry
	disp     *dispatch.Dispatcher
	life     *lifecycle.Controller
	store    durable.Store
	channels durable.ChannelStore
	cache    cache.Cache
	verifier *auth.Verifier
	svcVer   int
	log      *zap.Logger
}

func NewServer(reg *registry.Registry, disp *dispatch.Dispatcher, life *lifecycle.Controller,
	store durable.Store, channels durable.ChannelStore, c cache.Cache,
	verifier *auth.Verifier, serviceVersion int, log *zap.Logger) *Server {
	return &Server{
		reg: reg, disp: disp, life: life,
		store: store, channels: channels, cache: c,
		verifier: verifier, svcVer: serviceVersion, log: log,
	}
}

// HandleWS is the upgrade endpoint at /ws. The handshake carries
// ?token=<bearer>; verification failure closes the socket with status
// 1008.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	userID, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailure, "authentication failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := newClient(s, conn, userID)
	s.reg.Register(client, userID)
	metrics.ActiveSessions.Inc()
	s.log.Info("session connected", zap.String("conn", client.id), zap.String("user", userID))

	go client.writePump()
	go client.readPump()
}

// Shutdown closes every connected socket with a going-away status.
func (s *Server) Shutdown() {
	for _, sess := range s.reg.Sessions() {
		if c, ok := sess.Conn.(*Client); ok {
			c.closeWith(CloseShutdown)
		}
	}
}

// disconnect tears a session down after its read pump exits: leave the
// doc room (triggering last-viewer write-through), leave the channel
// room, unregister.
func (s *Server) disconnect(c *Client) {
	sess, ok := s.reg.Session(c.id)
	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		s.leaveDocInternal(ctx, sess, c)
		if ch := sess.CurrentChannel(); ch != "" {
			s.reg.Broadcast(registry.ChannelRoom, ch, "userLeft",
				map[string]any{"userId": c.userID}, sess)
		}
		cancel()
	}
	s.reg.Unregister(c.id)
	metrics.ActiveSessions.Dec()
	s.log.Info("session disconnected", zap.String("conn", c.id), zap.String("user", c.userID))
}

type handlerFunc func(ctx context.Context, sess *registry.Session, c *Client, data json.RawMessage)

// route dispatches one inbound envelope into its typed handler. Unknown
// events get a protocol error; the connection stays open.
func (s *Server) route(c *Client, env Envelope) {
	sess, ok := s.reg.Session(c.id)
	if !ok {
		return
	}

	var h handlerFunc
	switch env.Event {
	case "ping":
		h = s.handlePing
	case "createChannel":
		h = s.handleCreateChannel
	case "joinChannel":
		h = s.handleJoinChannel
	case "listChannel":
		h = s.handleListChannel
	case "quitChannel":
		h = s.handleQuitChannel
	case "enterChannel":
		h = s.handleEnterChannel
	case "leaveChannel":
		h = s.handleLeaveChannel
	case "createDoc":
		h = s.handleCreateDoc
	case "deleteDoc":
		h = s.handleDeleteDoc
	case "listDoc":
		h = s.handleListDoc
	case "updateDoc":
		h = s.handleUpdateDoc
	case "enterDoc":
		h = s.handleEnterDoc
	case "leaveDoc":
		h = s.handleLeaveDoc
	case "editDoc":
		h = s.handleEditDoc
	case "editDocBatch":
		h = s.handleEditDocBatch
	case "syncDoc":
		h = s.handleSyncDoc
	case "snapshotDoc":
		h = s.handleSnapshotDoc
	case "getChannelUsers":
		h = s.handleGetChannelUsers
	case "getDocUsers":
		h = s.handleGetDocUsers
	case "getDocStatus":
		h = s.handleGetDocStatus
	default:
		c.enqueue(protocolError(env.Event, "unknown event"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	h(ctx, sess, c, env.Data)
}

func (s *Server) handlePing(_ context.Context, _ *registry.Session, c *Client, _ json.RawMessage) {
	c.Deliver("pong", nil)
}
