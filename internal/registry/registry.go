// Package registry implements the session registry and room
// broadcaster: the mapping from connection to (user, channel, doc) and
// the bidirectional indexes used to fan events out to every session in a
// channel-room or doc-room.
package registry

import "sync"

// Connection is the minimal capability the registry needs from a
// transport-layer connection: an id to key sessions by, and a way to
// deliver an event without blocking the registry. Delivery failures (a
// full queue, a dead socket) are the transport's concern — broadcast is
// best-effort and never aborts the fan-out because one receiver is
// slow.
type Connection interface {
	ID() string
	Deliver(event string, data map[string]any)
}

// Session is a connected socket with a verified user identity and an
// optional current channel/doc. CurrentDoc implies CurrentChannel, and the
// doc's channel equals the current channel (invariant enforced by callers
// attaching/detaching through the Registry, not by Session itself).
type Session struct {
	Conn   Connection
	UserID string

	mu             sync.RWMutex
	currentChannel string
	currentDoc     string
}

func (s *Session) ID() string { return s.Conn.ID() }

func (s *Session) CurrentChannel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChannel
}

func (s *Session) CurrentDoc() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDoc
}

// Registry owns the process-wide connection indexes: a single
// synchronized object exposing atomic attach/detach/query operations,
// rather than two package-level mutable maps.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // connID -> session
	channels map[string]map[string]*Session // channelID -> connID -> session
	docs     map[string]map[string]*Session // docID -> connID -> session
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		channels: make(map[string]map[string]*Session),
		docs:     make(map[string]map[string]*Session),
	}
}

// Register adds a newly authenticated connection with no channel/doc yet.
func (r *Registry) Register(conn Connection, userID string) *Session {
	s := &Session{Conn: conn, UserID: userID}
	r.mu.Lock()
	r.sessions[conn.ID()] = s
	r.mu.Unlock()
	return s
}

// Unregister removes a session and detaches it from any channel/doc room
// it belonged to. Call this once, on connection close.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	r.detachChannelLocked(s)
	r.detachDocLocked(s)
	delete(r.sessions, connID)
}

// AttachChannel moves a session into a channel-room, leaving any previous
// one. Entering a channel always leaves the previous doc too — a session
// can only view a doc within its current channel (invariant: currentDoc
// implies currentChannel equal to the doc's channel).
func (r *Registry) AttachChannel(s *Session, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachDocLocked(s)
	r.detachChannelLocked(s)

	s.mu.Lock()
	s.currentChannel = channelID
	s.mu.Unlock()

	room, ok := r.channels[channelID]
	if !ok {
		room = make(map[string]*Session)
		r.channels[channelID] = room
	}
	room[s.ID()] = s
}

// DetachChannel removes a session from its current channel-room (and,
// transitively, any doc-room).
func (r *Registry) DetachChannel(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachDocLocked(s)
	r.detachChannelLocked(s)
}

func (r *Registry) detachChannelLocked(s *Session) {
	ch := s.CurrentChannel()
	if ch == "" {
		return
	}
	if room, ok := r.channels[ch]; ok {
		delete(room, s.ID())
		if len(room) == 0 {
			delete(r.channels, ch)
		}
	}
	s.mu.Lock()
	s.currentChannel = ""
	s.mu.Unlock()
}

// AttachDoc moves a session into a doc-room. Callers must have already
// attached the session to the doc's channel.
func (r *Registry) AttachDoc(s *Session, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachDocLocked(s)

	s.mu.Lock()
	s.currentDoc = docID
	s.mu.Unlock()

	room, ok := r.docs[docID]
	if !ok {
		room = make(map[string]*Session)
		r.docs[docID] = room
	}
	room[s.ID()] = s
}

// DetachDoc removes a session from its current doc-room, if any.
func (r *Registry) DetachDoc(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachDocLocked(s)
}

func (r *Registry) detachDocLocked(s *Session) {
	doc := s.CurrentDoc()
	if doc == "" {
		return
	}
	if room, ok := r.docs[doc]; ok {
		delete(room, s.ID())
		if len(room) == 0 {
			delete(r.docs, doc)
		}
	}
	s.mu.Lock()
	s.currentDoc = ""
	s.mu.Unlock()
}

// DetachAllFromDoc evicts every session from a doc-room, clearing their
// currentDoc. Used when a document is deleted out from under its viewers.
func (r *Registry) DetachAllFromDoc(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.docs[docID]
	for _, s := range room {
		s.mu.Lock()
		s.currentDoc = ""
		s.mu.Unlock()
	}
	delete(r.docs, docID)
}

// ChannelPresence describes one user's coarse presence within a channel:
// which doc (if any) they're currently viewing.
type ChannelPresence struct {
	UserID     string
	CurrentDoc string
}

// ChannelUsers returns the distinct users in a channel-room, with their
// current doc exposed as a low-resolution presence cue.
func (r *Registry) ChannelUsers(channelID string) []ChannelPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.channels[channelID]
	seen := make(map[string]bool, len(room))
	out := make([]ChannelPresence, 0, len(room))
	for _, s := range room {
		if seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		out = append(out, ChannelPresence{UserID: s.UserID, CurrentDoc: s.CurrentDoc()})
	}
	return out
}

// DocUsers returns the distinct user ids viewing a document.
func (r *Registry) DocUsers(docID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.docs[docID]
	seen := make(map[string]bool, len(room))
	out := make([]string, 0, len(room))
	for _, s := range room {
		if seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		out = append(out, s.UserID)
	}
	return out
}

// DocUserCount returns the number of distinct connections viewing a
// document (not deduplicated by user — the lifecycle controller's
// last-viewer check cares about connections, not distinct users).
func (r *Registry) DocUserCount(docID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs[docID])
}
