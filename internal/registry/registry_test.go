package registry

import (
	"sort"
	"sync"
	"testing"
)

// fakeConn records delivered events for assertions.
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(event string, _ map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func TestAttachDetachChannel(t *testing.T) {
	r := New()
	conn := &fakeConn{id: "c1"}
	s := r.Register(conn, "u1")

	r.AttachChannel(s, "ch1")
	if got := s.CurrentChannel(); got != "ch1" {
		t.Fatalf("CurrentChannel = %q, want ch1", got)
	}
	users := r.ChannelUsers("ch1")
	if len(users) != 1 || users[0].UserID != "u1" {
		t.Fatalf("ChannelUsers = %v, want [u1]", users)
	}

	r.DetachChannel(s)
	if got := s.CurrentChannel(); got != "" {
		t.Fatalf("CurrentChannel after detach = %q, want empty", got)
	}
	if users := r.ChannelUsers("ch1"); len(users) != 0 {
		t.Fatalf("ChannelUsers after detach = %v, want empty", users)
	}
}

func TestAttachChannelLeavesDoc(t *testing.T) {
	r := New()
	s := r.Register(&fakeConn{id: "c1"}, "u1")

	r.AttachChannel(s, "ch1")
	r.AttachDoc(s, "d1")
	if got := r.DocUserCount("d1"); got != 1 {
		t.Fatalf("DocUserCount = %d, want 1", got)
	}

	// Switching channels must detach the doc too: a session only views a
	// doc within its current channel.
	r.AttachChannel(s, "ch2")
	if got := s.CurrentDoc(); got != "" {
		t.Fatalf("CurrentDoc after channel switch = %q, want empty", got)
	}
	if got := r.DocUserCount("d1"); got != 0 {
		t.Fatalf("DocUserCount after channel switch = %d, want 0", got)
	}
}

func TestUnregisterCleansIndexes(t *testing.T) {
	r := New()
	s := r.Register(&fakeConn{id: "c1"}, "u1")
	r.AttachChannel(s, "ch1")
	r.AttachDoc(s, "d1")

	r.Unregister("c1")

	if users := r.ChannelUsers("ch1"); len(users) != 0 {
		t.Fatalf("ChannelUsers after unregister = %v, want empty", users)
	}
	if got := r.DocUserCount("d1"); got != 0 {
		t.Fatalf("DocUserCount after unregister = %d, want 0", got)
	}
	if _, ok := r.Session("c1"); ok {
		t.Fatal("Session still resolvable after unregister")
	}
}

func TestDocUsersDistinct(t *testing.T) {
	r := New()
	// Same user on two connections counts once in DocUsers but twice in
	// DocUserCount (last-viewer logic cares about connections).
	s1 := r.Register(&fakeConn{id: "c1"}, "u1")
	s2 := r.Register(&fakeConn{id: "c2"}, "u1")
	r.AttachChannel(s1, "ch1")
	r.AttachChannel(s2, "ch1")
	r.AttachDoc(s1, "d1")
	r.AttachDoc(s2, "d1")

	if users := r.DocUsers("d1"); len(users) != 1 {
		t.Fatalf("DocUsers = %v, want one distinct user", users)
	}
	if got := r.DocUserCount("d1"); got != 2 {
		t.Fatalf("DocUserCount = %d, want 2", got)
	}
}

func TestBroadcastExcludeSelf(t *testing.T) {
	r := New()
	conns := []*fakeConn{{id: "c1"}, {id: "c2"}, {id: "c3"}}
	var sessions []*Session
	for _, c := range conns {
		s := r.Register(c, "u-"+c.id)
		r.AttachChannel(s, "ch1")
		sessions = append(sessions, s)
	}
	r.AttachDoc(sessions[0], "d1")
	r.AttachDoc(sessions[1], "d1")

	r.Broadcast(DocRoom, "d1", "docOp", map[string]any{"x": 1}, sessions[0])

	if got := conns[0].received(); len(got) != 0 {
		t.Fatalf("excluded session received %v", got)
	}
	if got := conns[1].received(); len(got) != 1 || got[0] != "docOp" {
		t.Fatalf("doc-room member received %v, want [docOp]", got)
	}
	if got := conns[2].received(); len(got) != 0 {
		t.Fatalf("non-member received %v", got)
	}

	r.Broadcast(ChannelRoom, "ch1", "userEntered", nil, nil)
	var all []string
	for _, c := range conns {
		all = append(all, c.received()...)
	}
	sort.Strings(all)
	want := 4 // docOp for c2, userEntered for all three
	if len(all) != want {
		t.Fatalf("total deliveries = %d (%v), want %d", len(all), all, want)
	}
}
