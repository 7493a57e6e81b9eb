package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/cache"
	"github.com/collabcore/docserver/internal/crdt"
	"github.com/collabcore/docserver/internal/dispatch"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/lseq"
	"github.com/collabcore/docserver/internal/registry"
)

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

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	cache *cache.MemoryCache
	store *durable.MemoryStore
	reg   *registry.Registry
	disp  *dispatch.Dispatcher
	ctl   *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache: cache.NewMemoryCache(),
		store: durable.NewMemoryStore(),
		reg:   registry.New(),
	}
	lanes := dispatch.NewLanes()
	f.disp = dispatch.New(f.cache, f.store, f.reg, lanes, zap.NewNop())
	f.ctl = New(f.cache, f.store, f.reg, f.disp, lanes, zap.NewNop())
	return f
}

// seedDoc creates the durable row at version 1.0.0, then caches a record
// that has accrued logLen ops since — the state mid-editing-session, with
// the store lagging the hot tier.
func (f *fixture) seedDoc(t *testing.T, id string, logLen int) *crdt.Document {
	t.Helper()
	doc := &crdt.Document{
		ID:        id,
		ChannelID: "ch1",
		Name:      id + ".txt",
		Status:    crdt.StatusNormal,
		CreatedBy: "owner",
		CreatedAt: time.Now(),
		Version:   crdt.NewVersion(1),
		Chunks:    crdt.NewChunkList([]crdt.Chunk{{ID: lseq.ID{100}, Text: "content"}}),
	}
	if err := f.store.CreateDoc(context.Background(), doc); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	live := doc.Clone()
	for i := 0; i < logLen; i++ {
		live.OpLog = append(live.OpLog, crdt.NewInsertEntry("owner", time.Now(), lseq.ID{100, i + 1}, nil, nil, "x"))
		live.Version = live.Version.BumpLog()
	}
	if err := f.cache.Put(context.Background(), id, live); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	return live
}

func (f *fixture) viewer(connID, userID, docID string) (*registry.Session, *fakeConn) {
	conn := &fakeConn{id: connID}
	s := f.reg.Register(conn, userID)
	f.reg.AttachChannel(s, "ch1")
	f.reg.AttachDoc(s, docID)
	return s, conn
}

func TestSnapshotClearsLog(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 17)
	_, conn := f.viewer("c1", "viewer", "d1")
	ctx := context.Background()

	doc, err := f.ctl.SnapshotDoc(ctx, "d1", "owner")
	if err != nil {
		t.Fatalf("SnapshotDoc: %v", err)
	}
	if got := doc.Version.String(); got != "1.1.0" {
		t.Fatalf("version after snapshot = %s, want 1.1.0", got)
	}

	stored, err := f.store.LoadDoc(ctx, "d1")
	if err != nil {
		t.Fatalf("LoadDoc: %v", err)
	}
	if len(stored.OpLog) != 0 {
		t.Fatalf("stored op log length = %d, want 0", len(stored.OpLog))
	}
	if stored.Content() != doc.Content() {
		t.Fatalf("stored content %q != live content %q", stored.Content(), doc.Content())
	}
	if got := stored.Version.String(); got != "1.1.0" {
		t.Fatalf("stored version = %s, want 1.1.0", got)
	}

	if got := conn.count("docSnapshotCreated"); got != 1 {
		t.Fatalf("viewer received docSnapshotCreated %d times, want exactly once", got)
	}
}

func TestSnapshotRequiresOwner(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 3)

	if _, err := f.ctl.SnapshotDoc(context.Background(), "d1", "intruder"); err != ErrNotOwner {
		t.Fatalf("SnapshotDoc by non-owner = %v, want ErrNotOwner", err)
	}
}

func TestSyncWritesThroughAndNotifiesChannel(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 5)
	// A channel member not viewing the doc still hears docSyncCompleted.
	conn := &fakeConn{id: "c1"}
	s := f.reg.Register(conn, "member")
	f.reg.AttachChannel(s, "ch1")
	ctx := context.Background()

	if _, err := f.ctl.SyncDoc(ctx, "d1", "owner"); err != nil {
		t.Fatalf("SyncDoc: %v", err)
	}

	stored, _ := f.store.LoadDoc(ctx, "d1")
	if got := stored.Version.String(); got != "1.0.5" {
		t.Fatalf("stored version = %s, want 1.0.5", got)
	}
	if len(stored.OpLog) != 5 {
		t.Fatalf("stored op log length = %d, want 5 (sync keeps the log)", len(stored.OpLog))
	}
	if conn.count("docSyncCompleted") != 1 {
		t.Fatal("channel member did not receive docSyncCompleted")
	}
}

func TestLastViewerLeaveWritesThrough(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 4)
	s1, _ := f.viewer("c1", "u1", "d1")
	s2, _ := f.viewer("c2", "u2", "d1")
	ctx := context.Background()

	// First viewer leaves: one remains, no write.
	f.reg.DetachDoc(s1)
	f.ctl.OnLastViewerLeave(ctx, "d1")
	stored, _ := f.store.LoadDoc(ctx, "d1")
	if got := stored.Version.String(); got != "1.0.0" {
		t.Fatalf("store written while a viewer remained: version %s", got)
	}

	// Second viewer leaves: the room is empty, the write happens.
	f.reg.DetachDoc(s2)
	f.ctl.OnLastViewerLeave(ctx, "d1")
	stored, _ = f.store.LoadDoc(ctx, "d1")
	if got := stored.Version.String(); got != "1.0.4" {
		t.Fatalf("stored version after last leave = %s, want 1.0.4", got)
	}
	if len(stored.OpLog) != 4 {
		t.Fatalf("stored op log length = %d, want 4", len(stored.OpLog))
	}
}

func TestLockRejectsThenUnlockAdmits(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 0)
	s, conn := f.viewer("c1", "u1", "d1")
	ctx := context.Background()

	if err := f.ctl.LockDoc(ctx, "d1", "sync in progress"); err != nil {
		t.Fatalf("LockDoc: %v", err)
	}
	if conn.count("docStatusChanged") != 1 {
		t.Fatal("viewer not notified of lock")
	}

	outcome := f.disp.EditDocBatch(ctx, s, "d1", dispatch.BatchEdit{Text: "x"})
	if outcome.Kind != dispatch.Rejected {
		t.Fatalf("edit during lock outcome = %v, want Rejected", outcome.Kind)
	}

	if err := f.ctl.UnlockDoc(ctx, "d1"); err != nil {
		t.Fatalf("UnlockDoc: %v", err)
	}
	if outcome := f.disp.EditDocBatch(ctx, s, "d1", dispatch.BatchEdit{Text: "x"}); outcome.Kind != dispatch.Applied {
		t.Fatalf("edit after unlock outcome = %v (%s)", outcome.Kind, outcome.Reason)
	}
}

func TestStartupFlushesAndPrefetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A stale record from a prior process must not survive startup.
	stale := &crdt.Document{ID: "stale", Status: crdt.StatusNormal, Version: crdt.NewVersion(9)}
	f.cache.Put(ctx, "stale", stale)

	f.seedDoc(t, "d1", 2)
	f.cache.Flush(ctx) // seedDoc caches; reset so only the store has it
	f.cache.Put(ctx, "stale", stale)

	if err := f.ctl.Startup(ctx); err != nil {
		t.Fatalf("Startup: %v", err)
	}

	if _, ok, _ := f.cache.Get(ctx, "stale"); ok {
		t.Fatal("stale cache entry survived startup flush")
	}
	doc, ok, _ := f.cache.Get(ctx, "d1")
	if !ok {
		t.Fatal("document not prefetched at startup")
	}
	// The prefetch reflects the durable row, not the discarded cache.
	if got := doc.Version.String(); got != "1.0.0" {
		t.Fatalf("prefetched version = %s, want 1.0.0", got)
	}
}

func TestShutdownWritesThroughCachedDocs(t *testing.T) {
	f := newFixture(t)
	f.seedDoc(t, "d1", 3)
	f.seedDoc(t, "d2", 1)
	ctx := context.Background()

	f.ctl.Shutdown(ctx)

	for id, want := range map[string]string{"d1": "1.0.3", "d2": "1.0.1"} {
		stored, err := f.store.LoadDoc(ctx, id)
		if err != nil {
			t.Fatalf("LoadDoc %s: %v", id, err)
		}
		if got := stored.Version.String(); got != want {
			t.Fatalf("stored version for %s = %s, want %s", id, got, want)
		}
	}
}
