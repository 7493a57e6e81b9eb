package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/collabcore/docserver/internal/crdt"
)

func TestMemoryCache_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, ok, err := c.Get(ctx, "d1"); err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}

	doc := &crdt.Document{ID: "d1", Chunks: crdt.NewChunkList(nil)}
	if err := c.Put(ctx, "d1", doc); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("expected present, got ok=%v err=%v", ok, err)
	}
	if got.ID != "d1" {
		t.Errorf("id = %q", got.ID)
	}

	if err := c.Delete(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "d1"); ok {
		t.Error("expected absent after delete")
	}
}

func TestDocumentSurvivesJSONRoundTrip(t *testing.T) {
	// The Redis tier stores documents as JSON; the chunk list must
	// survive the trip intact.
	cl := crdt.NewChunkList(nil)
	if _, err := cl.InsertChunk(nil, nil, "hello"); err != nil {
		t.Fatal(err)
	}
	doc := &crdt.Document{ID: "d1", Chunks: cl, Version: crdt.NewVersion(1)}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var back crdt.Document
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Content() != "hello" {
		t.Fatalf("content after round trip = %q, want hello", back.Content())
	}
	if back.Chunks.Len() != 1 {
		t.Fatalf("chunk count after round trip = %d, want 1", back.Chunks.Len())
	}
}

func TestMemoryCache_Update(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, _, err := c.Update(ctx, "missing", func(d *crdt.Document) (*crdt.Document, error) { return d, nil }); err != ErrAbsent {
		t.Errorf("got %v, want ErrAbsent", err)
	}

	doc := &crdt.Document{ID: "d1", Version: crdt.NewVersion(1), Chunks: crdt.NewChunkList(nil)}
	_ = c.Put(ctx, "d1", doc)

	updated, ok, err := c.Update(ctx, "d1", func(d *crdt.Document) (*crdt.Document, error) {
		d.Version = d.Version.BumpLog()
		return d, nil
	})
	if err != nil || !ok {
		t.Fatalf("update failed: ok=%v err=%v", ok, err)
	}
	if updated.Version.Log != 1 {
		t.Errorf("log = %d, want 1", updated.Version.Log)
	}
}

func TestMemoryCache_Flush(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	_ = c.Put(ctx, "d1", &crdt.Document{ID: "d1", Chunks: crdt.NewChunkList(nil)})
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "d1"); ok {
		t.Error("expected empty cache after flush")
	}
}
