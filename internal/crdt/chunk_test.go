package crdt

import (
	"testing"

	"github.com/collabcore/docserver/internal/lseq"
)

func TestChunkList_InsertAndContent(t *testing.T) {
	cl := NewChunkList(nil)
	id, err := cl.InsertChunk(nil, nil, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if cl.Content() != "hello" {
		t.Errorf("content = %q, want %q", cl.Content(), "hello")
	}
	if cl.Len() != 1 {
		t.Errorf("len = %d, want 1", cl.Len())
	}

	// Insert after, at document end.
	id2, err := cl.InsertChunk(id, nil, " world")
	if err != nil {
		t.Fatal(err)
	}
	if !lseq.Less(id, id2) {
		t.Errorf("id2 should sort after id")
	}
	if cl.Content() != "hello world" {
		t.Errorf("content = %q", cl.Content())
	}
}

func TestChunkList_ConcurrentInsertSameGap(t *testing.T) {
	// Scenario S2: two inserts requesting the same (leftId, rightId) gap
	// must produce distinct ids and a consistent final order regardless of
	// application order.
	base := NewChunkList(nil)
	i1, _ := base.InsertChunk(nil, nil, "hello")

	a := NewChunkList(base.Chunks())
	ia, err := a.InsertChunk(i1, nil, "X")
	if err != nil {
		t.Fatal(err)
	}

	b := NewChunkList(base.Chunks())
	ib, err := b.InsertChunk(i1, nil, "X")
	if err != nil {
		t.Fatal(err)
	}

	if lseq.Equal(ia, ib) {
		t.Fatal("expected distinct ids for concurrent inserts at the same gap")
	}

	// Apply both ops (in either order) onto a shared chunk list and confirm
	// content length matches regardless of order.
	order1 := NewChunkList(base.Chunks())
	must(t, order1.InsertChunkWithID(ia, "X"))
	must(t, order1.InsertChunkWithID(ib, "X"))

	order2 := NewChunkList(base.Chunks())
	must(t, order2.InsertChunkWithID(ib, "X"))
	must(t, order2.InsertChunkWithID(ia, "X"))

	if order1.Content() != order2.Content() {
		t.Fatalf("order-dependent content: %q vs %q", order1.Content(), order2.Content())
	}
	if len(order1.Content()) != 7 {
		t.Errorf("content length = %d, want 7", len(order1.Content()))
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestChunkList_SplitAndInsert(t *testing.T) {
	// Scenario S3.
	cl := NewChunkList(nil)
	id, _ := cl.InsertChunk(nil, nil, "abcdef")

	res, err := cl.SplitAndInsert(id, 3, "Z")
	if err != nil {
		t.Fatal(err)
	}
	if cl.Content() != "abcZdef" {
		t.Errorf("content = %q, want %q", cl.Content(), "abcZdef")
	}
	chunks := cl.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("len = %d, want 3", len(chunks))
	}
	if !lseq.Equal(chunks[0].ID, id) {
		t.Errorf("left remnant should keep original id")
	}
	if !lseq.Less(chunks[0].ID, chunks[1].ID) || !lseq.Less(chunks[1].ID, chunks[2].ID) {
		t.Errorf("chunks not strictly ordered: %v", chunks)
	}
	if res.LeftText != "abc" || res.RightText != "def" {
		t.Errorf("unexpected split result: %+v", res)
	}
}

func TestChunkList_SplitAtBoundary_NoOrphanChunks(t *testing.T) {
	// Round-trip law: split at offset=0 or offset=len degrades to a plain
	// neighbor insert, no empty chunks.
	cl := NewChunkList(nil)
	id, _ := cl.InsertChunk(nil, nil, "abcdef")

	if _, err := cl.SplitAndInsert(id, 0, "Z"); err != nil {
		t.Fatal(err)
	}
	for _, c := range cl.Chunks() {
		if c.Text == "" {
			t.Fatalf("found empty chunk after offset=0 split: %v", cl.Chunks())
		}
	}
	if cl.Content() != "Zabcdef" {
		t.Errorf("content = %q", cl.Content())
	}

	cl2 := NewChunkList(nil)
	id2, _ := cl2.InsertChunk(nil, nil, "abcdef")
	if _, err := cl2.SplitAndInsert(id2, len("abcdef"), "Z"); err != nil {
		t.Fatal(err)
	}
	for _, c := range cl2.Chunks() {
		if c.Text == "" {
			t.Fatalf("found empty chunk after offset=len split: %v", cl2.Chunks())
		}
	}
	if cl2.Content() != "abcdefZ" {
		t.Errorf("content = %q", cl2.Content())
	}
}

func TestChunkList_DeleteIdempotent(t *testing.T) {
	cl := NewChunkList(nil)
	id, _ := cl.InsertChunk(nil, nil, "hello")

	if _, err := cl.DeleteChunk(id); err != nil {
		t.Fatal(err)
	}
	if cl.Content() != "" {
		t.Errorf("content = %q, want empty", cl.Content())
	}

	if _, err := cl.DeleteChunk(id); err != ErrAlreadyDeleted {
		t.Errorf("second delete: got %v, want ErrAlreadyDeleted", err)
	}
}

func TestChunkList_Trim(t *testing.T) {
	cl := NewChunkList(nil)
	id, _ := cl.InsertChunk(nil, nil, "hello world")

	res, err := cl.Trim(id, 5, 11)
	if err != nil {
		t.Fatal(err)
	}
	if res.DeletedText != " world" || res.Removed {
		t.Errorf("unexpected trim result: %+v", res)
	}
	if cl.Content() != "hello" {
		t.Errorf("content = %q", cl.Content())
	}

	res2, err := cl.Trim(id, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Removed {
		t.Errorf("expected chunk to be removed when trimmed to empty")
	}
	if cl.Len() != 0 {
		t.Errorf("len = %d, want 0", cl.Len())
	}
}
