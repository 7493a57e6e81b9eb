package crdt

import (
	"testing"
	"time"

	"github.com/collabcore/docserver/internal/lseq"
)

func TestReplay_Deterministic(t *testing.T) {
	now := time.Unix(0, 0)
	cl := NewChunkList(nil)
	id, err := cl.InsertChunk(nil, nil, "hello")
	if err != nil {
		t.Fatal(err)
	}
	entry := NewInsertEntry("u1", now, id, nil, nil, "hello")

	replayed := Replay(nil, []OpLogEntry{entry})
	if replayed.Content() != cl.Content() {
		t.Errorf("replay content = %q, want %q", replayed.Content(), cl.Content())
	}
}

func TestReplay_SkipsAbsentTargets(t *testing.T) {
	now := time.Unix(0, 0)
	id := lseq.ID{100}
	entries := []OpLogEntry{
		NewDeleteEntry("u1", now, id, "x"),      // chunk never existed — skip
		NewTrimEntry("u1", now, id, 0, 1, "x", ""), // same — skip
	}
	cl := Replay(nil, entries)
	if cl.Len() != 0 {
		t.Errorf("expected empty chunk list, got %v", cl.Chunks())
	}
}

func TestReplay_PermutationOfCommutingOps(t *testing.T) {
	// Two op logs that differ only by permuting operations on disjoint
	// ids converge to the same chunk list.
	now := time.Unix(0, 0)
	a := lseq.Between(nil, nil)
	b := lseq.Between(a, nil)

	entries1 := []OpLogEntry{
		NewInsertEntry("u1", now, a, nil, b, "A"),
		NewInsertEntry("u2", now, b, a, nil, "B"),
	}
	entries2 := []OpLogEntry{
		NewInsertEntry("u2", now, b, a, nil, "B"),
		NewInsertEntry("u1", now, a, nil, b, "A"),
	}

	r1 := Replay(nil, entries1)
	r2 := Replay(nil, entries2)
	if r1.Content() != r2.Content() {
		t.Errorf("permutation mismatch: %q vs %q", r1.Content(), r2.Content())
	}
}

func TestReplay_SplitThenEmptyLogIsIdentity(t *testing.T) {
	// Round-trip law: snapshot then replay of the emptied log is identity.
	cl := NewChunkList(nil)
	id, _ := cl.InsertChunk(nil, nil, "abcdef")
	_, err := cl.SplitAndInsert(id, 3, "Z")
	if err != nil {
		t.Fatal(err)
	}
	snapshot := cl.Chunks()

	replayed := Replay(snapshot, nil)
	if replayed.Content() != cl.Content() {
		t.Errorf("identity replay content = %q, want %q", replayed.Content(), cl.Content())
	}
}

func TestVersion_CompareAndBump(t *testing.T) {
	v := NewVersion(1)
	if Compare(v, v) != 0 {
		t.Errorf("expected equal versions to compare 0")
	}
	v1 := v.BumpLog()
	if v1.String() != "1.0.1" {
		t.Errorf("got %s, want 1.0.1", v1.String())
	}
	if Compare(v1, v) <= 0 {
		t.Errorf("bumped log version should compare greater")
	}
	v2 := v1.BumpSnapshot()
	if v2.String() != "1.1.0" {
		t.Errorf("got %s, want 1.1.0", v2.String())
	}
	if Compare(v2, v1) <= 0 {
		t.Errorf("bumped snapshot version should compare greater")
	}
}
