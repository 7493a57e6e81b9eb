// Package crdt implements the LSEQ-ordered chunk list that backs a single
// document's text, its append-only operation log, and the version clock
// used to track persisted progress. None of the types here are safe for
// concurrent mutation — the edit dispatcher (internal/dispatch) is the
// single-writer lane that serializes access per document.
package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/collabcore/docserver/internal/lseq"
)

// Chunk is a maximal run of text carrying one LSEQ id. Chunks are never
// empty while present in a ChunkList; a mutation that would leave one empty
// removes it instead.
type Chunk struct {
	ID   lseq.ID `json:"id"`
	Text string  `json:"text"`
}

// ChunkList is the ordered sequence of chunks making up a document's
// content, strictly increasing by ID.
type ChunkList struct {
	chunks []Chunk
}

// NewChunkList builds a ChunkList from chunks already in ID order, as
// loaded from a snapshot. It does not re-sort or validate — callers that
// don't already trust the ordering should use FromUnordered.
func NewChunkList(chunks []Chunk) *ChunkList {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	return &ChunkList{chunks: out}
}

// FromUnordered builds a ChunkList from chunks in arbitrary order,
// sorting them by ID first. Used when rehydrating from storage that does
// not guarantee order.
func FromUnordered(chunks []Chunk) *ChunkList {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool { return lseq.Less(out[i].ID, out[j].ID) })
	return &ChunkList{chunks: out}
}

// Chunks returns the chunk list in ID order. The returned slice must not be
// mutated by the caller.
func (cl *ChunkList) Chunks() []Chunk { return cl.chunks }

// MarshalJSON serializes the chunk list as a plain JSON array of chunks,
// so a ChunkList survives the hot tier's JSON round-trip.
func (cl *ChunkList) MarshalJSON() ([]byte, error) {
	if cl.chunks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(cl.chunks)
}

// UnmarshalJSON rebuilds a ChunkList from a JSON chunk array, re-sorting
// defensively in case the producer did not guarantee ID order.
func (cl *ChunkList) UnmarshalJSON(data []byte) error {
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return err
	}
	sort.Slice(chunks, func(i, j int) bool { return lseq.Less(chunks[i].ID, chunks[j].ID) })
	cl.chunks = chunks
	return nil
}

// Content returns the concatenation of chunk texts in ID order — the
// rendered document content.
func (cl *ChunkList) Content() string {
	var b strings.Builder
	for _, c := range cl.chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

// Len returns the number of chunks.
func (cl *ChunkList) Len() int { return len(cl.chunks) }

// indexOf returns the index of the chunk with the given id via binary
// search, or -1 if absent.
func (cl *ChunkList) indexOf(id lseq.ID) int {
	i := sort.Search(len(cl.chunks), func(i int) bool {
		return !lseq.Less(cl.chunks[i].ID, id)
	})
	if i < len(cl.chunks) && lseq.Equal(cl.chunks[i].ID, id) {
		return i
	}
	return -1
}

// insertionIndex returns the position of the first chunk whose ID is
// >= id, i.e. where a chunk with that id would sit.
func (cl *ChunkList) insertionIndex(id lseq.ID) int {
	return sort.Search(len(cl.chunks), func(i int) bool {
		return !lseq.Less(cl.chunks[i].ID, id)
	})
}

// InsertChunk allocates a new id between leftID and rightID (either may be
// nil for a document boundary) and inserts {id, text}. Returns the
// allocated id. Returns an error if text is empty or a chunk with the
// allocated id already exists — in practice unreachable since
// lseq.Between never repeats an id already present between two distinct
// real neighbors, but a caller supplying non-adjacent or stale neighbor
// ids could still collide.
func (cl *ChunkList) InsertChunk(leftID, rightID lseq.ID, text string) (lseq.ID, error) {
	if text == "" {
		return nil, fmt.Errorf("crdt: insert with empty text")
	}
	id := lseq.Between(leftID, rightID)
	if err := cl.insertAt(id, text); err != nil {
		return nil, err
	}
	return id, nil
}

// InsertChunkWithID inserts {id, text} using an already-allocated id — used
// by replay, where ids come from the log rather than being freshly chosen.
func (cl *ChunkList) InsertChunkWithID(id lseq.ID, text string) error {
	if text == "" {
		return fmt.Errorf("crdt: insert with empty text")
	}
	return cl.insertAt(id, text)
}

func (cl *ChunkList) insertAt(id lseq.ID, text string) error {
	i := cl.insertionIndex(id)
	if i < len(cl.chunks) && lseq.Equal(cl.chunks[i].ID, id) {
		return fmt.Errorf("crdt: duplicate chunk id %s", id)
	}
	cl.chunks = append(cl.chunks, Chunk{})
	copy(cl.chunks[i+1:], cl.chunks[i:])
	cl.chunks[i] = Chunk{ID: id.Clone(), Text: text}
	return nil
}

// SplitResult describes the chunks produced by SplitAndInsert, for callers
// that need to record the op log entry.
type SplitResult struct {
	InsertID lseq.ID
	RightID  lseq.ID // nil if no right remnant was created
	LeftText string
	RightText string
}

// SplitAndInsert locates the chunk with targetID, splits it at offset, and
// inserts text between the two halves. The original targetID is reused for
// the left remnant so that earlier references to it stay valid; the
// allocator mints fresh ids for the inserted text and (if nonempty) the
// right remnant.
func (cl *ChunkList) SplitAndInsert(targetID lseq.ID, offset int, text string) (SplitResult, error) {
	if text == "" {
		return SplitResult{}, fmt.Errorf("crdt: split insert with empty text")
	}
	i := cl.indexOf(targetID)
	if i < 0 {
		return SplitResult{}, ErrAlreadyDeleted
	}
	target := cl.chunks[i]
	if offset < 0 || offset > len(target.Text) {
		return SplitResult{}, fmt.Errorf("crdt: split offset %d out of bounds [0,%d]", offset, len(target.Text))
	}

	leftText := target.Text[:offset]
	rightText := target.Text[offset:]

	var nextID lseq.ID
	if i+1 < len(cl.chunks) {
		nextID = cl.chunks[i+1].ID
	}

	insertID := lseq.Between(targetID, nextID)
	var rightID lseq.ID
	if rightText != "" {
		rightID = lseq.Between(insertID, nextID)
	}

	replacement := make([]Chunk, 0, 3)
	if leftText != "" {
		replacement = append(replacement, Chunk{ID: targetID.Clone(), Text: leftText})
	}
	replacement = append(replacement, Chunk{ID: insertID, Text: text})
	if rightText != "" {
		replacement = append(replacement, Chunk{ID: rightID, Text: rightText})
	}

	cl.chunks = append(cl.chunks[:i], append(replacement, cl.chunks[i+1:]...)...)

	return SplitResult{
		InsertID:  insertID,
		RightID:   rightID,
		LeftText:  leftText,
		RightText: rightText,
	}, nil
}

// ApplySplitWithIDs replays a split using ids already decided by the
// original operation, rather than allocating new ones. Used by Replay,
// where ids must match the log exactly. Absent targetID is skipped (total
// replay).
func (cl *ChunkList) ApplySplitWithIDs(targetID, insertID, rightID lseq.ID, leftText, insertText, rightText string) {
	i := cl.indexOf(targetID)
	if i < 0 {
		return
	}
	replacement := make([]Chunk, 0, 3)
	if leftText != "" {
		replacement = append(replacement, Chunk{ID: targetID.Clone(), Text: leftText})
	}
	replacement = append(replacement, Chunk{ID: insertID.Clone(), Text: insertText})
	if rightText != "" {
		replacement = append(replacement, Chunk{ID: rightID.Clone(), Text: rightText})
	}
	cl.chunks = append(cl.chunks[:i], append(replacement, cl.chunks[i+1:]...)...)
}

// ErrAlreadyDeleted is returned by mutations that target an id no longer
// present in the chunk list — a distinguishable, non-error-for-the-caller
// outcome: the id was valid once and is simply gone now.
var ErrAlreadyDeleted = fmt.Errorf("crdt: chunk already deleted")

// DeleteChunk removes the chunk with the given id. Idempotent: if the
// chunk is already absent, returns ErrAlreadyDeleted rather than mutating
// anything. Returns the removed chunk's text so the caller
// can record it in the op log for replay observability.
func (cl *ChunkList) DeleteChunk(id lseq.ID) (text string, err error) {
	i := cl.indexOf(id)
	if i < 0 {
		return "", ErrAlreadyDeleted
	}
	text = cl.chunks[i].Text
	cl.chunks = append(cl.chunks[:i], cl.chunks[i+1:]...)
	return text, nil
}

// DeleteChunkWithText removes the chunk with id if present, matching the
// semantics replay needs: absent ids are skipped without error rather than
// surfaced as ErrAlreadyDeleted.
func (cl *ChunkList) DeleteChunkWithText(id lseq.ID) {
	i := cl.indexOf(id)
	if i < 0 {
		return
	}
	cl.chunks = append(cl.chunks[:i], cl.chunks[i+1:]...)
}

// TrimResult describes the effect of Trim, for op log recording.
type TrimResult struct {
	DeletedText string
	NewText     string
	Removed     bool // true if the chunk became empty and was removed
}

// Trim removes characters [startOffset, endOffset) from the chunk with id.
// If the chunk becomes empty, it is removed entirely. Absent ids return
// ErrAlreadyDeleted.
func (cl *ChunkList) Trim(id lseq.ID, startOffset, endOffset int) (TrimResult, error) {
	i := cl.indexOf(id)
	if i < 0 {
		return TrimResult{}, ErrAlreadyDeleted
	}
	text := cl.chunks[i].Text
	if startOffset < 0 || endOffset > len(text) || startOffset > endOffset {
		return TrimResult{}, fmt.Errorf("crdt: trim range [%d,%d) out of bounds for len %d", startOffset, endOffset, len(text))
	}
	deleted := text[startOffset:endOffset]
	newText := text[:startOffset] + text[endOffset:]
	if newText == "" {
		cl.chunks = append(cl.chunks[:i], cl.chunks[i+1:]...)
		return TrimResult{DeletedText: deleted, Removed: true}, nil
	}
	cl.chunks[i].Text = newText
	return TrimResult{DeletedText: deleted, NewText: newText}, nil
}

// TrimWithResult applies a trim using an already-computed result, used by
// replay to avoid re-deriving deletedText/newText from a possibly-shifted
// chunk (replay trusts the log's recorded newText directly).
func (cl *ChunkList) TrimWithResult(id lseq.ID, newText string, removed bool) {
	i := cl.indexOf(id)
	if i < 0 {
		return
	}
	if removed {
		cl.chunks = append(cl.chunks[:i], cl.chunks[i+1:]...)
		return
	}
	cl.chunks[i].Text = newText
}
