package crdt

import (
	"time"

	"github.com/collabcore/docserver/internal/lseq"
)

// OpKind discriminates the four op log variants.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpSplit  OpKind = "split"
	OpDelete OpKind = "delete"
	OpTrim   OpKind = "trim"
)

// OpLogEntry is one append-only log record. Exactly one of Insert, Split,
// Delete, Trim is set, matching Kind. UserID and Timestamp are advisory —
// they are not consulted for ordering or replay, only for observability.
type OpLogEntry struct {
	Kind      OpKind    `json:"kind"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`

	Insert *InsertOp `json:"insert,omitempty"`
	Split  *SplitOp  `json:"split,omitempty"`
	Delete *DeleteOp `json:"delete,omitempty"`
	Trim   *TrimOp   `json:"trim,omitempty"`
}

// InsertOp records an inter-chunk insert.
type InsertOp struct {
	ID      lseq.ID `json:"id"`
	Text    string  `json:"text"`
	LeftID  lseq.ID `json:"leftId,omitempty"`
	RightID lseq.ID `json:"rightId,omitempty"`
}

// SplitOp records an in-chunk split insert.
type SplitOp struct {
	TargetID   lseq.ID `json:"targetId"`
	Offset     int     `json:"offset"`
	LeftText   string  `json:"leftText"`
	InsertID   lseq.ID `json:"insertId"`
	InsertText string  `json:"insertText"`
	RightID    lseq.ID `json:"rightId,omitempty"`
	RightText  string  `json:"rightText,omitempty"`
}

// DeleteOp records a chunk removal. Text is retained purely for replay
// observability — replay does not need it to act correctly.
type DeleteOp struct {
	ID   lseq.ID `json:"id"`
	Text string  `json:"text"`
}

// TrimOp records an in-chunk character range removal.
type TrimOp struct {
	ID          lseq.ID `json:"id"`
	StartOffset int     `json:"startOffset"`
	EndOffset   int     `json:"endOffset"`
	DeletedText string  `json:"deletedText"`
	NewText     string  `json:"newText"`
}

// NewInsertEntry builds a log entry for an inter-chunk insert.
func NewInsertEntry(userID string, at time.Time, id, leftID, rightID lseq.ID, text string) OpLogEntry {
	return OpLogEntry{
		Kind: OpInsert, UserID: userID, Timestamp: at,
		Insert: &InsertOp{ID: id, Text: text, LeftID: leftID, RightID: rightID},
	}
}

// NewSplitEntry builds a log entry for an in-chunk split insert.
func NewSplitEntry(userID string, at time.Time, targetID lseq.ID, offset int, leftText string, insertID lseq.ID, insertText string, rightID lseq.ID, rightText string) OpLogEntry {
	return OpLogEntry{
		Kind: OpSplit, UserID: userID, Timestamp: at,
		Split: &SplitOp{
			TargetID: targetID, Offset: offset, LeftText: leftText,
			InsertID: insertID, InsertText: insertText,
			RightID: rightID, RightText: rightText,
		},
	}
}

// NewDeleteEntry builds a log entry for a chunk deletion.
func NewDeleteEntry(userID string, at time.Time, id lseq.ID, text string) OpLogEntry {
	return OpLogEntry{Kind: OpDelete, UserID: userID, Timestamp: at, Delete: &DeleteOp{ID: id, Text: text}}
}

// NewTrimEntry builds a log entry for a trim.
func NewTrimEntry(userID string, at time.Time, id lseq.ID, start, end int, deleted, newText string) OpLogEntry {
	return OpLogEntry{
		Kind: OpTrim, UserID: userID, Timestamp: at,
		Trim: &TrimOp{ID: id, StartOffset: start, EndOffset: end, DeletedText: deleted, NewText: newText},
	}
}

// Replay applies entries in order onto a snapshot chunk list and returns
// the resulting ChunkList. Replay is total: entries whose target id is
// absent (e.g. delete of an already-deleted chunk, arriving out of order
// in a permuted log) are skipped without error.
func Replay(snapshot []Chunk, entries []OpLogEntry) *ChunkList {
	cl := FromUnordered(snapshot)
	for _, e := range entries {
		applyEntry(cl, e)
	}
	return cl
}

func applyEntry(cl *ChunkList, e OpLogEntry) {
	switch e.Kind {
	case OpInsert:
		if e.Insert == nil {
			return
		}
		// Duplicate inserts (id already present) are a no-op under replay,
		// not an error — the log may contain apparent no-ops.
		_ = cl.InsertChunkWithID(e.Insert.ID, e.Insert.Text)
	case OpSplit:
		if e.Split == nil {
			return
		}
		cl.ApplySplitWithIDs(e.Split.TargetID, e.Split.InsertID, e.Split.RightID, e.Split.LeftText, e.Split.InsertText, e.Split.RightText)
	case OpDelete:
		if e.Delete == nil {
			return
		}
		cl.DeleteChunkWithText(e.Delete.ID)
	case OpTrim:
		if e.Trim == nil {
			return
		}
		cl.TrimWithResult(e.Trim.ID, e.Trim.NewText, e.Trim.NewText == "")
	}
}
