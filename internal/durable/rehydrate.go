package durable

import (
	"github.com/collabcore/docserver/internal/crdt"
	"github.com/collabcore/docserver/internal/lseq"
)

// reconstructChunks implements the cache-miss rehydration policy:
// prefer a stored chunks snapshot; fall back to coalescing a legacy
// character-level op log; fall back to wrapping bare content in a single
// freshly-allocated chunk.
func reconstructChunks(chunks []crdt.Chunk, opLog []crdt.OpLogEntry, content string) *crdt.ChunkList {
	if len(chunks) > 0 {
		return crdt.FromUnordered(chunks)
	}
	if looksLegacyCharLevel(opLog) {
		return coalesceSingleChunk(crdt.Replay(nil, opLog))
	}
	if content != "" {
		id := lseq.Between(nil, nil)
		return crdt.NewChunkList([]crdt.Chunk{{ID: id, Text: content}})
	}
	return crdt.NewChunkList(nil)
}

// looksLegacyCharLevel reports whether an op log is entirely composed of
// single-character inserts — the signature left by an older revision that
// allocated one LSEQ id per character rather than per run of text.
func looksLegacyCharLevel(opLog []crdt.OpLogEntry) bool {
	if len(opLog) == 0 {
		return false
	}
	for _, e := range opLog {
		if e.Kind != crdt.OpInsert || e.Insert == nil || len([]rune(e.Insert.Text)) != 1 {
			return false
		}
	}
	return true
}

// coalesceSingleChunk merges a replayed character-level chunk list into
// one chunk spanning the whole content, keeping the first chunk's id. This
// is a one-time migration step for legacy rows; subsequent edits allocate
// normal multi-character chunks going forward.
func coalesceSingleChunk(cl *crdt.ChunkList) *crdt.ChunkList {
	chunks := cl.Chunks()
	if len(chunks) <= 1 {
		return cl
	}
	return crdt.NewChunkList([]crdt.Chunk{{ID: chunks[0].ID, Text: cl.Content()}})
}
