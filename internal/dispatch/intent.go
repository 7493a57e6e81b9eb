package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/collabcore/docserver/internal/lseq"
)

// EditIntent is the single-operation edit shape carried by the editDoc
// event (the legacy per-character path): an insert of exactly one
// character between two neighbors, or a chunk delete.
type EditIntent struct {
	Intent  string  `json:"intent"` // "insert" | "delete"
	LeftID  lseq.ID `json:"leftId,omitempty"`
	RightID lseq.ID `json:"rightId,omitempty"`
	Value   string  `json:"value,omitempty"` // insert payload, exactly one character
	ID      lseq.ID `json:"id,omitempty"`    // delete target
}

// BatchEdit is the grouped edit shape carried by editDocBatch. Exactly
// one of three shapes is present: a bulk inter-chunk insert (Text set,
// TargetID absent), an in-chunk split insert (TargetID set), or a
// sequence of primitive operations with placeholder id resolution (Ops
// set).
type BatchEdit struct {
	Text    string  `json:"text,omitempty"`
	LeftID  lseq.ID `json:"leftId,omitempty"`
	RightID lseq.ID `json:"rightId,omitempty"`

	TargetID lseq.ID `json:"targetId,omitempty"`
	Offset   int     `json:"offset,omitempty"`

	Ops []BatchOp `json:"ops,omitempty"`
}

// BatchOp is one primitive operation inside a shape-(c) batch. Id fields
// are Refs so they can name either a concrete id or a "temp_N"
// placeholder resolving to the id allocated by operation N earlier in
// the same batch.
type BatchOp struct {
	Op string `json:"op"` // "insert" | "split" | "delete" | "trim"

	Text     string `json:"text,omitempty"`
	LeftID   *Ref   `json:"leftId,omitempty"`
	RightID  *Ref   `json:"rightId,omitempty"`
	TargetID *Ref   `json:"targetId,omitempty"`
	ID       *Ref   `json:"id,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Start    int    `json:"startOffset,omitempty"`
	End      int    `json:"endOffset,omitempty"`
}

// Ref is a chunk id reference: either a concrete LSEQ id (JSON array of
// components or dotted string) or a "temp_N" placeholder.
type Ref struct {
	ID   lseq.ID
	Temp string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var arr []int
	if err := json.Unmarshal(data, &arr); err == nil {
		*r = Ref{ID: lseq.ID(arr)}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("dispatch: id ref must be an array or string")
	}
	if strings.HasPrefix(s, "temp_") {
		*r = Ref{Temp: s}
		return nil
	}
	id, err := lseq.Parse(s)
	if err != nil {
		return fmt.Errorf("dispatch: bad id ref %q: %w", s, err)
	}
	*r = Ref{ID: id}
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Temp != "" {
		return json.Marshal(r.Temp)
	}
	return json.Marshal([]int(r.ID))
}

// resolver maps "temp_N" placeholders to the ids allocated by earlier
// operations in the same batch.
type resolver map[string]lseq.ID

func (rm resolver) resolve(r *Ref) (lseq.ID, error) {
	if r == nil {
		return nil, nil
	}
	if r.Temp == "" {
		return r.ID, nil
	}
	id, ok := rm[r.Temp]
	if !ok {
		return nil, fmt.Errorf("dispatch: unresolved placeholder %q", r.Temp)
	}
	return id, nil
}

func tempKey(n int) string { return fmt.Sprintf("temp_%d", n) }
