// Package lseq implements the LSEQ identifier space used to order chunks
// within a document: a dense, allocator-friendly total order that lets two
// sites insert between any pair of existing elements without renumbering.
package lseq

import (
	"fmt"
	"strconv"
	"strings"
)

// minComponent and maxComponent bound every position in an ID. They are the
// smallest and largest positive integers an allocated component may take;
// the allocator's sentinels (0 and maxComponent+1) sit just outside this
// range and must never appear in a rendered ID.
const (
	minComponent = 1
	maxComponent = 65535
)

// ID is a dense position identifier: a nonempty sequence of positive
// integers, each in [minComponent, maxComponent]. Comparison is
// lexicographic with the usual prefix rule — a shorter ID sorts before any
// extension of it.
type ID []int

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func Compare(a, b ID) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b.
func Less(a, b ID) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b are the same ID.
func Equal(a, b ID) bool { return Compare(a, b) == 0 }

// String renders the ID as dot-joined fixed-width five-digit decimal
// components, e.g. "00032768" for a depth-1 ID, "00032768.00001024" for
// depth-2. Lexicographic string comparison of two same-depth renders agrees
// with Compare; the prefix rule additionally holds across depths because a
// shorter ID's dotted render is never a prefix-continuation of a longer
// one's (the separating '.' sorts below any digit, so truncation at a
// differing depth is unambiguous when both are produced by this package).
func (id ID) String() string {
	parts := make([]string, len(id))
	for i, c := range id {
		parts[i] = fmt.Sprintf("%05d", c)
	}
	return strings.Join(parts, ".")
}

// Parse reverses String.
func Parse(s string) (ID, error) {
	if s == "" {
		return nil, fmt.Errorf("lseq: empty id")
	}
	parts := strings.Split(s, ".")
	id := make(ID, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("lseq: invalid component %q: %w", p, err)
		}
		if n < minComponent || n > maxComponent {
			return nil, fmt.Errorf("lseq: component %d out of range [%d,%d]", n, minComponent, maxComponent)
		}
		id[i] = n
	}
	return id, nil
}

// Clone returns an independent copy of id.
func (id ID) Clone() ID {
	out := make(ID, len(id))
	copy(out, id)
	return out
}
