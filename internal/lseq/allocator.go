package lseq

import "math/rand"

// sentinelRight is the virtual component contributed by an absent right
// neighbor at any depth: one past maxComponent, so the interior range
// [l+1, r-1] at the deepest unconstrained level spans the whole component
// space. It is never written into a returned ID.
const sentinelRight = maxComponent + 1

// Between returns a new ID strictly between left and right. Either endpoint
// may be nil, denoting the document's left or right boundary. Callers must
// ensure Compare(left, right) < 0 when both are non-nil; Between does not
// itself validate this (the chunk store enforces ordering by construction —
// it only ever calls Between on adjacent neighbors). When no ID lies
// strictly between the neighbors — left absent or a prefix of right, and
// every component of right past that prefix equal to 1, as in
// Between(nil, ID{1}) — the result is an extension of right and so sorts
// after it.
//
// At each depth the allocator looks at the component the two neighbors
// contribute there (0 for an absent left, 65536 for an absent right) and,
// once the gap between them exceeds one, picks a random interior value and
// stops. Choosing uniformly from the interior rather than deterministic
// midpoints keeps adversarial concurrent inserts from growing IDs
// monotonically longer — the classic pathology of naive midpoint LSEQ.
//
// When the gap is one or less, the allocator must descend a level without
// being able to use the virtual 0 as a real component (component values
// are always positive): it extends
// along whichever neighbor actually has a component at this depth. If both
// are virtual the gap is 65536, so that case never reaches here.
func Between(left, right ID) ID {
	var out ID
	depth := 0
	for {
		lReal := depth < len(left)
		rReal := depth < len(right)

		l := 0
		if lReal {
			l = left[depth]
		}
		r := sentinelRight
		if rReal {
			r = right[depth]
		}

		if r-l > 1 {
			v := l + 1 + rand.Intn(r-l-1)
			out = append(out, v)
			return out
		}

		switch {
		case lReal:
			out = append(out, left[depth])
		case rReal:
			out = append(out, right[depth])
		default:
			// r-l would be sentinelRight-0, always > 1; unreachable.
			panic("lseq: between: both neighbors virtual but gap <= 1")
		}
		depth++
	}
}
