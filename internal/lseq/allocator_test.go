package lseq

import "testing"

func TestBetween_Sentinels(t *testing.T) {
	t.Run("both absent", func(t *testing.T) {
		id := Between(nil, nil)
		if len(id) == 0 {
			t.Fatal("expected a nonempty id")
		}
		for _, c := range id {
			if c < minComponent || c > maxComponent {
				t.Fatalf("component %d out of range", c)
			}
		}
	})

	t.Run("absent left", func(t *testing.T) {
		right := ID{100}
		for i := 0; i < 50; i++ {
			id := Between(nil, right)
			if !Less(id, right) {
				t.Fatalf("id %v not < right %v", id, right)
			}
		}
	})

	t.Run("absent right", func(t *testing.T) {
		left := ID{100}
		for i := 0; i < 50; i++ {
			id := Between(left, nil)
			if !Less(left, id) {
				t.Fatalf("left %v not < id %v", left, id)
			}
		}
	})
}

func TestBetween_StrictOrdering(t *testing.T) {
	pairs := []struct {
		left, right ID
	}{
		{ID{10}, ID{20}},
		{ID{10}, ID{11}},       // adjacent, forces descent
		{ID{5, 10}, ID{5, 11}}, // shared prefix then adjacent
		{ID{5, 10}, ID{5, 10, 5}},
		{nil, ID{1}},    // right is the tightest possible bound
		{ID{65535}, nil},
	}

	for _, p := range pairs {
		for i := 0; i < 100; i++ {
			id := Between(p.left, p.right)
			if p.left != nil && !Less(p.left, id) {
				t.Fatalf("Between(%v,%v) = %v; want > left", p.left, p.right, id)
			}
			if p.right != nil && !Less(id, p.right) {
				t.Fatalf("Between(%v,%v) = %v; want < right", p.left, p.right, id)
			}
			for _, c := range id {
				if c < minComponent || c > maxComponent {
					t.Fatalf("Between(%v,%v) = %v; component %d out of range", p.left, p.right, id, c)
				}
			}
		}
	}
}

func TestBetween_DistinctOnCollision(t *testing.T) {
	// Two concurrent allocations at the same gap must not always collide —
	// over many draws we should see more than one distinct id.
	left, right := ID{5}, ID{6}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[Between(left, right).String()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected multiple distinct ids from repeated Between, got %d", len(seen))
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b ID
		want int
	}{
		{ID{1}, ID{1}, 0},
		{ID{1}, ID{2}, -1},
		{ID{2}, ID{1}, 1},
		{ID{1}, ID{1, 5}, -1}, // prefix rule: shorter sorts first
		{ID{1, 5}, ID{1}, 1},
		{ID{1, 2}, ID{1, 3}, -1},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%v,%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestIDStringRoundTrip(t *testing.T) {
	id := ID{32768, 1024, 1}
	s := id.String()
	got, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(id, got) {
		t.Errorf("round trip: got %v, want %v", got, id)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "0", "65536", "1.abc"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error", s)
		}
	}
}
