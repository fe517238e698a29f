package idalloc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func TestPadParseRoundTrip(t *testing.T) {
	for _, id := range []uint64{0, 1, 42, 9999999} {
		padded := Pad(id)
		if len(padded) != Width {
			t.Errorf("Pad(%d) = %q, want %d digits", id, padded, Width)
		}
		got, ok := Parse(padded)
		if !ok || got != id {
			t.Errorf("Parse(Pad(%d)) = (%d, %v), want (%d, true)", id, got, ok, id)
		}
	}
}

func TestParseRejectsNonDecimal(t *testing.T) {
	for _, s := range []string{"", ".lock", "12a", "-1", "build"} {
		if _, ok := Parse(s); ok {
			t.Errorf("Parse(%q) = ok, want rejection", s)
		}
	}
}

func TestAllocateMonotonic(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "tests"), "")

	id1, path1, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	id2, path2, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if id2 <= id1 {
		t.Errorf("second id %d is not greater than first id %d", id2, id1)
	}
	if path1 == path2 {
		t.Errorf("Allocate returned the same path twice: %q", path1)
	}
}

func TestAllocateUniqueUnderConcurrency(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "tests"), "")

	const n = 16
	ids := make([]uint64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := a.Allocate(context.Background())
			ids[i] = id
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: Allocate: %v", i, err)
		}
		if seen[ids[i]] {
			t.Errorf("id %d allocated more than once", ids[i])
		}
		seen[ids[i]] = true
	}
}
