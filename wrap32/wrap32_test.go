package wrap32

import (
	"math"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	cases := []struct {
		n    uint64
		zero Wrap32
	}{
		{0, 0},
		{1, 0},
		{1, 1},
		{2, math.MaxUint32},
		{1 << 32, 0},
		{1<<32 + 17, 12345},
		{math.MaxUint64, 0},
	}
	for _, c := range cases {
		w := Wrap(c.n, c.zero)
		got := Unwrap(w, c.zero, c.n)
		if got != c.n {
			t.Errorf("Unwrap(Wrap(%d, %d), %d, %d) = %d, want %d", c.n, c.zero, c.zero, c.n, got, c.n)
		}
	}
}

func TestUnwrapClosestToCheckpoint(t *testing.T) {
	cases := []struct {
		w          Wrap32
		zero       Wrap32
		checkpoint uint64
		want       uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{0, 0, 1<<32 - 1, 1 << 32},
		// exact tie: candidates 0 and 2^32 are both 2^31 away from checkpoint=2^31.
		{0, 0, 1 << 31, 0},
		{Wrap32(1 << 31), 0, 0, 1 << 31},
	}
	for _, c := range cases {
		got := Unwrap(c.w, c.zero, c.checkpoint)
		if got != c.want {
			t.Errorf("Unwrap(%d, %d, %d) = %d, want %d", c.w, c.zero, c.checkpoint, got, c.want)
		}
	}
}

func TestUnwrapWrapInverse(t *testing.T) {
	w, zero, checkpoint := Wrap32(500), Wrap32(100), uint64(1<<34)
	a := Unwrap(w, zero, checkpoint)
	if Wrap(a, zero) != w {
		t.Errorf("wrap(unwrap(%d)) = %d, want %d", w, Wrap(a, zero), w)
	}
	dist := a - checkpoint
	if a < checkpoint {
		dist = checkpoint - a
	}
	if dist > 1<<31 {
		t.Errorf("|unwrap - checkpoint| = %d exceeds 2^31", dist)
	}
}
