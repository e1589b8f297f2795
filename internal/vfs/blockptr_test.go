package vfs

import "testing"

func TestBlockPtrLive(t *testing.T) {
	const total = 1000
	cases := []struct {
		p    BlockPtr
		want bool
	}{
		{0, false},
		{NoBlock, false},
		{-1, false},
		{1, true},
		{999, true},
		{1000, false},
		{1001, false},
	}
	for _, c := range cases {
		_, ok := c.p.Live(total)
		if ok != c.want {
			t.Errorf("BlockPtr(%d).Live(%d) = %v, want %v", c.p, total, ok, c.want)
		}
	}
}

func TestBlockPtrLiveReturnsValue(t *testing.T) {
	b, ok := BlockPtr(42).Live(1000)
	if !ok || b != 42 {
		t.Fatalf("Live() = (%d, %v), want (42, true)", b, ok)
	}
}
