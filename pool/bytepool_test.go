package pool_test

import (
	"testing"

	"github.com/momentics/hioload-wsdriver/pool"
)

func TestBytePoolRoundsUpToSizeClass(t *testing.T) {
	bp := pool.NewBytePool()
	buf := bp.Acquire(100)
	if len(buf) != 100 {
		t.Fatalf("len = %d, want 100", len(buf))
	}
	if cap(buf) < 256 {
		t.Fatalf("cap = %d, want >= 256 (smallest containing size class)", cap(buf))
	}
}

func TestBytePoolReuse(t *testing.T) {
	bp := pool.NewBytePool()
	b1 := bp.Acquire(4096)
	cap1 := cap(b1)
	bp.Release(b1)

	b2 := bp.Acquire(4000)
	if cap(b2) != cap1 {
		t.Errorf("cap(b2) = %d, want %d (reused from pool)", cap(b2), cap1)
	}
}

func TestBytePoolOversizedFallsBack(t *testing.T) {
	bp := pool.NewBytePool()
	buf := bp.Acquire(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("len = %d, want %d", len(buf), 1<<20)
	}
	// Releasing an oversized buffer must not panic even though it has
	// no matching size class.
	bp.Release(buf)
}

func TestBytePoolStats(t *testing.T) {
	bp := pool.NewBytePool()
	buf := bp.Acquire(64)
	bp.Release(buf)

	stats := bp.Stats()
	if stats.Gets != 1 {
		t.Errorf("Gets = %d, want 1", stats.Gets)
	}
	if stats.Puts != 1 {
		t.Errorf("Puts = %d, want 1", stats.Puts)
	}
}
