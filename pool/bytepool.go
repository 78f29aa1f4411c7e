// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed, sync.Pool-backed api.BytePool. Grounded on the
// teacher's linuxBufferPool get/put pattern (pool/bufferpool_linux.go)
// but with the NUMA-node dimension dropped: one pool instance serves
// all callers, sized by size class rather than by allocation site.
package pool

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wsdriver/api"
)

// sizeClasses are the power-of-two buffer sizes this pool maintains
// independent sync.Pool instances for; requests above the largest
// class fall back to a plain allocation with no pooling.
var sizeClasses = []int{256, 1024, 4096, 16384, 65536}

// BytePool is a generic size-classed byte-slice pool.
type BytePool struct {
	classes []*sync.Pool
	stats   api.BufferPoolStats
}

var _ api.BytePool = (*BytePool)(nil)

// NewBytePool constructs a BytePool with the default size classes.
func NewBytePool() *BytePool {
	bp := &BytePool{classes: make([]*sync.Pool, len(sizeClasses))}
	for i, sz := range sizeClasses {
		sz := sz
		bp.classes[i] = &sync.Pool{New: func() any {
			return make([]byte, sz)
		}}
	}
	return bp
}

// Acquire implements api.BytePool. It returns a slice of length n, with
// capacity rounded up to the smallest containing size class.
func (bp *BytePool) Acquire(n int) []byte {
	atomic.AddInt64(&bp.stats.Gets, 1)
	idx := bp.classFor(n)
	if idx < 0 {
		atomic.AddInt64(&bp.stats.Allocs, 1)
		return make([]byte, n)
	}
	buf := bp.classes[idx].Get().([]byte)
	if cap(buf) < n {
		atomic.AddInt64(&bp.stats.Allocs, 1)
		buf = make([]byte, sizeClasses[idx])
	}
	return buf[:n]
}

// Release implements api.BytePool. Buffers not matching an exact
// size-class capacity are dropped for the GC to reclaim.
func (bp *BytePool) Release(buf []byte) {
	atomic.AddInt64(&bp.stats.Puts, 1)
	c := cap(buf)
	i := sort.SearchInts(sizeClasses, c)
	if i >= len(sizeClasses) || sizeClasses[i] != c {
		return
	}
	bp.classes[i].Put(buf[:c])
}

// Stats reports cumulative pool usage counters.
func (bp *BytePool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		Gets:   atomic.LoadInt64(&bp.stats.Gets),
		Puts:   atomic.LoadInt64(&bp.stats.Puts),
		Allocs: atomic.LoadInt64(&bp.stats.Allocs),
	}
}

func (bp *BytePool) classFor(n int) int {
	i := sort.SearchInts(sizeClasses, n)
	if i >= len(sizeClasses) {
		return -1
	}
	return i
}
