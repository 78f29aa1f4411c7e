// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

// BytePool provides reusable, size-classed []byte buffers for network
// I/O. Acquire returns a slice of length n; Release must be called
// exactly once per acquired slice.
type BytePool interface {
	Acquire(n int) []byte
	Release(buf []byte)
}

// BufferPoolStats aggregates allocation/reuse counters for observability.
type BufferPoolStats struct {
	Gets    int64
	Puts    int64
	Allocs  int64 // Gets that could not be satisfied from the free list
}
