//go:build pmem

package fam

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageBytes = 4096

// Persist flushes the store buffers and cache lines covering b to the
// persistence domain. b must lie within a MAP_SHARED mapping; the span is
// widened to page boundaries for msync.
func Persist(b []byte) {
	if len(b) == 0 {
		return
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	start := p &^ uintptr(pageBytes-1)
	n := (p + uintptr(len(b)) - start + pageBytes - 1) &^ uintptr(pageBytes-1)
	span := unsafe.Slice((*byte)(unsafe.Pointer(start)), n)
	_ = unix.Msync(span, unix.MS_SYNC)
}

// Invalidate evicts stale lines covering b so a subsequent load observes
// remote writes. On cache-coherent mappings there is nothing to evict; the
// atomic wrapper already orders the loads.
func Invalidate(b []byte) {}
