//go:build !pmem

package fam

// Persist is a no-op in volatile builds.
func Persist(b []byte) {}

// Invalidate is a no-op in volatile builds: the mapping is cache coherent
// and shared loads already go through the atomic wrapper.
func Invalidate(b []byte) {}
