package fam

// Gptr is a 64-bit global pointer into a shared fabric-attached memory
// region: a byte offset from the region base, valid in every process mapping
// the region. 0 means null.
type Gptr uint64

// IsValid reports whether g refers to an allocation (non-null).
func (g Gptr) IsValid() bool { return g != 0 }

// TagGptr is a 128-bit {pointer, tag} pair. The tag is a per-cell monotonic
// version counter: every successful mutation of a value cell installs tag+1,
// including transitions to and from the null pointer (tombstones). Both
// halves are always written together through a single 16-byte CAS.
type TagGptr struct {
	Ptr Gptr
	Tag uint64
}

// IsValid reports whether the pointer half is non-null. An invalid TagGptr
// with a non-zero tag is a tombstone.
func (t TagGptr) IsValid() bool { return t.Ptr != 0 }
