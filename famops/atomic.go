package famops

import (
	"unsafe"

	"github.com/forestrie/go-famradix/fam"
)

// Atomic operations on naturally aligned cells at a byte offset within a
// descriptor. Fetch variants return the value the cell held before the
// operation. Signed variants share the unsigned cell; only the comparisons
// differ.

func (o *Ops) word64(d Descriptor, off uint64, want Perm) (*uint64, []byte, error) {
	if off%8 != 0 {
		return nil, nil, ErrMisaligned
	}
	b, err := o.span(d, off, 8, want)
	if err != nil {
		return nil, nil, err
	}
	return (*uint64)(unsafe.Pointer(&b[0])), b, nil
}

func (o *Ops) word32(d Descriptor, off uint64, want Perm) (*uint32, []byte, error) {
	if off%4 != 0 {
		return nil, nil, ErrMisaligned
	}
	b, err := o.span(d, off, 4, want)
	if err != nil {
		return nil, nil, err
	}
	return (*uint32)(unsafe.Pointer(&b[0])), b, nil
}

// rmwUint64 retries f through CAS until it commits, returning the value
// observed immediately before the committing store.
func (o *Ops) rmwUint64(d Descriptor, off uint64, f func(uint64) uint64) (uint64, error) {
	w, b, err := o.word64(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	old := fam.Load64(w)
	for {
		seen := fam.CAS64(w, old, f(old))
		if seen == old {
			fam.Persist(b)
			return old, nil
		}
		old = seen
	}
}

func (o *Ops) rmwUint32(d Descriptor, off uint64, f func(uint32) uint32) (uint32, error) {
	w, b, err := o.word32(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	old := fam.Load32(w)
	for {
		seen := fam.CAS32(w, old, f(old))
		if seen == old {
			fam.Persist(b)
			return old, nil
		}
		old = seen
	}
}

// SetUint64 atomically stores v.
func (o *Ops) SetUint64(d Descriptor, off uint64, v uint64) error {
	w, b, err := o.word64(d, off, PermWrite)
	if err != nil {
		return err
	}
	fam.Store64(w, v)
	fam.Persist(b)
	return nil
}

// FetchUint64 atomically loads the cell.
func (o *Ops) FetchUint64(d Descriptor, off uint64) (uint64, error) {
	w, b, err := o.word64(d, off, PermRead)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	return fam.Load64(w), nil
}

// SwapUint64 atomically stores v and returns the previous value.
func (o *Ops) SwapUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(uint64) uint64 { return v })
}

// CompareSwapUint64 stores v iff the cell holds expect, returning the value
// observed.
func (o *Ops) CompareSwapUint64(d Descriptor, off uint64, expect, v uint64) (uint64, error) {
	w, b, err := o.word64(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	seen := fam.CAS64(w, expect, v)
	if seen == expect {
		fam.Persist(b)
	}
	return seen, nil
}

// FetchAddUint64 atomically adds delta and returns the previous value.
func (o *Ops) FetchAddUint64(d Descriptor, off uint64, delta uint64) (uint64, error) {
	w, b, err := o.word64(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	old := fam.FetchAdd64(w, delta)
	fam.Persist(b)
	return old, nil
}

// FetchSubtractUint64 atomically subtracts delta and returns the previous
// value.
func (o *Ops) FetchSubtractUint64(d Descriptor, off uint64, delta uint64) (uint64, error) {
	return o.FetchAddUint64(d, off, -delta)
}

// FetchMinUint64 atomically lowers the cell to v when v is smaller,
// returning the previous value.
func (o *Ops) FetchMinUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(cur uint64) uint64 { return min(cur, v) })
}

// FetchMaxUint64 atomically raises the cell to v when v is larger,
// returning the previous value.
func (o *Ops) FetchMaxUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(cur uint64) uint64 { return max(cur, v) })
}

// FetchAndUint64 atomically ands v into the cell, returning the previous
// value.
func (o *Ops) FetchAndUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(cur uint64) uint64 { return cur & v })
}

// FetchOrUint64 atomically ors v into the cell, returning the previous
// value.
func (o *Ops) FetchOrUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(cur uint64) uint64 { return cur | v })
}

// FetchXorUint64 atomically xors v into the cell, returning the previous
// value.
func (o *Ops) FetchXorUint64(d Descriptor, off uint64, v uint64) (uint64, error) {
	return o.rmwUint64(d, off, func(cur uint64) uint64 { return cur ^ v })
}

// FetchMinInt64 is FetchMinUint64 with a signed comparison.
func (o *Ops) FetchMinInt64(d Descriptor, off uint64, v int64) (int64, error) {
	old, err := o.rmwUint64(d, off, func(cur uint64) uint64 {
		return uint64(min(int64(cur), v))
	})
	return int64(old), err
}

// FetchMaxInt64 is FetchMaxUint64 with a signed comparison.
func (o *Ops) FetchMaxInt64(d Descriptor, off uint64, v int64) (int64, error) {
	old, err := o.rmwUint64(d, off, func(cur uint64) uint64 {
		return uint64(max(int64(cur), v))
	})
	return int64(old), err
}

// FetchAddInt64 atomically adds delta and returns the previous value.
func (o *Ops) FetchAddInt64(d Descriptor, off uint64, delta int64) (int64, error) {
	old, err := o.FetchAddUint64(d, off, uint64(delta))
	return int64(old), err
}

// SetUint32 atomically stores v.
func (o *Ops) SetUint32(d Descriptor, off uint64, v uint32) error {
	w, b, err := o.word32(d, off, PermWrite)
	if err != nil {
		return err
	}
	fam.Store32(w, v)
	fam.Persist(b)
	return nil
}

// FetchUint32 atomically loads the cell.
func (o *Ops) FetchUint32(d Descriptor, off uint64) (uint32, error) {
	w, b, err := o.word32(d, off, PermRead)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	return fam.Load32(w), nil
}

// SwapUint32 atomically stores v and returns the previous value.
func (o *Ops) SwapUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(uint32) uint32 { return v })
}

// CompareSwapUint32 stores v iff the cell holds expect, returning the value
// observed.
func (o *Ops) CompareSwapUint32(d Descriptor, off uint64, expect, v uint32) (uint32, error) {
	w, b, err := o.word32(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	seen := fam.CAS32(w, expect, v)
	if seen == expect {
		fam.Persist(b)
	}
	return seen, nil
}

// FetchAddUint32 atomically adds delta and returns the previous value.
func (o *Ops) FetchAddUint32(d Descriptor, off uint64, delta uint32) (uint32, error) {
	w, b, err := o.word32(d, off, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	fam.Invalidate(b)
	old := fam.FetchAdd32(w, delta)
	fam.Persist(b)
	return old, nil
}

// FetchSubtractUint32 atomically subtracts delta and returns the previous
// value.
func (o *Ops) FetchSubtractUint32(d Descriptor, off uint64, delta uint32) (uint32, error) {
	return o.FetchAddUint32(d, off, -delta)
}

// FetchMinUint32 atomically lowers the cell to v when v is smaller,
// returning the previous value.
func (o *Ops) FetchMinUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(cur uint32) uint32 { return min(cur, v) })
}

// FetchMaxUint32 atomically raises the cell to v when v is larger,
// returning the previous value.
func (o *Ops) FetchMaxUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(cur uint32) uint32 { return max(cur, v) })
}

// FetchAndUint32 atomically ands v into the cell, returning the previous
// value.
func (o *Ops) FetchAndUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(cur uint32) uint32 { return cur & v })
}

// FetchOrUint32 atomically ors v into the cell, returning the previous
// value.
func (o *Ops) FetchOrUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(cur uint32) uint32 { return cur | v })
}

// FetchXorUint32 atomically xors v into the cell, returning the previous
// value.
func (o *Ops) FetchXorUint32(d Descriptor, off uint64, v uint32) (uint32, error) {
	return o.rmwUint32(d, off, func(cur uint32) uint32 { return cur ^ v })
}

// FetchMinInt32 is FetchMinUint32 with a signed comparison.
func (o *Ops) FetchMinInt32(d Descriptor, off uint64, v int32) (int32, error) {
	old, err := o.rmwUint32(d, off, func(cur uint32) uint32 {
		return uint32(min(int32(cur), v))
	})
	return int32(old), err
}

// FetchMaxInt32 is FetchMaxUint32 with a signed comparison.
func (o *Ops) FetchMaxInt32(d Descriptor, off uint64, v int32) (int32, error) {
	old, err := o.rmwUint32(d, off, func(cur uint32) uint32 {
		return uint32(max(int32(cur), v))
	})
	return int32(old), err
}

// FetchAddInt32 atomically adds delta and returns the previous value.
func (o *Ops) FetchAddInt32(d Descriptor, off uint64, delta int32) (int32, error) {
	old, err := o.FetchAddUint32(d, off, uint32(delta))
	return int32(old), err
}
