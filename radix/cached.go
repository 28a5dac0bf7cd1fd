package radix

import (
	"bytes"

	"github.com/forestrie/go-famradix/fam"
)

// The C variants support consistent DRAM caching of leaf pointers. The key
// forms return the Gptr of the node holding the value cell alongside the
// cell transition; node addresses are stable, so callers may cache the Gptr
// and later use the Gptr forms, which skip traversal and operate on the cell
// directly. Tag comparison tells a cache holder whether the cell moved on
// beneath it, even across a destroy/reinsert cycle.

// PutC inserts or unconditionally updates key and returns the leaf Gptr,
// the newly installed TagGptr, and the previously installed one (zero on
// fresh insert).
func (t *Tree) PutC(key []byte, value fam.Gptr) (fam.Gptr, fam.TagGptr, fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return 0, fam.TagGptr{}, fam.TagGptr{}, err
	}

	ps := putState{t: t, key: key, value: value}
	var (
		pSlot     *uint64
		q         = t.root
		splitAt   int
		divergent byte
	)
	for {
		for q != 0 {
			n := t.node(q)
			i := matchLen(key, n)
			fam.Invalidate(n.shared())
			if i < n.prefixSize() {
				splitAt = i
				divergent = n.key()[i]
				break
			}
			if len(key) == i {
				// update in place, unconditionally
				ps.release()
				cell := n.valueCell()
				tq := fam.Load128(cell)
				for {
					newValue := fam.TagGptr{Ptr: value, Tag: tq.Tag + 1}
					seen := fam.CAS128(cell, tq, newValue)
					if seen == tq {
						return q, newValue, tq, nil
					}
					t.countValueRetry()
					tq = seen
				}
			}
			pSlot = n.childWord(int(key[i]))
			q = fam.Gptr(fam.Load64(pSlot))
		}

		// grow
		if q == 0 {
			leaf, err := ps.leaf()
			if err != nil {
				ps.release()
				return 0, fam.TagGptr{}, fam.TagGptr{}, err
			}
			seen := fam.CAS64(pSlot, 0, uint64(leaf))
			if seen == 0 {
				ps.newLeaf = 0
				ps.release()
				return leaf, fam.TagGptr{Ptr: value, Tag: 0}, fam.TagGptr{}, nil
			}
			q = fam.Gptr(seen)
			continue
		}

		// split
		in, err := ps.intermediate()
		if err != nil {
			ps.release()
			return 0, fam.TagGptr{}, fam.TagGptr{}, err
		}
		if splitAt == len(key) {
			in.setValue(fam.TagGptr{Ptr: value, Tag: 0})
			in.setPrefixSize(splitAt)
			in.setChild(divergent, q)
			ps.interSlots = [2]int{int(divergent), -1}
			fam.Persist(in.b)

			seen := fam.CAS64(pSlot, uint64(q), uint64(ps.inter))
			if seen == uint64(q) {
				inter := ps.inter
				ps.inter = 0
				ps.release()
				return inter, fam.TagGptr{Ptr: value, Tag: 0}, fam.TagGptr{}, nil
			}
			q = fam.Gptr(seen)
			continue
		}
		leaf, err := ps.leaf()
		if err != nil {
			ps.release()
			return 0, fam.TagGptr{}, fam.TagGptr{}, err
		}
		in.setChild(key[splitAt], leaf)
		in.setPrefixSize(splitAt)
		in.setChild(divergent, q)
		ps.interSlots = [2]int{int(key[splitAt]), int(divergent)}
		fam.Persist(in.b)

		seen := fam.CAS64(pSlot, uint64(q), uint64(ps.inter))
		if seen == uint64(q) {
			return leaf, fam.TagGptr{Ptr: value, Tag: 0}, fam.TagGptr{}, nil
		}
		q = fam.Gptr(seen)
	}
}

// PutCAt updates the value cell of a previously returned leaf Gptr,
// bypassing traversal. The caller guarantees g is a live node of this tree.
// Returns the newly and previously installed TagGptrs.
func (t *Tree) PutCAt(g fam.Gptr, value fam.Gptr) (fam.TagGptr, fam.TagGptr, error) {
	if !g.IsValid() {
		return fam.TagGptr{}, fam.TagGptr{}, ErrNilGptr
	}
	n := t.node(g)
	fam.Invalidate(n.b[nodeValueOff:NodeBytes])
	cell := n.valueCell()
	tq := fam.Load128(cell)
	for {
		newValue := fam.TagGptr{Ptr: value, Tag: tq.Tag + 1}
		seen := fam.CAS128(cell, tq, newValue)
		if seen == tq {
			return newValue, tq, nil
		}
		t.countValueRetry()
		tq = seen
	}
}

// GetC looks up key and returns the holding node's Gptr alongside the
// current TagGptr. The Gptr is zero when no node covers the key.
func (t *Tree) GetC(key []byte) (fam.Gptr, fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return 0, fam.TagGptr{}, err
	}
	q := t.root
	for q != 0 {
		n := t.node(q)
		m := min(n.prefixSize(), len(key))
		if !bytes.Equal(key[:m], n.key()[:m]) {
			return 0, fam.TagGptr{}, nil
		}
		fam.Invalidate(n.shared())
		if n.prefixSize() == len(key) {
			return q, fam.Load128(n.valueCell()), nil
		}
		if n.prefixSize() > len(key) {
			// the key is a strict prefix of this node's key: absent
			return 0, fam.TagGptr{}, nil
		}
		q = fam.Gptr(fam.Load64(n.childWord(int(key[n.prefixSize()]))))
	}
	return 0, fam.TagGptr{}, nil
}

// GetCAt atomically reads the value cell of a previously returned leaf
// Gptr, bypassing traversal.
func (t *Tree) GetCAt(g fam.Gptr) (fam.TagGptr, error) {
	if !g.IsValid() {
		return fam.TagGptr{}, ErrNilGptr
	}
	n := t.node(g)
	fam.Invalidate(n.b[nodeValueOff:NodeBytes])
	return fam.Load128(n.valueCell()), nil
}

// DestroyC tombstones key and returns the leaf Gptr, the tombstone
// TagGptr installed, and the previously installed TagGptr. The Gptr is zero
// when no node covers the key.
func (t *Tree) DestroyC(key []byte) (fam.Gptr, fam.TagGptr, fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return 0, fam.TagGptr{}, fam.TagGptr{}, err
	}
	q := t.root
	for q != 0 {
		n := t.node(q)
		m := min(n.prefixSize(), len(key))
		if !bytes.Equal(key[:m], n.key()[:m]) {
			return 0, fam.TagGptr{}, fam.TagGptr{}, nil
		}
		fam.Invalidate(n.shared())
		if n.prefixSize() == len(key) {
			cell := n.valueCell()
			tq := fam.Load128(cell)
			for {
				newValue := fam.TagGptr{Ptr: 0, Tag: tq.Tag + 1}
				seen := fam.CAS128(cell, tq, newValue)
				if seen == tq {
					return q, newValue, tq, nil
				}
				t.countValueRetry()
				tq = seen
			}
		}
		if n.prefixSize() > len(key) {
			// the key is a strict prefix of this node's key: absent
			return 0, fam.TagGptr{}, fam.TagGptr{}, nil
		}
		q = fam.Gptr(fam.Load64(n.childWord(int(key[n.prefixSize()]))))
	}
	return 0, fam.TagGptr{}, fam.TagGptr{}, nil
}

// DestroyCAt tombstones the value cell of a previously returned leaf Gptr,
// bypassing traversal. Returns the tombstone installed and the previously
// installed TagGptr.
func (t *Tree) DestroyCAt(g fam.Gptr) (fam.TagGptr, fam.TagGptr, error) {
	if !g.IsValid() {
		return fam.TagGptr{}, fam.TagGptr{}, ErrNilGptr
	}
	n := t.node(g)
	fam.Invalidate(n.b[nodeValueOff:NodeBytes])
	cell := n.valueCell()
	tq := fam.Load128(cell)
	for {
		newValue := fam.TagGptr{Ptr: 0, Tag: tq.Tag + 1}
		seen := fam.CAS128(cell, tq, newValue)
		if seen == tq {
			return newValue, tq, nil
		}
		t.countValueRetry()
		tq = seen
	}
}
