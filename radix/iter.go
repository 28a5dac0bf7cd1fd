package radix

import (
	"bytes"

	"github.com/forestrie/go-famradix/fam"
)

// OpenBoundaryKey is the reserved sentinel for an unbounded scan endpoint:
// -inf for begin, +inf for end. It is only honoured when that endpoint is
// also non-inclusive, so every inclusive endpoint remains an ordinary key.
var OpenBoundaryKey = []byte("\x00famradix.open-boundary\x00")

// pathEntry records one descent step: the parent node and the child index
// taken out of it. Entries reference nodes by Gptr only, never by borrowed
// view, so concurrent mutation cannot invalidate a parked iterator.
type pathEntry struct {
	node fam.Gptr
	idx  int
}

// Iter is caller-owned range-scan state. Position it with Tree.Scan, advance
// it with Tree.GetNext. An Iter must not be shared between goroutines, but
// any number of iterators may walk one tree concurrently with mutators.
//
// nextPos encodes what to try next at the current node: 0 checks the value
// cell, 1..=256 tries child[nextPos-1], 257 ascends.
type Iter struct {
	node    fam.Gptr
	nextPos int
	path    []pathEntry

	key   []byte
	value fam.TagGptr

	beginKey       []byte
	endKey         []byte
	beginInclusive bool
	endInclusive   bool
	beginOpen      bool
	endOpen        bool
}

// Key returns the last emitted key. The slice is reused by the next advance.
func (it *Iter) Key() []byte { return it.key }

// Value returns the TagGptr of the last emitted key.
func (it *Iter) Value() fam.TagGptr { return it.value }

func (it *Iter) emit(n node) {
	it.key = append(it.key[:0], n.key()[:n.prefixSize()]...)
}

// compareEnd orders the scan's end key against the node prefix; an open end
// compares greater than everything.
func (it *Iter) compareEnd(n node) int {
	if it.endOpen {
		return 1
	}
	m := min(n.prefixSize(), len(it.endKey))
	return bytes.Compare(it.endKey[:m], n.key()[:m])
}

// nextValue steps the iterator to the next key within range and reports
// whether one was emitted. Once it returns false every later call does too.
func (t *Tree) nextValue(it *Iter) bool {
	for it.node != 0 {
		for it.nextPos == 257 {
			if len(it.path) == 0 {
				return false
			}
			top := it.path[len(it.path)-1]
			it.path = it.path[:len(it.path)-1]
			it.node = top.node
			// continue past the child just returned from
			it.nextPos = top.idx + 2
		}

		n := t.node(it.node)
		result := it.compareEnd(n)
		if result < 0 {
			// the node prefix already exceeds the end key
			return false
		}

		if result > 0 {
			// every key under this node is in range
			fam.Invalidate(n.shared())
			if it.nextPos == 0 {
				it.nextPos++
				tq := fam.Load128(n.valueCell())
				if tq.IsValid() {
					it.emit(n)
					it.value = tq
					return true
				}
			}
			for ; it.nextPos <= fanout; it.nextPos++ {
				q := fam.Gptr(fam.Load64(n.childWord(it.nextPos - 1)))
				if q != 0 {
					it.path = append(it.path, pathEntry{node: it.node, idx: it.nextPos - 1})
					it.node = q
					it.nextPos = 0
					break
				}
			}
			// nextPos ran to 257: ascend on the next pass
			continue
		}

		// the end key and the prefix agree over the compared span
		if n.prefixSize() > len(it.endKey) {
			// the end key is a strict prefix of this node's key, so every
			// key under the node is past the range
			it.node = 0
			return false
		}
		if n.prefixSize() == len(it.endKey) {
			it.node = 0
			if !it.endInclusive {
				return false
			}
			tq := fam.Load128(n.valueCell())
			if it.nextPos == 0 && tq.IsValid() {
				it.emit(n)
				it.value = tq
				return true
			}
			return false
		}

		// the prefix is shorter than the end key: only children up to and
		// including the end key's branch byte can be in range
		if it.nextPos == 0 {
			it.nextPos++
			tq := fam.Load128(n.valueCell())
			if tq.IsValid() {
				it.emit(n)
				it.value = tq
				return true
			}
		}
		upper := int(it.endKey[n.prefixSize()])
		for ; it.nextPos <= upper+1; it.nextPos++ {
			q := fam.Gptr(fam.Load64(n.childWord(it.nextPos - 1)))
			if q != 0 {
				it.path = append(it.path, pathEntry{node: it.node, idx: it.nextPos - 1})
				it.node = q
				it.nextPos = 0
				break
			}
		}
		if it.nextPos > upper+1 {
			it.node = 0
			return false
		}
	}
	return false
}

// lowerBound positions the iterator at the first key >= the begin key (or >
// when exclusive) and delegates emission to nextValue.
func (t *Tree) lowerBound(it *Iter) bool {
	it.node = t.root
	it.nextPos = 0
	it.value = fam.TagGptr{}

	key := it.beginKey
	for it.node != 0 {
		n := t.node(it.node)
		var result int
		if it.beginOpen {
			result = -1
		} else {
			m := min(n.prefixSize(), len(key))
			result = bytes.Compare(key[:m], n.key()[:m])
		}

		if result > 0 {
			// the begin key is past this whole subtree; resume at the next
			// sibling of the node we descended into
			it.nextPos = 257
			return t.nextValue(it)
		}
		if result < 0 {
			// this node is the starting point
			return t.nextValue(it)
		}
		if n.prefixSize() >= len(key) {
			if n.prefixSize() > len(key) || it.beginInclusive {
				// a node whose key strictly extends the begin key is
				// already past it, so it is the starting point either way
				return t.nextValue(it)
			}
			// strictly greater than an exact match: start at the first
			// child
			it.nextPos = 1
			return t.nextValue(it)
		}

		idx := int(key[n.prefixSize()])
		fam.Invalidate(n.shared())
		q := fam.Gptr(fam.Load64(n.childWord(idx)))
		if q != 0 {
			it.path = append(it.path, pathEntry{node: it.node, idx: idx})
			it.node = q
			continue
		}
		// resume past the null child: a child linked there after the load
		// above may hold keys below the begin key
		it.nextPos = idx + 2
		return t.nextValue(it)
	}
	return false
}

// Scan positions it at the first key in [begin, end] (each side
// independently inclusive or exclusive) and reports whether a key was
// emitted into it.Key/it.Value. OpenBoundaryKey with a non-inclusive flag
// unbounds that side. begin == end with both sides inclusive short-circuits
// to a point query.
//
// A scan offers no snapshot isolation: keys mutated concurrently may appear
// or disappear, but a key present for the scan's whole duration is never
// missed, and no freed node is ever dereferenced (there are none).
func (t *Tree) Scan(it *Iter, begin []byte, beginInclusive bool, end []byte, endInclusive bool) (bool, error) {
	if err := checkKey(begin); err != nil {
		return false, err
	}
	if err := checkKey(end); err != nil {
		return false, err
	}

	it.node = 0
	it.nextPos = 0
	it.path = it.path[:0]
	it.key = it.key[:0]
	it.value = fam.TagGptr{}

	it.beginKey = append(it.beginKey[:0], begin...)
	it.beginInclusive = beginInclusive
	it.beginOpen = !beginInclusive && bytes.Equal(it.beginKey, OpenBoundaryKey)

	it.endKey = append(it.endKey[:0], end...)
	it.endInclusive = endInclusive
	it.endOpen = !endInclusive && bytes.Equal(it.endKey, OpenBoundaryKey)

	// point query
	if bytes.Equal(it.beginKey, it.endKey) && beginInclusive && endInclusive {
		tq, err := t.Get(begin)
		if err != nil {
			return false, err
		}
		if !tq.IsValid() {
			return false, nil
		}
		it.key = append(it.key[:0], begin...)
		it.value = tq
		return true, nil
	}

	if it.beginOpen || it.endOpen || bytes.Compare(it.beginKey, it.endKey) < 0 {
		return t.lowerBound(it), nil
	}
	return false, nil
}

// GetNext advances it to the next key in range and reports whether one was
// emitted. After a false return the iterator stays exhausted.
func (t *Tree) GetNext(it *Iter) bool {
	return t.nextValue(it)
}
