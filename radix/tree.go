package radix

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/forestrie/go-famradix/fam"
)

var (
	ErrKeySize       = errors.New("radix: key must be 1..=MaxKeyLen bytes")
	ErrHeapExhausted = errors.New("radix: node allocation failed after retries")
	ErrNilGptr       = errors.New("radix: gptr form requires a live leaf gptr")
)

// allocRetryCnt bounds how often an allocation is retried before Put gives
// up; a production caller sizes the heap so this is never reached.
const allocRetryCnt = 10

// MemoryManager translates global pointers into process-local byte views.
// *region.Region satisfies it.
type MemoryManager interface {
	View(g fam.Gptr, size uint64) []byte
}

// Heap allocates and frees fixed-size node blocks in the same region. Alloc
// returns zeroed, persisted storage or 0 on exhaustion. *heap.Heap satisfies
// it.
type Heap interface {
	Alloc(size uint64) fam.Gptr
	Free(g fam.Gptr)
}

// Metrics receives pointer-traversal counts from Get and value-cell CAS
// retry counts from the mutating operations. Implementations must be safe
// for concurrent use; metrics.New provides a prometheus-backed one.
type Metrics interface {
	ObservePointerTraversals(n int)
	IncValueCASRetry()
}

// Option configures optional tree collaborators.
type Option func(any)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(opts any) {
		if t, ok := opts.(*Tree); ok {
			t.metrics = m
		}
	}
}

// Tree is a handle on one shared radix tree. Handles are cheap; open one per
// goroutine or share one, the tree state itself lives entirely in the
// region. The root node exists for the tree's lifetime and only its children
// and value are ever mutated.
type Tree struct {
	mem     MemoryManager
	heap    Heap
	metrics Metrics
	root    fam.Gptr
}

// New adopts the tree rooted at root, or when root is 0 allocates and
// persists a fresh root with an empty prefix, null children and an invalid
// value cell.
func New(mem MemoryManager, h Heap, root fam.Gptr, opts ...Option) (*Tree, error) {
	t := &Tree{mem: mem, heap: h, root: root}
	for _, o := range opts {
		o(t)
	}
	if t.root == 0 {
		g := t.allocNode()
		if g == 0 {
			return nil, fmt.Errorf("%w: root", ErrHeapExhausted)
		}
		// the allocation is zeroed, which is exactly a prefix-0 node with
		// null children and an invalid value; persist so the root survives
		// before the handle escapes
		fam.Persist(t.node(g).b)
		t.root = g
	}
	return t, nil
}

// RootGptr returns the tree handle: the root's global pointer.
func (t *Tree) RootGptr() fam.Gptr { return t.root }

func (t *Tree) node(g fam.Gptr) node {
	b := t.mem.View(g, NodeBytes)
	if b == nil {
		panic(fmt.Sprintf("radix: gptr %#x outside region", uint64(g)))
	}
	return node{b: b}
}

func (t *Tree) allocNode() fam.Gptr {
	var g fam.Gptr
	for cnt := allocRetryCnt; g == 0 && cnt > 0; cnt-- {
		g = t.heap.Alloc(NodeBytes)
	}
	return g
}

func checkKey(key []byte) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return fmt.Errorf("%w: %d", ErrKeySize, len(key))
	}
	return nil
}

// matchLen returns how many leading key bytes agree with the node prefix,
// capped at min(len(key), prefixSize).
func matchLen(key []byte, n node) int {
	m := min(len(key), n.prefixSize())
	k := n.key()
	i := 0
	for i < m && key[i] == k[i] {
		i++
	}
	return i
}

func (t *Tree) observeTraversals(n int) {
	if t.metrics != nil {
		t.metrics.ObservePointerTraversals(n)
	}
}

func (t *Tree) countValueRetry() {
	if t.metrics != nil {
		t.metrics.IncValueCASRetry()
	}
}

// Get returns the current TagGptr for key: the live value, a tombstone
// (invalid pointer, advanced tag), or the zero TagGptr when no node covers
// the key.
func (t *Tree) Get(key []byte) (fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return fam.TagGptr{}, err
	}
	q := t.root
	traversals := 0
	for q != 0 {
		n := t.node(q)
		m := min(n.prefixSize(), len(key))
		if !bytes.Equal(key[:m], n.key()[:m]) {
			return fam.TagGptr{}, nil
		}
		fam.Invalidate(n.shared())
		if n.prefixSize() == len(key) {
			tq := fam.Load128(n.valueCell())
			t.observeTraversals(traversals)
			return tq, nil
		}
		if n.prefixSize() > len(key) {
			// the key is a strict prefix of this node's key: absent
			return fam.TagGptr{}, nil
		}
		q = fam.Gptr(fam.Load64(n.childWord(int(key[n.prefixSize()]))))
		traversals++
	}
	return fam.TagGptr{}, nil
}

// Destroy removes the value for key by installing a tombstone: the cell
// becomes {null, tag+1}. The node is not freed; the key remains a lookup
// path for reinsertion and for cache holders revalidating by tag. Returns
// the previously installed TagGptr, which may itself be a prior tombstone,
// or the zero TagGptr when no node covers the key.
func (t *Tree) Destroy(key []byte) (fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return fam.TagGptr{}, err
	}
	q := t.root
	for q != 0 {
		n := t.node(q)
		m := min(n.prefixSize(), len(key))
		if !bytes.Equal(key[:m], n.key()[:m]) {
			return fam.TagGptr{}, nil
		}
		fam.Invalidate(n.shared())
		if n.prefixSize() == len(key) {
			cell := n.valueCell()
			tq := fam.Load128(cell)
			for {
				seen := fam.CAS128(cell, tq, fam.TagGptr{Ptr: 0, Tag: tq.Tag + 1})
				if seen == tq {
					return tq, nil
				}
				t.countValueRetry()
				tq = seen
			}
		}
		if n.prefixSize() > len(key) {
			// the key is a strict prefix of this node's key: absent
			return fam.TagGptr{}, nil
		}
		q = fam.Gptr(fam.Load64(n.childWord(int(key[n.prefixSize()]))))
	}
	return fam.TagGptr{}, nil
}

// putState carries the speculative allocations of one Put invocation across
// CAS retries. Each invocation owns at most one leaf and one intermediate;
// on every exit path each is either freed or linked into the tree.
type putState struct {
	t       *Tree
	key     []byte
	value   fam.Gptr
	newLeaf fam.Gptr
	inter   fam.Gptr
	// child slots set on the intermediate by the previous attempt; cleared
	// before re-linking so a failed swing cannot leave stale branches
	interSlots [2]int
}

func (ps *putState) release() {
	if ps.inter != 0 {
		ps.t.heap.Free(ps.inter)
		ps.inter = 0
	}
	ps.releaseLeaf()
}

func (ps *putState) releaseLeaf() {
	if ps.newLeaf != 0 {
		ps.t.heap.Free(ps.newLeaf)
		ps.newLeaf = 0
	}
}

// leaf lazily allocates and persists the speculative leaf: full key,
// prefixSize == len(key), value cell {value, 0}. Its contents are identical
// on every retry, so it is built once.
func (ps *putState) leaf() (fam.Gptr, error) {
	if ps.newLeaf != 0 {
		return ps.newLeaf, nil
	}
	g := ps.t.allocNode()
	if g == 0 {
		return 0, fmt.Errorf("%w: leaf", ErrHeapExhausted)
	}
	n := ps.t.node(g)
	copy(n.key(), ps.key)
	n.setPrefixSize(len(ps.key))
	n.setValue(fam.TagGptr{Ptr: ps.value, Tag: 0})
	fam.Persist(n.b)
	ps.newLeaf = g
	return g, nil
}

// intermediate lazily allocates the speculative split node. It stores the
// full key rather than the shared prefix: the divergence point can move when
// the pointer swing fails, and finalizing prefixSize is cheaper than
// re-copying bytes on every retry.
func (ps *putState) intermediate() (node, error) {
	if ps.inter == 0 {
		g := ps.t.allocNode()
		if g == 0 {
			return node{}, fmt.Errorf("%w: intermediate", ErrHeapExhausted)
		}
		n := ps.t.node(g)
		copy(n.key(), ps.key)
		ps.inter = g
		ps.interSlots = [2]int{-1, -1}
		return n, nil
	}
	n := ps.t.node(ps.inter)
	for _, c := range ps.interSlots {
		if c >= 0 {
			n.setChild(byte(c), 0)
		}
	}
	n.setValue(fam.TagGptr{})
	ps.interSlots = [2]int{-1, -1}
	return n, nil
}

// Put inserts or updates the value handle for key and returns the
// previously installed TagGptr (the zero TagGptr on fresh insert).
//
// With update set the value cell is unconditionally advanced to
// {value, tag+1}. Without it an existing valid value wins and is returned
// untouched; only an absent or tombstoned cell is written.
func (t *Tree) Put(key []byte, value fam.Gptr, update bool) (fam.TagGptr, error) {
	if err := checkKey(key); err != nil {
		return fam.TagGptr{}, err
	}

	ps := putState{t: t, key: key, value: value}
	var (
		pSlot     *uint64 // parent child slot the walk descended through
		q         = t.root
		splitAt   int
		divergent byte
	)
	for {
		// find the current correct insertion point
		for q != 0 {
			n := t.node(q)
			i := matchLen(key, n)
			fam.Invalidate(n.shared())
			if i < n.prefixSize() {
				// the key diverges inside this node's prefix: split
				splitAt = i
				divergent = n.key()[i]
				break
			}
			if len(key) == i {
				// exact match; speculative nodes are not needed
				ps.release()
				cell := n.valueCell()
				tq := fam.Load128(cell)
				if update {
					for {
						seen := fam.CAS128(cell, tq, fam.TagGptr{Ptr: value, Tag: tq.Tag + 1})
						if seen == tq {
							return tq, nil
						}
						t.countValueRetry()
						tq = seen
					}
				}
				if tq.IsValid() {
					return tq, nil
				}
				// tombstone: claim it, but on contention re-examine the
				// node, the cell may now be live and owned elsewhere
				seen := fam.CAS128(cell, tq, fam.TagGptr{Ptr: value, Tag: tq.Tag + 1})
				if seen == tq {
					return tq, nil
				}
				t.countValueRetry()
				continue
			}
			// the key is longer than this prefix; descend
			pSlot = n.childWord(int(key[i]))
			q = fam.Gptr(fam.Load64(pSlot))
			// a null slot grows a leaf below
		}

		// case 1 - grow: the walk ended on a null child slot
		if q == 0 {
			leaf, err := ps.leaf()
			if err != nil {
				ps.release()
				return fam.TagGptr{}, err
			}
			seen := fam.CAS64(pSlot, 0, uint64(leaf))
			if seen == 0 {
				ps.newLeaf = 0 // linked; ownership moved to the tree
				ps.release()
				return fam.TagGptr{}, nil
			}
			q = fam.Gptr(seen)
			continue
		}

		// case 2 - split: interpose an intermediate above q
		in, err := ps.intermediate()
		if err != nil {
			ps.release()
			return fam.TagGptr{}, err
		}
		if splitAt == len(key) {
			// the key is a strict prefix of q's; the intermediate itself
			// carries the value and no leaf is needed
			in.setValue(fam.TagGptr{Ptr: value, Tag: 0})
			in.setPrefixSize(splitAt)
			in.setChild(divergent, q)
			ps.interSlots = [2]int{int(divergent), -1}
			fam.Persist(in.b)

			seen := fam.CAS64(pSlot, uint64(q), uint64(ps.inter))
			if seen == uint64(q) {
				ps.inter = 0
				ps.release()
				return fam.TagGptr{}, nil
			}
			q = fam.Gptr(seen)
			continue
		}
		// the key and q's prefix diverge; hang a fresh leaf beside q
		leaf, err := ps.leaf()
		if err != nil {
			ps.release()
			return fam.TagGptr{}, err
		}
		in.setChild(key[splitAt], leaf)
		in.setPrefixSize(splitAt)
		in.setChild(divergent, q)
		ps.interSlots = [2]int{int(key[splitAt]), int(divergent)}
		fam.Persist(in.b)

		seen := fam.CAS64(pSlot, uint64(q), uint64(ps.inter))
		if seen == uint64(q) {
			// both speculative nodes are linked
			return fam.TagGptr{}, nil
		}
		q = fam.Gptr(seen)
	}
}
