package radix

import (
	"encoding/binary"
	"unsafe"

	"github.com/forestrie/go-famradix/fam"
)

const (
	// MaxKeyLen is the largest key the node layout can hold.
	MaxKeyLen = 128

	fanout = 256

	// node record layout. The layout is part of the shared-memory format and
	// must be identical in every process mapping the region. All fields are
	// native-endian: the region is shared within one coherence domain, never
	// interchanged as a byte stream.
	//
	//   key        [0,128)   full key bytes; only key[0:prefixSize] matter
	//   prefixSize [128,136) cumulative prefix length from the root
	//   (reserved) [136,144) keeps the child array 16-aligned
	//   child      [144,2192) 256 Gptrs indexed by the byte after the prefix
	//   value      [2192,2208) tagged value cell, 16-aligned
	nodeKeyOff    = 0
	nodePrefixOff = MaxKeyLen
	nodeChildOff  = nodePrefixOff + 16
	nodeValueOff  = nodeChildOff + 8*fanout

	// NodeBytes is the fixed node record size. Allocate nodes from a heap
	// whose block size is at least this and 16-aligned.
	NodeBytes = nodeValueOff + 16
)

// node is a zero-allocation view over one node record in the region.
type node struct {
	b []byte
}

func (n node) key() []byte { return n.b[nodeKeyOff : nodeKeyOff+MaxKeyLen] }

func (n node) prefixSize() int {
	return int(binary.NativeEndian.Uint64(n.b[nodePrefixOff : nodePrefixOff+8]))
}

// setPrefixSize is only legal before the node is published.
func (n node) setPrefixSize(v int) {
	binary.NativeEndian.PutUint64(n.b[nodePrefixOff:], uint64(v))
}

// childWord returns the shared child slot for branch byte c. All access goes
// through fam.
func (n node) childWord(c int) *uint64 {
	return (*uint64)(unsafe.Pointer(&n.b[nodeChildOff+8*c]))
}

// setChild is only legal before the node is published.
func (n node) setChild(c byte, g fam.Gptr) {
	binary.NativeEndian.PutUint64(n.b[nodeChildOff+8*int(c):], uint64(g))
}

// valueCell returns the shared tagged value cell. All access goes through
// fam.
func (n node) valueCell() *[2]uint64 {
	return (*[2]uint64)(unsafe.Pointer(&n.b[nodeValueOff]))
}

// setValue is only legal before the node is published.
func (n node) setValue(v fam.TagGptr) {
	binary.NativeEndian.PutUint64(n.b[nodeValueOff:], uint64(v.Ptr))
	binary.NativeEndian.PutUint64(n.b[nodeValueOff+8:], v.Tag)
}

// shared returns the span covering the child array and value cell, the part
// of the record remote writers mutate after publication.
func (n node) shared() []byte { return n.b[nodeChildOff:NodeBytes] }
