package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/forestrie/go-famradix/fam"
)

var (
	ErrRegionTooSmall = errors.New("heap: region cannot hold the header and one block")
	ErrBlockSize      = errors.New("heap: block size invalid")
	ErrBadMagic       = errors.New("heap: header magic invalid")
	ErrBadVersion     = errors.New("heap: header version invalid")
	ErrGeometry       = errors.New("heap: header geometry does not match the region")
)

const (
	magic   = "FAMH"
	version = 1

	// header layout; the free-list head is a fam tagged cell and sits at a
	// 16-aligned offset
	offMagic     = 0
	offVersion   = 4
	offBlockSize = 8
	offRegion    = 16
	offBump      = 24
	offFreeHead  = 32
	offRoot      = 48

	// HeaderBytes is the reserved span at the base of the region. Blocks
	// start immediately after it, so every Gptr handed out is non-zero.
	HeaderBytes = 64

	blockAlign = 16
)

// Memory is the part of a region the allocator needs: raw header access and
// the mapped size. *region.Region satisfies it.
type Memory interface {
	Raw(off, size uint64) []byte
	Size() uint64
}

// Heap is a lock-free fixed-size block allocator inside a shared region. All
// allocator state lives in the region header, so any process mapping the
// region can allocate and free concurrently. Freed blocks go on a Treiber
// list whose head is a tagged cell: the tag is bumped on every push and pop,
// which defeats ABA between racing poppers.
type Heap struct {
	mem       Memory
	hdr       []byte
	blockSize uint64
	region    uint64
}

// Format initializes allocator state at the base of an empty region. Every
// allocation returns blockSize bytes; blockSize is rounded up to 16.
func Format(mem Memory, blockSize uint64) (*Heap, error) {
	if blockSize == 0 {
		return nil, ErrBlockSize
	}
	blockSize = (blockSize + blockAlign - 1) &^ uint64(blockAlign-1)
	if mem.Size() < HeaderBytes+blockSize {
		return nil, fmt.Errorf("%w: %d bytes mapped", ErrRegionTooSmall, mem.Size())
	}

	hdr := mem.Raw(0, HeaderBytes)
	copy(hdr[offMagic:], magic)
	hdr[offVersion] = version
	binary.NativeEndian.PutUint64(hdr[offBlockSize:], blockSize)
	binary.NativeEndian.PutUint64(hdr[offRegion:], mem.Size())
	binary.NativeEndian.PutUint64(hdr[offBump:], HeaderBytes)
	binary.NativeEndian.PutUint64(hdr[offFreeHead:], 0)
	binary.NativeEndian.PutUint64(hdr[offFreeHead+8:], 0)
	binary.NativeEndian.PutUint64(hdr[offRoot:], 0)
	fam.Persist(hdr)

	return &Heap{mem: mem, hdr: hdr, blockSize: blockSize, region: mem.Size()}, nil
}

// Attach adopts allocator state already present in the region.
func Attach(mem Memory) (*Heap, error) {
	hdr := mem.Raw(0, HeaderBytes)
	if hdr == nil {
		return nil, ErrRegionTooSmall
	}
	fam.Invalidate(hdr)
	if string(hdr[offMagic:offMagic+4]) != magic {
		return nil, ErrBadMagic
	}
	if hdr[offVersion] != version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, hdr[offVersion])
	}
	blockSize := binary.NativeEndian.Uint64(hdr[offBlockSize:])
	region := binary.NativeEndian.Uint64(hdr[offRegion:])
	if blockSize == 0 || blockSize%blockAlign != 0 || region > mem.Size() {
		return nil, ErrGeometry
	}
	return &Heap{mem: mem, hdr: hdr, blockSize: blockSize, region: region}, nil
}

// BlockSize returns the fixed allocation size.
func (h *Heap) BlockSize() uint64 { return h.blockSize }

func (h *Heap) bumpWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&h.hdr[offBump]))
}

func (h *Heap) freeHead() *[2]uint64 {
	return (*[2]uint64)(unsafe.Pointer(&h.hdr[offFreeHead]))
}

func (h *Heap) rootWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&h.hdr[offRoot]))
}

// Alloc returns a zeroed, persisted block of at least size bytes, or 0 when
// size exceeds the block size or the region is exhausted.
func (h *Heap) Alloc(size uint64) fam.Gptr {
	if size == 0 || size > h.blockSize {
		return 0
	}

	// freed blocks first
	for {
		head := fam.Load128(h.freeHead())
		if !head.IsValid() {
			break
		}
		link := h.mem.Raw(uint64(head.Ptr), 8)
		next := fam.Load64((*uint64)(unsafe.Pointer(&link[0])))
		seen := fam.CAS128(h.freeHead(), head, fam.TagGptr{Ptr: fam.Gptr(next), Tag: head.Tag + 1})
		if seen == head {
			fam.Persist(h.hdr)
			return h.prepare(head.Ptr)
		}
	}

	// bump the fresh-space cursor
	for {
		cur := fam.Load64(h.bumpWord())
		if cur+h.blockSize > h.region {
			return 0
		}
		if fam.CAS64(h.bumpWord(), cur, cur+h.blockSize) == cur {
			fam.Persist(h.hdr)
			return h.prepare(fam.Gptr(cur))
		}
	}
}

func (h *Heap) prepare(g fam.Gptr) fam.Gptr {
	b := h.mem.Raw(uint64(g), h.blockSize)
	clear(b)
	fam.Persist(b)
	return g
}

// Free pushes a block onto the free list. The first word of the block
// becomes the list link; callers must not touch the block afterwards.
func (h *Heap) Free(g fam.Gptr) {
	if !g.IsValid() {
		return
	}
	link := (*uint64)(unsafe.Pointer(&h.mem.Raw(uint64(g), 8)[0]))
	for {
		head := fam.Load128(h.freeHead())
		fam.Store64(link, uint64(head.Ptr))
		fam.Persist(h.mem.Raw(uint64(g), 8))
		seen := fam.CAS128(h.freeHead(), head, fam.TagGptr{Ptr: g, Tag: head.Tag + 1})
		if seen == head {
			fam.Persist(h.hdr)
			return
		}
	}
}

// RootGptr reads the root slot, a convenience cell that lets cooperating
// processes discover a data-structure handle without an external channel.
func (h *Heap) RootGptr() fam.Gptr {
	fam.Invalidate(h.hdr)
	return fam.Gptr(fam.Load64(h.rootWord()))
}

// SetRootGptr publishes g in the root slot.
func (h *Heap) SetRootGptr(g fam.Gptr) {
	fam.Store64(h.rootWord(), uint64(g))
	fam.Persist(h.hdr)
}
