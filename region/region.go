package region

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/forestrie/go-famradix/fam"
)

var (
	ErrSizeInvalid = errors.New("region: size must be non-zero")
	ErrFileShort   = errors.New("region: backing file smaller than its manifest claims")
	ErrClosed      = errors.New("region: mapping closed")
)

const pageBytes = 4096

// Region is a file-backed MAP_SHARED mapping of fabric-attached (or merely
// shared) memory. A fam.Gptr is a byte offset into the mapping, so pointers
// exchanged through the region are valid in every process that maps the same
// backing file.
type Region struct {
	f    *os.File
	data []byte
	man  Manifest
}

// Create sizes a new backing file, maps it, and writes the manifest sidecar.
// size is rounded up to a whole number of pages.
func Create(path string, size uint64) (*Region, error) {
	if size == 0 {
		return nil, ErrSizeInvalid
	}
	size = (size + pageBytes - 1) &^ uint64(pageBytes-1)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create backing file: %w", err)
	}
	if err = f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("size backing file: %w", err)
	}

	man := NewManifest(size)
	if err = WriteManifest(ManifestPath(path), man); err != nil {
		f.Close()
		return nil, err
	}
	return mapRegion(f, man)
}

// Open maps an existing region created by Create, validating the manifest
// sidecar against the file.
func Open(path string) (*Region, error) {
	man, err := ReadManifest(ManifestPath(path))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open backing file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if uint64(st.Size()) < man.Size {
		f.Close()
		return nil, fmt.Errorf("%w: have %d, manifest says %d", ErrFileShort, st.Size(), man.Size)
	}
	return mapRegion(f, man)
}

func mapRegion(f *os.File, man Manifest) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(man.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map backing file: %w", err)
	}
	return &Region{f: f, data: data, man: man}, nil
}

// Close unmaps the region. Gptrs remain valid for other processes and for a
// later Open.
func (r *Region) Close() error {
	if r.data == nil {
		return ErrClosed
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Size returns the mapped length in bytes.
func (r *Region) Size() uint64 { return uint64(len(r.data)) }

// Manifest returns the identity record read or written at map time.
func (r *Region) Manifest() Manifest { return r.man }

// Raw returns size bytes at byte offset off with no null-pointer rule
// applied. Offset 0 is addressable here: the base of the region is reserved
// for allocator metadata, which is exactly why Gptr 0 can mean null.
func (r *Region) Raw(off, size uint64) []byte {
	if off+size > uint64(len(r.data)) {
		return nil
	}
	return r.data[off : off+size : off+size]
}

// View returns the size bytes at g as a process-local slice, or nil when g
// is null or the span falls outside the mapping. The slice aliases the
// shared mapping: concurrent cells within it must only be touched through
// the fam package.
func (r *Region) View(g fam.Gptr, size uint64) []byte {
	if g == 0 || uint64(g)+size > uint64(len(r.data)) {
		return nil
	}
	return r.data[g : uint64(g)+size : uint64(g)+size]
}
