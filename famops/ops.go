package famops

import (
	"errors"
	"fmt"

	"github.com/forestrie/go-famradix/fam"
)

var (
	ErrOutOfRange  = errors.New("famops: offset span outside descriptor")
	ErrNoReadPerm  = errors.New("famops: descriptor does not permit reads")
	ErrNoWritePerm = errors.New("famops: descriptor does not permit writes")
	ErrMisaligned  = errors.New("famops: offset not naturally aligned for the element")
	ErrElementSize = errors.New("famops: element size invalid")
	ErrBufferSize  = errors.New("famops: local buffer size does not match the transfer")
	ErrUnmapped    = errors.New("famops: descriptor span not mapped")
)

// Perm is the access a descriptor grants.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
)

// Descriptor names a byte span of fabric-attached memory and the access the
// holder is granted over it.
type Descriptor struct {
	Base fam.Gptr
	Size uint64
	Perm Perm
}

// Memory translates global pointers into process-local views.
// *region.Region satisfies it.
type Memory interface {
	View(g fam.Gptr, size uint64) []byte
}

// Ops executes descriptor-addressed operations against one mapped region.
type Ops struct {
	mem Memory
}

func New(mem Memory) *Ops { return &Ops{mem: mem} }

// span bounds- and permission-checks [off, off+n) and returns the local
// bytes.
func (o *Ops) span(d Descriptor, off, n uint64, want Perm) ([]byte, error) {
	if off+n > d.Size || off+n < off {
		return nil, fmt.Errorf("%w: [%d,+%d) of %d", ErrOutOfRange, off, n, d.Size)
	}
	if want&PermRead != 0 && d.Perm&PermRead == 0 {
		return nil, ErrNoReadPerm
	}
	if want&PermWrite != 0 && d.Perm&PermWrite == 0 {
		return nil, ErrNoWritePerm
	}
	b := o.mem.View(d.Base+fam.Gptr(off), n)
	if b == nil {
		return nil, ErrUnmapped
	}
	return b, nil
}

// PutBlocking copies local into the descriptor at off and persists it.
func (o *Ops) PutBlocking(local []byte, d Descriptor, off uint64) error {
	b, err := o.span(d, off, uint64(len(local)), PermWrite)
	if err != nil {
		return err
	}
	copy(b, local)
	fam.Persist(b)
	return nil
}

// GetBlocking copies the descriptor span at off into local.
func (o *Ops) GetBlocking(local []byte, d Descriptor, off uint64) error {
	b, err := o.span(d, off, uint64(len(local)), PermRead)
	if err != nil {
		return err
	}
	fam.Invalidate(b)
	copy(local, b)
	return nil
}

// CopyBlocking copies n bytes fabric-to-fabric and persists the destination.
func (o *Ops) CopyBlocking(src Descriptor, srcOff uint64, dst Descriptor, dstOff uint64, n uint64) error {
	sb, err := o.span(src, srcOff, n, PermRead)
	if err != nil {
		return err
	}
	db, err := o.span(dst, dstOff, n, PermWrite)
	if err != nil {
		return err
	}
	fam.Invalidate(sb)
	copy(db, sb)
	fam.Persist(db)
	return nil
}

// GatherStrided reads nElements elements of elementSize bytes, starting at
// element index firstElement and stepping by stride elements, packing them
// into local.
func (o *Ops) GatherStrided(local []byte, d Descriptor, nElements, firstElement, stride, elementSize uint64) error {
	if elementSize == 0 {
		return ErrElementSize
	}
	if uint64(len(local)) != nElements*elementSize {
		return fmt.Errorf("%w: have %d, need %d", ErrBufferSize, len(local), nElements*elementSize)
	}
	for i := uint64(0); i < nElements; i++ {
		off := (firstElement + i*stride) * elementSize
		b, err := o.span(d, off, elementSize, PermRead)
		if err != nil {
			return err
		}
		fam.Invalidate(b)
		copy(local[i*elementSize:], b)
	}
	return nil
}

// ScatterStrided is the write-side inverse of GatherStrided.
func (o *Ops) ScatterStrided(local []byte, d Descriptor, nElements, firstElement, stride, elementSize uint64) error {
	if elementSize == 0 {
		return ErrElementSize
	}
	if uint64(len(local)) != nElements*elementSize {
		return fmt.Errorf("%w: have %d, need %d", ErrBufferSize, len(local), nElements*elementSize)
	}
	for i := uint64(0); i < nElements; i++ {
		off := (firstElement + i*stride) * elementSize
		b, err := o.span(d, off, elementSize, PermWrite)
		if err != nil {
			return err
		}
		copy(b, local[i*elementSize:(i+1)*elementSize])
		fam.Persist(b)
	}
	return nil
}

// GatherIndexed reads one element per entry of elementIndex into local.
func (o *Ops) GatherIndexed(local []byte, d Descriptor, elementIndex []uint64, elementSize uint64) error {
	if elementSize == 0 {
		return ErrElementSize
	}
	if uint64(len(local)) != uint64(len(elementIndex))*elementSize {
		return fmt.Errorf("%w: have %d, need %d", ErrBufferSize, len(local), uint64(len(elementIndex))*elementSize)
	}
	for i, e := range elementIndex {
		b, err := o.span(d, e*elementSize, elementSize, PermRead)
		if err != nil {
			return err
		}
		fam.Invalidate(b)
		copy(local[uint64(i)*elementSize:], b)
	}
	return nil
}

// ScatterIndexed is the write-side inverse of GatherIndexed.
func (o *Ops) ScatterIndexed(local []byte, d Descriptor, elementIndex []uint64, elementSize uint64) error {
	if elementSize == 0 {
		return ErrElementSize
	}
	if uint64(len(local)) != uint64(len(elementIndex))*elementSize {
		return fmt.Errorf("%w: have %d, need %d", ErrBufferSize, len(local), uint64(len(elementIndex))*elementSize)
	}
	for i, e := range elementIndex {
		b, err := o.span(d, e*elementSize, elementSize, PermWrite)
		if err != nil {
			return err
		}
		copy(b, local[uint64(i)*elementSize:(uint64(i)+1)*elementSize])
		fam.Persist(b)
	}
	return nil
}
