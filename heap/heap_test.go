package heap

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-famradix/fam"
	"github.com/forestrie/go-famradix/region"
)

func newTestRegion(t *testing.T, size uint64) *region.Region {
	t.Helper()
	r, err := region.Create(filepath.Join(t.TempDir(), "heap.region"), size)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFormatAttach(t *testing.T) {
	r := newTestRegion(t, 1<<20)

	h, err := Format(r, 100)
	require.NoError(t, err)
	// rounded up to the block alignment
	assert.Equal(t, uint64(112), h.BlockSize())

	h2, err := Attach(r)
	require.NoError(t, err)
	assert.Equal(t, h.BlockSize(), h2.BlockSize())
}

func TestAttachRejectsGarbage(t *testing.T) {
	r := newTestRegion(t, 1<<20)
	_, err := Attach(r)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestAllocZeroedAndDisjoint(t *testing.T) {
	r := newTestRegion(t, 1<<20)
	h, err := Format(r, 64)
	require.NoError(t, err)

	seen := map[fam.Gptr]bool{}
	for range 16 {
		g := h.Alloc(64)
		require.True(t, g.IsValid())
		require.False(t, seen[g], "block handed out twice")
		require.GreaterOrEqual(t, uint64(g), uint64(HeaderBytes))
		require.Zero(t, uint64(g)%16)
		seen[g] = true

		b := r.View(g, 64)
		for i, v := range b {
			require.Zerof(t, v, "byte %d not zeroed", i)
		}
		// dirty the block so reuse must re-zero
		for i := range b {
			b[i] = 0xee
		}
	}
}

func TestFreeReuse(t *testing.T) {
	r := newTestRegion(t, 1<<20)
	h, err := Format(r, 64)
	require.NoError(t, err)

	a := h.Alloc(64)
	b := h.Alloc(64)
	require.True(t, a.IsValid() && b.IsValid())

	h.Free(a)
	h.Free(b)

	// LIFO reuse from the free list, re-zeroed
	g1 := h.Alloc(64)
	g2 := h.Alloc(64)
	assert.Equal(t, b, g1)
	assert.Equal(t, a, g2)
	for _, v := range r.View(g1, 64) {
		require.Zero(t, v)
	}
}

func TestAllocBounds(t *testing.T) {
	r := newTestRegion(t, 1<<20)
	h, err := Format(r, 64)
	require.NoError(t, err)

	assert.False(t, h.Alloc(0).IsValid())
	assert.False(t, h.Alloc(65).IsValid(), "request larger than the block size")
	assert.True(t, h.Alloc(64).IsValid())
	assert.True(t, h.Alloc(1).IsValid(), "small requests still get a full block")
}

func TestAllocExhaustion(t *testing.T) {
	r := newTestRegion(t, 4096)
	h, err := Format(r, 256)
	require.NoError(t, err)

	var got []fam.Gptr
	for {
		g := h.Alloc(256)
		if !g.IsValid() {
			break
		}
		got = append(got, g)
	}
	// (4096 - 64) / 256 whole blocks
	assert.Len(t, got, 15)

	// freeing puts capacity back
	h.Free(got[0])
	assert.True(t, h.Alloc(256).IsValid())
	assert.False(t, h.Alloc(256).IsValid())
}

func TestRootSlot(t *testing.T) {
	r := newTestRegion(t, 1<<20)
	h, err := Format(r, 64)
	require.NoError(t, err)

	require.False(t, h.RootGptr().IsValid())
	g := h.Alloc(64)
	h.SetRootGptr(g)

	h2, err := Attach(r)
	require.NoError(t, err)
	assert.Equal(t, g, h2.RootGptr())
}

func TestConcurrentAllocFree(t *testing.T) {
	r := newTestRegion(t, 8<<20)
	h, err := Format(r, 64)
	require.NoError(t, err)

	const workers = 8
	const rounds = 2000

	var (
		mu  sync.Mutex
		all = map[fam.Gptr]int{}
		wg  sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held := make([]fam.Gptr, 0, 8)
			for i := range rounds {
				g := h.Alloc(64)
				if !g.IsValid() {
					continue
				}
				mu.Lock()
				all[g]++
				mu.Unlock()
				held = append(held, g)
				if i%4 == 3 {
					h.Free(held[0])
					mu.Lock()
					all[held[0]]--
					mu.Unlock()
					held = held[1:]
				}
			}
			for _, g := range held {
				h.Free(g)
				mu.Lock()
				all[g]--
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// every block was balanced between alloc and free, and no live block
	// was ever handed out twice (the count would have gone to 2)
	for g, n := range all {
		assert.Zerof(t, n, "block %#x unbalanced", uint64(g))
	}
}
