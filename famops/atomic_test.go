package famops

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFetchUint64(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint64(d, 8, 42))
	v, err := o.FetchUint64(d, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestAlignmentChecks(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.ErrorIs(t, o.SetUint64(d, 4, 1), ErrMisaligned)
	require.ErrorIs(t, o.SetUint32(d, 2, 1), ErrMisaligned)
	_, err := o.FetchUint64(d, 12)
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestFetchAddAndSubtract(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint64(d, 0, 100))
	old, err := o.FetchAddUint64(d, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), old)

	old, err = o.FetchSubtractUint64(d, 0, 30)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), old)

	v, err := o.FetchUint64(d, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(75), v)
}

func TestSwapAndCompareSwap(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint64(d, 16, 1))
	old, err := o.SwapUint64(d, 16, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old)

	// a mismatched expectation reports the live value and stores nothing
	seen, err := o.CompareSwapUint64(d, 16, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seen)

	seen, err = o.CompareSwapUint64(d, 16, 2, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seen)
	v, _ := o.FetchUint64(d, 16)
	assert.Equal(t, uint64(9), v)
}

func TestMinMaxUnsigned(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint64(d, 0, 50))
	_, err := o.FetchMinUint64(d, 0, 70)
	require.NoError(t, err)
	v, _ := o.FetchUint64(d, 0)
	assert.Equal(t, uint64(50), v, "min with a larger operand is a no-op")

	_, err = o.FetchMinUint64(d, 0, 20)
	require.NoError(t, err)
	v, _ = o.FetchUint64(d, 0)
	assert.Equal(t, uint64(20), v)

	_, err = o.FetchMaxUint64(d, 0, 60)
	require.NoError(t, err)
	v, _ = o.FetchUint64(d, 0)
	assert.Equal(t, uint64(60), v)
}

func TestMinMaxSignedDiffersFromUnsigned(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	// -1 as a bit pattern is the largest unsigned value
	require.NoError(t, o.SetUint64(d, 0, uint64(18446744073709551615)))
	old, err := o.FetchMaxInt64(d, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), old)
	v, err := o.FetchUint64(d, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v, "signed max treats the cell as -1")

	require.NoError(t, o.SetUint32(d, 8, 0xffffffff))
	_, err = o.FetchMaxInt32(d, 8, 7)
	require.NoError(t, err)
	v32, err := o.FetchUint32(d, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v32)
}

func TestBitwiseOps(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint64(d, 0, 0b1100))
	_, err := o.FetchAndUint64(d, 0, 0b1010)
	require.NoError(t, err)
	_, err = o.FetchOrUint64(d, 0, 0b0001)
	require.NoError(t, err)
	old, err := o.FetchXorUint64(d, 0, 0b1111)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1001), old)

	v, _ := o.FetchUint64(d, 0)
	assert.Equal(t, uint64(0b0110), v)
}

func TestUint32Surface(t *testing.T) {
	o, d := newTestOps(t, 1<<12)

	require.NoError(t, o.SetUint32(d, 4, 10))
	old, err := o.FetchAddUint32(d, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), old)

	old, err = o.SwapUint32(d, 4, 99)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), old)

	seen, err := o.CompareSwapUint32(d, 4, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), seen)
}

func TestFetchAddContention(t *testing.T) {
	o, d := newTestOps(t, 1<<12)
	require.NoError(t, o.SetUint64(d, 0, 0))

	const workers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if _, err := o.FetchAddUint64(d, 0, 1); err != nil {
					t.Errorf("fetch-add: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := o.FetchUint64(d, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker), v)
}
