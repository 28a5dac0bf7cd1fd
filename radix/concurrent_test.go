package radix

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-famradix/fam"
)

func TestConcurrentDisjointPuts(t *testing.T) {
	if testing.Short() {
		t.Skip("large concurrent workload")
	}
	tree := newTestTree(t, 1<<30)

	const writers = 8
	const perWriter = 10000

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				key := fmt.Sprintf("w%d-%05d", w, i)
				_, err := tree.Put([]byte(key), fam.Gptr(w*perWriter+i+1), true)
				if err != nil {
					t.Errorf("put %s: %v", key, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// every key is present with the value its writer installed
	for w := range writers {
		for i := range perWriter {
			key := fmt.Sprintf("w%d-%05d", w, i)
			tq := mustGet(t, tree, key)
			require.Truef(t, tq.IsValid(), "key %s missing", key)
			require.Equal(t, fam.Gptr(w*perWriter+i+1), tq.Ptr)
		}
	}
}

func TestConcurrentSameKeyPuts(t *testing.T) {
	tree := newTestTree(t, 1<<20)

	const writers = 16
	key := []byte("contended")

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tree.Put(key, fam.Gptr(w+1), true)
			if err != nil {
				t.Errorf("put: %v", err)
			}
		}()
	}
	wg.Wait()

	// one of the written values survives and the tag counts every commit
	tq := mustGet(t, tree, string(key))
	require.True(t, tq.IsValid())
	assert.GreaterOrEqual(t, uint64(writers), uint64(tq.Ptr))
	assert.Positive(t, uint64(tq.Ptr))
	assert.Equal(t, uint64(writers-1), tq.Tag, "tags start at 0 on first insert")
}

func TestConcurrentSameKeyUpdatesOnExistingCell(t *testing.T) {
	tree := newTestTree(t, 1<<20)

	key := []byte("cell")
	mustPut(t, tree, string(key), 1, true)

	const writers = 8
	const perWriter = 500

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if _, err := tree.Put(key, fam.Gptr(i+1), true); err != nil {
					t.Errorf("put: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// linearizable per key: no commit is ever lost, so the tag is exactly
	// the number of writes
	tq := mustGet(t, tree, string(key))
	assert.Equal(t, uint64(writers*perWriter), tq.Tag)
}

func TestConcurrentPutDestroy(t *testing.T) {
	tree := newTestTree(t, 1<<20)

	key := []byte("churn")
	const rounds = 500

	// seed the cell so every subsequent transition goes through the CAS
	// path and bumps the tag
	mustPut(t, tree, string(key), 1, true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range rounds {
			if _, err := tree.Put(key, 1, true); err != nil {
				t.Errorf("put: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range rounds {
			if _, err := tree.Destroy(key); err != nil {
				t.Errorf("destroy: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	// every put and every destroy committed exactly once
	tq := mustGet(t, tree, string(key))
	assert.Equal(t, uint64(2*rounds), tq.Tag)
}

func TestConcurrentSplitsOnSharedPrefix(t *testing.T) {
	tree := newTestTree(t, 256<<20)

	// writers race to split the same prefix chains
	const writers = 8
	const perWriter = 500

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				// heavy shared prefixes force intermediate insertion races
				key := fmt.Sprintf("shared/prefix/%03d/w%d", i, w)
				if _, err := tree.Put([]byte(key), fam.Gptr(w+1), true); err != nil {
					t.Errorf("put: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for w := range writers {
		for i := range perWriter {
			key := fmt.Sprintf("shared/prefix/%03d/w%d", i, w)
			tq := mustGet(t, tree, key)
			require.Truef(t, tq.IsValid(), "key %s missing", key)
			require.Equal(t, fam.Gptr(w+1), tq.Ptr)
		}
	}
}

func TestConcurrentScanDuringWrites(t *testing.T) {
	tree := newTestTree(t, 64<<20)

	// stable keys present for the whole scan duration must never be missed
	for i := range 200 {
		mustPut(t, tree, fmt.Sprintf("stable-%03d", i), fam.Gptr(i+1), true)
	}

	stop := make(chan struct{})
	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			key := fmt.Sprintf("zz-noise-%04d", i%1000)
			if _, err := tree.Put([]byte(key), 1, true); err != nil {
				t.Errorf("put: %v", err)
				return
			}
			i++
		}
	}()

	for range 20 {
		var it Iter
		found := 0
		ok, err := tree.Scan(&it, []byte("stable-"), true, []byte("stable-999"), true)
		require.NoError(t, err)
		for ok {
			found++
			ok = tree.GetNext(&it)
		}
		assert.Equal(t, 200, found)
	}
	close(stop)
	writers.Wait()
}
