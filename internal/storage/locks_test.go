package storage

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("k")
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			inside.Add(-1)
			km.Unlock("k")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, km.Len())
}

func TestKeyedMutex_LockAllOverlapping(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"a", "b", "c"}
			if i%2 == 0 {
				keys = []string{"c", "b", "a", "a"}
			}
			unlock := km.LockAll(keys)
			unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, km.Len())
}

func TestKeyedMutex_UnlockUnknownPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewKeyedMutex().Unlock("missing") })
}
