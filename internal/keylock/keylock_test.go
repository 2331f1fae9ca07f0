package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_SerializesSameKey(t *testing.T) {
	var (
		m       Map
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("org:1")
			defer unlock()
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load(), "two holders inside the same key")
	assert.Equal(t, 0, m.Len(), "entries should be released")
}

func TestMap_IndependentKeys(t *testing.T) {
	var m Map

	unlockA := m.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestMap_UnlockIsIdempotent(t *testing.T) {
	var m Map
	unlock := m.Lock("a")
	unlock()
	unlock()
	assert.Equal(t, 0, m.Len())

	// Key is usable again.
	m.Lock("a")()
}
