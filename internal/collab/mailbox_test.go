package collab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_ResumesAfterStart(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Peek())
	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(42), c.Current())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClockAt(0)
	const goroutines, calls = 50, 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "seq %d generated twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, goroutines*calls)
}

func TestMailbox_FIFO(t *testing.T) {
	m := newMailbox()
	var got []int
	for i := 1; i <= 3; i++ {
		require.True(t, m.Enqueue(func() { got = append(got, i) }))
	}
	assert.Equal(t, 3, m.Len())

	for {
		c, ok := m.TryDequeue()
		if !ok {
			break
		}
		c()
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Zero(t, m.Len())
}

func TestMailbox_SignalCoalesces(t *testing.T) {
	m := newMailbox()
	m.Enqueue(func() {})
	m.Enqueue(func() {})

	<-m.Wait()
	select {
	case <-m.Wait():
		t.Fatal("second signal should have been coalesced")
	default:
	}
}

func TestMailbox_Close(t *testing.T) {
	m := newMailbox()
	require.True(t, m.Enqueue(func() {}))
	m.Close()
	m.Close()

	assert.False(t, m.Enqueue(func() {}), "enqueue after close must fail")

	<-m.Wait() // pending signal from the enqueue
	_, ok := <-m.Wait()
	assert.False(t, ok, "wait channel is closed")

	_, ok = m.TryDequeue()
	assert.True(t, ok, "commands queued before close remain")
}
