package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferKeepsMostRecentOnOverflow(t *testing.T) {
	ring := New[int](3)
	for i := 1; i <= 5; i++ {
		ring.Push(i)
	}

	assert.Equal(t, 3, ring.Len())
	assert.Equal(t, []int{3, 4, 5}, ring.All())
	assert.Equal(t, uint64(5), ring.TotalWritten())
}

func TestBufferLast(t *testing.T) {
	ring := New[string](4)
	ring.Push("a")
	ring.Push("b")
	ring.Push("c")

	assert.Equal(t, []string{"b", "c"}, ring.Last(2))
	assert.Equal(t, []string{"a", "b", "c"}, ring.Last(10))
	assert.Empty(t, ring.Last(0))
}

func TestBufferClear(t *testing.T) {
	ring := New[int](2)
	ring.Push(1)
	ring.Push(2)
	ring.Clear()

	assert.Equal(t, 0, ring.Len())
	assert.Empty(t, ring.All())

	ring.Push(7)
	assert.Equal(t, []int{7}, ring.All())
}

func TestBufferResize(t *testing.T) {
	t.Run("shrink keeps newest", func(t *testing.T) {
		ring := New[int](5)
		for i := 1; i <= 5; i++ {
			ring.Push(i)
		}
		ring.Resize(2)

		assert.Equal(t, 2, ring.Cap())
		assert.Equal(t, []int{4, 5}, ring.All())

		ring.Push(6)
		assert.Equal(t, []int{5, 6}, ring.All())
	})

	t.Run("grow keeps everything", func(t *testing.T) {
		ring := New[int](2)
		ring.Push(1)
		ring.Push(2)
		ring.Push(3)
		ring.Resize(4)

		assert.Equal(t, []int{2, 3}, ring.All())
		ring.Push(4)
		ring.Push(5)
		assert.Equal(t, []int{2, 3, 4, 5}, ring.All())
	})
}

func TestBufferMinimumCapacity(t *testing.T) {
	ring := New[int](0)
	require.Equal(t, 1, ring.Cap())

	ring.Push(1)
	ring.Push(2)
	assert.Equal(t, []int{2}, ring.All())
}

func TestBufferConcurrentPush(t *testing.T) {
	ring := New[int](100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ring.Push(i)
				_ = ring.Last(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, ring.Len())
	assert.Equal(t, uint64(400), ring.TotalWritten())
}
