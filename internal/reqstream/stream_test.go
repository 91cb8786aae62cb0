package reqstream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource wraps a Buffer and counts Drain calls.
type countingSource struct {
	*Buffer
	drains atomic.Int64
}

func (c *countingSource) Drain(limit int) []RequestEvent {
	c.drains.Add(1)
	return c.Buffer.Drain(limit)
}

func TestStreamDeliversImmediatelyAndOnInterval(t *testing.T) {
	source := &countingSource{Buffer: NewBuffer(Config{IntervalMs: 100, BatchSize: 10})}
	for i := 0; i < 25; i++ {
		source.Push(event(i))
	}

	mock := clock.NewMock()
	stream := NewStream(source, WithStreamClock(mock))

	var mu sync.Mutex
	var batches []Batch
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, func(b Batch) error {
			mu.Lock()
			batches = append(batches, b)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	first := batches[0]
	mu.Unlock()
	require.Len(t, first.Data, 10)
	assert.Equal(t, int64(15), first.Data[0].Timestamp)
	assert.Equal(t, int64(24), first.Data[9].Timestamp)
	assert.Equal(t, int64(1), stream.Subscribers())

	// The ticker is created after the first send, so keep nudging the clock.
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return len(batches) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(0), stream.Subscribers())

	drains := source.drains.Load()
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, drains, source.drains.Load(), "no drains after the subscriber left")
}

func TestStreamSubscribersAreIndependent(t *testing.T) {
	source := NewBuffer(Config{IntervalMs: 100, BatchSize: 5})
	for i := 0; i < 3; i++ {
		source.Push(event(i))
	}

	stream := NewStream(source, WithStreamClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Batch, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_ = stream.Run(ctx, func(b Batch) error {
				got <- b
				return nil
			})
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case b := <-got:
			assert.Len(t, b.Data, 3)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive its initial batch")
		}
	}
}

func TestStreamStopsOnSinkError(t *testing.T) {
	source := NewBuffer(DefaultConfig())
	stream := NewStream(source, WithStreamClock(clock.NewMock()))

	errClosed := errors.New("client went away")
	err := stream.Run(context.Background(), func(Batch) error { return errClosed })

	assert.ErrorIs(t, err, errClosed)
	assert.Equal(t, int64(0), stream.Subscribers())
}

func TestStreamBatchOnEmptyBuffer(t *testing.T) {
	stream := NewStream(NewBuffer(DefaultConfig()), WithStreamClock(clock.NewMock()))

	ctx, cancel := context.WithCancel(context.Background())
	var batch Batch
	err := stream.Run(ctx, func(b Batch) error {
		batch = b
		cancel()
		return nil
	})

	require.NoError(t, err)
	assert.NotNil(t, batch.Data)
	assert.Empty(t, batch.Data)
}
