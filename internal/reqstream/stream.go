package reqstream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fetchguard/fetchguard/internal/metrics"
)

// Source is what a Stream reads batches from. *Buffer satisfies it.
type Source interface {
	Drain(limit int) []RequestEvent
	Config() Config
}

// Sink receives each batch for one subscriber. Returning an error ends the
// subscription.
type Sink func(Batch) error

// Stream delivers batches from a Source to any number of independent
// subscribers.
type Stream struct {
	source      Source
	clock       clock.Clock
	subscribers atomic.Int64
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithStreamClock replaces the wall clock, mainly for tests.
func WithStreamClock(clk clock.Clock) StreamOption {
	return func(s *Stream) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// NewStream creates a Stream reading from source.
func NewStream(source Source, opts ...StreamOption) *Stream {
	s := &Stream{source: source, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribers reports how many Run loops are active.
func (s *Stream) Subscribers() int64 {
	return s.subscribers.Load()
}

// Run sends one batch immediately and then one per configured interval until
// ctx is done or sink fails. The interval and batch size are read when Run
// starts; the ticker is stopped before Run returns.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	metrics.SetStreamSubscribers(s.subscribers.Add(1))
	defer func() {
		metrics.SetStreamSubscribers(s.subscribers.Add(-1))
	}()

	cfg := s.source.Config().withDefaults()

	if err := s.send(cfg.BatchSize, sink); err != nil {
		return err
	}

	ticker := s.clock.Ticker(time.Duration(cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			if err := s.send(cfg.BatchSize, sink); err != nil {
				return err
			}
		}
	}
}

func (s *Stream) send(batchSize int, sink Sink) error {
	events := s.source.Drain(batchSize)
	metrics.RecordStreamBatch(len(events))
	return sink(Batch{TS: s.clock.Now().UnixMilli(), Data: events})
}
