package reqstream

import (
	"sync"

	"github.com/fetchguard/fetchguard/internal/metrics"
	"github.com/fetchguard/fetchguard/internal/ring"
)

// Buffer holds the most recent inbound request events. Once MaxBuffer is
// reached the oldest events are overwritten. Reads never remove events, so
// every subscriber sees the same recent window.
type Buffer struct {
	events *ring.Buffer[RequestEvent]

	mu  sync.RWMutex
	cfg Config
}

// NewBuffer creates an ingestion buffer for cfg.
func NewBuffer(cfg Config) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		cfg:    cfg,
		events: ring.New[RequestEvent](cfg.MaxBuffer),
	}
}

// Push appends an event, evicting the oldest if the buffer is full.
func (b *Buffer) Push(event RequestEvent) {
	b.events.Push(event)
	metrics.SetStreamBuffered(b.events.Len())
	metrics.SetStreamCaptured(b.events.TotalWritten())
}

// Drain returns up to limit of the newest events, oldest first, without
// removing them. A non-positive limit uses the configured batch size.
func (b *Buffer) Drain(limit int) []RequestEvent {
	if limit <= 0 {
		limit = b.Config().BatchSize
	}
	return b.events.Last(limit)
}

// Clear drops every buffered event.
func (b *Buffer) Clear() {
	b.events.Clear()
	metrics.SetStreamBuffered(0)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	return b.events.Len()
}

// Captured reports how many events were ever pushed, including those since
// evicted or cleared.
func (b *Buffer) Captured() uint64 {
	return b.events.TotalWritten()
}

// Config returns the current stream configuration.
func (b *Buffer) Config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Configure applies a partial update and returns the resulting configuration.
// Lowering MaxBuffer keeps the newest events.
func (b *Buffer) Configure(update ConfigUpdate) Config {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.IntervalMs != nil && *update.IntervalMs > 0 {
		b.cfg.IntervalMs = *update.IntervalMs
	}
	if update.BatchSize != nil && *update.BatchSize > 0 {
		b.cfg.BatchSize = *update.BatchSize
	}
	if update.MaxBuffer != nil && *update.MaxBuffer > 0 && *update.MaxBuffer != b.cfg.MaxBuffer {
		b.cfg.MaxBuffer = *update.MaxBuffer
		b.events.Resize(b.cfg.MaxBuffer)
	}
	return b.cfg
}
