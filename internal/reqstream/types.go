package reqstream

// RequestEvent records one inbound HTTP request seen by the server.
type RequestEvent struct {
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	UserAgent string `json:"userAgent,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Config controls how buffered events are streamed to subscribers.
type Config struct {
	IntervalMs int `json:"intervalMs"`
	BatchSize  int `json:"batchSize"`
	MaxBuffer  int `json:"maxBuffer"`
}

// Defaults applied when a Config field is unset.
const (
	DefaultIntervalMs = 1000
	DefaultBatchSize  = 50
	DefaultMaxBuffer  = 1000
)

// DefaultConfig returns the stock stream configuration.
func DefaultConfig() Config {
	return Config{
		IntervalMs: DefaultIntervalMs,
		BatchSize:  DefaultBatchSize,
		MaxBuffer:  DefaultMaxBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.IntervalMs <= 0 {
		c.IntervalMs = DefaultIntervalMs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = DefaultMaxBuffer
	}
	return c
}

// ConfigUpdate is a partial change to Config. Nil or non-positive fields are
// ignored.
type ConfigUpdate struct {
	IntervalMs *int `json:"intervalMs,omitempty"`
	BatchSize  *int `json:"batchSize,omitempty"`
	MaxBuffer  *int `json:"maxBuffer,omitempty"`
}

// Batch is one frame delivered to a subscriber.
type Batch struct {
	TS   int64          `json:"ts"`
	Data []RequestEvent `json:"data"`
}
