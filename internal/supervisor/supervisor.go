// Package supervisor is the single gateway for outbound calls to third-party
// providers. Every call passes a response cache, a windowed rate limiter, and a
// retry controller; the supervisor keeps aggregate counters and an audit log of
// every dispatch attempt.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fetchguard/fetchguard/internal/metrics"
	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/ring"
)

// Defaults mirror the gateway's historical behavior.
const (
	DefaultRatePerSecond  = 2
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 4 * time.Second
	DefaultLogLimit       = 500
	DefaultTimeout        = 20 * time.Second
	DefaultMaxBodyBytes   = 10 << 20
)

// Transport performs a single HTTP exchange. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the tunables of a Supervisor.
type Config struct {
	RatePerSecond int
	CacheEnabled  bool
	CacheSize     int
	CacheTTL      time.Duration
	Retry         RetryPolicy
	LogLimit      int
	Timeout       time.Duration
	UserAgent     string
	MaxBodyBytes  int64
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		RatePerSecond: DefaultRatePerSecond,
		CacheEnabled:  true,
		CacheSize:     DefaultCacheSize,
		Retry: RetryPolicy{
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		LogLimit:     DefaultLogLimit,
		Timeout:      DefaultTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RatePerSecond == 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	c.Retry = c.Retry.withDefaults()
	if c.LogLimit <= 0 {
		c.LogLimit = def.LogLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	return c
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(transport Transport) Option {
	return func(s *Supervisor) {
		if transport != nil {
			s.transport = transport
		}
	}
}

// Supervisor gates, caches, and retries outbound calls. Create one per process
// and share it; all methods are safe for concurrent use.
type Supervisor struct {
	cfg       Config
	clock     clock.Clock
	transport Transport
	limiter   *Limiter
	cache     *Cache
	logs      *ring.Buffer[LogItem]
	flights   singleflight.Group
	flightMu  sync.Mutex
	inflight  map[string]*flight

	requests    atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	cacheHits   atomic.Uint64
}

// New creates a Supervisor. Zero-valued fields of cfg take their defaults,
// except CacheEnabled which is honored as given.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()

	s := &Supervisor{
		cfg:       cfg,
		clock:     clock.New(),
		transport: &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.limiter = NewLimiter(s.clock, cfg.RatePerSecond)
	s.cache = NewCache(cfg.CacheSize, cfg.CacheTTL)
	s.cache.SetEnabled(cfg.CacheEnabled)
	s.logs = ring.New[LogItem](cfg.LogLimit)
	return s
}

// Get issues a GET through the supervisor.
func (s *Supervisor) Get(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return s.run(ctx, http.MethodGet, rawURL, nil, opts)
}

// Post issues a POST with a JSON-encoded body through the supervisor. Pass a
// json.RawMessage to send pre-encoded JSON unchanged. A nil body sends no
// payload and no Content-Type.
func (s *Supervisor) Post(ctx context.Context, rawURL string, body any, opts *RequestOptions) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, http.MethodPost, rawURL, payload, opts)
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if v == nil {
			return nil, nil
		}
		return v, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return payload, nil
}

func (s *Supervisor) run(ctx context.Context, method, rawURL string, body []byte, opts *RequestOptions) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var params url.Values
	if opts != nil {
		params = opts.Params
	}

	key, err := CacheKey(method, rawURL, body, params)
	if err != nil {
		return nil, err
	}

	if resp, ok := s.cachedResponse(method, key); ok {
		return resp, nil
	}

	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}

	c := &call{
		method: method,
		url:    target,
		body:   body,
		opts:   opts,
		key:    key,
	}
	if !coalescable(opts) {
		resp, err := s.admitAndDispatch(ctx, c)
		if err != nil {
			return nil, err
		}
		return resp.clone(), nil
	}
	return s.coalesce(ctx, flightKey(key, opts), c)
}

// coalesce lets identical concurrent misses share one admission and one
// dispatch. The shared call runs under a context detached from any single
// caller and cancelled only once every waiter has gone; each caller still
// returns as soon as its own context ends.
func (s *Supervisor) coalesce(ctx context.Context, fkey string, c *call) (*Response, error) {
	for {
		f := s.joinFlight(ctx, fkey)
		ch := s.flights.DoChan(fkey, func() (any, error) {
			return s.admitAndDispatch(f.ctx, c)
		})

		select {
		case res := <-ch:
			s.leaveFlight(fkey, f)
			if res.Err != nil {
				// A flight abandoned by its earlier waiters can hand a late
				// joiner their cancellation; start a fresh flight instead.
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*Response).clone(), nil
		case <-ctx.Done():
			s.leaveFlight(fkey, f)
			return nil, ctx.Err()
		}
	}
}

func (s *Supervisor) admitAndDispatch(ctx context.Context, c *call) (*Response, error) {
	if resp, ok := s.cachedResponse(c.method, c.key); ok {
		return resp, nil
	}

	waited, err := s.limiter.Admit(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RecordAdmissionWait(waited)
	s.requests.Add(1)

	return s.dispatch(ctx, c)
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (s *Supervisor) joinFlight(ctx context.Context, fkey string) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if s.inflight == nil {
		s.inflight = make(map[string]*flight)
	}
	f, ok := s.inflight[fkey]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.inflight[fkey] = f
	}
	f.waiters++
	return f
}

func (s *Supervisor) leaveFlight(fkey string, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.inflight[fkey] == f {
		delete(s.inflight, fkey)
	}
}

// coalescable reports whether calls with these options may share a dispatch.
// A per-call timeout or success hook changes the outcome, so such calls always
// run on their own.
func coalescable(opts *RequestOptions) bool {
	return opts == nil || (opts.Timeout <= 0 && opts.AcceptStatus == nil)
}

// flightKey extends the cache key with the request headers, which are sent
// upstream but do not take part in caching.
func flightKey(key string, opts *RequestOptions) string {
	if opts == nil || len(opts.Header) == 0 {
		return key
	}
	names := make([]string, 0, len(opts.Header))
	for name := range opts.Header {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(key)
	for _, name := range names {
		b.WriteString("\n")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(opts.Header.Values(name), ","))
	}
	return b.String()
}

func (s *Supervisor) cachedResponse(method, key string) (*Response, bool) {
	resp, ok := s.cache.Lookup(key)
	if !ok {
		return nil, false
	}
	s.cacheHits.Add(1)
	metrics.RecordCacheHit(method)
	return resp, true
}

// SetRate changes the request ceiling (minimum 1) from the next window on.
func (s *Supervisor) SetRate(rate int) {
	s.limiter.SetRate(rate)
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Outbound rate updated", zap.Int("rate_per_second", s.limiter.Rate()))
	}
}

// EnableCache applies a cache toggle from the control surface. false drops
// every entry; caching itself stays on, so later successes repopulate the
// cache. true is a no-op. Use Config.CacheEnabled to run without a cache.
func (s *Supervisor) EnableCache(enabled bool) {
	if !enabled {
		s.cache.Clear()
	}
}

// SetCacheEnabled switches the response cache on or off entirely, as the
// supervisor.cache_enabled setting does at startup.
func (s *Supervisor) SetCacheEnabled(enabled bool) {
	s.cache.SetEnabled(enabled)
}

// ClearLogs empties the audit log.
func (s *Supervisor) ClearLogs() {
	s.logs.Clear()
}

// ClearCache drops every cached response.
func (s *Supervisor) ClearCache() {
	s.cache.Clear()
}

// Summary returns a snapshot of the counters.
func (s *Supervisor) Summary() Summary {
	summary := Summary{
		RequestsIssued: s.requests.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		RateLimited:    s.rateLimited.Load(),
		CacheHits:      s.cacheHits.Load(),
		CacheEntries:   s.cache.Len(),
		CacheEnabled:   s.cache.Enabled(),
		RatePerSecond:  s.limiter.Rate(),
	}
	if start := s.limiter.WindowStart(); !start.IsZero() {
		summary.CurrentWindowStart = start.UnixMilli()
	}
	return summary
}

// Logs returns the retained audit log, oldest first.
func (s *Supervisor) Logs() []LogItem {
	return s.logs.All()
}

func (s *Supervisor) appendLog(item LogItem) {
	item.Timestamp = s.clock.Now().UnixMilli()
	s.logs.Push(item)
}

func buildURL(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	query := parsed.Query()
	for name, values := range params {
		for _, value := range values {
			query.Add(name, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func newRequest(ctx context.Context, c *call, userAgent string) (*http.Request, error) {
	var body *bytes.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, c.method, c.url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, c.method, c.url, nil)
	}
	if err != nil {
		return nil, err
	}

	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if c.opts != nil {
		for name, values := range c.opts.Header {
			req.Header.Del(name)
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	}
	return req, nil
}
