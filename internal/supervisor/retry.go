package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fetchguard/fetchguard/internal/metrics"
	"github.com/fetchguard/fetchguard/internal/observability"
)

// RetryPolicy bounds the attempts of one logical call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the delay inserted after the given failed attempt (1-based):
// InitialBackoff doubled per earlier retry, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// call is one logical outbound request.
type call struct {
	method string
	url    string
	body   []byte
	opts   *RequestOptions
	key    string
}

func (c *call) timeout(def time.Duration) time.Duration {
	if c.opts != nil && c.opts.Timeout > 0 {
		return c.opts.Timeout
	}
	return def
}

// dispatch runs the attempts of an already admitted call. Retries reuse the
// admission; only the backoff delay separates them.
func (s *Supervisor) dispatch(ctx context.Context, c *call) (*Response, error) {
	policy := s.cfg.Retry
	var (
		lastStatus int
		lastErr    error
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := s.attempt(ctx, c)

		item := LogItem{Method: c.method, URL: c.url, Attempt: attempt}
		if resp != nil {
			item.Status = resp.Status
		}
		if err != nil {
			item.Error = err.Error()
		}
		s.appendLog(item)

		result := classify(ctx, c, resp, err)
		metrics.RecordOutboundAttempt(c.method, result.String())

		switch result {
		case outcomeSuccess:
			s.succeeded.Add(1)
			s.cache.Store(c.key, resp)
			return resp, nil

		case outcomeFatal:
			s.failed.Add(1)
			if err == nil {
				err = &StatusError{Method: c.method, URL: c.url, Status: resp.Status, Body: resp.Data}
			}
			s.logFailure(c, attempt, err)
			return nil, err
		}

		s.rateLimited.Add(1)
		lastErr = err
		lastStatus = 0
		if resp != nil {
			lastStatus = resp.Status
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Backoff(attempt)
		metrics.RecordOutboundRetry(c.method, retryReason(lastStatus))
		if logger := observability.ServerLogger; logger != nil {
			logger.Debug("Transient outbound failure, backing off",
				zap.String("method", c.method),
				zap.String("url", c.url),
				zap.Int("attempt", attempt),
				zap.Int("status", lastStatus),
				zap.Duration("backoff", delay))
		}
		if err := sleep(ctx, s.clock, delay); err != nil {
			s.failed.Add(1)
			return nil, err
		}
	}

	s.failed.Add(1)
	exhausted := &ExhaustedError{
		Method:     c.method,
		URL:        c.url,
		Attempts:   policy.MaxAttempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
	s.logFailure(c, policy.MaxAttempts, exhausted)
	return nil, exhausted
}

// attempt performs one HTTP exchange and reads the whole body.
func (s *Supervisor) attempt(ctx context.Context, c *call) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout(s.cfg.Timeout))
	defer cancel()

	req, err := newRequest(attemptCtx, c, s.cfg.UserAgent)
	if err != nil {
		return nil, err
	}

	httpResp, err := s.transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: status %d, limit %d bytes", ErrResponseTooLarge, httpResp.StatusCode, s.cfg.MaxBodyBytes)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header.Clone(),
		Data:   data,
	}, nil
}

// classify maps an attempt result onto the retry taxonomy.
func classify(ctx context.Context, c *call, resp *Response, err error) outcome {
	if err != nil {
		// The caller gave up; retrying cannot help.
		if ctx.Err() != nil || errors.Is(err, ErrResponseTooLarge) {
			return outcomeFatal
		}
		if isTimeout(err) {
			return outcomeTransient
		}
		return outcomeFatal
	}
	if resp.Status == http.StatusTooManyRequests {
		return outcomeTransient
	}
	if c.opts.accepts(resp.Status) {
		return outcomeSuccess
	}
	return outcomeFatal
}

func retryReason(status int) string {
	if status == http.StatusTooManyRequests {
		return "rate_limited"
	}
	return "timeout"
}

func (s *Supervisor) logFailure(c *call, attempts int, err error) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", c.method),
		zap.String("url", c.url),
		zap.Int("attempts", attempts),
		zap.Error(err),
	}
	if errors.Is(err, ErrRateLimitExhausted) {
		logger.Warn("Outbound call exhausted retries", fields...)
		return
	}
	logger.Warn("Outbound call failed", fields...)
}
