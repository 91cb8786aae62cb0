package supervisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Response is the envelope returned to callers and kept in the response cache.
// The payload is returned as raw bytes; the supervisor never interprets it.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"headers"`
	Data   []byte      `json:"data"`
}

// DecodeJSON unmarshals the response payload into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return errors.New("nil response")
	}
	return json.Unmarshal(r.Data, v)
}

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Data:   bytes.Clone(r.Data),
	}
}

// RequestOptions carries per-call settings for Get and Post.
type RequestOptions struct {
	// Params are merged into the URL query string and take part in the cache key.
	Params url.Values
	// Header is sent with every attempt. It does not take part in the cache key,
	// but calls with different headers never share a dispatch.
	Header http.Header
	// Timeout bounds each attempt. Zero falls back to the supervisor default.
	// An attempt that hits this timeout is treated as transient and retried.
	Timeout time.Duration
	// AcceptStatus overrides which status codes count as success. 429 is
	// always transient regardless of this hook.
	AcceptStatus func(status int) bool
}

func (o *RequestOptions) accepts(status int) bool {
	if o != nil && o.AcceptStatus != nil {
		return o.AcceptStatus(status)
	}
	return status >= 200 && status < 300
}

// LogItem records one dispatch attempt.
type LogItem struct {
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Attempt   int    `json:"attempt"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary is a point-in-time snapshot of the supervisor counters.
type Summary struct {
	RequestsIssued     uint64 `json:"requestsIssued"`
	Succeeded          uint64 `json:"succeeded"`
	Failed             uint64 `json:"failed"`
	RateLimited        uint64 `json:"rateLimited"`
	CacheHits          uint64 `json:"cacheHits"`
	CacheEntries       int    `json:"cacheEntries"`
	CacheEnabled       bool   `json:"cacheEnabled"`
	RatePerSecond      int    `json:"ratePerSecond"`
	CurrentWindowStart int64  `json:"currentWindowStart"`
}
