package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/fetchguard/fetchguard/internal/reqstream"
)

// EventRecorder receives one event per inbound request. *reqstream.Buffer
// satisfies it.
type EventRecorder interface {
	Push(event reqstream.RequestEvent)
}

// CaptureRequests pushes a RequestEvent for every request before handing it on.
// Paths under any of the skip prefixes are not recorded, which keeps the
// stream endpoint from reporting its own subscribers.
func CaptureRequests(recorder EventRecorder, skip ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasAnyPrefix(r.URL.Path, skip) {
				recorder.Push(reqstream.RequestEvent{
					Timestamp: time.Now().UnixMilli(),
					Method:    r.Method,
					URL:       r.URL.RequestURI(),
					UserAgent: r.UserAgent(),
					RequestID: GetRequestID(r.Context()),
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
