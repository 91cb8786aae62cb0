package supervisor

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type transportFunc func(req *http.Request) (*http.Response, error)

func (f transportFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// countingServer answers every request with handler and counts the hits.
func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// advanceUntil keeps moving the mock clock forward in steps until done closes.
func advanceUntil(t *testing.T, mock *clock.Mock, done <-chan struct{}, step time.Duration) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("timed out waiting for mock clock consumer")
			return
		default:
			mock.Add(step)
		}
	}
}

// flightWaiters reports how many callers are waiting on the shared dispatch for fkey.
func (s *Supervisor) flightWaiters(fkey string) int {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if f, ok := s.inflight[fkey]; ok {
		return f.waiters
	}
	return 0
}
