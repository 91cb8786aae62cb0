package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchguard/fetchguard/internal/supervisor"
)

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, string) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)
	return supervisor.New(supervisor.Config{RatePerSecond: 10, CacheEnabled: true}), upstream.URL
}

func TestSupervisorSummary(t *testing.T) {
	sup, upstream := newTestSupervisor(t)
	_, err := sup.Get(context.Background(), upstream, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewSupervisorHandler(sup).Summary(rec, httptest.NewRequest(http.MethodGet, "/api/fetch/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummaryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.Data.RequestsIssued)
	assert.Equal(t, uint64(1), resp.Data.Succeeded)
	assert.Equal(t, 1, resp.Data.CacheEntries)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, http.StatusOK, resp.Logs[0].Status)
}

func TestSupervisorConfig(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantRate    int
		wantEntries int
	}{
		{name: "explicit values", body: `{"ratePerSecond":5,"cache":true}`, wantRate: 5, wantEntries: 1},
		{name: "empty body uses defaults", body: ``, wantRate: 2, wantEntries: 1},
		{name: "cache false clears", body: `{"ratePerSecond":4,"cache":false}`, wantRate: 4, wantEntries: 0},
		{name: "non-positive rate clamps", body: `{"ratePerSecond":0}`, wantRate: 1, wantEntries: 1},
		{name: "numeric string rate", body: `{"ratePerSecond":"5"}`, wantRate: 5, wantEntries: 1},
		{name: "fractional rate truncates", body: `{"ratePerSecond":3.7}`, wantRate: 3, wantEntries: 1},
		{name: "null rate uses default", body: `{"ratePerSecond":null}`, wantRate: 2, wantEntries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, upstream := newTestSupervisor(t)
			_, err := sup.Get(context.Background(), upstream, nil)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/api/fetch/config", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			NewSupervisorHandler(sup).Config(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"success":true}`, rec.Body.String())

			summary := sup.Summary()
			assert.Equal(t, tt.wantRate, summary.RatePerSecond)
			assert.Equal(t, tt.wantEntries, summary.CacheEntries)
		})
	}
}

func TestSupervisorConfigRejectsMalformedJSON(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	req := httptest.NewRequest(http.MethodPost, "/api/fetch/config", strings.NewReader(`{"ratePerSecond":`))
	rec := httptest.NewRecorder()
	NewSupervisorHandler(sup).Config(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	assert.Equal(t, 10, sup.Summary().RatePerSecond)
}

func TestSupervisorConfigRejectsNonNumericRate(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	req := httptest.NewRequest(http.MethodPost, "/api/fetch/config", strings.NewReader(`{"ratePerSecond":"fast"}`))
	rec := httptest.NewRecorder()
	NewSupervisorHandler(sup).Config(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	assert.Equal(t, 10, sup.Summary().RatePerSecond)
}

func TestSupervisorReset(t *testing.T) {
	sup, upstream := newTestSupervisor(t)
	_, err := sup.Get(context.Background(), upstream, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewSupervisorHandler(sup).Reset(rec, httptest.NewRequest(http.MethodPost, "/api/fetch/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sup.Logs())
	assert.Equal(t, 0, sup.Summary().CacheEntries)
	assert.Equal(t, uint64(1), sup.Summary().Succeeded)
}
