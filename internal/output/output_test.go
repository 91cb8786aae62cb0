package output

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleReport() SummaryReport {
	return SummaryReport{
		Summary: supervisor.Summary{
			RequestsIssued: 4,
			Succeeded:      3,
			Failed:         1,
			RateLimited:    2,
			CacheHits:      5,
			CacheEntries:   3,
			CacheEnabled:   true,
			RatePerSecond:  2,
		},
		Logs: []supervisor.LogItem{
			{Timestamp: 1700000000000, Method: "GET", URL: "https://api.example/ticker", Attempt: 1, Status: 429},
			{Timestamp: 1700000000500, Method: "GET", URL: "https://api.example/ticker", Attempt: 2, Status: 200},
		},
	}
}

func TestWriteSummaryTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, FormatTable, sampleReport()))

	rendered := buf.String()
	assert.Contains(t, rendered, "Requests issued")
	assert.Contains(t, rendered, "Rate limited")
	assert.Contains(t, rendered, "https://api.example/ticker")
	assert.Contains(t, rendered, "429")
	assert.Contains(t, strings.ToLower(rendered), "2 entries")
}

func TestWriteSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, FormatJSON, sampleReport()))

	var decoded struct {
		Data supervisor.Summary   `json:"data"`
		Logs []supervisor.LogItem `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, uint64(4), decoded.Data.RequestsIssued)
	assert.Len(t, decoded.Logs, 2)
}

func TestWriteSummaryMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, FormatMarkdown, sampleReport()))
	assert.Contains(t, buf.String(), "| Metric | Value |")
}

func TestWriteResponse(t *testing.T) {
	resp := &supervisor.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Data:   []byte(`{"price":42}`),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, FormatTable, resp))
	assert.True(t, strings.HasPrefix(buf.String(), "HTTP 200\n"))
	assert.Contains(t, buf.String(), `"price": 42`)

	buf.Reset()
	require.NoError(t, WriteResponse(&buf, FormatJSON, resp))
	assert.Contains(t, buf.String(), `"status": 200`)
	assert.Contains(t, buf.String(), `"price": 42`)

	buf.Reset()
	require.NoError(t, WriteResponse(&buf, FormatJSON, &supervisor.Response{Status: 200, Data: []byte("plain")}))
	assert.Contains(t, buf.String(), `"text": "plain"`)
}

func TestWriteBatch(t *testing.T) {
	batch := reqstream.Batch{
		TS: 1700000000000,
		Data: []reqstream.RequestEvent{
			{Timestamp: 1700000000000, Method: "GET", URL: "/api/fetch/summary", UserAgent: "curl/8"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBatch(&buf, FormatTable, batch))
	assert.Contains(t, buf.String(), "/api/fetch/summary")
	assert.Contains(t, buf.String(), "curl/8")

	buf.Reset()
	require.NoError(t, WriteBatch(&buf, FormatJSON, batch))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	buf.Reset()
	require.NoError(t, WriteBatch(&buf, FormatTable, reqstream.Batch{TS: 1, Data: []reqstream.RequestEvent{}}))
	assert.Empty(t, buf.String())
}

func TestWriteStreamConfig(t *testing.T) {
	cfg := reqstream.Config{IntervalMs: 250, BatchSize: 10, MaxBuffer: 100}

	var buf bytes.Buffer
	require.NoError(t, WriteStreamConfig(&buf, FormatTable, cfg))
	assert.Contains(t, buf.String(), "Interval (ms)")
	assert.Contains(t, buf.String(), "250")

	buf.Reset()
	require.NoError(t, WriteStreamConfig(&buf, FormatJSON, cfg))
	assert.Contains(t, buf.String(), `"intervalMs": 250`)
}
