package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchguard/fetchguard/internal/config"
	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/server"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

// useTestConfig installs a defaults-only configuration pointing the client
// at baseURL.
func useTestConfig(t *testing.T, baseURL string) {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	cfg.Client.BaseURL = baseURL

	prevConfig, prevViper := appConfig, appViper
	appConfig, appViper = cfg, v
	t.Cleanup(func() {
		appConfig, appViper = prevConfig, prevViper
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor, *reqstream.Buffer) {
	t.Helper()

	sup := supervisor.New(supervisor.DefaultConfig())
	buffer := reqstream.NewBuffer(reqstream.DefaultConfig())
	srv := server.New(server.Options{Supervisor: sup, Buffer: buffer})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sup, buffer
}

func TestParsePairs(t *testing.T) {
	values, err := parsePairs([]string{"symbol=BTC", "symbol=ETH", "limit=10"}, "--param")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, values["symbol"])
	assert.Equal(t, "10", values.Get("limit"))

	values, err = parsePairs(nil, "--param")
	require.NoError(t, err)
	assert.Nil(t, values)

	_, err = parsePairs([]string{"novalue"}, "--header")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--header")
}

func TestRenderConfigYAML(t *testing.T) {
	useTestConfig(t, "http://localhost:8080")

	data, err := renderConfigYAML(appConfig)
	require.NoError(t, err)

	rendered := string(data)
	assert.Contains(t, rendered, "rate_per_second: 2")
	assert.Contains(t, rendered, "interval_ms: 1000")
	assert.Contains(t, rendered, "timeout: 20s")
}

func TestApplyReload(t *testing.T) {
	useTestConfig(t, "")
	next := *appConfig
	next.Supervisor.RatePerSecond = 7
	next.Supervisor.CacheEnabled = false
	next.Stream.IntervalMs = 250
	next.Stream.BatchSize = 5
	next.Stream.MaxBuffer = 20

	sup := supervisor.New(supervisor.DefaultConfig())
	buffer := reqstream.NewBuffer(reqstream.DefaultConfig())

	applyReload(&next, sup, buffer)

	summary := sup.Summary()
	assert.Equal(t, 7, summary.RatePerSecond)
	assert.False(t, summary.CacheEnabled)
	assert.Equal(t, reqstream.Config{IntervalMs: 250, BatchSize: 5, MaxBuffer: 20}, buffer.Config())
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("", "", "") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	extended = false
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "fetchguard 1.2.3\n", buf.String())

	buf.Reset()
	extended = true
	t.Cleanup(func() { extended = false })
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), "Commit: abc123")
	assert.Contains(t, buf.String(), "Gofulmen:")

	buf.Reset()
	versionJSON = true
	t.Cleanup(func() { versionJSON = false })
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Contains(t, buf.String(), `"gofulmen"`)
}

func TestSupervisorSummaryCommand(t *testing.T) {
	ts, _, _ := newTestServer(t)
	useTestConfig(t, ts.URL)

	var buf bytes.Buffer
	supervisorSummaryCmd.SetOut(&buf)
	supervisorSummaryCmd.SetContext(context.Background())
	t.Cleanup(func() { supervisorSummaryCmd.SetOut(nil) })
	require.NoError(t, supervisorSummaryCmd.Flags().Set("output-format", "json"))
	t.Cleanup(func() { _ = supervisorSummaryCmd.Flags().Set("output-format", "table") })

	require.NoError(t, supervisorSummaryCmd.RunE(supervisorSummaryCmd, nil))
	assert.Contains(t, buf.String(), `"ratePerSecond": 2`)
	assert.Contains(t, buf.String(), `"logs": []`)
}

func TestSupervisorConfigAndResetCommands(t *testing.T) {
	ts, sup, _ := newTestServer(t)
	useTestConfig(t, ts.URL)

	var buf bytes.Buffer
	supervisorConfigCmd.SetOut(&buf)
	supervisorConfigCmd.SetContext(context.Background())
	t.Cleanup(func() { supervisorConfigCmd.SetOut(nil) })
	require.NoError(t, supervisorConfigCmd.Flags().Set("rate", "9"))
	t.Cleanup(func() {
		_ = supervisorConfigCmd.Flags().Set("rate", "2")
		supervisorConfigCmd.Flags().Lookup("rate").Changed = false
	})

	require.NoError(t, supervisorConfigCmd.RunE(supervisorConfigCmd, nil))
	assert.Equal(t, 9, sup.Summary().RatePerSecond)
	assert.Contains(t, buf.String(), "9/s")

	buf.Reset()
	supervisorResetCmd.SetOut(&buf)
	supervisorResetCmd.SetContext(context.Background())
	t.Cleanup(func() { supervisorResetCmd.SetOut(nil) })
	require.NoError(t, supervisorResetCmd.RunE(supervisorResetCmd, nil))
	assert.Contains(t, buf.String(), "cleared")
}

func TestStreamControlCommand(t *testing.T) {
	ts, _, buffer := newTestServer(t)
	useTestConfig(t, ts.URL)

	var buf bytes.Buffer
	streamControlCmd.SetOut(&buf)
	streamControlCmd.SetContext(context.Background())
	t.Cleanup(func() { streamControlCmd.SetOut(nil) })
	require.NoError(t, streamControlCmd.Flags().Set("batch-size", "7"))
	t.Cleanup(func() {
		_ = streamControlCmd.Flags().Set("batch-size", "50")
		streamControlCmd.Flags().Lookup("batch-size").Changed = false
	})

	require.NoError(t, streamControlCmd.RunE(streamControlCmd, nil))
	assert.Equal(t, 7, buffer.Config().BatchSize)
	assert.Equal(t, 1000, buffer.Config().IntervalMs)
	assert.Contains(t, buf.String(), "Batch size")
}

func TestClientTailReadsBatches(t *testing.T) {
	ts, _, buffer := newTestServer(t)
	buffer.Push(reqstream.RequestEvent{Timestamp: 1, Method: http.MethodGet, URL: "/seen"})

	client := newAPIClient(ts.URL, 0)
	var batches []reqstream.Batch
	err := client.tail(context.Background(), func(batch reqstream.Batch) bool {
		batches = append(batches, batch)
		return false
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.NotEmpty(t, batches[0].Data)
	assert.Equal(t, "/seen", batches[0].Data[0].URL)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ts, _, _ := newTestServer(t)
	client := newAPIClient(ts.URL, 0)

	var resp handlers.OKResponse
	err := client.do(context.Background(), http.MethodPost, "/api/fetch/config", nil, &resp)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	err = client.do(context.Background(), http.MethodGet, "/api/nothing", nil, nil)
	require.Error(t, err)

	var envelope *gferrors.ErrorEnvelope
	require.True(t, stderrors.As(err, &envelope))
	assert.Equal(t, "NOT_FOUND", envelope.Code)
	assert.NotEmpty(t, envelope.CorrelationID)
}

func TestClientReportsNonEnvelopeErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	err := newAPIClient(ts.URL+"/", 0).do(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestFetchGetRepeatsThroughCache(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"price":42}`))
	}))
	t.Cleanup(upstream.Close)
	useTestConfig(t, "")

	fetchParams = []string{"symbol=BTC"}
	fetchRepeat = 3
	t.Cleanup(func() {
		fetchParams = nil
		fetchRepeat = 1
	})

	var buf bytes.Buffer
	fetchGetCmd.SetOut(&buf)
	fetchGetCmd.SetContext(context.Background())
	t.Cleanup(func() { fetchGetCmd.SetOut(nil) })
	require.NoError(t, fetchGetCmd.Flags().Set("output-format", "json"))
	t.Cleanup(func() { _ = fetchGetCmd.Flags().Set("output-format", "table") })

	require.NoError(t, fetchGetCmd.RunE(fetchGetCmd, []string{upstream.URL}))
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, strings.Count(buf.String(), `"price": 42`))
	assert.Contains(t, buf.String(), `"cacheHits": 2`)
}

func TestFetchPostRejectsInvalidJSON(t *testing.T) {
	useTestConfig(t, "")
	fetchData = "{not json"
	t.Cleanup(func() { fetchData = "" })

	fetchPostCmd.SetContext(context.Background())
	err := fetchPostCmd.RunE(fetchPostCmd, []string{"http://127.0.0.1:1"})
	require.Error(t, err)

	var envelope *gferrors.ErrorEnvelope
	require.True(t, stderrors.As(err, &envelope))
	assert.Equal(t, "INVALID_INPUT", envelope.Code)
}
