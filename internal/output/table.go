package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func render(t table.Writer, format Format) string {
	if format == FormatMarkdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

// SummaryTable renders the supervisor counters.
func SummaryTable(summary supervisor.Summary, format Format) string {
	t := newTable()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Requests issued", summary.RequestsIssued},
		{"Succeeded", summary.Succeeded},
		{"Failed", summary.Failed},
		{"Rate limited", summary.RateLimited},
		{"Cache hits", summary.CacheHits},
		{"Cache entries", summary.CacheEntries},
		{"Cache enabled", summary.CacheEnabled},
		{"Rate per second", summary.RatePerSecond},
		{"Window start", formatMillis(summary.CurrentWindowStart)},
	})
	return render(t, format)
}

// LogTable renders the audit log, oldest first.
func LogTable(logs []supervisor.LogItem, format Format) string {
	t := newTable()
	t.AppendHeader(table.Row{"Time", "Method", "URL", "Attempt", "Status", "Error"})
	for _, item := range logs {
		t.AppendRow(table.Row{
			formatMillis(item.Timestamp),
			item.Method,
			item.URL,
			item.Attempt,
			statusLabel(item.Status),
			item.Error,
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d entries", len(logs)), "", "", ""})
	return render(t, format)
}

// EventTable renders one batch of inbound request events.
func EventTable(batch reqstream.Batch, format Format) string {
	t := newTable()
	t.SetTitle("Batch at " + formatMillis(batch.TS))
	t.AppendHeader(table.Row{"Time", "Method", "URL", "User-Agent", "Request ID"})
	for _, event := range batch.Data {
		t.AppendRow(table.Row{
			formatMillis(event.Timestamp),
			event.Method,
			event.URL,
			event.UserAgent,
			event.RequestID,
		})
	}
	return render(t, format)
}

// StreamConfigTable renders the request stream settings.
func StreamConfigTable(cfg reqstream.Config, format Format) string {
	t := newTable()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"Interval (ms)", cfg.IntervalMs},
		{"Batch size", cfg.BatchSize},
		{"Max buffer", cfg.MaxBuffer},
	})
	return render(t, format)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

func statusLabel(status int) string {
	if status == 0 {
		return "-"
	}
	return strconv.Itoa(status)
}
