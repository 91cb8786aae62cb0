// Package output renders supervisor summaries, audit logs, fetch responses,
// and request-stream batches for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// SummaryReport is what `supervisor summary` prints.
type SummaryReport struct {
	Summary supervisor.Summary   `json:"data"`
	Logs    []supervisor.LogItem `json:"logs"`
}

// WriteSummary renders a supervisor summary and its audit log.
func WriteSummary(w io.Writer, format Format, report SummaryReport) error {
	if format == FormatJSON {
		return writeJSON(w, report)
	}
	_, err := fmt.Fprintln(w, SummaryTable(report.Summary, format))
	if err != nil || len(report.Logs) == 0 {
		return err
	}
	_, err = fmt.Fprintln(w, LogTable(report.Logs, format))
	return err
}

// WriteResponse renders one fetch result. Bodies that are JSON are
// pretty-printed; anything else is written verbatim.
func WriteResponse(w io.Writer, format Format, resp *supervisor.Response) error {
	if resp == nil {
		return nil
	}
	if format == FormatJSON {
		return writeJSON(w, responseView(resp))
	}
	_, err := fmt.Fprintf(w, "HTTP %d\n%s\n", resp.Status, prettyBody(resp.Data))
	return err
}

// WriteBatch renders one stream batch. JSON output is one line per batch so
// the stream can be piped into line-oriented tools.
func WriteBatch(w io.Writer, format Format, batch reqstream.Batch) error {
	if format == FormatJSON {
		data, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if len(batch.Data) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, EventTable(batch, format))
	return err
}

// WriteStreamConfig renders the request stream settings.
func WriteStreamConfig(w io.Writer, format Format, cfg reqstream.Config) error {
	if format == FormatJSON {
		return writeJSON(w, cfg)
	}
	_, err := fmt.Fprintln(w, StreamConfigTable(cfg, format))
	return err
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

type responseJSON struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Text    string            `json:"text,omitempty"`
}

func responseView(resp *supervisor.Response) responseJSON {
	view := responseJSON{Status: resp.Status}
	if len(resp.Header) > 0 {
		view.Headers = make(map[string]string, len(resp.Header))
		for name := range resp.Header {
			view.Headers[name] = resp.Header.Get(name)
		}
	}
	if json.Valid(resp.Data) {
		view.Data = json.RawMessage(resp.Data)
	} else {
		view.Text = string(resp.Data)
	}
	return view
}

func prettyBody(data []byte) string {
	if !json.Valid(data) {
		return string(data)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(pretty)
}
