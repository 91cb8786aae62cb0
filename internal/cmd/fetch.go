package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/fetchguard/fetchguard/internal/errors"
	"github.com/fetchguard/fetchguard/internal/output"
	"github.com/fetchguard/fetchguard/internal/supervisor"
)

var (
	fetchParams  []string
	fetchHeaders []string
	fetchData    string
	fetchRepeat  int
	fetchSummary bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Send one-off requests through a local supervisor",
	Long: `Send requests through an in-process supervisor configured from the
supervisor.* settings, so rate limiting, caching, and retries apply exactly
as they do in the server. Use --repeat to watch the cache and limiter work.`,
}

var fetchGetCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Send a GET request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd, http.MethodGet, args[0], nil)
	},
}

var fetchPostCmd = &cobra.Command{
	Use:   "post <url>",
	Short: "Send a POST request with a JSON body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := json.RawMessage("{}")
		if strings.TrimSpace(fetchData) != "" {
			body = json.RawMessage(fetchData)
			if !json.Valid(body) {
				return apperrors.NewInvalidInputError("--data must be valid JSON")
			}
		}
		return runFetch(cmd, http.MethodPost, args[0], body)
	},
}

func runFetch(cmd *cobra.Command, method, rawURL string, body json.RawMessage) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	params, err := parsePairs(fetchParams, "--param")
	if err != nil {
		return err
	}
	headers, err := parsePairs(fetchHeaders, "--header")
	if err != nil {
		return err
	}
	opts := &supervisor.RequestOptions{Params: params, Header: http.Header{}}
	for name, values := range headers {
		for _, value := range values {
			opts.Header.Add(name, value)
		}
	}

	sink, err := resolveSink(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	sup := supervisor.New(appConfig.SupervisorOptions())
	ctx := cmd.Context()

	repeat := max(fetchRepeat, 1)
	for i := 0; i < repeat; i++ {
		var resp *supervisor.Response
		if method == http.MethodPost {
			resp, err = sup.Post(ctx, rawURL, body, opts)
		} else {
			resp, err = sup.Get(ctx, rawURL, opts)
		}
		if err != nil {
			if fetchSummary {
				_ = writeFetchSummary(sink, format, sup)
			}
			return apperrors.WrapOutbound(ctx, err)
		}
		// Repeats of a cached call print the same body; show it once.
		if i == 0 {
			if err := output.WriteResponse(sink.writer, format, resp); err != nil {
				return err
			}
		}
	}

	if fetchSummary {
		return writeFetchSummary(sink, format, sup)
	}
	return nil
}

func writeFetchSummary(sink *outputSink, format output.Format, sup *supervisor.Supervisor) error {
	return output.WriteSummary(sink.writer, format, output.SummaryReport{
		Summary: sup.Summary(),
		Logs:    sup.Logs(),
	})
}

// parsePairs reads repeated key=value flags.
func parsePairs(pairs []string, flag string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%s expects key=value, got %q", flag, pair))
		}
		values.Add(key, value)
	}
	return values, nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.AddCommand(fetchGetCmd)
	fetchCmd.AddCommand(fetchPostCmd)

	for _, c := range []*cobra.Command{fetchGetCmd, fetchPostCmd} {
		addOutputFlags(c, "table|json|markdown")
		c.Flags().StringArrayVar(&fetchParams, "param", nil, "query parameter key=value (repeatable)")
		c.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "request header key=value (repeatable)")
		c.Flags().IntVar(&fetchRepeat, "repeat", 1, "send the same request n times")
		c.Flags().BoolVar(&fetchSummary, "summary", true, "print the supervisor summary afterwards")
	}
	fetchPostCmd.Flags().StringVarP(&fetchData, "data", "d", "", "JSON request body")
}
