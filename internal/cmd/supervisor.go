package cmd

import (
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/fetchguard/fetchguard/internal/output"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
)

var (
	supervisorConfigRate    int
	supervisorConfigNoCache bool
)

var supervisorCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Inspect and control the supervisor of a running server",
	Long: `Inspect and control the outbound supervisor of a running server.

The server address comes from client.base_url (FETCHGUARD_CLIENT_BASE_URL).`,
}

var supervisorSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show supervisor counters and the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		var resp handlers.SummaryResponse
		if err := clientFromConfig().do(cmd.Context(), http.MethodGet, "/api/fetch/summary", nil, &resp); err != nil {
			return err
		}

		sink, err := resolveSink(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return output.WriteSummary(sink.writer, format, output.SummaryReport{
			Summary: resp.Data,
			Logs:    resp.Logs,
		})
	},
}

var supervisorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the audit log and response cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp handlers.OKResponse
		if err := clientFromConfig().do(cmd.Context(), http.MethodPost, "/api/fetch/reset", nil, &resp); err != nil {
			return err
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), ascii.DrawBox("Supervisor log and cache cleared", 0))
		return err
	},
}

var supervisorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Set the request rate and cache toggle",
	Long: `Set the outbound request rate and cache toggle.

--no-cache drops every cached response; later successes repopulate the cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := !supervisorConfigNoCache
		req := handlers.ConfigRequest{Cache: &cache}
		if cmd.Flags().Changed("rate") {
			rate := handlers.FlexibleRate(supervisorConfigRate)
			req.RatePerSecond = &rate
		}

		var resp handlers.OKResponse
		if err := clientFromConfig().do(cmd.Context(), http.MethodPost, "/api/fetch/config", req, &resp); err != nil {
			return err
		}

		rate := "default"
		if req.RatePerSecond != nil {
			rate = fmt.Sprintf("%d/s", *req.RatePerSecond)
		}
		msg := fmt.Sprintf("Supervisor updated\nrate: %s\ncache cleared: %t", rate, supervisorConfigNoCache)
		_, err := fmt.Fprintln(cmd.OutOrStdout(), ascii.DrawBox(msg, 0))
		return err
	},
}

func init() {
	rootCmd.AddCommand(supervisorCmd)
	supervisorCmd.AddCommand(supervisorSummaryCmd)
	supervisorCmd.AddCommand(supervisorResetCmd)
	supervisorCmd.AddCommand(supervisorConfigCmd)

	addOutputFlags(supervisorSummaryCmd, "table|json|markdown")

	supervisorConfigCmd.Flags().IntVar(&supervisorConfigRate, "rate", 2, "requests per second")
	supervisorConfigCmd.Flags().BoolVar(&supervisorConfigNoCache, "no-cache", false, "clear the response cache")
}
