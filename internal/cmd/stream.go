package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fetchguard/fetchguard/internal/output"
	"github.com/fetchguard/fetchguard/internal/reqstream"
	"github.com/fetchguard/fetchguard/internal/server/handlers"
)

var (
	streamTailCount     int
	streamTailSkipEmpty bool

	streamControlInterval  int
	streamControlBatchSize int
	streamControlMaxBuffer int
	streamControlClear     bool
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Follow and tune the live request stream of a running server",
}

var streamTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print request batches as they arrive",
	Long: `Print request batches from the server-sent event stream.

Runs until interrupted, or until --count batches have been printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		sink, err := resolveSink(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		printed := 0
		var writeErr error
		err = clientFromConfig().tail(cmd.Context(), func(batch reqstream.Batch) bool {
			if streamTailSkipEmpty && len(batch.Data) == 0 {
				return true
			}
			if writeErr = output.WriteBatch(sink.writer, format, batch); writeErr != nil {
				return false
			}
			printed++
			return streamTailCount <= 0 || printed < streamTailCount
		})
		if err != nil {
			return err
		}
		return writeErr
	},
}

var streamControlCmd = &cobra.Command{
	Use:   "control",
	Short: "Change stream interval, batch size, or buffer size",
	Long: `Change the stream settings of a running server. Omitted or non-positive
values are left unchanged; --clear empties the buffer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		req := handlers.ControlRequest{Clear: streamControlClear}
		if cmd.Flags().Changed("interval-ms") {
			req.IntervalMs = &streamControlInterval
		}
		if cmd.Flags().Changed("batch-size") {
			req.BatchSize = &streamControlBatchSize
		}
		if cmd.Flags().Changed("max-buffer") {
			req.MaxBuffer = &streamControlMaxBuffer
		}

		var resp handlers.ControlResponse
		if err := clientFromConfig().do(cmd.Context(), http.MethodPost, "/api/stream/control", req, &resp); err != nil {
			return err
		}

		sink, err := resolveSink(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		return output.WriteStreamConfig(sink.writer, format, resp.Config)
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.AddCommand(streamTailCmd)
	streamCmd.AddCommand(streamControlCmd)

	addOutputFlags(streamTailCmd, "table|json")
	streamTailCmd.Flags().IntVarP(&streamTailCount, "count", "n", 0, "stop after n batches (0 = follow)")
	streamTailCmd.Flags().BoolVar(&streamTailSkipEmpty, "skip-empty", true, "do not print empty batches")

	addOutputFlags(streamControlCmd, "table|json")
	streamControlCmd.Flags().IntVar(&streamControlInterval, "interval-ms", reqstream.DefaultIntervalMs, "milliseconds between batches")
	streamControlCmd.Flags().IntVar(&streamControlBatchSize, "batch-size", reqstream.DefaultBatchSize, "events per batch")
	streamControlCmd.Flags().IntVar(&streamControlMaxBuffer, "max-buffer", reqstream.DefaultMaxBuffer, "events retained by the server")
	streamControlCmd.Flags().BoolVar(&streamControlClear, "clear", false, "empty the buffer")
}
