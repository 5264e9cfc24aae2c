// Command jbictl uploads studies to the analyzer API, follows the analysis and
// renders or exports the finished bias assessment report.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bryanwahyu/jbi-analyzer/internal/client"
)

var (
	verbose   bool
	serverURL string
	apiKey    string
	timeout   time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jbictl",
	Short: "Command line client for the JBI bias assessment analyzer",
	Long: `jbictl talks to the analyzer HTTP API.

Upload study PDFs, follow the analysis while it runs, then view the JBI bias
assessment report in the terminal or export it as CSV, PDF or Markdown.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file.pdf...]",
	Short: "Upload study PDFs and start an analysis",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUpload,
}

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the phase and progress of an analysis",
	Long: `Shows the current phase of an analysis. With --watch the command keeps polling,
quickly while the analysis is young and backing off towards the end, until the
analysis completes or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "View or export a bias assessment report",
}

var reportViewCmd = &cobra.Command{
	Use:   "view [session-id]",
	Short: "Render the report in the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReportView,
}

var reportExportCmd = &cobra.Command{
	Use:   "export [session-id]",
	Short: "Download the report as csv, pdf or markdown",
	Long: `Downloads a rendering of the report. Pass --at to pin the PDF timestamp;
two exports with the same --at are byte-for-byte identical.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReportExport,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent analysis sessions",
	RunE:  runSessions,
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Troubleshooting helpers",
}

var debugS3Cmd = &cobra.Command{
	Use:   "s3 [session-id]",
	Short: "List the stored objects of a session and flag report candidates",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebugS3,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("JBI_SERVER", "http://localhost:8080"), "Analyzer API base URL (or set JBI_SERVER)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("JBI_API_KEY"), "API key (or set JBI_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Hour, "Overall operation timeout")

	uploadCmd.Flags().BoolVar(&watch, "watch", false, "Follow the analysis after upload")

	statusCmd.Flags().BoolVar(&watch, "watch", false, "Poll until the analysis finishes")
	statusCmd.Flags().StringVar(&executionARN, "arn", "", "Execution ARN, when it cannot be derived from the session id")

	for _, c := range []*cobra.Command{reportViewCmd, reportExportCmd} {
		c.Flags().StringVar(&reportKey, "key", "", "Object key of the report, instead of discovering it")
	}
	reportViewCmd.Flags().StringVar(&style, "style", "auto", "Rendering style: auto, dark, light, notty, raw")
	reportViewCmd.Flags().IntVar(&wordWrap, "width", 100, "Word wrap width")
	reportExportCmd.Flags().StringVarP(&format, "format", "f", "csv", "Export format: csv, pdf, markdown")
	reportExportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: server-provided filename, - for stdout)")
	reportExportCmd.Flags().StringVar(&exportAt, "at", "", "RFC3339 timestamp stamped on the PDF")

	sessionsCmd.Flags().IntVar(&limit, "limit", 20, "Number of sessions")

	debugS3Cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix (default: the session id)")

	reportCmd.AddCommand(reportViewCmd)
	reportCmd.AddCommand(reportExportCmd)
	debugCmd.AddCommand(debugS3Cmd)

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(debugCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithAPIKey(apiKey))
}

// commandContext bounds cmd's context by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
