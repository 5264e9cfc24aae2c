package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
	appreport "github.com/bryanwahyu/jbi-analyzer/internal/application/report"
	"github.com/bryanwahyu/jbi-analyzer/internal/client"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
	"github.com/bryanwahyu/jbi-analyzer/internal/export"
)

// subcommand flags
var (
	watch        bool
	executionARN string
	reportKey    string
	style        string
	wordWrap     int
	format       string
	outPath      string
	exportAt     string
	limit        int
	prefix       string
)

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	files, closeAll, err := client.OpenFiles(args)
	if err != nil {
		return err
	}
	defer closeAll()

	c := newClient()
	res, err := c.Upload(ctx, files)
	if err != nil {
		return err
	}
	logger.Debug("upload finished", zap.String("session_id", string(res.SessionID)), zap.Int("input_bytes", res.InputSizeBytes))

	fmt.Fprintln(out, res.Message)
	fmt.Fprintf(out, "Session:   %s\n", res.SessionID)
	fmt.Fprintf(out, "Execution: %s\n", res.ExecutionARN)
	fmt.Fprintf(out, "Input:     %s\n", res.S3Locations.Input)
	for _, f := range res.Files {
		fmt.Fprintf(out, "  [%d] %s (%d bytes)\n", f.Index, f.Name, f.Size)
	}

	if !watch {
		return nil
	}
	_, err = follow(cmd, c, string(res.SessionID), res.ExecutionARN)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c := newClient()
	if watch {
		_, err := follow(cmd, c, args[0], executionARN)
		return err
	}

	st, err := c.Status(ctx, args[0], executionARN)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

// follow polls until the analysis finishes and prints one line per update.
func follow(cmd *cobra.Command, c *client.Client, sessionID, arn string) (*appanalysis.StatusResult, error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	tracker := client.NewTracker(c, sessionID, arn)
	tracker.OnUpdate = func(st *appanalysis.StatusResult) {
		info := domain.LookupPhase(st.CurrentPhase)
		fmt.Fprintf(out, "[%s] %-22s %3d%%  %s\n",
			time.Now().Format("15:04:05"), info.Title, st.PhaseProgress, st.PhaseDescription)
	}
	tracker.OnError = func(err error, consecutive int) {
		logger.Warn("status check failed", zap.Int("consecutive", consecutive), zap.Error(err))
	}

	st, err := tracker.Run(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Analysis complete. View it with: jbictl report view %s\n", sessionID)
	return st, nil
}

func printStatus(w io.Writer, st *appanalysis.StatusResult) {
	info := domain.LookupPhase(st.CurrentPhase)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", st.SessionID)
	fmt.Fprintf(tw, "Status:\t%s\n", st.Status)
	fmt.Fprintf(tw, "Phase:\t%s (%d%%)\n", info.Title, st.PhaseProgress)
	fmt.Fprintf(tw, "\t%s\n", st.PhaseDescription)
	if !st.IsComplete && !st.HasError {
		fmt.Fprintf(tw, "Estimated:\t%s\n", info.EstimatedTime)
	}
	if st.HasError {
		fmt.Fprintf(tw, "Error:\t%s\n", st.ErrorMessage)
	}
	fmt.Fprintf(tw, "Files:\t%d\n", st.Input.FileCount)
	if st.StartTime != "" {
		fmt.Fprintf(tw, "Started:\t%s\n", st.StartTime)
	}
	if st.EndTime != "" {
		fmt.Fprintf(tw, "Finished:\t%s\n", st.EndTime)
	}
	if r := st.AdditionalResults; r != nil && r.ReportLocation != "" {
		fmt.Fprintf(tw, "Report:\t%s\n", r.ReportLocation)
	}
	tw.Flush()
}

func reportQuery(args []string) (appreport.Query, error) {
	q := appreport.Query{ReportKey: reportKey}
	if len(args) > 0 {
		q.SessionID = args[0]
	}
	if q.SessionID == "" && q.ReportKey == "" {
		return q, fmt.Errorf("a session id or --key is required")
	}
	return q, nil
}

func runReportView(cmd *cobra.Command, args []string) error {
	q, err := reportQuery(args)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := newClient().Report(ctx, q)
	if err != nil {
		return err
	}
	r, err := report.Extract(res.Report, time.Now())
	if err != nil {
		return fmt.Errorf("report at %s: %w", res.ReportLocation, err)
	}

	var md bytes.Buffer
	if err := export.WriteMarkdown(&md, r); err != nil {
		return err
	}
	if style == "raw" {
		_, err = md.WriteTo(cmd.OutOrStdout())
		return err
	}

	styleOpt := glamour.WithAutoStyle()
	if style != "auto" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(wordWrap))
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	rendered, err := renderer.Render(md.String())
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), rendered)
	return err
}

func runReportExport(cmd *cobra.Command, args []string) error {
	q, err := reportQuery(args)
	if err != nil {
		return err
	}
	var at time.Time
	if exportAt != "" {
		if at, err = time.Parse(time.RFC3339, exportAt); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	var buf bytes.Buffer
	name, err := newClient().Export(ctx, q, format, at, &buf)
	if err != nil {
		return err
	}

	if outPath == "-" {
		_, err = buf.WriteTo(cmd.OutOrStdout())
		return err
	}
	path := outPath
	if path == "" {
		if name == "" {
			name = "jbi-bias-assessment." + format
		}
		path = filepath.Base(name)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", path, buf.Len())
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	list, err := newClient().Sessions(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tFILES\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Status, len(s.Files), s.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runDebugS3(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := newClient().Debug(ctx, args[0], prefix)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bucket: %s  Prefix: %s  Objects: %d\n\n", res.Bucket, res.SearchPrefix, res.TotalObjects)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED\tREPORT")
	for _, o := range res.AllObjects {
		mark := ""
		if o.IsReport != nil && *o.IsReport {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", o.Key, o.Size, o.LastModified, mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.ReportFiles) == 0 {
		fmt.Fprintln(out, "\nNo report files found.")
		return nil
	}
	fmt.Fprintln(out, "\nReport candidates:")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.ReportFiles)
}
