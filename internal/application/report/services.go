package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/jbi-analyzer/internal/application"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
	"github.com/bryanwahyu/jbi-analyzer/internal/export"
)

const (
	listLimit  = 10
	debugLimit = 100
)

// Service implements use-cases untuk report: cari, ambil, export, debug listing.
type Service struct {
	Store  analysis.ObjectStore
	Clock  application.Clock
	Logger *zap.Logger
}

type Query struct {
	SessionID string
	ReportKey string
}

type FetchResult struct {
	Success        bool            `json:"success"`
	Report         json.RawMessage `json:"report"`
	ReportLocation string          `json:"reportLocation"`
	LastModified   string          `json:"lastModified,omitempty"`
	ContentLength  int64           `json:"contentLength"`

	key string
	raw map[string]any
}

// FallbackKeys lists, in probe order, where older workflow versions wrote the report.
func FallbackKeys(sessionID string) []string {
	return []string{
		fmt.Sprintf("reports/%s/final_jbi_report.json", sessionID),
		fmt.Sprintf("%s/analysis/jbi_bias_assessment_report.json", sessionID),
		fmt.Sprintf("%s/analysis/final_jbi_report.json", sessionID),
		fmt.Sprintf("%s/jbi_bias_assessment_report.json", sessionID),
	}
}

// Locate resolves the report key of a session: the newest matching object under
// reports/<sessionId>/, else the first fallback key that exists.
func (s *Service) Locate(ctx context.Context, sessionID string) (string, error) {
	fallbacks := FallbackKeys(sessionID)

	objects, err := s.Store.List(ctx, fmt.Sprintf("reports/%s/", sessionID), listLimit)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log().Info("list reports failed, using default location", zap.String("session_id", sessionID), zap.Error(err))
		return fallbacks[0], nil
	}

	var matches []analysis.ObjectInfo
	for _, o := range objects {
		if isReportKey(o.Key) {
			matches = append(matches, o)
		}
	}
	if len(matches) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].LastModified.After(matches[j].LastModified)
		})
		return matches[0].Key, nil
	}

	for _, key := range fallbacks {
		if _, err := s.Store.Stat(ctx, key); err == nil {
			return key, nil
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", errs.NotFound("Report not found").
		With("sessionId", sessionID).
		With("attemptedKeys", fallbacks)
}

func isReportKey(key string) bool {
	return strings.HasSuffix(key, ".json") &&
		(strings.Contains(key, "final_jbi_report") || strings.Contains(key, "jbi_bias_assessment"))
}

// Fetch reads and checks a report; ReportKey wins over SessionID when both are set.
func (s *Service) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	if q.SessionID == "" && q.ReportKey == "" {
		return nil, errs.Invalid("Either sessionId or reportKey is required")
	}

	key := q.ReportKey
	if key == "" {
		var err error
		if key, err = s.Locate(ctx, q.SessionID); err != nil {
			return nil, err
		}
	}

	bucket := s.Store.Bucket()
	obj, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, fetchFailed(err, bucket, key, q.SessionID)
	}
	if len(obj.Body) == 0 {
		return nil, errs.NotFound("Report data is empty").With("attemptedKey", key)
	}

	raw, err := domain.Decode(obj.Body)
	if errors.Is(err, domain.ErrNotObject) {
		return nil, errs.Invalid("Invalid report format - not a JBI bias assessment report").Wrap(err).With("attemptedKey", key)
	}
	if err != nil {
		return nil, errs.Internal("Failed to fetch report").Wrap(err).With("attemptedKey", key)
	}
	if !domain.IsJBIReport(raw) {
		return nil, errs.Invalid("Invalid report format - not a JBI bias assessment report").With("attemptedKey", key)
	}

	res := &FetchResult{
		Success:        true,
		Report:         json.RawMessage(obj.Body),
		ReportLocation: fmt.Sprintf("s3://%s/%s", bucket, key),
		ContentLength:  obj.Info.Size,
		key:            key,
		raw:            raw,
	}
	if !obj.Info.LastModified.IsZero() {
		res.LastModified = application.ISOMillis(obj.Info.LastModified)
	}
	return res, nil
}

func fetchFailed(err error, bucket, key, sessionID string) error {
	if e, ok := errs.As(err); ok {
		switch e.Kind {
		case errs.KindNotFound:
			return errs.NotFound("Report not found at the specified location").
				Wrap(err).
				With("sessionId", sessionID).
				With("attemptedKey", key).
				WithDetails(fmt.Sprintf("Report not found at s3://%s/%s", bucket, key))
		case errs.KindForbidden:
			return errs.Forbidden("Access denied to the report").Wrap(err)
		}
	}
	return errs.Internal("Failed to fetch report from S3").
		Wrap(err).
		With("sessionId", sessionID).
		With("attemptedKey", key)
}

// Load fetches a report and normalizes it; now fills a missing generatedAt.
func (s *Service) Load(ctx context.Context, q Query, now time.Time) (*domain.Report, *FetchResult, error) {
	res, err := s.Fetch(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	r, err := domain.FromRaw(res.raw, now)
	if err != nil {
		return nil, nil, errs.Invalid("Invalid report format - not a JBI bias assessment report").Wrap(err)
	}
	return r, res, nil
}

// Export formats.
const (
	FormatCSV      = "csv"
	FormatPDF      = "pdf"
	FormatMarkdown = "markdown"
)

type Rendering struct {
	Filename    string
	ContentType string
}

// Export writes the normalized report in format to w. at stamps the rendering and
// stands in for a missing generatedAt; zero means now.
func (s *Service) Export(ctx context.Context, q Query, format string, at time.Time, w io.Writer) (Rendering, error) {
	var out Rendering
	switch format {
	case FormatCSV, FormatPDF, FormatMarkdown:
	default:
		return out, errs.Invalid("Unsupported export format %q", format).With("formats", []string{FormatCSV, FormatPDF, FormatMarkdown})
	}

	if at.IsZero() {
		at = s.Clock.Now()
	}
	r, _, err := s.Load(ctx, q, at)
	if err != nil {
		return out, err
	}

	switch format {
	case FormatCSV:
		out = Rendering{Filename: export.CSVFilename(r.Metadata.SessionID), ContentType: "text/csv; charset=utf-8"}
		err = export.WriteCSV(w, r)
	case FormatPDF:
		out = Rendering{Filename: export.PDFFilename(at), ContentType: "application/pdf"}
		err = export.WritePDF(w, r, at)
	case FormatMarkdown:
		out = Rendering{Filename: export.MarkdownFilename(r.Metadata.SessionID), ContentType: "text/markdown; charset=utf-8"}
		err = export.WriteMarkdown(w, r)
	}
	if err != nil {
		return out, errs.Internal("Failed to export report").Wrap(err)
	}
	return out, nil
}

//
// ==== DEBUG ====
//

type DebugObject struct {
	Key          string `json:"key"`
	LastModified string `json:"lastModified,omitempty"`
	Size         int64  `json:"size"`
	IsReport     *bool  `json:"isReport,omitempty"`
}

type DebugResult struct {
	Success      bool          `json:"success"`
	SessionID    string        `json:"sessionId"`
	Bucket       string        `json:"bucket"`
	Prefix       string        `json:"prefix"`
	TotalObjects int           `json:"totalObjects"`
	ReportFiles  []DebugObject `json:"reportFiles"`
	AllObjects   []DebugObject `json:"allObjects"`
	SearchPrefix string        `json:"searchPrefix"`
}

// Debug lists up to 100 objects under prefix (default: the session id) and flags report-like keys.
func (s *Service) Debug(ctx context.Context, sessionID, prefix string) (*DebugResult, error) {
	if sessionID == "" {
		return nil, errs.Invalid("sessionId is required")
	}
	if prefix == "" {
		prefix = sessionID
	}

	objects, err := s.Store.List(ctx, prefix, debugLimit)
	if err != nil {
		if e, ok := errs.As(err); ok && e.Kind == errs.KindForbidden {
			return nil, err
		}
		return nil, errs.Internal("Failed to list S3 objects").Wrap(err)
	}

	res := &DebugResult{
		Success:      true,
		SessionID:    sessionID,
		Bucket:       s.Store.Bucket(),
		Prefix:       prefix,
		TotalObjects: len(objects),
		ReportFiles:  []DebugObject{},
		AllObjects:   make([]DebugObject, 0, len(objects)),
		SearchPrefix: prefix,
	}
	for _, o := range objects {
		d := DebugObject{Key: o.Key, Size: o.Size}
		if !o.LastModified.IsZero() {
			d.LastModified = application.ISOMillis(o.LastModified)
		}
		report := looksLikeReport(o.Key)
		if report {
			res.ReportFiles = append(res.ReportFiles, d)
		}
		d.IsReport = &report
		res.AllObjects = append(res.AllObjects, d)
	}
	return res, nil
}

func looksLikeReport(key string) bool {
	return strings.HasSuffix(key, ".json") &&
		(strings.Contains(key, "jbi") || strings.Contains(key, "report") || strings.Contains(key, "analysis"))
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
