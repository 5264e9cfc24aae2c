package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/jbi-analyzer/internal/application"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

// MaxExecutionInput is the Step Functions input limit in bytes.
const MaxExecutionInput = 256000

const pdfContentType = "application/pdf"

// Limits bounds an upload batch.
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

// Service implements use-cases untuk upload dan status analisis.
// Safe for concurrent use.
type Service struct {
	Repo     domain.Repository
	Store    domain.ObjectStore
	Workflow domain.Workflow
	Clock    application.Clock
	Logger   *zap.Logger
	Limits   Limits

	// NewSuffix returns the random part of a session id; nil uses a uuid.
	NewSuffix func() string
}

//
// ==== UPLOAD ====
//

// UploadFile is one multipart part.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type UploadCommand struct {
	Files []UploadFile
}

type S3Locations struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	Summary string `json:"summary"`
}

type UploadResult struct {
	Success        bool                  `json:"success"`
	SessionID      domain.SessionID      `json:"sessionId"`
	ExecutionARN   string                `json:"executionArn"`
	Files          []domain.UploadedFile `json:"files"`
	Message        string                `json:"message"`
	S3Locations    S3Locations           `json:"s3Locations"`
	InputSizeBytes int                   `json:"inputSizeBytes"`
}

// Upload validates the batch, stores every file under the new session prefix and
// starts the workflow execution named after the session.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*UploadResult, error) {
	if err := s.validate(cmd.Files); err != nil {
		return nil, err
	}
	bucket := s.Store.Bucket()
	if bucket == "" {
		return nil, errs.Internal("S3 bucket not configured. Please set S3_BUCKET_NAME environment variable.")
	}

	now := s.Clock.Now()
	sid := s.newSessionID(now.UnixMilli())
	log := s.log().With(zap.String("session_id", string(sid)))
	log.Info("upload started", zap.Int("files", len(cmd.Files)))

	var (
		uploaded     []domain.UploadedFile
		uploadErrors []string
	)
	for i, f := range cmd.Files {
		key := fmt.Sprintf("%s/input/document_%d_%s", sid, i, f.Name)
		meta := map[string]string{
			"sessionId":        string(sid),
			"originalFilename": f.Name,
			"fileIndex":        strconv.Itoa(i),
			"uploadTimestamp":  application.ISOMillis(s.Clock.Now()),
		}
		if err := s.Store.Put(ctx, key, f.Body, f.Size, f.ContentType, meta); err != nil {
			log.Error("upload failed", zap.String("key", key), zap.Error(err))
			return nil, uploadFailed(f.Name, err)
		}
		if _, err := s.Store.Stat(ctx, key); err != nil {
			log.Warn("upload verification failed", zap.String("key", key), zap.Error(err))
			uploadErrors = append(uploadErrors, fmt.Sprintf("Failed to verify upload of %s", f.Name))
			continue
		}
		uploaded = append(uploaded, domain.UploadedFile{Name: f.Name, Size: f.Size, S3Key: key, Index: i})
	}

	if len(uploadErrors) > 0 {
		return nil, errs.Internal("Some files failed to upload").
			With("uploadErrors", uploadErrors).
			With("sessionId", string(sid))
	}
	if len(uploaded) == 0 {
		return nil, errs.Internal("No files were successfully uploaded to S3").With("sessionId", string(sid))
	}

	input, err := json.Marshal(domain.ExecutionInput{
		SessionID: sid,
		S3Bucket:  bucket,
		Files:     uploaded,
		Timestamp: application.ISOMillis(s.Clock.Now()),
	})
	if err != nil {
		return nil, errs.Internal("Failed to start PDF processing").Wrap(err)
	}
	if len(input) > MaxExecutionInput {
		return nil, errs.Invalid("Input payload too large for Step Functions. Please reduce number of files or filename length.").
			With("inputSizeBytes", len(input))
	}

	exec, err := s.Workflow.Start(ctx, string(sid), input)
	if err != nil {
		log.Error("start execution failed", zap.Error(err))
		return nil, err
	}
	log.Info("execution started", zap.String("execution_arn", exec.ARN), zap.Int("input_bytes", len(input)))

	session := &domain.Session{
		ID:           sid,
		ExecutionARN: exec.ARN,
		Bucket:       bucket,
		Files:        uploaded,
		Status:       domain.StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Save(ctx, session); err != nil {
		// the execution is already running; history is best effort
		log.Warn("save session failed", zap.Error(err))
	}

	return &UploadResult{
		Success:      true,
		SessionID:    sid,
		ExecutionARN: exec.ARN,
		Files:        uploaded,
		Message:      "Files uploaded to S3 and PDF processing started successfully",
		S3Locations: S3Locations{
			Input:   fmt.Sprintf("s3://%s/%s/input/", bucket, sid),
			Output:  fmt.Sprintf("s3://%s/%s/output/", bucket, sid),
			Summary: fmt.Sprintf("s3://%s/%s/job_summary.json", bucket, sid),
		},
		InputSizeBytes: len(input),
	}, nil
}

// validate checks the whole batch before anything is written.
func (s *Service) validate(files []UploadFile) error {
	if len(files) == 0 {
		return errs.Invalid("No files provided")
	}
	if s.Limits.MaxFiles > 0 && len(files) > s.Limits.MaxFiles {
		return errs.Invalid("Maximum %d files allowed", s.Limits.MaxFiles)
	}
	for _, f := range files {
		if f.ContentType != pdfContentType {
			return errs.Invalid("File %s is not a PDF", f.Name)
		}
		if s.Limits.MaxFileSize > 0 && f.Size > s.Limits.MaxFileSize {
			mb := int64(math.Round(float64(s.Limits.MaxFileSize) / (1024 * 1024)))
			return errs.Invalid("File %s is too large. Maximum size is %dMB", f.Name, mb)
		}
	}
	return nil
}

func uploadFailed(name string, cause error) error {
	kind := errs.KindInternal
	code := "UnknownError"
	if e, ok := errs.As(cause); ok {
		kind = e.Kind
		if c, ok := e.Fields["code"].(string); ok {
			code = c
		}
	}
	if kind == errs.KindNotFound {
		kind = errs.KindInternal
	}
	e := &errs.Error{Kind: kind, Message: fmt.Sprintf("S3 upload failed for %s", name)}
	return e.With("code", code).Wrap(cause)
}

func (s *Service) newSessionID(millis int64) domain.SessionID {
	var suffix string
	if s.NewSuffix != nil {
		suffix = s.NewSuffix()
	} else {
		suffix = strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	}
	return domain.SessionID(fmt.Sprintf("pdf-job-%d-%s", millis, suffix))
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

//
// ==== STATUS ====
//

// Result object keys written by the workflow under <sessionId>/analysis/.
const (
	finalReportSuffix    = "analysis/jbi_bias_assessment_report.json"
	classificationSuffix = "analysis/study_classifications.json"
)

type StatusQuery struct {
	SessionID    string
	ExecutionARN string
}

type StatusInput struct {
	FileCount int               `json:"fileCount"`
	Files     []json.RawMessage `json:"files"`
}

type AdditionalResults struct {
	FinalReport            json.RawMessage `json:"finalReport,omitempty"`
	ReportLocation         string          `json:"reportLocation,omitempty"`
	Classifications        json.RawMessage `json:"classifications,omitempty"`
	ClassificationLocation string          `json:"classificationLocation,omitempty"`
}

type StatusResult struct {
	SessionID         string             `json:"sessionId"`
	ExecutionARN      string             `json:"executionArn"`
	Status            string             `json:"status"`
	CurrentPhase      string             `json:"currentPhase"`
	PhaseProgress     int                `json:"phaseProgress"`
	PhaseDescription  string             `json:"phaseDescription"`
	IsComplete        bool               `json:"isComplete"`
	HasError          bool               `json:"hasError"`
	ErrorMessage      string             `json:"errorMessage"`
	StartTime         string             `json:"startTime,omitempty"`
	EndTime           string             `json:"endTime,omitempty"`
	Input             StatusInput        `json:"input"`
	Output            json.RawMessage    `json:"output"`
	AdditionalResults *AdditionalResults `json:"additionalResults"`
	LastUpdated       string             `json:"lastUpdated"`
}

// Status describes the execution, derives its phase and, once complete, attaches
// whichever result objects already exist.
func (s *Service) Status(ctx context.Context, q StatusQuery) (*StatusResult, error) {
	if q.SessionID == "" && q.ExecutionARN == "" {
		return nil, errs.Invalid("Either sessionId or executionArn is required")
	}

	arn := q.ExecutionARN
	if arn == "" {
		var err error
		if arn, err = s.Workflow.ExecutionARN(q.SessionID); err != nil {
			return nil, err
		}
	}

	exec, err := s.Workflow.Describe(ctx, arn)
	if err != nil {
		s.log().Warn("describe execution failed", zap.String("execution_arn", arn), zap.Error(err))
		return nil, statusFailed(err)
	}

	now := s.Clock.Now()
	progress := domain.DerivePhase(exec, now)

	var input struct {
		SessionID string            `json:"sessionId"`
		Files     []json.RawMessage `json:"files"`
	}
	if len(exec.Input) > 0 {
		_ = json.Unmarshal(exec.Input, &input)
	}
	if input.Files == nil {
		input.Files = []json.RawMessage{}
	}

	sid := q.SessionID
	if sid == "" {
		sid = input.SessionID
	}

	res := &StatusResult{
		SessionID:        sid,
		ExecutionARN:     arn,
		Status:           string(exec.Status),
		CurrentPhase:     progress.Phase,
		PhaseProgress:    progress.Percent,
		PhaseDescription: progress.Description,
		IsComplete:       progress.IsComplete,
		HasError:         progress.HasError,
		ErrorMessage:     progress.ErrorMessage,
		Input:            StatusInput{FileCount: len(input.Files), Files: input.Files},
		Output:           rawJSON(exec.Output),
		LastUpdated:      application.ISOMillis(now),
	}
	if !exec.StartDate.IsZero() {
		res.StartTime = application.ISOMillis(exec.StartDate)
	}
	if !exec.StopDate.IsZero() {
		res.EndTime = application.ISOMillis(exec.StopDate)
	}

	if progress.IsComplete && sid != "" {
		res.AdditionalResults, err = s.fetchResults(ctx, sid)
		if err != nil {
			return nil, err
		}
	}

	if sid != "" {
		s.recordStatus(ctx, domain.SessionID(sid), exec.Status, now)
	}
	return res, nil
}

// fetchResults reads the report and classification objects concurrently.
// Missing or unreadable objects are skipped; only cancellation is an error.
func (s *Service) fetchResults(ctx context.Context, sid string) (*AdditionalResults, error) {
	bucket := s.Store.Bucket()
	reportKey := sid + "/" + finalReportSuffix
	classKey := sid + "/" + classificationSuffix

	var report, classes json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report = s.fetchJSON(gctx, reportKey)
		return gctx.Err()
	})
	g.Go(func() error {
		classes = s.fetchJSON(gctx, classKey)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report == nil && classes == nil {
		return nil, nil
	}
	out := &AdditionalResults{}
	if report != nil {
		out.FinalReport = report
		out.ReportLocation = fmt.Sprintf("s3://%s/%s", bucket, reportKey)
	}
	if classes != nil {
		out.Classifications = classes
		out.ClassificationLocation = fmt.Sprintf("s3://%s/%s", bucket, classKey)
	}
	return out, nil
}

func (s *Service) fetchJSON(ctx context.Context, key string) json.RawMessage {
	obj, err := s.Store.Get(ctx, key)
	if err != nil {
		s.log().Debug("result not yet available", zap.String("key", key), zap.Error(err))
		return nil
	}
	if len(obj.Body) == 0 || !json.Valid(obj.Body) {
		s.log().Debug("result is not JSON", zap.String("key", key))
		return nil
	}
	return json.RawMessage(obj.Body)
}

func (s *Service) recordStatus(ctx context.Context, sid domain.SessionID, status domain.ExecutionStatus, now time.Time) {
	if s.Repo == nil {
		return
	}
	err := s.Repo.UpdateStatus(ctx, sid, status, now)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		s.log().Warn("update session status failed", zap.String("session_id", string(sid)), zap.Error(err))
	}
}

// statusFailed adds the error-phase fields clients render next to the message.
func statusFailed(err error) error {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Internal("Failed to check analysis status").Wrap(err)
	}
	return e.With("hasError", true).
		With("currentPhase", domain.PhaseError).
		With("phaseDescription", e.Message)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if !json.Valid(b) {
		quoted, _ := json.Marshal(string(b))
		return quoted
	}
	return json.RawMessage(b)
}

//
// ==== HISTORY ====
//

func (s *Service) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	out, err := s.Repo.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*domain.Session{}
	}
	return out, nil
}

func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.Repo.Get(ctx, id)
}
