package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
	appreport "github.com/bryanwahyu/jbi-analyzer/internal/application/report"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/jbi-analyzer/internal/middleware"
)

// multipart parts above this size spill to temp files
const multipartMemory = 32 << 20

// partOverhead covers the boundary and headers of one multipart part.
const partOverhead = 64 << 10

// uploadBodyLimit leaves room for one file past the count limit, so a batch
// with too many files is rejected by count rather than by body size.
func uploadBodyLimit(l appanalysis.Limits) int64 {
	return int64(l.MaxFiles+1)*(l.MaxFileSize+partOverhead) + 1<<20
}

type Options struct {
	Analysis *appanalysis.Service
	Reports  *appreport.Service
	Logger   *zap.Logger
	Metrics  *middleware.Metrics

	// Checkers back GET /health.
	Checkers map[string]middleware.HealthChecker

	CORSAllowedOrigins []string
	APIKeys            []string

	// UploadLimiter throttles POST /api/upload; nil disables it.
	UploadLimiter *middleware.RateLimiter
}

type Router struct {
	analysis *appanalysis.Service
	reports  *appreport.Service
	logger   *zap.Logger
	metrics  *middleware.Metrics
}

func NewRouter(opts Options) http.Handler {
	r := &Router{
		analysis: opts.Analysis,
		reports:  opts.Reports,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = middleware.NewMetrics()
	}

	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.AccessLog(r.logger))
	mux.Use(chimw.Recoverer)
	mux.Use(r.metrics.Middleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-Id"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/healthz/live", middleware.LivenessHandler)
	mux.Get("/healthz/ready", middleware.ReadinessHandler)
	mux.Get("/metrics", r.metrics.Handler)

	mux.Route("/api", func(rt chi.Router) {
		rt.Use(middleware.APIKeyAuth(opts.APIKeys))

		upload := r.wrap(r.handleUpload)
		if opts.UploadLimiter != nil {
			rt.With(opts.UploadLimiter.Middleware).Post("/upload", upload)
		} else {
			rt.Post("/upload", upload)
		}
		rt.Get("/status", r.wrap(r.handleStatus))
		rt.Get("/report", r.wrap(r.handleReport))
		rt.Get("/report/export", r.wrap(r.handleExport))
		rt.Get("/debug/s3", r.wrap(r.handleDebug))
		rt.Get("/sessions", r.wrap(r.handleSessions))
		rt.Get("/sessions/{sessionId}", r.wrap(r.handleSession))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, body := errorBody(err)
			if status >= http.StatusInternalServerError {
				r.logger.Error("request failed",
					zap.String("path", req.URL.Path),
					zap.String("request_id", chimw.GetReqID(req.Context())),
					zap.Error(err))
			}
			writeJSON(w, status, body)
		}
	}
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalid:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds {error, details?, ...fields}. Errors without a kind never leak their text.
func errorBody(err error) (int, map[string]any) {
	e, ok := errs.As(err)
	if !ok {
		return http.StatusInternalServerError, map[string]any{"error": "Internal server error"}
	}
	body := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["error"] = e.Message
	if e.Details != "" {
		body["details"] = e.Details
	}
	return statusFor(e.Kind), body
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /api/upload (multipart, field "files")
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) (err error) {
	defer func() {
		if err != nil {
			r.metrics.Upload(0, err)
		}
	}()

	limits := r.analysis.Limits
	if limits.MaxFiles > 0 && limits.MaxFileSize > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, uploadBodyLimit(limits))
	}
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			return errs.Invalid("Request body too large").Wrap(err)
		}
		return errs.Invalid("Invalid multipart request").Wrap(err)
	}
	defer req.MultipartForm.RemoveAll()

	headers := req.MultipartForm.File["files"]
	files := make([]appanalysis.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return errs.Internal("Failed to read uploaded file %s", fh.Filename).Wrap(err)
		}
		defer f.Close()
		files = append(files, appanalysis.UploadFile{
			Name:        middleware.SanitizeFilename(fh.Filename),
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	res, err := r.analysis.Upload(req.Context(), appanalysis.UploadCommand{Files: files})
	if err != nil {
		return err
	}
	r.metrics.Upload(len(res.Files), nil)
	return writeJSON(w, http.StatusOK, res)
}

// GET /api/status?sessionId=|executionArn=
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	q := appanalysis.StatusQuery{
		SessionID:    req.URL.Query().Get("sessionId"),
		ExecutionARN: req.URL.Query().Get("executionArn"),
	}
	if q.ExecutionARN != "" {
		if err := middleware.ValidateExecutionARN(q.ExecutionARN); err != nil {
			return errs.Invalid("Invalid execution ARN provided").Wrap(err)
		}
	} else if q.SessionID != "" {
		if err := middleware.ValidateSessionID(q.SessionID); err != nil {
			return errs.Invalid("Invalid sessionId").Wrap(err)
		}
	}

	res, err := r.analysis.Status(req.Context(), q)
	if err != nil {
		return err
	}
	r.metrics.StatusCheck(res.IsComplete || res.HasError)
	return writeJSON(w, http.StatusOK, res)
}

func (r *Router) reportQuery(req *http.Request) (appreport.Query, error) {
	q := appreport.Query{
		SessionID: req.URL.Query().Get("sessionId"),
		ReportKey: req.URL.Query().Get("reportKey"),
	}
	if q.SessionID != "" {
		if err := middleware.ValidateSessionID(q.SessionID); err != nil {
			return q, errs.Invalid("Invalid sessionId").Wrap(err)
		}
	}
	if q.ReportKey != "" {
		if err := middleware.ValidateObjectKey(q.ReportKey); err != nil {
			return q, errs.Invalid("Invalid reportKey").Wrap(err)
		}
	}
	return q, nil
}

// GET /api/report?sessionId=|reportKey=
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	q, err := r.reportQuery(req)
	if err != nil {
		return err
	}
	res, err := r.reports.Fetch(req.Context(), q)
	r.metrics.Report(err)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /api/report/export?sessionId=|reportKey=&format=csv|pdf|markdown[&at=RFC3339]
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) error {
	q, err := r.reportQuery(req)
	if err != nil {
		return err
	}
	format := req.URL.Query().Get("format")
	if format == "" {
		format = appreport.FormatCSV
	}
	var at time.Time
	if v := req.URL.Query().Get("at"); v != "" {
		if at, err = time.Parse(time.RFC3339, v); err != nil {
			return errs.Invalid("Invalid at timestamp, expected RFC3339").Wrap(err)
		}
	}

	// render dulu ke buffer supaya error tetap bisa jadi JSON
	var buf bytes.Buffer
	out, err := r.reports.Export(req.Context(), q, format, at, &buf)
	if err != nil {
		return err
	}
	r.metrics.Export()

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, err = buf.WriteTo(w)
	return err
}

// GET /api/debug/s3?sessionId=[&prefix=]
func (r *Router) handleDebug(w http.ResponseWriter, req *http.Request) error {
	sid := req.URL.Query().Get("sessionId")
	prefix := req.URL.Query().Get("prefix")
	if sid != "" {
		if err := middleware.ValidateSessionID(sid); err != nil {
			return errs.Invalid("Invalid sessionId").Wrap(err)
		}
	}
	if prefix != "" {
		if err := middleware.ValidateObjectKey(prefix); err != nil {
			return errs.Invalid("Invalid prefix").Wrap(err)
		}
	}

	res, err := r.reports.Debug(req.Context(), sid, prefix)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /api/sessions?limit=20
func (r *Router) handleSessions(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.analysis.ListSessions(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// GET /api/sessions/{sessionId}
func (r *Router) handleSession(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "sessionId")
	if err := middleware.ValidateSessionID(id); err != nil {
		return errs.Invalid("Invalid sessionId").Wrap(err)
	}

	s, err := r.analysis.GetSession(req.Context(), domain.SessionID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, s)
}
