package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/jbi-analyzer/internal/application"
	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
	appreport "github.com/bryanwahyu/jbi-analyzer/internal/application/report"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/jbi-analyzer/internal/infra/db/memory"
	"github.com/bryanwahyu/jbi-analyzer/internal/middleware"
)

var now = time.Date(2025, 9, 8, 15, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	objects map[string]domain.Object
}

func (m *memStore) Bucket() string { return "test-bucket" }

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, ct string, _ map[string]string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = domain.Object{Info: domain.ObjectInfo{Key: key, Size: int64(len(b)), LastModified: now, ContentType: ct}, Body: b}
	return nil
}

func (m *memStore) Stat(_ context.Context, key string) (domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return domain.ObjectInfo{}, errs.NotFound("object not found")
	}
	return o.Info, nil
}

func (m *memStore) Get(_ context.Context, key string) (*domain.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, errs.NotFound("object not found").With("code", "NoSuchKey")
	}
	return &o, nil
}

func (m *memStore) List(_ context.Context, prefix string, maxKeys int) ([]domain.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) && len(out) < maxKeys {
			out = append(out, o.Info)
		}
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

type stubWorkflow struct {
	exec domain.Execution
}

func (s *stubWorkflow) Start(_ context.Context, name string, _ []byte) (domain.Execution, error) {
	return domain.Execution{ARN: "arn:aws:states:us-east-1:123456789012:execution:jbi:" + name, Status: domain.StatusRunning}, nil
}

func (s *stubWorkflow) Describe(_ context.Context, arn string) (domain.Execution, error) {
	if s.exec.ARN == "" {
		return domain.Execution{}, errs.NotFound("Analysis session not found").With("code", "ExecutionDoesNotExist")
	}
	return s.exec, nil
}

func (s *stubWorkflow) ExecutionARN(name string) (string, error) {
	return "arn:aws:states:us-east-1:123456789012:execution:jbi:" + name, nil
}

type fixture struct {
	handler http.Handler
	store   *memStore
	wf      *stubWorkflow
	metrics *middleware.Metrics
}

func newFixture(t *testing.T, apiKeys ...string) *fixture {
	t.Helper()
	return newLimitedFixture(t, appanalysis.Limits{MaxFiles: 2, MaxFileSize: 1024}, apiKeys...)
}

func newLimitedFixture(t *testing.T, limits appanalysis.Limits, apiKeys ...string) *fixture {
	t.Helper()
	store := &memStore{objects: map[string]domain.Object{}}
	wf := &stubWorkflow{}
	repo := memory.NewSessionRepository()
	clock := application.FixedClock(now)
	metrics := middleware.NewMetrics()

	h := NewRouter(Options{
		Analysis: &appanalysis.Service{
			Repo:      repo,
			Store:     store,
			Workflow:  wf,
			Clock:     clock,
			Limits:    limits,
			NewSuffix: func() string { return "abc123xyz" },
		},
		Reports:  &appreport.Service{Store: store, Clock: clock},
		Metrics:  metrics,
		Checkers: map[string]middleware.HealthChecker{"storage": middleware.PingChecker{Target: store}, "database": middleware.PingChecker{Target: repo}},
		APIKeys:  apiKeys,
	})
	return &fixture{handler: h, store: store, wf: wf, metrics: metrics}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, target, nil))
}

type part struct {
	name, contentType string
	body              []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	rec := f.do(multipartRequest(t, part{"smith-2021.pdf", "application/pdf", []byte("%PDF-1.4 smith")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pdf-job-1757343600000-abc123xyz", body["sessionId"])
	assert.Equal(t, "Files uploaded to S3 and PDF processing started successfully", body["message"])
	assert.Contains(t, f.store.objects, "pdf-job-1757343600000-abc123xyz/input/document_0_smith-2021.pdf")

	sessions := decode(t, f.get("/api/sessions"))
	assert.Len(t, sessions["sessions"], 1)

	session := f.get("/api/sessions/pdf-job-1757343600000-abc123xyz")
	assert.Equal(t, http.StatusOK, session.Code)
	assert.Equal(t, "RUNNING", decode(t, session)["status"])

	snapshot := f.metrics.Snapshot()
	assert.EqualValues(t, 1, snapshot["uploads_total"])
	assert.EqualValues(t, 1, snapshot["files_uploaded"])
}

func TestUploadRejections(t *testing.T) {
	pdf := []byte("%PDF")
	tests := []struct {
		name  string
		parts []part
		want  string
	}{
		{"no files", nil, "No files provided"},
		{"too many", []part{{"a.pdf", "application/pdf", pdf}, {"b.pdf", "application/pdf", pdf}, {"c.pdf", "application/pdf", pdf}}, "Maximum 2 files allowed"},
		{"not a pdf", []part{{"notes.txt", "text/plain", pdf}}, "File notes.txt is not a PDF"},
		{"too large", []part{{"big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 2048)}}, "File big.pdf is too large. Maximum size is 0MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(multipartRequest(t, tt.parts...))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
			assert.Empty(t, f.store.objects)
		})
	}

	t.Run("too many files near the size limit", func(t *testing.T) {
		f := newLimitedFixture(t, appanalysis.Limits{MaxFiles: 2, MaxFileSize: 1 << 20})
		full := append([]byte("%PDF"), bytes.Repeat([]byte("x"), 1<<20-4)...)
		rec := f.do(multipartRequest(t,
			part{"a.pdf", "application/pdf", full},
			part{"b.pdf", "application/pdf", full},
			part{"c.pdf", "application/pdf", full},
		))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Maximum 2 files allowed", decode(t, rec)["error"])
		assert.Empty(t, f.store.objects)
	})

	t.Run("not multipart", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid multipart request", decode(t, rec)["error"])
	})
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/api/status")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get("/api/status?sessionId=../../etc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get("/api/status?sessionId=pdf-job-1-abc")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Analysis session not found", body["error"])
	assert.Equal(t, true, body["hasError"])
	assert.Equal(t, "error", body["currentPhase"])

	f.wf.exec = domain.Execution{
		ARN:       "arn:aws:states:us-east-1:123456789012:execution:jbi:pdf-job-1-abc",
		Status:    domain.StatusRunning,
		StartDate: now.Add(-time.Minute),
		Input:     json.RawMessage(`{"sessionId":"pdf-job-1-abc","files":[{"name":"a.pdf"}]}`),
	}
	rec = f.get("/api/status?executionArn=arn:aws:states:us-east-1:123456789012:execution:jbi:pdf-job-1-abc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "pdf_processing", body["currentPhase"])
	assert.EqualValues(t, 50, body["phaseProgress"])
	assert.Equal(t, "pdf-job-1-abc", body["sessionId"])

	rec = f.get("/api/status?executionArn=not-an-arn")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpoints(t *testing.T) {
	f := newFixture(t)
	data, err := os.ReadFile(filepath.Join("..", "..", "domain", "report", "testdata", "nested.json"))
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), "reports/s1/final_jbi_report.json", bytes.NewReader(data), int64(len(data)), "application/json", nil))

	t.Run("missing parameters", func(t *testing.T) {
		rec := f.get("/api/report")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Either sessionId or reportKey is required", decode(t, rec)["error"])
	})

	t.Run("fetch", func(t *testing.T) {
		rec := f.get("/api/report?sessionId=s1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "s3://test-bucket/reports/s1/final_jbi_report.json", body["reportLocation"])
		assert.NotNil(t, body["report"])
	})

	t.Run("not found", func(t *testing.T) {
		rec := f.get("/api/report?sessionId=missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Report not found", body["error"])
		assert.Len(t, body["attemptedKeys"], 4)
	})

	t.Run("traversal key", func(t *testing.T) {
		rec := f.get("/api/report?reportKey=../secret.json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("export csv", func(t *testing.T) {
		rec := f.get("/api/report/export?sessionId=s1&format=csv")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="jbi-bias-assessment-pdf-job-1757344723352-ojcffknpm.csv"`, rec.Header().Get("Content-Disposition"))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "Study,File Name"))
	})

	t.Run("export pdf is reproducible", func(t *testing.T) {
		first := f.get("/api/report/export?sessionId=s1&format=pdf&at=2025-09-09T08:00:00Z")
		second := f.get("/api/report/export?sessionId=s1&format=pdf&at=2025-09-09T08:00:00Z")
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
		assert.Equal(t, `attachment; filename="jbi-bias-assessment-2025-09-09.pdf"`, first.Header().Get("Content-Disposition"))
	})

	t.Run("export rejects unknown format", func(t *testing.T) {
		rec := f.get("/api/report/export?sessionId=s1&format=docx")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("debug listing", func(t *testing.T) {
		rec := f.get("/api/debug/s3?sessionId=s1&prefix=reports/s1/")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.EqualValues(t, 1, body["totalObjects"])
		assert.Len(t, body["reportFiles"], 1)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	assert.Equal(t, http.StatusOK, f.get("/healthz/live").Code)
	assert.Equal(t, http.StatusOK, f.get("/healthz/ready").Code)

	rec = f.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "requests_total")
}

func TestAPIKeys(t *testing.T) {
	f := newFixture(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, f.get("/api/sessions").Code)
	assert.Equal(t, http.StatusOK, f.get("/health").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, f.do(req).Code)
}

func TestErrorBody(t *testing.T) {
	status, body := errorBody(errs.Forbidden("Access denied to the report").With("attemptedKey", "k"))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, map[string]any{"error": "Access denied to the report", "attemptedKey": "k"}, body)

	status, body = errorBody(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, body)

	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errs.KindUnavailable))
}
