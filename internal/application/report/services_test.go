package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/jbi-analyzer/internal/application"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

var now = time.Date(2025, 9, 8, 16, 0, 0, 0, time.UTC)

type fakeStore struct {
	objects map[string]analysis.Object
	listErr error
	getErr  error
	listed  []string
	stats   []string
}

func (f *fakeStore) Bucket() string { return "test-bucket" }

func (f *fakeStore) Put(context.Context, string, io.Reader, int64, string, map[string]string) error {
	return errors.New("read only")
}

func (f *fakeStore) Stat(_ context.Context, key string) (analysis.ObjectInfo, error) {
	f.stats = append(f.stats, key)
	o, ok := f.objects[key]
	if !ok {
		return analysis.ObjectInfo{}, errs.NotFound("object not found")
	}
	return o.Info, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (*analysis.Object, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.objects[key]
	if !ok {
		return nil, errs.NotFound("object not found").With("code", "NoSuchKey")
	}
	return &o, nil
}

func (f *fakeStore) List(_ context.Context, prefix string, maxKeys int) ([]analysis.ObjectInfo, error) {
	f.listed = append(f.listed, prefix)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []analysis.ObjectInfo
	for k, o := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o.Info)
		}
	}
	if len(out) > maxKeys {
		out = out[:maxKeys]
	}
	return out, nil
}

func object(key string, body []byte, modified time.Time) analysis.Object {
	return analysis.Object{
		Info: analysis.ObjectInfo{Key: key, Size: int64(len(body)), LastModified: modified},
		Body: body,
	}
}

func fixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "domain", "report", "testdata", "nested.json"))
	require.NoError(t, err)
	return data
}

func newService(objects ...analysis.Object) (*Service, *fakeStore) {
	store := &fakeStore{objects: map[string]analysis.Object{}}
	for _, o := range objects {
		store.objects[o.Info.Key] = o
	}
	return &Service{Store: store, Clock: application.FixedClock(now)}, store
}

func TestLocate(t *testing.T) {
	ctx := context.Background()
	old := now.Add(-time.Hour)

	t.Run("newest matching report wins", func(t *testing.T) {
		svc, _ := newService(
			object("reports/s1/final_jbi_report.json", []byte("{}"), old),
			object("reports/s1/jbi_bias_assessment_v2.json", []byte("{}"), now),
			object("reports/s1/notes.txt", []byte("x"), now.Add(time.Hour)),
			object("reports/s1/summary.json", []byte("{}"), now.Add(time.Hour)),
		)
		key, err := svc.Locate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "reports/s1/jbi_bias_assessment_v2.json", key)
	})

	t.Run("fallback keys are probed in order", func(t *testing.T) {
		svc, store := newService(
			object("s1/analysis/final_jbi_report.json", []byte("{}"), old),
			object("s1/jbi_bias_assessment_report.json", []byte("{}"), old),
		)
		key, err := svc.Locate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1/analysis/final_jbi_report.json", key)
		assert.Equal(t, FallbackKeys("s1")[:3], store.stats)
	})

	t.Run("listing failure uses the first fallback", func(t *testing.T) {
		svc, store := newService()
		store.listErr = errs.Forbidden("Access denied to S3 bucket")
		key, err := svc.Locate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "reports/s1/final_jbi_report.json", key)
	})

	t.Run("nothing found", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Locate(ctx, "s1")
		e, ok := errs.As(err)
		require.True(t, ok)
		assert.Equal(t, errs.KindNotFound, e.Kind)
		assert.Equal(t, FallbackKeys("s1"), e.Fields["attemptedKeys"])
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	body := fixture(t)

	t.Run("by session", func(t *testing.T) {
		svc, _ := newService(object("reports/s1/final_jbi_report.json", body, now))
		res, err := svc.Fetch(ctx, Query{SessionID: "s1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "s3://test-bucket/reports/s1/final_jbi_report.json", res.ReportLocation)
		assert.Equal(t, "2025-09-08T16:00:00.000Z", res.LastModified)
		assert.Equal(t, int64(len(body)), res.ContentLength)
		assert.JSONEq(t, string(body), string(res.Report))
	})

	t.Run("report key wins over session", func(t *testing.T) {
		svc, store := newService(object("custom/key.json", body, now))
		res, err := svc.Fetch(ctx, Query{SessionID: "s1", ReportKey: "custom/key.json"})
		require.NoError(t, err)
		assert.Equal(t, "custom/key.json", res.key)
		assert.Empty(t, store.listed)
	})

	t.Run("missing parameters", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Fetch(ctx, Query{})
		assert.True(t, errs.Is(err, errs.KindInvalid))
	})

	t.Run("empty body", func(t *testing.T) {
		svc, _ := newService(object("k.json", nil, now))
		_, err := svc.Fetch(ctx, Query{ReportKey: "k.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindNotFound, e.Kind)
		assert.Equal(t, "Report data is empty", e.Message)
	})

	t.Run("not a jbi report", func(t *testing.T) {
		svc, _ := newService(object("k.json", []byte(`{"reportMetadata":{"reportType":"summary"}}`), now))
		_, err := svc.Fetch(ctx, Query{ReportKey: "k.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindInvalid, e.Kind)
		assert.Equal(t, "Invalid report format - not a JBI bias assessment report", e.Message)
	})

	t.Run("array body", func(t *testing.T) {
		svc, _ := newService(object("k.json", []byte(`[{"reportType":"jbi_bias_assessment"}]`), now))
		_, err := svc.Fetch(ctx, Query{ReportKey: "k.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindInvalid, e.Kind)
		assert.Equal(t, "Invalid report format - not a JBI bias assessment report", e.Message)
	})

	t.Run("missing object", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.Fetch(ctx, Query{SessionID: "s1", ReportKey: "reports/s1/x.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindNotFound, e.Kind)
		assert.Equal(t, "reports/s1/x.json", e.Fields["attemptedKey"])
		assert.Equal(t, "Report not found at s3://test-bucket/reports/s1/x.json", e.Details)
	})

	t.Run("access denied", func(t *testing.T) {
		svc, store := newService()
		store.getErr = errs.Forbidden("Access denied to S3 bucket")
		_, err := svc.Fetch(ctx, Query{ReportKey: "k.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindForbidden, e.Kind)
		assert.Equal(t, "Access denied to the report", e.Message)
	})

	t.Run("other storage errors", func(t *testing.T) {
		svc, store := newService()
		store.getErr = errors.New("connection reset")
		_, err := svc.Fetch(ctx, Query{ReportKey: "k.json"})
		e, _ := errs.As(err)
		require.NotNil(t, e)
		assert.Equal(t, errs.KindInternal, e.Kind)
		assert.Equal(t, "Failed to fetch report from S3", e.Message)
		assert.Equal(t, "connection reset", e.Details)
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(object("reports/s1/final_jbi_report.json", fixture(t), now))

	var csv bytes.Buffer
	r, err := svc.Export(ctx, Query{SessionID: "s1"}, FormatCSV, time.Time{}, &csv)
	require.NoError(t, err)
	assert.Equal(t, "jbi-bias-assessment-pdf-job-1757344723352-ojcffknpm.csv", r.Filename)
	assert.True(t, strings.HasPrefix(csv.String(), "Study,File Name"))

	var first, second bytes.Buffer
	at := time.Date(2025, 9, 9, 8, 0, 0, 0, time.UTC)
	r, err = svc.Export(ctx, Query{SessionID: "s1"}, FormatPDF, at, &first)
	require.NoError(t, err)
	assert.Equal(t, "jbi-bias-assessment-2025-09-09.pdf", r.Filename)
	assert.Equal(t, "application/pdf", r.ContentType)
	_, err = svc.Export(ctx, Query{SessionID: "s1"}, FormatPDF, at, &second)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes(), second.Bytes())

	var md bytes.Buffer
	r, err = svc.Export(ctx, Query{SessionID: "s1"}, FormatMarkdown, time.Time{}, &md)
	require.NoError(t, err)
	assert.Equal(t, "jbi-bias-assessment-pdf-job-1757344723352-ojcffknpm.md", r.Filename)

	_, err = svc.Export(ctx, Query{SessionID: "s1"}, "docx", time.Time{}, io.Discard)
	assert.True(t, errs.Is(err, errs.KindInvalid))
}

// tickingClock moves forward an hour on every read.
type tickingClock struct{ t time.Time }

func (c *tickingClock) Now() time.Time {
	c.t = c.t.Add(time.Hour)
	return c.t
}

func TestExportWithoutGeneratedAt(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"reportMetadata":{"sessionId":"s1","reportType":"jbi_bias_assessment"},"executiveSummary":{"overallFindings":"x"}}`)
	svc, _ := newService(object("reports/s1/final_jbi_report.json", body, now))
	svc.Clock = &tickingClock{t: now}
	at := time.Date(2025, 9, 9, 8, 0, 0, 0, time.UTC)

	for _, format := range []string{FormatPDF, FormatMarkdown} {
		t.Run(format, func(t *testing.T) {
			var first, second bytes.Buffer
			_, err := svc.Export(ctx, Query{SessionID: "s1"}, format, at, &first)
			require.NoError(t, err)
			_, err = svc.Export(ctx, Query{SessionID: "s1"}, format, at, &second)
			require.NoError(t, err)
			assert.Equal(t, first.Bytes(), second.Bytes())
		})
	}

	r, _, err := svc.Load(ctx, Query{SessionID: "s1"}, at)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-09T08:00:00.000Z", r.Metadata.GeneratedAt)
}

func TestDebug(t *testing.T) {
	svc, store := newService(
		object("s1/input/document_0_a.pdf", []byte("%PDF"), now),
		object("s1/analysis/study_classifications.json", []byte("[]"), now),
		object("s1/job_summary.json", []byte("{}"), now),
	)

	res, err := svc.Debug(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, store.listed)
	assert.Equal(t, "s1", res.Prefix)
	assert.Equal(t, "s1", res.SearchPrefix)
	assert.Equal(t, 3, res.TotalObjects)
	require.Len(t, res.ReportFiles, 1)
	assert.Equal(t, "s1/analysis/study_classifications.json", res.ReportFiles[0].Key)
	assert.Nil(t, res.ReportFiles[0].IsReport)
	for _, o := range res.AllObjects {
		require.NotNil(t, o.IsReport)
		assert.Equal(t, o.Key == "s1/analysis/study_classifications.json", *o.IsReport)
	}

	_, err = svc.Debug(context.Background(), "", "")
	assert.True(t, errs.Is(err, errs.KindInvalid))

	store.listErr = errors.New("boom")
	_, err = svc.Debug(context.Background(), "s1", "reports/")
	e, _ := errs.As(err)
	require.NotNil(t, e)
	assert.Equal(t, "Failed to list S3 objects", e.Message)
}
