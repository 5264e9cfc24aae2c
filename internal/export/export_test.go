package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
)

var exportedAt = time.Date(2025, 9, 8, 16, 0, 0, 0, time.UTC)

func loadReport(t *testing.T, name string) *report.Report {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "domain", "report", "testdata", name))
	require.NoError(t, err)
	r, err := report.Extract(data, exportedAt)
	require.NoError(t, err)
	return r
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, loadReport(t, "nested.json")))
	out := buf.String()

	lines := strings.Split(out, "\n")
	assert.Equal(t, "Study,File Name,Study Type,Bias Rating,Recommendation,Confidence,Overall Assessment,Strengths,Weaknesses,JBI Questions Count", lines[0])
	assert.Equal(t, `Study 1,smith-2021.pdf,cohort,Low,Include,92,"Well-designed cohort study, with minimal bias",Large sample size; Long follow-up period,"Potential ""healthy user"" effect",2`, lines[1])
	assert.Equal(t, "Study 2,lee-2019.pdf,case-control,High,Exclude,55,Control selection is poorly described,,Recall bias,0", lines[2])

	assert.Contains(t, out, "SUMMARY STATISTICS\nMetric,Value\nTotal Studies,3\nSuccessful Analyses,3\nFailed Analyses,0\n")
	assert.Contains(t, out, "Inclusion Rate,67% of studies recommended for inclusion\n")
	assert.Contains(t, out, "Assessment Confidence,High\n")
}

func TestWriteCSVFallbacks(t *testing.T) {
	r := report.Normalize(map[string]any{
		"sessionId":                "s",
		"detailedStudyAssessments": []any{map[string]any{}},
	}, exportedAt)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r))
	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "Study 1,Unknown,Unknown,Unknown,Unknown,N/A,No assessment available,,,0", lines[1])
}

func TestCSVShapeVariantsMatch(t *testing.T) {
	var nested, flat bytes.Buffer
	require.NoError(t, WriteCSV(&nested, loadReport(t, "nested.json")))
	require.NoError(t, WriteCSV(&flat, loadReport(t, "flat.json")))
	assert.Equal(t, nested.String(), flat.String())
}

func TestWritePDFIsReproducible(t *testing.T) {
	r := loadReport(t, "nested.json")

	var first, second bytes.Buffer
	require.NoError(t, WritePDF(&first, r, exportedAt))
	require.NoError(t, WritePDF(&second, r, exportedAt))

	require.True(t, bytes.HasPrefix(first.Bytes(), []byte("%PDF-")))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestWritePDFEmptyReport(t *testing.T) {
	r := report.Normalize(map[string]any{"sessionId": "s"}, exportedAt)

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, r, exportedAt))
	assert.NotZero(t, buf.Len())
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, loadReport(t, "nested.json")))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# JBI Bias Assessment Report\n"))
	assert.Contains(t, out, "- **Session:** pdf-job-1757344723352-ojcffknpm\n")
	assert.Contains(t, out, "- **Generated:** 2025-09-08 15:20:11 UTC\n")
	assert.Contains(t, out, "### 1. smith-2021.pdf\n")
	assert.Contains(t, out, "confidence 92% (High)")
	assert.Contains(t, out, "confidence 55% (Low)")
	assert.Contains(t, out, "| Case-control | 1 |\n")
	assert.Contains(t, out, "#### Clear Exclusions (1)\n\n- lee-2019.pdf (High bias)\n")
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "jbi-bias-assessment-abc.csv", CSVFilename("abc"))
	assert.Equal(t, "jbi-bias-assessment-report.csv", CSVFilename(""))
	assert.Equal(t, "jbi-bias-assessment-2025-09-08.pdf", PDFFilename(exportedAt))
}
