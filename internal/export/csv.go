package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
)

var csvHeader = []string{
	"Study", "File Name", "Study Type", "Bias Rating", "Recommendation", "Confidence",
	"Overall Assessment", "Strengths", "Weaknesses", "JBI Questions Count",
}

// WriteCSV writes one row per assessed study followed by a summary block.
// Output depends only on r.
func WriteCSV(w io.Writer, r *report.Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i, s := range r.DetailedStudyAssessments {
		a := s.OverallAssessment
		row := []string{
			fmt.Sprintf("Study %d", i+1),
			orDefault(s.FileName, report.Unknown),
			orDefault(s.StudyType, report.Unknown),
			orDefault(a.BiasRating, report.Unknown),
			orDefault(a.Recommendation, report.Unknown),
			confidenceCell(r, s.FileName),
			orDefault(a.SummaryReasoning, "No assessment available"),
			strings.Join(a.Strengths, "; "),
			strings.Join(a.Weaknesses, "; "),
			strconv.Itoa(len(s.Questions)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	stats := r.SummaryStatistics
	summary := [][]string{
		{""},
		{"SUMMARY STATISTICS"},
		{"Metric", "Value"},
		{"Total Studies", formatNumber(stats.TotalStudies)},
		{"Successful Analyses", formatNumber(stats.SuccessfulAnalyses)},
		{"Failed Analyses", formatNumber(stats.FailedAnalyses)},
		{"Inclusion Rate", orDefault(r.ExecutiveSummary.InclusionRate, report.Unknown)},
		{"Assessment Confidence", orDefault(r.ExecutiveSummary.AssessmentConfidence, report.Unknown)},
	}
	if err := cw.WriteAll(summary); err != nil {
		return err
	}
	return cw.Error()
}

// CSVFilename is the download name for a session's CSV export.
func CSVFilename(sessionID string) string {
	if sessionID == "" {
		sessionID = "report"
	}
	return fmt.Sprintf("jbi-bias-assessment-%s.csv", sessionID)
}

func confidenceCell(r *report.Report, fileName string) string {
	c, ok := r.ClassificationFor(fileName)
	if !ok || c.Confidence == 0 {
		return "N/A"
	}
	return strconv.Itoa(percent(c.Confidence))
}

func percent(confidence float64) int {
	return int(math.Round(confidence * 100))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
