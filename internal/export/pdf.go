package export

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
)

// A4 layout in millimetres.
const (
	pageHeight   = 280.0
	margin       = 20.0
	contentWidth = 170.0
	topY         = 20.0
	rowHeight    = 8.0
	fontFamily   = "Helvetica"
)

var tableColumns = []float64{40, 30, 30, 30, 30}

type pdfWriter struct {
	doc *fpdf.Fpdf
	tr  func(string) string
	y   float64
}

// WritePDF renders r as a paginated A4 document. Given the same report and at,
// the output is byte-for-byte identical.
func WritePDF(w io.Writer, r *report.Report, at time.Time) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCreationDate(at)
	doc.SetModificationDate(at)
	doc.SetCatalogSort(true)
	doc.SetAutoPageBreak(false, 0)
	doc.SetTitle("JBI Bias Assessment Report", true)
	doc.SetCreator("NIH Research Analyzer", true)

	p := &pdfWriter{doc: doc, tr: doc.UnicodeTranslatorFromDescriptor(""), y: topY}
	doc.AddPage()

	p.titlePage(r)
	p.pageBreak()
	p.executiveSummary(r)
	p.pageBreak()
	p.statistics(r)
	p.pageBreak()
	p.studies(r)
	p.pageBreak()
	p.recommendations(r)
	p.footer()

	if err := doc.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return doc.Output(w)
}

// PDFFilename is the download name of a PDF export made at at.
func PDFFilename(at time.Time) string {
	return fmt.Sprintf("jbi-bias-assessment-%s.pdf", at.UTC().Format("2006-01-02"))
}

func (p *pdfWriter) titlePage(r *report.Report) {
	m := r.Metadata
	p.header("NIH Research Analyzer", 20)
	p.header("JBI Bias Assessment Report", 16)
	p.y += 10
	p.text("Session ID: "+orDefault(m.SessionID, report.Unknown), 10, true)
	p.text("Generated: "+displayTime(m.GeneratedAt), 10, false)
	p.text("Report Type: "+orDefault(m.ReportType, report.Unknown), 10, false)
	p.text("AI Model: "+orDefault(m.BedrockModel, report.Unknown), 10, false)
}

func (p *pdfWriter) executiveSummary(r *report.Report) {
	es := r.ExecutiveSummary
	p.header("Executive Summary", 16)
	p.text(orDefault(es.OverallFindings, report.DefaultFindings), 11, false)
	p.y += 5

	p.subHeader("Key Findings")
	p.text("Inclusion Rate: "+orDefault(es.InclusionRate, report.Unknown), 10, true)
	p.text("Assessment Confidence: "+orDefault(es.AssessmentConfidence, report.Unknown), 10, true)

	p.subHeader("Major Concerns")
	p.bullets(es.MajorConcerns, 10)
	p.subHeader("Key Strengths")
	p.bullets(es.KeyStrengths, 10)
	p.subHeader("Recommended Next Steps")
	p.bullets(es.NextSteps, 10)
}

func (p *pdfWriter) statistics(r *report.Report) {
	s := r.SummaryStatistics
	p.header("Summary Statistics", 16)

	p.subHeader("Study Overview")
	p.text("Total Studies Analyzed: "+formatNumber(s.TotalStudies), 11, true)
	p.text("Successful Analyses: "+formatNumber(s.SuccessfulAnalyses), 10, false)
	p.text("Failed Analyses: "+formatNumber(s.FailedAnalyses), 10, false)
	p.text("Overall Inclusion Rate: "+orDefault(s.InclusionRate, report.Unknown), 10, true)

	p.subHeader("Study Type Distribution")
	if rows := countRows(s.StudyTypeBreakdown, capitalize); len(rows) > 0 {
		p.table([]string{"Study Type", "Count"}, rows)
	}
	p.subHeader("Bias Rating Distribution")
	if rows := countRows(s.BiasRatingDistribution, nil); len(rows) > 0 {
		p.table([]string{"Bias Rating", "Count"}, rows)
	}
	p.subHeader("Recommendation Distribution")
	if rows := countRows(s.RecommendationDistribution, nil); len(rows) > 0 {
		p.table([]string{"Recommendation", "Count"}, rows)
	}
}

func (p *pdfWriter) studies(r *report.Report) {
	p.header("Detailed Study Assessments", 16)

	all := r.DetailedStudyAssessments
	for i, s := range all {
		a := s.OverallAssessment
		p.subHeader(fmt.Sprintf("Study %d: %s", i+1, orDefault(s.FileName, "Unknown File")))
		p.text("Study Type: "+orDefault(s.StudyType, report.Unknown), 10, true)
		p.text("Bias Rating: "+orDefault(a.BiasRating, report.Unknown), 10, true)
		p.text("Recommendation: "+orDefault(a.Recommendation, report.Unknown), 10, true)
		if c, ok := r.ClassificationFor(s.FileName); ok && c.Confidence != 0 {
			p.text(fmt.Sprintf("Confidence: %d%%", percent(c.Confidence)), 10, true)
		}
		p.y += 3

		p.subHeader("Overall Assessment")
		p.text(orDefault(a.SummaryReasoning, "No assessment available"), 10, false)
		p.subHeader("Strengths")
		p.bullets(a.Strengths, 9)
		p.subHeader("Weaknesses")
		p.bullets(a.Weaknesses, 9)

		p.subHeader("JBI Question Analysis")
		for _, q := range s.Questions {
			p.text(fmt.Sprintf("Q%d: %s", q.Number, q.Question), 9, true)
			p.text("Answer: "+q.Answer, 9, true)
			p.text("Reasoning: "+q.Reasoning, 9, false)
			if len(q.Evidence) > 0 {
				p.text("Evidence:", 9, true)
				for _, e := range q.Evidence {
					p.text("• "+e, 8, false)
				}
			}
			if q.BiasImplication != "" {
				p.text("Bias Implication: "+q.BiasImplication, 9, false)
			}
			p.y += 3
		}

		if i < len(all)-1 {
			p.pageBreak()
		}
	}
}

func (p *pdfWriter) recommendations(r *report.Report) {
	p.header("Recommendations by Category", 16)

	rc := r.RecommendationsByCategory
	groups := []struct {
		title   string
		studies []report.StudyAssessment
	}{
		{"High Priority Inclusions", rc.HighPriorityInclusions},
		{"Conditional Inclusions", rc.ConditionalInclusions},
		{"Needs Further Review", rc.NeedsFurtherReview},
		{"Clear Exclusions", rc.ClearExclusions},
	}
	for _, g := range groups {
		if len(g.studies) == 0 {
			continue
		}
		p.subHeader(g.title)
		for _, s := range g.studies {
			p.text(fmt.Sprintf("• %s (%s bias)",
				orDefault(s.FileName, report.Unknown),
				orDefault(s.OverallAssessment.BiasRating, report.Unknown)), 10, false)
		}
	}
}

func (p *pdfWriter) ensure(space float64) {
	if p.y > pageHeight-space {
		p.pageBreak()
	}
}

func (p *pdfWriter) pageBreak() {
	p.doc.AddPage()
	p.y = topY
}

func (p *pdfWriter) header(title string, size float64) {
	p.ensure(20)
	p.doc.SetFont(fontFamily, "B", size)
	p.doc.Text(margin, p.y, p.tr(title))
	p.y += size/2 + 5
}

func (p *pdfWriter) subHeader(title string) {
	p.ensure(15)
	p.doc.SetFont(fontFamily, "B", 12)
	p.doc.Text(margin, p.y, p.tr(title))
	p.y += 8
}

func (p *pdfWriter) text(s string, size float64, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	p.doc.SetFont(fontFamily, style, size)
	p.doc.SetTextColor(0, 0, 0)
	for _, line := range p.doc.SplitLines([]byte(p.tr(s)), contentWidth) {
		p.ensure(10)
		p.doc.SetFont(fontFamily, style, size)
		p.doc.Text(margin, p.y, string(line))
		p.y += size/2 + 1
	}
}

func (p *pdfWriter) bullets(items []string, size float64) {
	for _, item := range items {
		p.doc.SetFont(fontFamily, "", size)
		for i, line := range p.doc.SplitLines([]byte(p.tr("• "+item)), contentWidth-5) {
			p.ensure(10)
			p.doc.SetFont(fontFamily, "", size)
			x := margin + 5
			if i > 0 {
				x += 3
			}
			p.doc.Text(x, p.y, string(line))
			p.y += 6
		}
	}
}

func (p *pdfWriter) table(headers []string, rows [][]string) {
	p.ensure(30)

	p.doc.SetFont(fontFamily, "B", 9)
	x := margin
	for i, h := range headers {
		p.doc.Text(x, p.y, p.tr(h))
		x += columnWidth(i)
	}
	p.y += rowHeight

	for _, row := range rows {
		p.ensure(15)
		p.doc.SetFont(fontFamily, "", 9)
		x = margin
		for i, cell := range row {
			p.doc.Text(x, p.y, p.tr(cell))
			x += columnWidth(i)
		}
		p.y += rowHeight
	}
	p.y += 5
}

func (p *pdfWriter) footer() {
	total := p.doc.PageCount()
	for i := 1; i <= total; i++ {
		p.doc.SetPage(i)
		p.doc.SetFont(fontFamily, "", 8)
		p.doc.Text(margin, pageHeight+10, fmt.Sprintf("Page %d of %d", i, total))
		p.doc.Text(contentWidth-50, pageHeight+10, "Generated by NIH Research Analyzer")
	}
}

func columnWidth(i int) float64 {
	if i < len(tableColumns) {
		return tableColumns[i]
	}
	return 30
}

func countRows(dist []report.Count, label func(string) string) [][]string {
	rows := make([][]string, 0, len(dist))
	for _, c := range dist {
		key := c.Key
		if label != nil {
			key = label(key)
		}
		rows = append(rows, []string{key, formatNumber(c.Value)})
	}
	return rows
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// displayTime renders an RFC3339 timestamp in UTC, or the raw value when it does not parse.
func displayTime(v string) string {
	if v == "" {
		return report.Unknown
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
