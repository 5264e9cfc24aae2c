package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/report"
)

// WriteMarkdown renders r in the panel layout of the report viewer:
// header, executive summary, statistics, studies and recommendations.
func WriteMarkdown(w io.Writer, r *report.Report) error {
	var b strings.Builder
	m := r.Metadata
	es := r.ExecutiveSummary
	stats := r.SummaryStatistics

	fmt.Fprintf(&b, "# JBI Bias Assessment Report\n\n")
	fmt.Fprintf(&b, "- **Session:** %s\n", m.SessionID)
	fmt.Fprintf(&b, "- **Generated:** %s\n", displayTime(m.GeneratedAt))
	fmt.Fprintf(&b, "- **Report type:** %s\n", m.ReportType)
	fmt.Fprintf(&b, "- **Model:** %s\n\n", m.BedrockModel)

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(es.OverallFindings + "\n\n")
	fmt.Fprintf(&b, "**Inclusion rate:** %s  \n**Assessment confidence:** %s\n\n", es.InclusionRate, es.AssessmentConfidence)
	list(&b, "Major Concerns", es.MajorConcerns)
	list(&b, "Key Strengths", es.KeyStrengths)
	list(&b, "Next Steps", es.NextSteps)

	b.WriteString("## Summary Statistics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total studies | %s |\n", formatNumber(stats.TotalStudies))
	fmt.Fprintf(&b, "| Successful analyses | %s |\n", formatNumber(stats.SuccessfulAnalyses))
	fmt.Fprintf(&b, "| Failed analyses | %s |\n", formatNumber(stats.FailedAnalyses))
	fmt.Fprintf(&b, "| Inclusion rate | %s |\n\n", orDefault(stats.InclusionRate, report.Unknown))
	distribution(&b, "Study Types", stats.StudyTypeBreakdown)
	distribution(&b, "Bias Ratings", stats.BiasRatingDistribution)
	distribution(&b, "Recommendations", stats.RecommendationDistribution)

	b.WriteString("## Studies\n\n")
	for i, s := range r.DetailedStudyAssessments {
		a := s.OverallAssessment
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, orDefault(s.FileName, "Unknown File"))
		fmt.Fprintf(&b, "*%s* · bias **%s** · %s",
			orDefault(s.StudyType, report.Unknown),
			orDefault(a.BiasRating, report.Unknown),
			orDefault(a.Recommendation, report.Unknown))
		if c, ok := r.ClassificationFor(s.FileName); ok && c.Confidence != 0 {
			fmt.Fprintf(&b, " · confidence %d%% (%s)", percent(c.Confidence), report.ConfidenceLevel(c.Confidence))
		}
		b.WriteString("\n\n")
		if s.ErrorDetails != "" {
			fmt.Fprintf(&b, "> Analysis error: %s\n\n", s.ErrorDetails)
		}
		b.WriteString(orDefault(a.SummaryReasoning, "No assessment available") + "\n\n")
		list(&b, "Strengths", a.Strengths)
		list(&b, "Weaknesses", a.Weaknesses)

		if len(s.Questions) > 0 {
			b.WriteString("| # | Question | Answer |\n|---|---|---|\n")
			for _, q := range s.Questions {
				fmt.Fprintf(&b, "| %d | %s | %s |\n", q.Number, cell(q.Question), cell(q.Answer))
			}
			b.WriteString("\n")
		}
	}

	rc := r.RecommendationsByCategory
	b.WriteString("## Recommendations\n\n")
	category(&b, "High Priority Inclusions", rc.HighPriorityInclusions)
	category(&b, "Conditional Inclusions", rc.ConditionalInclusions)
	category(&b, "Needs Further Review", rc.NeedsFurtherReview)
	category(&b, "Clear Exclusions", rc.ClearExclusions)

	_, err := io.WriteString(w, b.String())
	return err
}

// MarkdownFilename is the download name for a session's Markdown export.
func MarkdownFilename(sessionID string) string {
	if sessionID == "" {
		sessionID = "report"
	}
	return fmt.Sprintf("jbi-bias-assessment-%s.md", sessionID)
}

func list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "#### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func distribution(b *strings.Builder, title string, dist []report.Count) {
	if len(dist) == 0 {
		return
	}
	fmt.Fprintf(b, "#### %s\n\n| %s | Count |\n|---|---|\n", title, strings.TrimSuffix(title, "s"))
	for _, c := range dist {
		fmt.Fprintf(b, "| %s | %s |\n", cell(capitalize(c.Key)), formatNumber(c.Value))
	}
	b.WriteString("\n")
}

func category(b *strings.Builder, title string, studies []report.StudyAssessment) {
	if len(studies) == 0 {
		return
	}
	fmt.Fprintf(b, "#### %s (%d)\n\n", title, len(studies))
	for _, s := range studies {
		fmt.Fprintf(b, "- %s (%s bias)\n",
			orDefault(s.FileName, report.Unknown),
			orDefault(s.OverallAssessment.BiasRating, report.Unknown))
	}
	b.WriteString("\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
