package report

import (
	"math"
	"sort"
	"time"
)

// Fallbacks used when a field is absent from every known shape.
const (
	Unknown             = "Unknown"
	DefaultReportType   = "JBI Bias Assessment"
	DefaultFindings     = "No findings available"
	generatedAtLayout   = "2006-01-02T15:04:05.000Z07:00"
	sectionMetadata     = "reportMetadata"
	sectionSummary      = "executiveSummary"
	sectionStatistics   = "summaryStatistics"
	sectionRecommend    = "recommendationsByCategory"
	keyDetailed         = "detailedStudyAssessments"
	keyDetailedLegacy   = "studyAssessments"
	keyClassified       = "originalClassifications"
	keyClassifiedLegacy = "classifications"
)

// Normalize coalesces any known report shape into a Report.
//
// Older reports carried metadata, summary and statistics fields at the top level;
// newer ones nest them under reportMetadata, executiveSummary and summaryStatistics.
// A nested value wins when it is set, then the flat value, then the fallback.
// now stamps generatedAt when the document has none.
func Normalize(raw map[string]any, now time.Time) *Report {
	meta := object(raw[sectionMetadata])
	summary := object(raw[sectionSummary])
	stats := object(raw[sectionStatistics])
	recs := object(raw[sectionRecommend])

	return &Report{
		Metadata: Metadata{
			SessionID:       str(coalesce(meta, raw, "sessionId"), Unknown),
			S3Bucket:        str(coalesce(meta, raw, "s3Bucket"), Unknown),
			GeneratedAt:     str(coalesce(meta, raw, "generatedAt"), now.UTC().Format(generatedAtLayout)),
			ReportType:      str(coalesce(meta, raw, "reportType"), DefaultReportType),
			LambdaRequestID: str(coalesce(meta, raw, "lambdaRequestId"), Unknown),
			BedrockModel:    str(coalesce(meta, raw, "bedrockModel"), Unknown),
		},
		ExecutiveSummary: ExecutiveSummary{
			OverallFindings:      str(coalesce(summary, raw, "overallFindings"), DefaultFindings),
			InclusionRate:        str(coalesce(summary, raw, "inclusionRate"), Unknown),
			MajorConcerns:        strs(coalesce(summary, raw, "majorConcerns")),
			KeyStrengths:         strs(coalesce(summary, raw, "keyStrengths")),
			AssessmentConfidence: str(coalesce(summary, raw, "assessmentConfidence"), Unknown),
			NextSteps:            strs(coalesce(summary, raw, "nextSteps")),
		},
		SummaryStatistics: SummaryStatistics{
			TotalStudies:               num(coalesce(stats, raw, "totalStudies")),
			SuccessfulAnalyses:         num(coalesce(stats, raw, "successfulAnalyses")),
			FailedAnalyses:             num(coalesce(stats, raw, "failedAnalyses")),
			StudyTypeBreakdown:         distribution(coalesce(stats, raw, "studyTypeBreakdown")),
			BiasRatingDistribution:     distribution(coalesce(stats, raw, "biasRatingDistribution")),
			RecommendationDistribution: distribution(coalesce(stats, raw, "recommendationDistribution")),
			InclusionRate:              str(coalesce(stats, raw, "inclusionRate"), Unknown),
		},
		DetailedStudyAssessments: studies(either(raw[keyDetailed], raw[keyDetailedLegacy])),
		RecommendationsByCategory: Recommendations{
			HighPriorityInclusions: studies(recs["highPriorityInclusions"]),
			ConditionalInclusions:  studies(recs["conditionalInclusions"]),
			NeedsFurtherReview:     studies(recs["needsFurtherReview"]),
			ClearExclusions:        studies(recs["clearExclusions"]),
		},
		OriginalClassifications: classifications(either(raw[keyClassified], raw[keyClassifiedLegacy])),
	}
}

// truthy follows the truthiness rules of the JSON producers: empty strings, zero,
// NaN, false and null are unset; objects and arrays are set even when empty.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	default:
		return true
	}
}

func either(a, b any) any {
	if truthy(a) {
		return a
	}
	if truthy(b) {
		return b
	}
	return nil
}

func coalesce(section, root map[string]any, key string) any {
	return either(section[key], root[key])
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func str(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0
		}
		return x
	case int:
		return float64(x)
	}
	return 0
}

func optionalNum(v any) *float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return &x
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

func strs(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, it := range arr {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func distribution(v any) []Count {
	m := object(v)
	out := make([]Count, 0, len(m))
	for k, val := range m {
		switch val.(type) {
		case float64, int:
			out = append(out, Count{Key: k, Value: num(val)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func studies(v any) []StudyAssessment {
	arr, _ := v.([]any)
	out := make([]StudyAssessment, 0, len(arr))
	for _, it := range arr {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, study(m))
	}
	return out
}

func study(m map[string]any) StudyAssessment {
	overall := object(m["overallAssessment"])
	meta := object(m["assessmentMetadata"])

	qs, _ := m["jbiQuestions"].([]any)
	questions := make([]Question, 0, len(qs))
	for _, it := range qs {
		q, ok := it.(map[string]any)
		if !ok {
			continue
		}
		questions = append(questions, Question{
			Number:          int(num(q["number"])),
			Question:        str(q["question"], ""),
			Answer:          str(q["answer"], ""),
			Reasoning:       str(q["reasoning"], ""),
			Evidence:        strs(q["evidence"]),
			BiasImplication: str(q["biasImplication"], ""),
			Confidence:      optionalNum(q["confidence"]),
		})
	}

	return StudyAssessment{
		FileName:     str(m["fileName"], ""),
		StudyType:    str(m["studyType"], ""),
		CriteriaType: str(m["criteriaType"], ""),
		OverallAssessment: OverallAssessment{
			BiasRating:       str(overall["biasRating"], ""),
			Recommendation:   str(overall["recommendation"], ""),
			SummaryReasoning: str(overall["summaryReasoning"], ""),
			Strengths:        strs(overall["strengths"]),
			Weaknesses:       strs(overall["weaknesses"]),
		},
		Questions: questions,
		AssessmentMetadata: AssessmentMetadata{
			Confidence:     num(meta["confidence"]),
			ProcessingTime: str(meta["processingTime"], ""),
			ModelVersion:   str(meta["modelVersion"], ""),
		},
		ErrorDetails: str(m["errorDetails"], ""),
	}
}

func classifications(v any) []Classification {
	arr, _ := v.([]any)
	out := make([]Classification, 0, len(arr))
	for _, it := range arr {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Classification{
			FileName:   str(m["fileName"], ""),
			StudyType:  str(m["studyType"], ""),
			Confidence: num(m["confidence"]),
			Reasoning:  str(m["reasoning"], ""),
		})
	}
	return out
}
