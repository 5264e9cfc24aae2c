// Package report models the JBI bias assessment document produced by the analysis
// workflow and turns its historical shape variants into a single typed form.
package report

// Metadata identifies where and how a report was produced.
type Metadata struct {
	SessionID       string `json:"sessionId"`
	S3Bucket        string `json:"s3Bucket"`
	GeneratedAt     string `json:"generatedAt"`
	ReportType      string `json:"reportType"`
	LambdaRequestID string `json:"lambdaRequestId"`
	BedrockModel    string `json:"bedrockModel"`
}

// ExecutiveSummary is the narrative overview of a batch.
type ExecutiveSummary struct {
	OverallFindings      string   `json:"overallFindings"`
	InclusionRate        string   `json:"inclusionRate"`
	MajorConcerns        []string `json:"majorConcerns"`
	KeyStrengths         []string `json:"keyStrengths"`
	AssessmentConfidence string   `json:"assessmentConfidence"`
	NextSteps            []string `json:"nextSteps"`
}

// Count is one bucket of a distribution.
type Count struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// SummaryStatistics holds batch-level counts. Distributions are sorted by key.
type SummaryStatistics struct {
	TotalStudies               float64 `json:"totalStudies"`
	SuccessfulAnalyses         float64 `json:"successfulAnalyses"`
	FailedAnalyses             float64 `json:"failedAnalyses"`
	StudyTypeBreakdown         []Count `json:"studyTypeBreakdown"`
	BiasRatingDistribution     []Count `json:"biasRatingDistribution"`
	RecommendationDistribution []Count `json:"recommendationDistribution"`
	InclusionRate              string  `json:"inclusionRate"`
}

// Question is one answered item of the JBI checklist.
type Question struct {
	Number          int      `json:"number"`
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	Reasoning       string   `json:"reasoning"`
	Evidence        []string `json:"evidence"`
	BiasImplication string   `json:"biasImplication"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// OverallAssessment is the per-study verdict.
type OverallAssessment struct {
	BiasRating       string   `json:"biasRating"`
	Recommendation   string   `json:"recommendation"`
	SummaryReasoning string   `json:"summaryReasoning"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
}

// AssessmentMetadata describes the model run behind one assessment.
type AssessmentMetadata struct {
	Confidence     float64 `json:"confidence"`
	ProcessingTime string  `json:"processingTime"`
	ModelVersion   string  `json:"modelVersion"`
}

// StudyAssessment is the detailed assessment of one paper. Recommendation buckets reuse it.
type StudyAssessment struct {
	FileName           string             `json:"fileName"`
	StudyType          string             `json:"studyType"`
	CriteriaType       string             `json:"criteriaType"`
	OverallAssessment  OverallAssessment  `json:"overallAssessment"`
	Questions          []Question         `json:"jbiQuestions"`
	AssessmentMetadata AssessmentMetadata `json:"assessmentMetadata"`
	ErrorDetails       string             `json:"errorDetails,omitempty"`
}

// Recommendations groups studies by inclusion decision.
type Recommendations struct {
	HighPriorityInclusions []StudyAssessment `json:"highPriorityInclusions"`
	ConditionalInclusions  []StudyAssessment `json:"conditionalInclusions"`
	NeedsFurtherReview     []StudyAssessment `json:"needsFurtherReview"`
	ClearExclusions        []StudyAssessment `json:"clearExclusions"`
}

// Classification is the study-type verdict made before the bias analysis.
type Classification struct {
	FileName   string  `json:"fileName"`
	StudyType  string  `json:"studyType"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Report is the normalized bias assessment report.
type Report struct {
	Metadata                  Metadata          `json:"reportMetadata"`
	ExecutiveSummary          ExecutiveSummary  `json:"executiveSummary"`
	SummaryStatistics         SummaryStatistics `json:"summaryStatistics"`
	DetailedStudyAssessments  []StudyAssessment `json:"detailedStudyAssessments"`
	RecommendationsByCategory Recommendations   `json:"recommendationsByCategory"`
	OriginalClassifications   []Classification  `json:"originalClassifications"`
}

// ClassificationFor returns the classification recorded for fileName.
func (r *Report) ClassificationFor(fileName string) (Classification, bool) {
	for _, c := range r.OriginalClassifications {
		if c.FileName == fileName {
			return c, true
		}
	}
	return Classification{}, false
}

// ConfidenceLevel buckets a 0..1 confidence score.
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "High"
	case confidence >= 0.6:
		return "Medium"
	default:
		return "Low"
	}
}
