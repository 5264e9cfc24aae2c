package analysis

import (
	"math"
	"time"
)

// Phase names reported to clients.
const (
	PhasePDFProcessing       = "pdf_processing"
	PhaseStudyClassification = "study_classification"
	PhaseBiasAnalysis        = "bias_analysis"
	PhaseCompleted           = "completed"
	PhaseFailed              = "failed"
	PhaseTimeout             = "timeout"
	PhaseAborted             = "aborted"
	PhaseUnknown             = "unknown"
	PhaseError               = "error"
)

// Progress is the coarse, client-facing view of an execution.
// It is derived from wall-clock time only; the workflow emits no progress signal.
type Progress struct {
	Phase        string
	Percent      int
	Description  string
	IsComplete   bool
	HasError     bool
	ErrorMessage string
}

// running progress never claims more than this until the workflow finishes.
const runningCeiling = 90.0

// DerivePhase maps an execution snapshot to a phase and progress estimate at now.
func DerivePhase(exec Execution, now time.Time) Progress {
	switch exec.Status {
	case StatusRunning:
		var elapsed float64
		if !exec.StartDate.IsZero() {
			elapsed = now.Sub(exec.StartDate).Minutes()
		} else {
			elapsed = float64(now.UnixMilli()) / 60000
		}
		switch {
		case elapsed < 2:
			return Progress{
				Phase:       PhasePDFProcessing,
				Percent:     roundPercent(math.Min(runningCeiling, elapsed/2*100)),
				Description: "Processing PDF documents and extracting text...",
			}
		case elapsed < 5:
			return Progress{
				Phase:       PhaseStudyClassification,
				Percent:     roundPercent(math.Min(runningCeiling, (elapsed-2)/3*100)),
				Description: "Classifying study types using AI...",
			}
		default:
			return Progress{
				Phase:       PhaseBiasAnalysis,
				Percent:     roundPercent(math.Min(runningCeiling, (elapsed-5)/10*100)),
				Description: "Performing JBI bias analysis...",
			}
		}
	case StatusSucceeded:
		return Progress{
			Phase:       PhaseCompleted,
			Percent:     100,
			Description: "Analysis completed successfully!",
			IsComplete:  true,
		}
	case StatusFailed:
		msg := exec.Error
		if msg == "" {
			msg = "Unknown error occurred"
		}
		return Progress{
			Phase:        PhaseFailed,
			Description:  "Analysis failed",
			HasError:     true,
			ErrorMessage: msg,
		}
	case StatusTimedOut:
		return Progress{
			Phase:        PhaseTimeout,
			Description:  "Analysis timed out",
			HasError:     true,
			ErrorMessage: "The analysis took too long to complete",
		}
	case StatusAborted:
		return Progress{
			Phase:        PhaseAborted,
			Description:  "Analysis was aborted",
			HasError:     true,
			ErrorMessage: "The analysis was manually aborted",
		}
	default:
		return Progress{Phase: PhaseUnknown}
	}
}

func roundPercent(v float64) int {
	if v < 0 {
		return 0
	}
	return int(math.Round(v))
}

// PhaseInfo is display metadata for a phase.
type PhaseInfo struct {
	Title         string
	Description   string
	EstimatedTime string
}

var phaseCatalogue = map[string]PhaseInfo{
	PhasePDFProcessing: {
		Title:         "PDF Processing",
		Description:   "Extracting text from uploaded documents",
		EstimatedTime: "2-3 minutes",
	},
	PhaseStudyClassification: {
		Title:         "Study Classification",
		Description:   "AI agents analyzing study types and methodologies",
		EstimatedTime: "3-5 minutes",
	},
	PhaseBiasAnalysis: {
		Title:         "Bias Analysis",
		Description:   "Applying JBI criteria for systematic bias assessment",
		EstimatedTime: "5-10 minutes",
	},
	PhaseCompleted: {
		Title:         "Analysis Complete",
		Description:   "All processing steps finished successfully",
		EstimatedTime: "Complete",
	},
	PhaseFailed: {
		Title:         "Analysis Failed",
		Description:   "An error occurred during processing",
		EstimatedTime: "Failed",
	},
	PhaseError: {
		Title:         "Error",
		Description:   "Unable to check analysis status",
		EstimatedTime: "Error",
	},
}

// LookupPhase returns display metadata for phase, falling back to the error entry.
func LookupPhase(phase string) PhaseInfo {
	if info, ok := phaseCatalogue[phase]; ok {
		return info
	}
	return phaseCatalogue[PhaseError]
}
