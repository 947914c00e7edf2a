// Package tryon defines the try-on state machine vocabulary and result types
// shared by the embedded session controller and the progressive orchestrator.
package tryon

import "time"

// Step is the embedded session controller's current state. Exactly one step
// is active at a time; transitions are one-directional except for the explicit
// retry reset to StepPhoto.
type Step string

const (
	StepPhoto      Step = "photo"
	StepPreview    Step = "preview"
	StepProcessing Step = "processing"
	// StepOutcome is the "result" state. The identifier diverges from the
	// wire value so the progressive trail entry below can keep StepResult.
	StepOutcome Step = "result"
	StepError   Step = "error"
)

// allowedTransitions encodes the full state graph. From processing the only
// reachable states are result and error.
var allowedTransitions = map[Step][]Step{
	StepPhoto:      {StepPreview},
	StepPreview:    {StepProcessing, StepPhoto},
	StepProcessing: {StepOutcome, StepError},
	StepOutcome:    {StepPhoto},
	StepError:      {StepPhoto},
}

// CanTransition reports whether moving from one step to another is legal.
func CanTransition(from, to Step) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Result is created once per successful processing run and never mutated.
type Result struct {
	SessionID      string    `json:"sessionId"`
	ImageURL       string    `json:"imageUrl"`
	ThumbnailURL   string    `json:"thumbnailUrl,omitempty"`
	DownloadURL    string    `json:"downloadUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ProcessingTime int64     `json:"processingTime"` // milliseconds
}

// Garment is one item in a progressive multi-garment run.
type Garment struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Category      string `json:"category,omitempty"`
	ImageURL      string `json:"imageUrl"`
	Specification string `json:"specification,omitempty"`
}

// StepResult is one entry of the progressive step trail: the image produced by
// applying garment StepNumber onto the previous step's output.
type StepResult struct {
	StepNumber     int     `json:"stepNumber"` // 1-based
	Garment        Garment `json:"garment"`
	ImageURL       string  `json:"imageUrl"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// Progress is the {completed,total} counter surfaced to the UI. Monotonically
// non-decreasing within one orchestration run.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// RunResult aggregates one progressive orchestration run. Steps is append-only
// during the run; a mid-chain failure truncates the run but keeps the steps
// already produced. FailedStep is the 1-based index of the failing step, zero
// when the whole chain succeeded.
type RunResult struct {
	Steps      []StepResult `json:"steps"`
	Final      *Result      `json:"final,omitempty"`
	FailedStep int          `json:"failedStep,omitempty"`
}
