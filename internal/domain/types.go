package domain

// BatchStatus tracks the lifecycle of one conversion batch.
type BatchStatus string

const (
	BatchStatusIdle       BatchStatus = "idle"
	BatchStatusRunning    BatchStatus = "running"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusFinished   BatchStatus = "finished"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir string `json:"outputDir"`
}

// ConversionJob is one input-file-to-output-file unit within a batch.
// Immutable once created.
type ConversionJob struct {
	InputPath  string `json:"inputPath"`
	OutputPath string `json:"outputPath"`
}

// ProgressSnapshot is the latest progress sample for the active job.
// Each new sample supersedes the previous one; no history is kept.
type ProgressSnapshot struct {
	Fraction       float64 `json:"fraction"`
	OutTimeSeconds float64 `json:"outTimeSeconds"`
	ETASeconds     float64 `json:"etaSeconds"`
	HasETA         bool    `json:"hasEta"`
	Speed          string  `json:"speed,omitempty"`
}

// BatchState is a read-only mirror of the orchestrator's state for the
// presentation layer. The orchestrator owns the mutable original.
type BatchState struct {
	ID                string           `json:"id"`
	Status            BatchStatus      `json:"status"`
	Total             int              `json:"total"`
	Completed         int              `json:"completed"`
	CurrentIndex      int              `json:"currentIndex"`
	CurrentFile       string           `json:"currentFile"`
	Current           ProgressSnapshot `json:"current"`
	AggregateFraction float64          `json:"aggregateFraction"`
	Errors            []string         `json:"errors,omitempty"`
	CancelRequested   bool             `json:"cancelRequested"`
}
