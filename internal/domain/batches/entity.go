package batches

import (
	"time"

	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// ID tipe for a batch run
type BatchID string

// Status enum
type Status string

const (
	// Per-batch lifecycle.
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"

	// Per-outcome results.
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ErrorKind classifies a failed outcome so operators can tell bad data
// from a tooling bug.
type ErrorKind string

const (
	ErrorKindData       ErrorKind = "data"
	ErrorKindUnexpected ErrorKind = "unexpected"
)

// Metrics is the analyzer output for one study. The orchestrator never
// inspects it; it is forwarded as-is into the report.
type Metrics map[string]any

// Outcome records the result of analyzing one study.
type Outcome struct {
	StudyPath    string    `json:"study_path"`
	Status       Status    `json:"status"`
	Metrics      Metrics   `json:"metrics,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// Aggregate Root: Batch — one orchestrator run over one inventory with
// one phantom choice. Immutable once returned by the orchestrator.
type Batch struct {
	ID           BatchID         `json:"id"`
	Phantom      studies.Phantom `json:"phantom"`
	Root         string          `json:"root,omitempty"`
	Status       Status          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Outcomes     []Outcome       `json:"outcomes"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	ReportURL    string          `json:"report_url,omitempty"`
}

// Duration returns the wall-clock time spanned by the whole batch.
func (b *Batch) Duration() time.Duration {
	return b.FinishedAt.Sub(b.StartedAt)
}
