package simulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunSummary is the listing view of a persisted run.
type RunSummary struct {
	ID            uuid.UUID `json:"run_id"`
	ProtocolID    uuid.UUID `json:"protocol_id"`
	State         string    `json:"state"`
	DrugModel     string    `json:"drug_model"`
	Enrolled      int       `json:"enrolled"`
	ResponseRate  float64   `json:"response_rate"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RunStore persists completed and failed runs. A nil store disables
// persistence.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, protocolID *uuid.UUID, limit int) ([]RunSummary, error)
}
