package ai

import (
	"context"

	"github.com/medphys/bulkcbct/internal/domain/batches"
)

// Client produces operator guidance for a finished batch: which failures
// look like bad study data and which look like a tooling problem.
type Client interface {
	Triage(ctx context.Context, batch *batches.Batch) (string, error)
}
