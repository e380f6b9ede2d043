package batches

import (
	"context"
	"time"

	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// Analyzer port (interface for the opaque per-study analysis step).
// Analyze is invoked exactly once per study; a data problem is signalled
// with a *DataError, anything else counts as an unexpected failure.
type Analyzer interface {
	Analyze(ctx context.Context, studyPath string, phantom studies.Phantom) (Metrics, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer port.
type AnalyzerFunc func(ctx context.Context, studyPath string, phantom studies.Phantom) (Metrics, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, studyPath string, phantom studies.Phantom) (Metrics, error) {
	return f(ctx, studyPath, phantom)
}

// Repository port (interface for batch persistence)
type Repository interface {
	Save(ctx context.Context, b *Batch) error
	Get(ctx context.Context, id BatchID) (*Batch, error)
	Latest(ctx context.Context, limit int) ([]*Batch, error)
	Summary(ctx context.Context, since time.Time) (total, succeeded, failed int, err error)
}

// ArtifactStore port (interface for report storage)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}
