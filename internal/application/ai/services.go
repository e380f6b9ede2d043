package ai

import (
	"context"

	"github.com/medphys/bulkcbct/internal/domain/ai"
	"github.com/medphys/bulkcbct/internal/domain/batches"
)

type Service struct {
	client ai.Client
}

func NewService(client ai.Client) *Service {
	return &Service{client: client}
}

// Triage asks the model to group a batch's failures into data problems
// versus tooling problems and suggest operator actions.
func (s *Service) Triage(ctx context.Context, batch *batches.Batch) (string, error) {
	return s.client.Triage(ctx, batch)
}
