package batches

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
	"github.com/medphys/bulkcbct/internal/report"
)

// Service implements use-cases for batch phantom analysis.
// Service is designed to be used concurrently and is thread-safe as long
// as the injected Analyzer is.
type Service struct {
	Scanner   studies.Scanner
	Analyzer  domain.Analyzer
	Repo      domain.Repository
	Artifacts domain.ArtifactStore
	Clock     Clock
}

// Clock abstraction so the service is easy to test
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

//
// ==== CORE ORCHESTRATOR ====
//

// RunBatch drives the analyzer over every study in inventory order,
// exactly once per study. A failure for one study is converted into a
// failed Outcome and never prevents the remaining studies from being
// attempted. Cancellation is cooperative: the context is checked between
// studies only, so already-completed outcomes are preserved and unstarted
// studies are simply not attempted.
func RunBatch(ctx context.Context, inv *studies.Inventory, phantom studies.Phantom, analyzer domain.Analyzer, clock Clock) *domain.Batch {
	if clock == nil {
		clock = SystemClock{}
	}

	b := &domain.Batch{
		ID:        newBatchID(phantom),
		Phantom:   phantom,
		Root:      inv.Root,
		Status:    domain.StatusRunning,
		StartedAt: clock.Now(),
	}

	for _, study := range inv.Studies {
		if ctx.Err() != nil {
			break
		}

		start := clock.Now()
		metrics, err := analyze(ctx, analyzer, study.Path, phantom)

		outcome := domain.Outcome{
			StudyPath:  study.Path,
			DurationMS: clock.Now().Sub(start).Milliseconds(),
		}
		if err != nil {
			outcome.Status = domain.StatusFailed
			outcome.ErrorKind = domain.KindOf(err)
			outcome.ErrorMessage = err.Error()
		} else {
			outcome.Status = domain.StatusSuccess
			outcome.Metrics = metrics
		}
		b.Outcomes = append(b.Outcomes, outcome)
	}

	// Counts are derived in a single pass so they always agree with the
	// outcomes actually recorded.
	for _, o := range b.Outcomes {
		if o.Status == domain.StatusSuccess {
			b.SuccessCount++
		} else {
			b.FailureCount++
		}
	}

	b.FinishedAt = clock.Now()
	b.Status = domain.StatusCompleted
	return b
}

// analyze invokes the opaque analyzer for one study, converting a panic
// into an ordinary error so one bad study cannot take down the batch.
func analyze(ctx context.Context, analyzer domain.Analyzer, studyPath string, phantom studies.Phantom) (m domain.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return analyzer.Analyze(ctx, studyPath, phantom)
}

func newBatchID(phantom studies.Phantom) domain.BatchID {
	return domain.BatchID(fmt.Sprintf("%s-%s", uuid.New().String(), phantom))
}

//
// ==== USE CASES ====
//

// Command to trigger a batch
type TriggerBatchCommand struct {
	Root           string
	Phantom        string
	Extensions     []string
	FollowSymlinks bool
	NestedSeries   bool
}

type TriggerBatchResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StudyCount   int    `json:"study_count"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	ReportURL    string `json:"report_url"`
	DurationMS   int64  `json:"duration_ms"`
}

// TriggerBatchUntilDone runs the batch with context.Background(),
// meant to be called from a goroutine in the router so it is not killed
// by the request context being cancelled.
func (s *Service) TriggerBatchUntilDone(cmd TriggerBatchCommand) (TriggerBatchResult, error) {
	return s.TriggerBatch(context.Background(), cmd)
}

// TriggerBatch scans the root, runs the analyzer over the inventory,
// publishes the XML report, and persists the batch.
func (s *Service) TriggerBatch(ctx context.Context, cmd TriggerBatchCommand) (TriggerBatchResult, error) {
	phantom, err := studies.ParsePhantom(cmd.Phantom)
	if err != nil {
		return TriggerBatchResult{}, fmt.Errorf("%w: %s", err, cmd.Phantom)
	}

	inv, err := s.Scanner.Scan(cmd.Root, studies.ScanOptions{
		Extensions:     cmd.Extensions,
		FollowSymlinks: cmd.FollowSymlinks,
		NestedSeries:   cmd.NestedSeries,
	})
	if err != nil {
		return TriggerBatchResult{}, err
	}

	return s.AnalyzeInventory(ctx, inv, phantom)
}

// AnalyzeInventory runs one batch over an already-built inventory.
func (s *Service) AnalyzeInventory(ctx context.Context, inv *studies.Inventory, phantom studies.Phantom) (TriggerBatchResult, error) {
	batch := RunBatch(ctx, inv, phantom, s.Analyzer, s.Clock)

	if s.Artifacts != nil {
		if url, err := s.publishReport(ctx, batch); err == nil {
			batch.ReportURL = url
		} else {
			// The batch itself completed; a report upload problem must not
			// discard its outcomes.
			log.Printf("report upload failed batch=%s: %v", batch.ID, err)
		}
	}

	if s.Repo != nil {
		if err := s.Repo.Save(ctx, batch); err != nil {
			return resultOf(batch), err
		}
	}

	return resultOf(batch), nil
}

// publishReport renders the XML report to a temp file and uploads it.
func (s *Service) publishReport(ctx context.Context, batch *domain.Batch) (string, error) {
	doc, err := report.Render(batch)
	if err != nil {
		return "", err
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("%s.xml", batch.ID))
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return "", err
	}

	key := fmt.Sprintf("reports/%s/%s.xml", batch.Phantom, batch.ID)
	url, err := s.Artifacts.UploadAndCleanup(ctx, tmp, key)
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	return url, nil
}

func resultOf(b *domain.Batch) TriggerBatchResult {
	return TriggerBatchResult{
		ID:           string(b.ID),
		Status:       string(b.Status),
		StudyCount:   len(b.Outcomes),
		SuccessCount: b.SuccessCount,
		FailureCount: b.FailureCount,
		ReportURL:    b.ReportURL,
		DurationMS:   b.Duration().Milliseconds(),
	}
}

// Latest returns the N most recent batches.
func (s *Service) Latest(ctx context.Context, limit int) ([]*domain.Batch, error) {
	return s.Repo.Latest(ctx, limit)
}

// Get returns one batch by id.
func (s *Service) Get(ctx context.Context, id domain.BatchID) (*domain.Batch, error) {
	return s.Repo.Get(ctx, id)
}

// Summary recaps batch results over the last N days.
func (s *Service) Summary(ctx context.Context, sinceDays int) (map[string]any, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	since := s.Clock.Now().AddDate(0, 0, -sinceDays)
	total, succeeded, failed, err := s.Repo.Summary(ctx, since)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_batches":   total,
		"studies_success": succeeded,
		"studies_failed":  failed,
	}, nil
}
