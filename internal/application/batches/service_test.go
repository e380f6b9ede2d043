package batches

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

func inventoryOf(n int) *studies.Inventory {
	inv := &studies.Inventory{Root: "/data/cbct", GeneratedAt: time.Now()}
	for i := 0; i < n; i++ {
		inv.Studies = append(inv.Studies, studies.StudyRecord{
			Path:      fmt.Sprintf("/data/cbct/study%02d", i),
			FileCount: 10,
		})
	}
	return inv
}

func TestRunBatchReturnsOneOutcomePerStudyInOrder(t *testing.T) {
	inv := inventoryOf(5)
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		return domain.Metrics{"source": path}, nil
	})

	b := RunBatch(context.Background(), inv, studies.PhantomCatPhan504, analyzer, nil)

	require.Len(t, b.Outcomes, 5)
	for i, o := range b.Outcomes {
		assert.Equal(t, inv.Studies[i].Path, o.StudyPath)
		assert.Equal(t, domain.StatusSuccess, o.Status)
		assert.Equal(t, inv.Studies[i].Path, o.Metrics["source"])
	}
	assert.Equal(t, 5, b.SuccessCount)
	assert.Equal(t, 0, b.FailureCount)
	assert.Equal(t, domain.StatusCompleted, b.Status)
	assert.Equal(t, studies.PhantomCatPhan504, b.Phantom)
}

func TestRunBatchIsolatesSingleFailure(t *testing.T) {
	inv := inventoryOf(4)
	bad := inv.Studies[2].Path
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		if path == bad {
			return nil, domain.NewDataError("too few slices: 12")
		}
		return domain.Metrics{"uniformity_passed": true}, nil
	})

	b := RunBatch(context.Background(), inv, studies.PhantomCatPhan600, analyzer, nil)

	require.Len(t, b.Outcomes, 4)
	assert.Equal(t, 3, b.SuccessCount)
	assert.Equal(t, 1, b.FailureCount)

	failed := b.Outcomes[2]
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.ErrorKindData, failed.ErrorKind)
	assert.Equal(t, "too few slices: 12", failed.ErrorMessage)
	assert.Nil(t, failed.Metrics)

	for i, o := range b.Outcomes {
		if i == 2 {
			continue
		}
		assert.Equal(t, domain.StatusSuccess, o.Status, "study %d must not be affected", i)
		assert.Equal(t, true, o.Metrics["uniformity_passed"])
	}
}

func TestRunBatchAllFailuresStillReturns(t *testing.T) {
	inv := inventoryOf(3)
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		return nil, errors.New("analyzer crashed")
	})

	b := RunBatch(context.Background(), inv, studies.PhantomCatPhan503, analyzer, nil)

	require.Len(t, b.Outcomes, 3)
	assert.Equal(t, 0, b.SuccessCount)
	assert.Equal(t, 3, b.FailureCount)
	for _, o := range b.Outcomes {
		assert.Equal(t, domain.ErrorKindUnexpected, o.ErrorKind)
	}
}

func TestRunBatchRecoversAnalyzerPanic(t *testing.T) {
	inv := inventoryOf(2)
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		if path == inv.Studies[0].Path {
			panic("index out of range")
		}
		return domain.Metrics{}, nil
	})

	b := RunBatch(context.Background(), inv, studies.PhantomCatPhan700, analyzer, nil)

	require.Len(t, b.Outcomes, 2)
	assert.Equal(t, domain.StatusFailed, b.Outcomes[0].Status)
	assert.Equal(t, domain.ErrorKindUnexpected, b.Outcomes[0].ErrorKind)
	assert.Contains(t, b.Outcomes[0].ErrorMessage, "index out of range")
	assert.Equal(t, domain.StatusSuccess, b.Outcomes[1].Status)
}

func TestRunBatchStopsBetweenStudiesOnCancel(t *testing.T) {
	inv := inventoryOf(4)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return domain.Metrics{}, nil
	})

	b := RunBatch(ctx, inv, studies.PhantomCatPhan504, analyzer, nil)

	// The study in flight when cancel fires still completes; the rest
	// are never attempted.
	assert.Equal(t, 2, calls)
	require.Len(t, b.Outcomes, 2)
	assert.Equal(t, 2, b.SuccessCount)
	assert.Equal(t, domain.StatusCompleted, b.Status)
}

func TestRunBatchEmptyInventory(t *testing.T) {
	b := RunBatch(context.Background(), inventoryOf(0), studies.PhantomCatPhan504,
		domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
			t.Fatal("analyzer must not be called for an empty inventory")
			return nil, nil
		}), nil)

	assert.Empty(t, b.Outcomes)
	assert.Equal(t, 0, b.SuccessCount)
	assert.Equal(t, 0, b.FailureCount)
}

func TestRunBatchAssignsUniqueIDs(t *testing.T) {
	inv := inventoryOf(1)
	analyzer := domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
		return domain.Metrics{}, nil
	})

	a := RunBatch(context.Background(), inv, studies.PhantomCatPhan504, analyzer, nil)
	b := RunBatch(context.Background(), inv, studies.PhantomCatPhan504, analyzer, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, string(a.ID), string(studies.PhantomCatPhan504))
}

// memoryRepo is an in-memory Repository for service tests.
type memoryRepo struct {
	mu      sync.Mutex
	batches map[domain.BatchID]*domain.Batch
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[domain.BatchID]*domain.Batch)}
}

func (r *memoryRepo) Save(ctx context.Context, b *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id domain.BatchID) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[id], nil
}

func (r *memoryRepo) Latest(ctx context.Context, limit int) ([]*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Batch
	for _, b := range r.batches {
		out = append(out, b)
	}
	return out, nil
}

func (r *memoryRepo) Summary(ctx context.Context, since time.Time) (int, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total, succeeded, failed := 0, 0, 0
	for _, b := range r.batches {
		total++
		succeeded += b.SuccessCount
		failed += b.FailureCount
	}
	return total, succeeded, failed, nil
}

type staticScanner struct{ inv *studies.Inventory }

func (s staticScanner) Scan(root string, opts studies.ScanOptions) (*studies.Inventory, error) {
	return s.inv, nil
}

func TestTriggerBatchPersistsResult(t *testing.T) {
	repo := newMemoryRepo()
	svc := &Service{
		Scanner: staticScanner{inv: inventoryOf(3)},
		Analyzer: domain.AnalyzerFunc(func(ctx context.Context, path string, phantom studies.Phantom) (domain.Metrics, error) {
			return domain.Metrics{"hu_passed": true}, nil
		}),
		Repo:  repo,
		Clock: SystemClock{},
	}

	res, err := svc.TriggerBatch(context.Background(), TriggerBatchCommand{
		Root:    "/data/cbct",
		Phantom: "CatPhan504",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.StudyCount)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Equal(t, string(domain.StatusCompleted), res.Status)

	saved, err := repo.Get(context.Background(), domain.BatchID(res.ID))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Outcomes, 3)
}

func TestTriggerBatchRejectsUnknownPhantom(t *testing.T) {
	svc := &Service{Scanner: staticScanner{inv: inventoryOf(1)}, Clock: SystemClock{}}

	_, err := svc.TriggerBatch(context.Background(), TriggerBatchCommand{
		Root:    "/data/cbct",
		Phantom: "CatPhan999",
	})
	assert.ErrorIs(t, err, studies.ErrUnknownPhantom)
}

func TestSummaryUsesRepoTotals(t *testing.T) {
	repo := newMemoryRepo()
	repo.batches["a"] = &domain.Batch{ID: "a", SuccessCount: 2, FailureCount: 1}
	repo.batches["b"] = &domain.Batch{ID: "b", SuccessCount: 4}

	svc := &Service{Repo: repo, Clock: SystemClock{}}
	sum, err := svc.Summary(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 2, sum["total_batches"])
	assert.Equal(t, 6, sum["studies_success"])
	assert.Equal(t, 1, sum["studies_failed"])
}
