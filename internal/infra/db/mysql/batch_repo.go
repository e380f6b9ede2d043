package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Save insert/update a batch and rewrite its outcome rows
func (r *BatchRepository) Save(ctx context.Context, b *domain.Batch) error {
	const q = `
INSERT INTO cbct_batches
(id, phantom, root, status, started_at, finished_at,
 success_count, failure_count, report_url)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), finished_at=VALUES(finished_at),
 success_count=VALUES(success_count), failure_count=VALUES(failure_count),
 report_url=VALUES(report_url);
`
	started := b.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, q,
		b.ID, stringOrDash(string(b.Phantom)), b.Root, stringOrDash(string(b.Status)),
		started, b.FinishedAt,
		b.SuccessCount, b.FailureCount, b.ReportURL,
	); err != nil {
		return err
	}

	// Outcomes are write-once per batch; rewriting keeps a re-saved batch
	// consistent with its rows.
	if _, err := tx.ExecContext(ctx, `DELETE FROM cbct_outcomes WHERE batch_id=?;`, b.ID); err != nil {
		return err
	}

	const oq = `
INSERT INTO cbct_outcomes
(batch_id, seq, study_path, status, metrics_json, error_kind, error_message, duration_ms)
VALUES (?,?,?,?,?,?,?,?);
`
	for i, o := range b.Outcomes {
		metrics, err := marshalMetrics(o.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics for %s: %w", o.StudyPath, err)
		}
		if _, err := tx.ExecContext(ctx, oq,
			b.ID, i, o.StudyPath, string(o.Status), metrics,
			string(o.ErrorKind), o.ErrorMessage, o.DurationMS,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get by ID, outcomes in their original input order
func (r *BatchRepository) Get(ctx context.Context, id domain.BatchID) (*domain.Batch, error) {
	const q = `
SELECT id, phantom, root, status, started_at, finished_at,
       success_count, failure_count, report_url
FROM cbct_batches
WHERE id=? LIMIT 1;
`
	b, err := scanBatch(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}

	const oq = `
SELECT study_path, status, metrics_json, error_kind, error_message, duration_ms
FROM cbct_outcomes
WHERE batch_id=? ORDER BY seq;
`
	rows, err := r.db.QueryContext(ctx, oq, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		b.Outcomes = append(b.Outcomes, o)
	}
	return b, rows.Err()
}

// Latest batches, most recent first, outcome rows omitted
func (r *BatchRepository) Latest(ctx context.Context, limit int) ([]*domain.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, phantom, root, status, started_at, finished_at,
       success_count, failure_count, report_url
FROM cbct_batches
ORDER BY started_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Summary totals study outcomes across batches started since the cutoff
func (r *BatchRepository) Summary(ctx context.Context, since time.Time) (int, int, int, error) {
	const q = `
SELECT COUNT(*) AS total_batches,
       COALESCE(SUM(success_count),0) AS succeeded,
       COALESCE(SUM(failure_count),0) AS failed
FROM cbct_batches
WHERE started_at >= ?;
`
	var total, succeeded, failed int
	if err := r.db.QueryRowContext(ctx, q, since).Scan(&total, &succeeded, &failed); err != nil {
		return 0, 0, 0, err
	}
	return total, succeeded, failed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	var phantom, status string
	if err := row.Scan(
		&b.ID, &phantom, &b.Root, &status, &b.StartedAt, &b.FinishedAt,
		&b.SuccessCount, &b.FailureCount, &b.ReportURL,
	); err != nil {
		return nil, err
	}
	b.Phantom = studies.Phantom(phantom)
	b.Status = domain.Status(status)
	return &b, nil
}

func scanOutcome(row rowScanner) (domain.Outcome, error) {
	var o domain.Outcome
	var status, kind, metrics string
	if err := row.Scan(&o.StudyPath, &status, &metrics, &kind, &o.ErrorMessage, &o.DurationMS); err != nil {
		return domain.Outcome{}, err
	}
	o.Status = domain.Status(status)
	o.ErrorKind = domain.ErrorKind(kind)
	if metrics != "" && metrics != "null" {
		if err := json.Unmarshal([]byte(metrics), &o.Metrics); err != nil {
			return domain.Outcome{}, err
		}
	}
	return o, nil
}

func marshalMetrics(m domain.Metrics) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
