package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/domain/studies"
)

type BatchRepository struct{ db *sql.DB }

func NewBatchRepository(db *sql.DB) *BatchRepository { return &BatchRepository{db: db} }

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		return nil, err
	}
	return db, nil
}

// Save insert/update a batch and rewrite its outcome rows
func (r *BatchRepository) Save(ctx context.Context, b *domain.Batch) error {
	const q = `
INSERT INTO cbct_batches
(id, phantom, root, status, started_at, finished_at,
 success_count, failure_count, report_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 finished_at = EXCLUDED.finished_at,
 success_count = EXCLUDED.success_count,
 failure_count = EXCLUDED.failure_count,
 report_url = EXCLUDED.report_url;`

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

	if _, err := tx.ExecContext(ctx, `DELETE FROM cbct_outcomes WHERE batch_id=$1;`, b.ID); err != nil {
		return err
	}

	const oq = `
INSERT INTO cbct_outcomes
(batch_id, seq, study_path, status, metrics_json, error_kind, error_message, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	for i, o := range b.Outcomes {
		var metrics string
		if len(o.Metrics) > 0 {
			raw, err := json.Marshal(o.Metrics)
			if err != nil {
				return fmt.Errorf("marshal metrics for %s: %w", o.StudyPath, err)
			}
			metrics = string(raw)
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
WHERE id=$1
LIMIT 1;`
	b, err := scanBatchRow(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}

	const oq = `
SELECT study_path, status, metrics_json, error_kind, error_message, duration_ms
FROM cbct_outcomes
WHERE batch_id=$1 ORDER BY seq;`
	rows, err := r.db.QueryContext(ctx, oq, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.Outcome
		var status, kind, metrics string
		if err := rows.Scan(&o.StudyPath, &status, &metrics, &kind, &o.ErrorMessage, &o.DurationMS); err != nil {
			return nil, err
		}
		o.Status = domain.Status(status)
		o.ErrorKind = domain.ErrorKind(kind)
		if metrics != "" && metrics != "null" {
			if err := json.Unmarshal([]byte(metrics), &o.Metrics); err != nil {
				return nil, err
			}
		}
		b.Outcomes = append(b.Outcomes, o)
	}
	return b, rows.Err()
}

// Latest batches, most recent first
func (r *BatchRepository) Latest(ctx context.Context, limit int) ([]*domain.Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, phantom, root, status, started_at, finished_at,
       success_count, failure_count, report_url
FROM cbct_batches
ORDER BY started_at DESC
LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Batch
	for rows.Next() {
		b, err := scanBatchRow(rows)
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
WHERE started_at >= $1;`
	var total, succeeded, failed int
	if err := r.db.QueryRowContext(ctx, q, since).Scan(&total, &succeeded, &failed); err != nil {
		return 0, 0, 0, err
	}
	return total, succeeded, failed, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanBatchRow(row rowScanner) (*domain.Batch, error) {
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

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
