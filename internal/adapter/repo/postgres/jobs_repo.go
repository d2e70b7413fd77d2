package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobRepo persists and loads jobs from the manager table. It implements
// domain.JobStore.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const uniqueViolation = "23505"

// Create inserts a new pending job. A duplicate id maps to ErrConflict.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "manager"),
		attribute.String("job.flavor", j.Flavor),
	)
	now := time.Now().UTC()
	q := `INSERT INTO manager (id, flavor, priority, primary_path, secondary_path, params, model, status, result, error, webhook_retry_count, webhook_status_code, itime, utime)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'','',0,NULL,$9,$9)`
	_, err := r.Pool.Exec(ctx, q, j.ID, j.Flavor, j.Priority, j.PrimaryPath, j.SecondaryPath, j.Params, j.Model, domain.JobPending, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("op=job.create: id %s: %w", j.ID, domain.ErrConflict)
		}
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT id, flavor, priority, primary_path, secondary_path, params, model, status, result, error, webhook_retry_count, webhook_status_code, itime, utime FROM manager WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var j domain.Job
	if err := row.Scan(&j.ID, &j.Flavor, &j.Priority, &j.PrimaryPath, &j.SecondaryPath, &j.Params, &j.Model, &j.Status, &j.Result, &j.Error, &j.WebhookRetryCount, &j.WebhookStatusCode, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// AdvanceStatus applies a monotonic status update. The WHERE clause ranks
// the stored status so regressions and terminal overwrites touch zero rows;
// the returned bool reports whether the update was applied. result is only
// stored for completed and errMsg only for failed, keeping the row's
// result/error fields tied to its terminal state.
func (r *JobRepo) AdvanceStatus(ctx domain.Context, id string, status domain.JobStatus, result, errMsg string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.AdvanceStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", id),
		attribute.String("job.status", string(status)),
	)
	if !status.Valid() || status == domain.JobPending {
		return false, fmt.Errorf("op=job.advance_status: %w: status %q", domain.ErrInvalidArgument, status)
	}
	if status != domain.JobCompleted {
		result = ""
	}
	if status != domain.JobFailed {
		errMsg = ""
	}
	q := `UPDATE manager SET status=$2, result=$3, error=$4, utime=$5
	      WHERE id=$1 AND (CASE status WHEN 'pending' THEN 0 WHEN 'in_progress' THEN 1 ELSE 2 END) < $6`
	tag, err := r.Pool.Exec(ctx, q, id, status, result, errMsg, time.Now().UTC(), status.Rank())
	if err != nil {
		return false, fmt.Errorf("op=job.advance_status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordWebhook stores the HTTP status code of the last callback attempt and
// optionally bumps the retry counter. A zero statusCode (transport failure)
// is stored as NULL.
func (r *JobRepo) RecordWebhook(ctx domain.Context, id string, statusCode int, incrementRetry bool) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RecordWebhook")
	defer span.End()
	bump := 0
	if incrementRetry {
		bump = 1
	}
	q := `UPDATE manager SET webhook_status_code=NULLIF($2,0), webhook_retry_count=webhook_retry_count+$3, utime=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, statusCode, bump, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.record_webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.record_webhook: %w", domain.ErrNotFound)
	}
	return nil
}

// FailStalePending marks pending rows created before cutoff as failed.
// These are rows whose task publish never happened or whose task message was
// lost; the janitor calls this on its daily sweep.
func (r *JobRepo) FailStalePending(ctx domain.Context, cutoff time.Time, reason string) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FailStalePending")
	defer span.End()
	q := `UPDATE manager SET status=$1, error=$2, utime=$3 WHERE status=$4 AND itime < $5`
	tag, err := r.Pool.Exec(ctx, q, domain.JobFailed, reason, time.Now().UTC(), domain.JobPending, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stale_pending: %w", err)
	}
	return tag.RowsAffected(), nil
}
