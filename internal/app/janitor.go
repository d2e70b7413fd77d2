package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/staging"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// StagingSweep is the janitor's view of the staging store.
type StagingSweep interface {
	Entries() ([]staging.Entry, error)
	Remove(path string) error
	PruneEmptyDirs() error
}

// Janitor reclaims staged files whose jobs are done and fails rows stuck
// in pending. It runs on a cron schedule in a fixed timezone.
type Janitor struct {
	jobs       domain.JobStore
	staging    StagingSweep
	retention  time.Duration
	staleAfter time.Duration

	cron *cron.Cron
}

// NewJanitor constructs a Janitor. retention guards staged files;
// staleAfter guards pending rows.
func NewJanitor(jobs domain.JobStore, st StagingSweep, retention, staleAfter time.Duration) *Janitor {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &Janitor{jobs: jobs, staging: st, retention: retention, staleAfter: staleAfter}
}

// Start schedules the sweep. schedule is a standard 5-field cron spec
// evaluated in the named timezone.
func (j *Janitor) Start(ctx context.Context, schedule, tz string) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("op=janitor.start: %w", err)
	}
	j.cron = cron.New(cron.WithLocation(loc))
	if _, err := j.cron.AddFunc(schedule, func() { j.SweepOnce(ctx) }); err != nil {
		return fmt.Errorf("op=janitor.start: %w", err)
	}
	j.cron.Start()
	slog.Info("janitor scheduled", slog.String("schedule", schedule), slog.String("tz", tz))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// SweepOnce runs one janitor pass: remove expired staged files of terminal
// jobs and orphans, prune empty dated directories, fail stale pending rows.
func (j *Janitor) SweepOnce(ctx context.Context) {
	tracer := otel.Tracer("janitor")
	ctx, span := tracer.Start(ctx, "Janitor.SweepOnce")
	defer span.End()

	now := time.Now().UTC()
	removed := j.sweepStaging(ctx, now)

	reason := fmt.Sprintf("no worker picked this job up within %v", j.staleAfter)
	failed, err := j.jobs.FailStalePending(ctx, now.Add(-j.staleAfter), reason)
	if err != nil {
		span.RecordError(err)
		slog.Error("janitor stale-pending sweep failed", slog.Any("error", err))
	} else if failed > 0 {
		observability.JanitorJobsFailed.Add(float64(failed))
	}

	span.SetAttributes(
		attribute.Int("janitor.files_removed", removed),
		attribute.Int64("janitor.jobs_failed", failed),
	)
	slog.Info("janitor sweep done", slog.Int("files_removed", removed), slog.Int64("jobs_failed", failed))
}

func (j *Janitor) sweepStaging(ctx context.Context, now time.Time) int {
	entries, err := j.staging.Entries()
	if err != nil {
		slog.Error("janitor staging listing failed", slog.Any("error", err))
		return 0
	}
	cutoff := now.Add(-j.retention)
	removed := 0
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		job, err := j.jobs.Get(ctx, e.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Orphan: no job row owns this file.
		case err != nil:
			slog.Error("janitor job lookup failed", slog.String("request_id", e.ID), slog.Any("error", err))
			continue
		case !job.Status.Terminal():
			continue
		}
		if err := j.staging.Remove(e.Path); err != nil {
			slog.Warn("janitor remove failed", slog.String("path", e.Path), slog.Any("error", err))
			continue
		}
		observability.JanitorFilesRemoved.Inc()
		removed++
	}
	if err := j.staging.PruneEmptyDirs(); err != nil {
		slog.Warn("janitor prune failed", slog.Any("error", err))
	}
	return removed
}
