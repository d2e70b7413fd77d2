// Package usecase contains the application services that tie the ingress,
// store, broker, callback and janitor adapters together.
package usecase

import (
	"fmt"
	"io"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// FileInput is one uploaded file as parsed from the multipart form.
type FileInput struct {
	Name   string
	Reader io.Reader
}

// SubmitInput carries the validated submit fields from the handler.
type SubmitInput struct {
	Flavor    string
	RequestID string
	Model     string
	Priority  int
	Params    string
	Files     []FileInput
}

// SubmitService stages inputs, persists the pending job and publishes the
// task. Insert happens before publish so a broker outage never loses an
// accepted job silently.
type SubmitService struct {
	Registry *domain.Registry
	Jobs     domain.JobStore
	Tasks    domain.TaskQueue
	Staging  domain.StagingStore
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(reg *domain.Registry, jobs domain.JobStore, tasks domain.TaskQueue, staging domain.StagingStore) SubmitService {
	return SubmitService{Registry: reg, Jobs: jobs, Tasks: tasks, Staging: staging}
}

// Submit runs the full ingress flow and returns the created job. Duplicate
// ids roll back any staged files and surface ErrConflict; a publish failure
// after the insert marks the job failed and surfaces ErrUnavailable.
func (s SubmitService) Submit(ctx domain.Context, in SubmitInput) (domain.Job, error) {
	f, err := s.Registry.Lookup(in.Flavor)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%w: unknown flavor %q", domain.ErrInvalidArgument, in.Flavor)
	}
	if len(in.Files) != f.FileInputs {
		return domain.Job{}, fmt.Errorf("%w: flavor %s expects %d file(s), got %d", domain.ErrInvalidArgument, f.Name, f.FileInputs, len(in.Files))
	}
	if f.ParamsRequired && strings.TrimSpace(in.Params) == "" {
		return domain.Job{}, fmt.Errorf("%w: flavor %s requires params", domain.ErrInvalidArgument, f.Name)
	}

	id := in.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	priority := in.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return domain.Job{}, fmt.Errorf("%w: priority must be 1..10", domain.ErrInvalidArgument)
	}

	staged, err := s.stage(ctx, id, f, in.Files)
	if err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	j := domain.Job{
		ID:        id,
		Flavor:    f.Name,
		Params:    in.Params,
		Priority:  priority,
		Model:     in.Model,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(staged) > 0 {
		j.PrimaryPath = staged[0]
	}
	if len(staged) > 1 {
		j.SecondaryPath = staged[1]
	}

	if err := s.Jobs.Create(ctx, j); err != nil {
		s.unstage(staged)
		return domain.Job{}, err
	}

	task := domain.TaskMessage{
		RequestID:     j.ID,
		Flavor:        j.Flavor,
		PrimaryPath:   j.PrimaryPath,
		SecondaryPath: j.SecondaryPath,
		Params:        j.Params,
		Model:         j.Model,
		Priority:      j.Priority,
	}
	if err := s.Tasks.PublishTask(ctx, f.TaskQueue, task); err != nil {
		slog.Error("task publish failed after insert",
			slog.String("request_id", j.ID), slog.String("flavor", j.Flavor), slog.Any("error", err))
		if _, uerr := s.Jobs.AdvanceStatus(ctx, j.ID, domain.JobFailed, "", "task publish failed"); uerr != nil {
			slog.Error("failed to mark job failed", slog.String("request_id", j.ID), slog.Any("error", uerr))
		}
		return domain.Job{}, fmt.Errorf("%w: broker publish failed", domain.ErrUnavailable)
	}

	observability.SubmitJob(j.Flavor)
	slog.Info("job accepted", slog.String("request_id", j.ID), slog.String("flavor", j.Flavor), slog.Int("priority", j.Priority))
	return j, nil
}

// stage writes the uploads to the staging area. Slot numbering starts at 1
// only for two-input flavors.
func (s SubmitService) stage(ctx domain.Context, id string, f domain.Flavor, files []FileInput) ([]string, error) {
	var staged []string
	for i, file := range files {
		slot := 0
		if f.FileInputs == 2 {
			slot = i + 1
		}
		path, err := s.Staging.Save(ctx, id, slot, file.Name, file.Reader)
		if err != nil {
			s.unstage(staged)
			return nil, fmt.Errorf("op=submit.stage: %w", err)
		}
		staged = append(staged, path)
	}
	return staged, nil
}

func (s SubmitService) unstage(paths []string) {
	for _, p := range paths {
		if err := s.Staging.Remove(p); err != nil {
			slog.Warn("staged file cleanup failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}
