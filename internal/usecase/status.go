package usecase

import (
	"fmt"
	"os"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// StatusService answers job status and artifact queries.
type StatusService struct {
	Registry *domain.Registry
	Jobs     domain.JobStore
}

// NewStatusService constructs a StatusService.
func NewStatusService(reg *domain.Registry, jobs domain.JobStore) StatusService {
	return StatusService{Registry: reg, Jobs: jobs}
}

// Get returns the job by request id.
func (s StatusService) Get(ctx domain.Context, id string) (domain.Job, error) {
	return s.Jobs.Get(ctx, id)
}

// ArtifactPath returns the artifact file path of a completed file-flavor
// job. Inline flavors and non-completed jobs have no artifact.
func (s StatusService) ArtifactPath(ctx domain.Context, id string) (string, error) {
	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return "", err
	}
	f, err := s.Registry.Lookup(j.Flavor)
	if err != nil {
		return "", err
	}
	if f.Artifact != domain.ArtifactFile {
		return "", fmt.Errorf("%w: flavor %s has no file artifact", domain.ErrInvalidArgument, j.Flavor)
	}
	if j.Status != domain.JobCompleted || j.Result == "" {
		return "", fmt.Errorf("%w: artifact for %s", domain.ErrNotFound, id)
	}
	if _, err := os.Stat(j.Result); err != nil {
		return "", fmt.Errorf("%w: artifact for %s", domain.ErrNotFound, id)
	}
	return j.Result, nil
}
