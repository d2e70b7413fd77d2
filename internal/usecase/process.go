package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// ProcessService is the worker side of the pipeline: it runs one flavor's
// executor against task deliveries and publishes result messages.
type ProcessService struct {
	Flavor     domain.Flavor
	Executor   domain.Executor
	Results    domain.ResultQueue
	ResultRoot string
}

// NewProcessService constructs a ProcessService for one flavor.
func NewProcessService(f domain.Flavor, ex domain.Executor, results domain.ResultQueue, resultRoot string) ProcessService {
	return ProcessService{Flavor: f, Executor: ex, Results: results, ResultRoot: resultRoot}
}

// Handle is the broker consumer callback for one task delivery. A nil
// return acks the task; an error leaves it unacked so the broker
// redelivers it after reconnect.
func (s ProcessService) Handle(ctx domain.Context, body []byte) error {
	var task domain.TaskMessage
	if err := json.Unmarshal(body, &task); err != nil {
		slog.Warn("dropping unparseable task message", slog.String("flavor", s.Flavor.Name), slog.Any("error", err))
		return nil
	}
	if task.RequestID == "" {
		slog.Warn("dropping task without request id", slog.String("flavor", s.Flavor.Name))
		return nil
	}

	// in_progress goes out before the executor runs. Failing here is cheap:
	// nothing has executed yet, so redelivery is safe.
	if err := s.publish(ctx, domain.ResultMessage{RequestID: task.RequestID, Status: domain.JobInProgress}); err != nil {
		return fmt.Errorf("op=process.progress: %w", err)
	}

	observability.StartJob(s.Flavor.Name)
	start := time.Now()
	outputPath, err := s.artifactPath(task.RequestID)
	var inline string
	if err == nil {
		inline, err = s.Executor.Execute(ctx, task, outputPath)
	}
	observability.ExecutorDuration.WithLabelValues(s.Flavor.Name).Observe(time.Since(start).Seconds())
	observability.EndJob(s.Flavor.Name)

	var terminal domain.ResultMessage
	if err != nil {
		slog.Error("executor failed",
			slog.String("request_id", task.RequestID), slog.String("flavor", s.Flavor.Name),
			slog.Duration("elapsed", time.Since(start)), slog.Any("error", err))
		s.removePartial(outputPath)
		terminal = domain.ResultMessage{RequestID: task.RequestID, Status: domain.JobFailed, Error: err.Error()}
	} else {
		slog.Info("executor finished",
			slog.String("request_id", task.RequestID), slog.String("flavor", s.Flavor.Name),
			slog.Duration("elapsed", time.Since(start)))
		terminal = domain.ResultMessage{RequestID: task.RequestID, Status: domain.JobCompleted}
		if s.Flavor.Artifact == domain.ArtifactFile {
			terminal.ResultPath = outputPath
		} else {
			terminal.Result = inline
		}
	}

	if err := s.publish(ctx, terminal); err != nil {
		// Unacked on purpose: the broker redelivers and the store-side
		// monotonic update makes the replay harmless.
		return fmt.Errorf("op=process.terminal: %w", err)
	}
	return nil
}

func (s ProcessService) publish(ctx domain.Context, msg domain.ResultMessage) error {
	return s.Results.PublishResult(ctx, s.Flavor.ResultQueue, msg)
}

// artifactPath returns <result_root>/<id><ext> for file flavors, creating
// the result root on first use. Inline flavors get an empty path.
func (s ProcessService) artifactPath(id string) (string, error) {
	if s.Flavor.Artifact != domain.ArtifactFile {
		return "", nil
	}
	if err := os.MkdirAll(s.ResultRoot, 0o750); err != nil {
		return "", fmt.Errorf("op=process.artifact: %w", err)
	}
	return filepath.Join(s.ResultRoot, id+s.Flavor.ArtifactExt), nil
}

func (s ProcessService) removePartial(outputPath string) {
	if outputPath == "" {
		return
	}
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("partial artifact cleanup failed", slog.String("path", outputPath), slog.Any("error", err))
	}
}
