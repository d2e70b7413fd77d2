package usecase

import (
	"encoding/json"
	"errors"
	"strconv"

	"log/slog"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// ResultService consumes worker result messages: it advances the stored
// status and dispatches the tenant callback. Handle always returns nil so
// the delivery is acked; a lost update would only be re-run by an
// idempotent redelivery.
type ResultService struct {
	Jobs     domain.JobStore
	Notifier domain.Notifier
}

// NewResultService constructs a ResultService.
func NewResultService(jobs domain.JobStore, notifier domain.Notifier) ResultService {
	return ResultService{Jobs: jobs, Notifier: notifier}
}

// Handle is the broker consumer callback for one result-queue delivery.
func (s ResultService) Handle(ctx domain.Context, body []byte) error {
	var msg domain.ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("dropping unparseable result message", slog.Any("error", err))
		return nil
	}
	s.apply(ctx, msg)
	return nil
}

func (s ResultService) apply(ctx domain.Context, msg domain.ResultMessage) {
	if msg.RequestID == "" || !msg.Status.Valid() || msg.Status == domain.JobPending {
		slog.Warn("dropping malformed result message",
			slog.String("request_id", msg.RequestID), slog.String("status", string(msg.Status)))
		return
	}

	j, err := s.Jobs.Get(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("dropping result for unknown job", slog.String("request_id", msg.RequestID))
			return
		}
		slog.Error("result job load failed", slog.String("request_id", msg.RequestID), slog.Any("error", err))
		return
	}

	result := msg.Result
	if msg.ResultPath != "" {
		result = msg.ResultPath
	}

	applied, err := s.Jobs.AdvanceStatus(ctx, msg.RequestID, msg.Status, result, msg.Error)
	if err != nil {
		slog.Error("result status update failed",
			slog.String("request_id", msg.RequestID), slog.String("status", string(msg.Status)), slog.Any("error", err))
		return
	}
	if applied && msg.Status.Terminal() {
		switch msg.Status {
		case domain.JobCompleted:
			observability.CompleteJob(j.Flavor)
			slog.Info("job completed", slog.String("request_id", msg.RequestID), slog.String("flavor", j.Flavor))
		case domain.JobFailed:
			observability.FailJob(j.Flavor)
			slog.Info("job failed", slog.String("request_id", msg.RequestID), slog.String("flavor", j.Flavor), slog.String("error", msg.Error))
		}
	}

	// Duplicate or regressed in_progress messages are dropped without a
	// callback. Terminal messages always notify, so a redelivery retries a
	// webhook the tenant may have missed.
	if msg.Status == domain.JobInProgress && !applied {
		return
	}
	s.notify(ctx, msg.RequestID, msg.Status)
}

func (s ResultService) notify(ctx domain.Context, id string, status domain.JobStatus) {
	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		slog.Error("callback skipped, job load failed", slog.String("request_id", id), slog.Any("error", err))
		return
	}

	code, err := s.Notifier.Deliver(ctx, j)
	if err != nil {
		slog.Warn("callback delivery failed",
			slog.String("request_id", id), slog.String("status", string(j.Status)), slog.Any("error", err))
	} else if code != 200 {
		slog.Warn("callback rejected by tenant",
			slog.String("request_id", id), slog.String("status", string(j.Status)), slog.String("code", strconv.Itoa(code)))
	}
	if werr := s.Jobs.RecordWebhook(ctx, id, code, status.Terminal()); werr != nil {
		slog.Error("webhook bookkeeping failed", slog.String("request_id", id), slog.Any("error", werr))
	}
}
