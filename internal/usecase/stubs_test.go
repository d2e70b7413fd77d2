package usecase_test

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

type jobStoreStub struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	createErr error

	advanced       []advanceCall
	advanceApplied bool
	advanceErr     error

	webhooks []webhookCall
}

type advanceCall struct {
	id     string
	status domain.JobStatus
	result string
	errMsg string
}

type webhookCall struct {
	id             string
	code           int
	incrementRetry bool
}

func newJobStoreStub() *jobStoreStub {
	return &jobStoreStub{jobs: map[string]domain.Job{}, advanceApplied: true}
}

func (s *jobStoreStub) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("op=stub.create: %w", domain.ErrConflict)
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *jobStoreStub) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=stub.get: %w", domain.ErrNotFound)
	}
	return j, nil
}

func (s *jobStoreStub) AdvanceStatus(_ domain.Context, id string, status domain.JobStatus, result, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced = append(s.advanced, advanceCall{id: id, status: status, result: result, errMsg: errMsg})
	if s.advanceErr != nil {
		return false, s.advanceErr
	}
	if !s.advanceApplied {
		return false, nil
	}
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		if status == domain.JobCompleted {
			j.Result = result
		}
		if status == domain.JobFailed {
			j.Error = errMsg
		}
		s.jobs[id] = j
	}
	return true, nil
}

func (s *jobStoreStub) RecordWebhook(_ domain.Context, id string, code int, incrementRetry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, webhookCall{id: id, code: code, incrementRetry: incrementRetry})
	return nil
}

func (s *jobStoreStub) FailStalePending(_ domain.Context, _ time.Time, _ string) (int64, error) {
	return 0, nil
}

type taskQueueStub struct {
	published []domain.TaskMessage
	queues    []string
	err       error
}

func (q *taskQueueStub) PublishTask(_ domain.Context, queue string, t domain.TaskMessage) error {
	if q.err != nil {
		return q.err
	}
	q.queues = append(q.queues, queue)
	q.published = append(q.published, t)
	return nil
}

type resultQueueStub struct {
	published []domain.ResultMessage
	queues    []string
	// failStatus makes publishing that status fail.
	failStatus domain.JobStatus
}

func (q *resultQueueStub) PublishResult(_ domain.Context, queue string, r domain.ResultMessage) error {
	if q.failStatus != "" && r.Status == q.failStatus {
		return fmt.Errorf("op=stub.publish: %w", domain.ErrUnavailable)
	}
	q.queues = append(q.queues, queue)
	q.published = append(q.published, r)
	return nil
}

type notifierStub struct {
	delivered []domain.Job
	code      int
	err       error
}

func (n *notifierStub) Deliver(_ domain.Context, j domain.Job) (int, error) {
	n.delivered = append(n.delivered, j)
	if n.err != nil {
		return 0, n.err
	}
	if n.code == 0 {
		return 200, nil
	}
	return n.code, nil
}

type stagingStub struct {
	saved   []string
	removed []string
	saveErr error
}

func (s *stagingStub) Save(_ domain.Context, id string, slot int, filename string, r io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	_, _ = io.ReadAll(r)
	path := "/staging/2026-08/25/" + id + "_" + filename
	if slot > 0 {
		path = fmt.Sprintf("/staging/2026-08/25/%s_%d_%s", id, slot, filename)
	}
	s.saved = append(s.saved, path)
	return path, nil
}

func (s *stagingStub) Remove(path string) error {
	s.removed = append(s.removed, path)
	return nil
}

type executorStub struct {
	inline string
	err    error
	calls  int
	// writeFile makes the stub create the artifact before returning err.
	writeFile func(outputPath string)
}

func (e *executorStub) Execute(_ domain.Context, _ domain.TaskMessage, outputPath string) (string, error) {
	e.calls++
	if e.writeFile != nil {
		e.writeFile(outputPath)
	}
	if e.err != nil {
		return "", e.err
	}
	return e.inline, nil
}
