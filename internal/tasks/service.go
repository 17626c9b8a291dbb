package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docgen-backend/internal/compose"
	"docgen-backend/internal/llm"
	"docgen-backend/internal/queue"
	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/telemetry"
)

// Service accepts submissions and answers status queries.
type Service struct {
	Repo  Repo
	Queue queue.Client
	Now   func() time.Time
	NewID func() string
}

// NewService constructs a Service.
func NewService(repo Repo, q queue.Client) *Service {
	return &Service{Repo: repo, Queue: q}
}

// Submit validates params, stores a queued task and enqueues it. The task id
// is returned without waiting for any stage to run.
func (s *Service) Submit(ctx context.Context, params Params) (Task, error) {
	params = normalizeParams(params)
	if err := ValidateParams(params); err != nil {
		return Task{}, err
	}
	if s.Queue == nil {
		return Task{}, ErrQueueNotConfigured
	}

	now := s.now()
	task := Task{
		ID:        s.newID(),
		RequestID: RequestIDFromContext(ctx),
		Params:    params,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, task); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}

	msg := queue.NewMessage(task.ID, task.RequestID, now)
	if err := s.Queue.Send(ctx, msg); err != nil {
		failure := &Failure{
			Code:      CodeInternal,
			Error:     "task could not be queued",
			RetryHint: "The service is busy. Submit the request again shortly.",
			Stage:     StageQueued,
		}
		if finErr := s.Repo.Finish(ctx, task.ID, StageFailed, nil, failure, s.now()); finErr != nil {
			telemetry.Error("task.enqueue_cleanup_failed", map[string]any{"task_id": task.ID, "error": finErr})
		}
		return Task{}, fmt.Errorf("enqueue task: %w", err)
	}

	metrics.IncTaskSubmitted()
	telemetry.Info("task.submitted", map[string]any{
		"task_id":    task.ID,
		"request_id": task.RequestID,
		"doc_type":   string(params.DocType),
		"subject_id": params.SubjectID,
	})
	return task, nil
}

// Get returns the current task record.
func (s *Service) Get(ctx context.Context, taskID string) (Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return Task{}, ErrNotFound
	}
	return s.Repo.Get(ctx, taskID)
}

// ValidateParams reports missing or malformed task inputs. The executor runs
// the same check in its validating_input stage.
func ValidateParams(p Params) error {
	var problems []error
	if strings.TrimSpace(p.SubjectID) == "" {
		problems = append(problems, errors.New("subjectId is required"))
	}
	if !p.DocType.Valid() {
		problems = append(problems, fmt.Errorf("docType %q is not supported", p.DocType))
	}
	if strings.TrimSpace(p.Tone) == "" {
		problems = append(problems, errors.New("tone is required"))
	}
	if p.DocType != compose.Resume && strings.TrimSpace(p.JobID) == "" && strings.TrimSpace(p.JobDescription) == "" {
		problems = append(problems, errors.New("jobId or jobDescription is required"))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(problems...))
}

func normalizeParams(p Params) Params {
	p.SubjectID = strings.TrimSpace(p.SubjectID)
	p.JobID = strings.TrimSpace(p.JobID)
	p.JobDescription = strings.TrimSpace(p.JobDescription)
	p.Tone = strings.TrimSpace(p.Tone)
	if p.Tone == "" {
		p.Tone = llm.DefaultTone
	}
	p.Skills = strings.TrimSpace(p.Skills)
	p.Experience = strings.TrimSpace(p.Experience)
	return p
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
