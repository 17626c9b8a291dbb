package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo stores tasks in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Task
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Task)}
}

// Create stores the task.
func (r *MemoryRepo) Create(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[task.ID] = task
	return nil
}

// Get returns a task by ID.
func (r *MemoryRepo) Get(ctx context.Context, taskID string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.byID[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

// RecordStage moves the task to ev.Stage.
func (r *MemoryRepo) RecordStage(ctx context.Context, ev StageEvent) error {
	return r.update(ctx, ev.TaskID, func(t *Task) error { return t.apply(ev) })
}

// Finish writes the terminal outcome.
func (r *MemoryRepo) Finish(ctx context.Context, taskID string, stage Stage, result *Result, failure *Failure, at time.Time) error {
	return r.update(ctx, taskID, func(t *Task) error { return t.complete(stage, result, failure, at) })
}

func (r *MemoryRepo) update(ctx context.Context, taskID string, fn func(*Task) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[taskID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&task); err != nil {
		return err
	}
	r.byID[taskID] = task
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
