package tasks

import (
	"context"
	"time"
)

// Repo persists tasks. RecordStage rejects backward moves and writes after a
// terminal stage; Finish is write-once.
type Repo interface {
	Create(ctx context.Context, task Task) error
	Get(ctx context.Context, taskID string) (Task, error)
	RecordStage(ctx context.Context, ev StageEvent) error
	Finish(ctx context.Context, taskID string, stage Stage, result *Result, failure *Failure, at time.Time) error
}
