package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres. Rows expire TTL after creation when
// TTL is positive.
type PGRepo struct {
	DB  *sql.DB
	TTL time.Duration
}

// Create inserts a new task.
func (r *PGRepo) Create(ctx context.Context, task Task) error {
	const query = `
INSERT INTO generation_tasks (
	id, request_id, subject_id, doc_type, params, stage, stage_index, attempt, created_at, updated_at, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	params, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var expiresAt *time.Time
	if r.TTL > 0 {
		exp := task.CreatedAt.Add(r.TTL)
		expiresAt = &exp
	}
	_, err = r.DB.ExecContext(ctx, query,
		task.ID,
		task.RequestID,
		task.Params.SubjectID,
		string(task.Params.DocType),
		params,
		string(task.Stage),
		task.Stage.Index(),
		task.Attempt,
		task.CreatedAt,
		task.UpdatedAt,
		expiresAt,
	)
	return err
}

// Get returns a task by ID.
func (r *PGRepo) Get(ctx context.Context, taskID string) (Task, error) {
	const query = `
SELECT id, request_id, params, stage, attempt, result, failure, created_at, updated_at
FROM generation_tasks
WHERE id = $1 AND (expires_at IS NULL OR expires_at > now())
LIMIT 1`

	var t Task
	var requestID sql.NullString
	var params []byte
	var stage string
	var result sql.NullString
	var failure sql.NullString
	err := r.DB.QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&requestID,
		&params,
		&stage,
		&t.Attempt,
		&result,
		&failure,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	t.Stage = Stage(stage)
	if requestID.Valid {
		t.RequestID = requestID.String
	}
	if err := json.Unmarshal(params, &t.Params); err != nil {
		return Task{}, fmt.Errorf("decode params: %w", err)
	}
	if result.Valid {
		t.Result = &Result{}
		if err := json.Unmarshal([]byte(result.String), t.Result); err != nil {
			return Task{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if failure.Valid {
		t.Failure = &Failure{}
		if err := json.Unmarshal([]byte(failure.String), t.Failure); err != nil {
			return Task{}, fmt.Errorf("decode failure: %w", err)
		}
	}
	return t, nil
}

// RecordStage moves the task forward. The WHERE clause enforces ordering so
// concurrent writers cannot regress the stage.
func (r *PGRepo) RecordStage(ctx context.Context, ev StageEvent) error {
	if ev.Stage.Terminal() || !ev.Stage.Valid() {
		return fmt.Errorf("%w: %q is not a working stage", ErrInvalidStage, ev.Stage)
	}
	const query = `
UPDATE generation_tasks
SET stage = $1,
    stage_index = $2,
    attempt = $3,
    updated_at = $4
WHERE id = $5
  AND finished_at IS NULL
  AND stage_index <= $2
  AND attempt <= $3`

	res, err := r.DB.ExecContext(ctx, query, string(ev.Stage), ev.Stage.Index(), ev.Attempt, ev.Timestamp, ev.TaskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.explainMiss(ctx, ev.TaskID, ErrStageRegression)
	}
	return nil
}

// Finish writes the terminal outcome once.
func (r *PGRepo) Finish(ctx context.Context, taskID string, stage Stage, result *Result, failure *Failure, at time.Time) error {
	if err := checkOutcome(stage, result, failure); err != nil {
		return err
	}
	const query = `
UPDATE generation_tasks
SET stage = $1,
    stage_index = $2,
    result = $3::jsonb,
    failure = $4::jsonb,
    updated_at = $5,
    finished_at = $5
WHERE id = $6 AND finished_at IS NULL`

	resultPayload, err := marshalJSONB(result)
	if err != nil {
		return err
	}
	failurePayload, err := marshalJSONB(failure)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, string(stage), stage.Index(), resultPayload, failurePayload, at, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.explainMiss(ctx, taskID, ErrAlreadyFinished)
	}
	return nil
}

// explainMiss turns a zero-row update into ErrNotFound, ErrAlreadyFinished or
// the supplied fallback.
func (r *PGRepo) explainMiss(ctx context.Context, taskID string, fallback error) error {
	const query = `SELECT finished_at IS NOT NULL FROM generation_tasks WHERE id = $1`
	var finished bool
	if err := r.DB.QueryRowContext(ctx, query, taskID).Scan(&finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if finished {
		return ErrAlreadyFinished
	}
	return fallback
}

func marshalJSONB[T any](value *T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

var _ Repo = (*PGRepo)(nil)
