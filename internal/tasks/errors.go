package tasks

import "errors"

var (
	ErrNotFound           = errors.New("task not found")
	ErrAlreadyFinished    = errors.New("task already finished")
	ErrStageRegression    = errors.New("stage regression")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrEmptyResult        = errors.New("succeeded task requires a non-empty document")
	ErrInvalidParams      = errors.New("invalid task parameters")
	ErrQueueNotConfigured = errors.New("task queue not configured")
)
