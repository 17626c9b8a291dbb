// Package workerproc turns raw queue payloads into executor calls. The SQS
// worker, the Lambda worker, the API's in-process pool and the CLI share it.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docgen-backend/internal/queue"
	"docgen-backend/internal/shared/util"
	"docgen-backend/internal/tasks"
)

// Processor executes one task. pipeline.Executor satisfies it.
type Processor interface {
	ProcessTask(ctx context.Context, taskID string) error
}

var ErrNoProcessor = errors.New("task processor not configured")

// Reasons a payload is rejected without reaching the executor.
const (
	ReasonEmpty    = "empty_body"
	ReasonDecode   = "decode"
	ReasonNoTaskID = "missing_task_id"
)

// PoisonError marks a payload that can never be processed. Redelivering it
// is pointless, so consumers delete it.
type PoisonError struct {
	Reason    string
	RequestID string
	BodyLen   int
	BodySHA   string
	Err       error
}

func (e *PoisonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unusable message (%s): %v", e.Reason, e.Err)
	}
	return "unusable message (" + e.Reason + ")"
}

func (e *PoisonError) Unwrap() error { return e.Err }

// Fields describes the payload for logging without including its content.
func (e *PoisonError) Fields() map[string]any {
	f := map[string]any{"reason": e.Reason, "body_len": e.BodyLen}
	if e.BodySHA != "" {
		f["body_sha256"] = e.BodySHA
	}
	if e.RequestID != "" {
		f["request_id"] = e.RequestID
	}
	return f
}

// ProcessError means the executor could not finish the task; the message
// should be redelivered.
type ProcessError struct {
	TaskID    string
	RequestID string
	Err       error
}

func (e *ProcessError) Error() string {
	return "process task " + e.TaskID + ": " + fmt.Sprint(e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Poison reports whether err wraps a *PoisonError.
func Poison(err error) bool {
	var pe *PoisonError
	return errors.As(err, &pe)
}

// ParseMessage decodes and validates a queue payload.
func ParseMessage(body string) (queue.Message, error) {
	poison := func(reason, requestID string, err error) *PoisonError {
		pe := &PoisonError{Reason: reason, RequestID: requestID, BodyLen: len(body), Err: err}
		if body != "" {
			pe.BodySHA = util.ContentHash([]byte(body))
		}
		return pe
	}

	if strings.TrimSpace(body) == "" {
		return queue.Message{}, poison(ReasonEmpty, "", nil)
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, poison(ReasonDecode, "", err)
	}
	if strings.TrimSpace(msg.TaskID) == "" {
		return msg, poison(ReasonNoTaskID, msg.RequestID, nil)
	}
	return msg, nil
}

// HandleMessage parses body and runs the task it names.
func HandleMessage(ctx context.Context, p Processor, body string) error {
	if p == nil {
		return ErrNoProcessor
	}
	msg, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Handle(ctx, p, msg)
}

// Handle runs an already decoded message, carrying its request id into ctx.
func Handle(ctx context.Context, p Processor, msg queue.Message) error {
	if p == nil {
		return ErrNoProcessor
	}
	if strings.TrimSpace(msg.TaskID) == "" {
		return &PoisonError{Reason: ReasonNoTaskID, RequestID: msg.RequestID}
	}
	if msg.RequestID != "" {
		ctx = tasks.WithRequestID(ctx, msg.RequestID)
	}
	if err := p.ProcessTask(ctx, msg.TaskID); err != nil {
		return &ProcessError{TaskID: msg.TaskID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
