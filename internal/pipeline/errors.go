package pipeline

import (
	"errors"
	"fmt"

	"docgen-backend/internal/retry"
	"docgen-backend/internal/shared/util"
	"docgen-backend/internal/tasks"
)

// ErrInput marks malformed task parameters or an unusable resume payload.
var ErrInput = errors.New("invalid input")

// Kind tags a stage outcome that is not a success.
type Kind int

const (
	KindRetryable Kind = iota + 1
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindTerminal:
		return "terminal"
	}
	return "unknown"
}

// StageError is the failure outcome of one stage attempt. Retryable errors
// carry the class the retry policy is asked about; terminal errors carry the
// code reported to the caller.
type StageError struct {
	Stage tasks.Stage
	Kind  Kind
	Class retry.Class
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func retryable(stage tasks.Stage, class retry.Class, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindRetryable, Class: class, Err: err}
}

func terminal(stage tasks.Stage, code string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindTerminal, Code: code, Err: err}
}

var retryHints = map[string]string{
	tasks.CodeInput:             "Check the submitted fields and make sure a resume is on file, then submit again.",
	tasks.CodeUnsupportedFormat: "Upload the resume as PDF, DOCX or plain text and submit again.",
	tasks.CodeNotFound:          "Check the subject and job identifiers and submit again.",
	tasks.CodeGeneration:        "The document could not be generated. Submit again later.",
	tasks.CodeRetriesExhausted:  "An upstream service is unavailable. Submit again in a few minutes.",
	tasks.CodeInternal:          "Submit again later. If the problem persists, share the debug reference with support.",
}

// RetryHint returns the resubmission hint for a failure code.
func RetryHint(code string) string {
	if hint, ok := retryHints[code]; ok {
		return hint
	}
	return retryHints[tasks.CodeInternal]
}

// userMessage is the single-line, length-capped error shown to callers.
func userMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return util.SingleLine(err.Error())
}
