// Package tasks owns the generation task record, its persistence and the HTTP
// surface used to submit tasks and poll their progress.
package tasks

import (
	"fmt"
	"time"

	"docgen-backend/internal/compose"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/structured"
)

// Stage is a named step of the generation state machine.
type Stage string

const (
	StageQueued              Stage = "queued"
	StageValidatingInput     Stage = "validating_input"
	StageFetchingProfile     Stage = "fetching_profile"
	StageExtractingText      Stage = "extracting_text"
	StageAnalyzingCV         Stage = "analyzing_cv"
	StageGeneratingDocument  Stage = "generating_document"
	StagePersistingArtifacts Stage = "persisting_artifacts"
	StageDone                Stage = "done"
	StageSucceeded           Stage = "succeeded"
	StageFailed              Stage = "failed"
)

var stageOrder = []Stage{
	StageQueued,
	StageValidatingInput,
	StageFetchingProfile,
	StageExtractingText,
	StageAnalyzingCV,
	StageGeneratingDocument,
	StagePersistingArtifacts,
	StageDone,
}

// Index returns the position of s in the stage order. Terminal stages sort
// after every working stage; unknown stages return -1.
func (s Stage) Index() int {
	if s.Terminal() {
		return len(stageOrder)
	}
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether s is succeeded or failed.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Params are the caller-supplied task inputs.
type Params struct {
	SubjectID      string          `json:"subjectId"`
	JobID          string          `json:"jobId,omitempty"`
	JobDescription string          `json:"jobDescription,omitempty"`
	Tone           string          `json:"tone,omitempty"`
	DocType        compose.DocType `json:"docType"`
	Skills         string          `json:"skills,omitempty"`
	Experience     string          `json:"experience,omitempty"`
}

// Result is the success payload of a finished task.
type Result struct {
	Content               string             `json:"content"`
	PDFURL                string             `json:"pdfUrl"`
	TextURL               string             `json:"textUrl"`
	GeneratedAt           time.Time          `json:"generatedAt"`
	JobDescriptionPreview string             `json:"jobDescriptionPreview"`
	DocType               compose.DocType    `json:"docType"`
	Tone                  string             `json:"tone"`
	Enhanced              bool               `json:"enhanced"`
	Email                 *compose.Email     `json:"email,omitempty"`
	Profile               *profile.Profile   `json:"profile,omitempty"`
	Analysis              *structured.Record `json:"analysis,omitempty"`
}

// Failure codes surfaced to callers.
const (
	CodeInput             = "INPUT_ERROR"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeNotFound          = "NOT_FOUND"
	CodeGeneration        = "GENERATION_ERROR"
	CodeRetriesExhausted  = "RETRIES_EXHAUSTED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Failure is the error record of a failed task.
type Failure struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	RetryHint string `json:"retryHint"`
	DebugRef  string `json:"debugRef,omitempty"`
	Stage     Stage  `json:"stage"`
}

// Task is a single document generation request and its progress.
type Task struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId,omitempty"`
	Params    Params    `json:"params"`
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Result    *Result   `json:"result,omitempty"`
	Failure   *Failure  `json:"failure,omitempty"`
}

// Ready reports whether the task reached a terminal stage.
func (t Task) Ready() bool {
	return t.Stage.Terminal()
}

// StageEvent records a stage transition, published for status polling.
type StageEvent struct {
	TaskID    string    `json:"taskId"`
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// apply moves t to ev.Stage. Stores share it so the ordering rules hold for
// every backend.
func (t *Task) apply(ev StageEvent) error {
	if t.Ready() {
		return ErrAlreadyFinished
	}
	if ev.Stage.Terminal() || !ev.Stage.Valid() {
		return fmt.Errorf("%w: %q is not a working stage", ErrInvalidStage, ev.Stage)
	}
	if ev.Stage.Index() < t.Stage.Index() {
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, t.Stage, ev.Stage)
	}
	if ev.Attempt < t.Attempt {
		return fmt.Errorf("%w: attempt %d -> %d", ErrStageRegression, t.Attempt, ev.Attempt)
	}
	t.Stage = ev.Stage
	t.Attempt = ev.Attempt
	t.UpdatedAt = ev.Timestamp
	return nil
}

// complete writes the terminal outcome once.
func (t *Task) complete(stage Stage, result *Result, failure *Failure, at time.Time) error {
	if t.Ready() {
		return ErrAlreadyFinished
	}
	if err := checkOutcome(stage, result, failure); err != nil {
		return err
	}
	t.Stage = stage
	t.Result = result
	t.Failure = failure
	t.UpdatedAt = at
	return nil
}

func checkOutcome(stage Stage, result *Result, failure *Failure) error {
	switch stage {
	case StageSucceeded:
		if result == nil || result.Content == "" {
			return ErrEmptyResult
		}
	case StageFailed:
		if failure == nil {
			return fmt.Errorf("%w: failed task needs a failure record", ErrInvalidStage)
		}
	default:
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidStage, stage)
	}
	return nil
}
