// Package pipeline runs a generation task through its stages: input
// validation, profile and job fetch, text extraction, CV analysis, document
// generation and artifact persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docgen-backend/internal/compose"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/retry"
	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/structured"
	"docgen-backend/internal/tasks"
)

// ProfileGateway returns candidate profiles.
type ProfileGateway interface {
	GetProfile(ctx context.Context, subjectID string) (profile.Profile, error)
}

// JobGateway returns job postings.
type JobGateway interface {
	GetJob(ctx context.Context, jobID string) (profile.JobContext, error)
}

// Analyzer turns resume text into a structured record.
type Analyzer interface {
	Extract(ctx context.Context, in structured.Input) (structured.Record, error)
}

// Composer produces the final document.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (compose.Document, error)
}

// ArtifactStore persists generated files. It returns "" when nothing was stored.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte, mediaType string) string
}

// DebugRecorder keeps the input of a failed task for postmortem inspection.
type DebugRecorder interface {
	RecordFailure(ctx context.Context, taskID string, input []byte, description string) string
}

// Renderer turns a document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, doc compose.Document) ([]byte, error)
}

// Timeouts bounds each stage attempt.
type Timeouts struct {
	Fetch      time.Duration
	Extract    time.Duration
	Generation time.Duration
	Persist    time.Duration
}

// DefaultTimeouts returns the stage timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Fetch:      30 * time.Second,
		Extract:    60 * time.Second,
		Generation: 120 * time.Second,
		Persist:    120 * time.Second,
	}
}

// Policies selects the retry policy by document type.
type Policies struct {
	Standard retry.Policy
	FollowUp retry.Policy
}

// DefaultPolicies returns the standard and time-boxed policies.
func DefaultPolicies() Policies {
	return Policies{Standard: retry.Standard(), FollowUp: retry.TimeBoxed()}
}

func (p Policies) For(docType compose.DocType) retry.Policy {
	if docType == compose.FollowUpEmail {
		return p.FollowUp
	}
	return p.Standard
}

// Executor owns a task from pickup until it reaches a terminal stage. Its
// dependencies are shared across tasks; per-task state lives in a run.
type Executor struct {
	Tasks     tasks.Repo
	Profiles  ProfileGateway
	Jobs      JobGateway
	Analyzer  Analyzer
	Composer  Composer
	Artifacts ArtifactStore
	Debug     DebugRecorder
	Renderer  Renderer
	Policies  Policies
	Timeouts  Timeouts

	// Sleep waits between attempts. Tests replace it to skip real backoff.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// run is the state of one task while a worker executes it.
type run struct {
	task    tasks.Task
	params  tasks.Params
	policy  retry.Policy
	attempt int
	floor   tasks.Stage

	profile profile.Profile
	job     profile.JobContext
	input   []byte
	text    string
	record  structured.Record
	doc     compose.Document
	pdfURL  string
	textURL string
}

type stageFunc func(ctx context.Context, r *run) *StageError

type step struct {
	stage   tasks.Stage
	timeout time.Duration
	fn      stageFunc
}

func (e *Executor) steps() []step {
	t := e.timeouts()
	return []step{
		{tasks.StageValidatingInput, 0, e.validate},
		{tasks.StageFetchingProfile, t.Fetch, e.fetch},
		{tasks.StageExtractingText, t.Extract, e.extractText},
		{tasks.StageAnalyzingCV, t.Generation, e.analyze},
		{tasks.StageGeneratingDocument, t.Generation, e.generate},
		{tasks.StagePersistingArtifacts, t.Persist, e.persist},
	}
}

// ProcessTask executes taskID to completion. Terminal task failures are
// recorded on the task and are not returned; the error result is reserved for
// problems that should make the caller redeliver the task (store outages,
// cancellation).
func (e *Executor) ProcessTask(ctx context.Context, taskID string) error {
	task, err := e.Tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Ready() {
		telemetry.Info("task.already_finished", map[string]any{"task_id": task.ID, "stage": string(task.Stage)})
		return nil
	}
	if task.RequestID != "" && tasks.RequestIDFromContext(ctx) == "" {
		ctx = tasks.WithRequestID(ctx, task.RequestID)
	}

	started := e.now()
	metrics.IncTaskStarted()
	r := &run{
		task:    task,
		params:  task.Params,
		policy:  e.policies().For(task.Params.DocType),
		attempt: 1,
		floor:   task.Stage,
	}
	if task.Stage != tasks.StageQueued {
		// Redelivered after a worker stopped mid-run. Earlier stages are
		// replayed without publishing events and the pickup costs an attempt.
		r.attempt = task.Attempt + 1
		if limit := r.policy.Default.MaxAttempts; limit > 0 && r.attempt > limit {
			err := fmt.Errorf("task was interrupted %d times", task.Attempt)
			return e.fail(ctx, r, terminal(task.Stage, tasks.CodeRetriesExhausted, err), started)
		}
	}

	steps := e.steps()
	for i := 0; i < len(steps); {
		st := steps[i]
		if err := e.enter(ctx, r, st.stage); err != nil {
			return e.abandon(r, err)
		}

		serr := e.attempt(ctx, r, st)
		if serr == nil {
			i++
			continue
		}
		if ctx.Err() != nil {
			return e.abandon(r, ctx.Err())
		}
		if serr.Kind == KindTerminal {
			return e.fail(ctx, r, serr, started)
		}

		delay, ok := r.policy.NextDelay(serr.Class, r.attempt)
		if !ok {
			exhausted := terminal(serr.Stage, tasks.CodeRetriesExhausted,
				fmt.Errorf("gave up after %d attempts: %w", r.attempt, serr.Err))
			return e.fail(ctx, r, exhausted, started)
		}
		metrics.IncTaskRetry(string(st.stage), string(serr.Class))
		telemetry.Warn("task.retry", map[string]any{
			"task_id":    r.task.ID,
			"request_id": tasks.RequestIDFromContext(ctx),
			"stage":      string(st.stage),
			"attempt":    r.attempt,
			"class":      string(serr.Class),
			"delay_ms":   delay.Milliseconds(),
			"error":      serr.Err,
		})
		if err := e.sleep(ctx, delay); err != nil {
			return e.abandon(r, err)
		}
		r.attempt++
	}

	if err := e.enter(ctx, r, tasks.StageDone); err != nil {
		return e.abandon(r, err)
	}
	return e.succeed(ctx, r, started)
}

// attempt runs one stage under its timeout. A stage aborted by its own
// deadline is a retryable timeout whatever the stage reported.
func (e *Executor) attempt(ctx context.Context, r *run, st step) *StageError {
	timeout := st.timeout
	if at := r.policy.AttemptTimeout; at > 0 && (timeout <= 0 || at < timeout) {
		timeout = at
	}
	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	began := e.now()
	serr := st.fn(stageCtx, r)
	metrics.ObserveStageDurationMs(string(st.stage), float64(e.now().Sub(began).Microseconds())/1000.0)
	if serr == nil {
		return nil
	}
	if serr.Stage == "" {
		serr.Stage = st.stage
	}
	if ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return retryable(st.stage, retry.ClassTimeout, fmt.Errorf("%s timed out after %s: %w", st.stage, timeout, serr.Err))
	}
	return serr
}

// enter publishes the stage event unless the stage was already passed before
// a redelivery.
func (e *Executor) enter(ctx context.Context, r *run, stage tasks.Stage) error {
	if stage.Index() < r.floor.Index() {
		return nil
	}
	ev := tasks.StageEvent{TaskID: r.task.ID, Stage: stage, Attempt: r.attempt, Timestamp: e.now()}
	if err := e.Tasks.RecordStage(ctx, ev); err != nil {
		return fmt.Errorf("record stage %s: %w", stage, err)
	}
	r.task.Stage = stage
	r.task.Attempt = r.attempt
	telemetry.Info("task.stage", map[string]any{
		"task_id":    r.task.ID,
		"request_id": tasks.RequestIDFromContext(ctx),
		"stage":      string(stage),
		"attempt":    r.attempt,
		"doc_type":   string(r.params.DocType),
	})
	return nil
}

func (e *Executor) succeed(ctx context.Context, r *run, started time.Time) error {
	res := &tasks.Result{
		Content:               r.doc.Body,
		PDFURL:                r.pdfURL,
		TextURL:               r.textURL,
		GeneratedAt:           r.doc.GeneratedAt,
		JobDescriptionPreview: r.job.Preview(),
		DocType:               r.doc.DocType,
		Tone:                  r.doc.Tone,
		Enhanced:              r.doc.Enhanced,
		Email:                 r.doc.Email,
	}
	record := r.record
	res.Analysis = &record
	if r.params.DocType == compose.Resume {
		p := r.profile.Clone()
		res.Profile = &p
	}

	finishedAt := e.now()
	if err := e.Tasks.Finish(ctx, r.task.ID, tasks.StageSucceeded, res, nil, finishedAt); err != nil {
		if errors.Is(err, tasks.ErrEmptyResult) {
			return e.fail(ctx, r, terminal(tasks.StageDone, tasks.CodeGeneration, err), started)
		}
		return e.abandon(r, fmt.Errorf("finish task: %w", err))
	}

	duration := finishedAt.Sub(started)
	metrics.IncTaskSucceeded()
	metrics.ObserveTaskDurationMs(float64(duration.Microseconds()) / 1000.0)
	telemetry.Info("task.status", map[string]any{
		"task_id":     r.task.ID,
		"request_id":  tasks.RequestIDFromContext(ctx),
		"status":      string(tasks.StageSucceeded),
		"attempt":     r.attempt,
		"duration_ms": float64(duration.Microseconds()) / 1000.0,
		"pdf_stored":  r.pdfURL != "",
		"text_stored": r.textURL != "",
	})
	return nil
}

func (e *Executor) fail(ctx context.Context, r *run, serr *StageError, started time.Time) error {
	description := fmt.Sprintf("stage: %s\ncode: %s\nattempt: %d\nerror: %v", serr.Stage, serr.Code, r.attempt, serr.Err)
	debugRef := ""
	if e.Debug != nil {
		debugRef = e.Debug.RecordFailure(context.WithoutCancel(ctx), r.task.ID, r.input, description)
	}
	failure := &tasks.Failure{
		Code:      serr.Code,
		Error:     userMessage(serr.Err),
		RetryHint: RetryHint(serr.Code),
		DebugRef:  debugRef,
		Stage:     serr.Stage,
	}

	finishedAt := e.now()
	if err := e.Tasks.Finish(context.WithoutCancel(ctx), r.task.ID, tasks.StageFailed, nil, failure, finishedAt); err != nil {
		if errors.Is(err, tasks.ErrAlreadyFinished) {
			return nil
		}
		return e.abandon(r, fmt.Errorf("finish task: %w", err))
	}

	duration := finishedAt.Sub(started)
	metrics.IncTaskFailed(serr.Code)
	metrics.ObserveTaskDurationMs(float64(duration.Microseconds()) / 1000.0)
	telemetry.Error("task.status", map[string]any{
		"task_id":     r.task.ID,
		"request_id":  tasks.RequestIDFromContext(ctx),
		"status":      string(tasks.StageFailed),
		"stage":       string(serr.Stage),
		"code":        serr.Code,
		"attempt":     r.attempt,
		"debug_ref":   debugRef,
		"duration_ms": float64(duration.Microseconds()) / 1000.0,
		"error":       serr.Err,
	})
	return nil
}

// abandon leaves the task in its current stage so a redelivery can pick it up.
func (e *Executor) abandon(r *run, err error) error {
	if errors.Is(err, tasks.ErrAlreadyFinished) {
		return nil
	}
	telemetry.Warn("task.abandoned", map[string]any{
		"task_id": r.task.ID,
		"stage":   string(r.task.Stage),
		"attempt": r.attempt,
		"error":   err,
	})
	return err
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Executor) timeouts() Timeouts {
	t := e.Timeouts
	def := DefaultTimeouts()
	if t.Fetch <= 0 {
		t.Fetch = def.Fetch
	}
	if t.Extract <= 0 {
		t.Extract = def.Extract
	}
	if t.Generation <= 0 {
		t.Generation = def.Generation
	}
	if t.Persist <= 0 {
		t.Persist = def.Persist
	}
	return t
}

func (e *Executor) policies() Policies {
	p := e.Policies
	if p.Standard.Default.MaxAttempts == 0 && p.Standard.Default.Base == 0 {
		p.Standard = retry.Standard()
	}
	if p.FollowUp.Default.MaxAttempts == 0 && p.FollowUp.Default.Base == 0 {
		p.FollowUp = retry.TimeBoxed()
	}
	return p
}
