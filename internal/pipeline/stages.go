package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"docgen-backend/internal/artifacts"
	"docgen-backend/internal/compose"
	"docgen-backend/internal/extract"
	"docgen-backend/internal/gateway"
	"docgen-backend/internal/llm"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/retry"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/structured"
	"docgen-backend/internal/tasks"
)

func (e *Executor) validate(ctx context.Context, r *run) *StageError {
	if err := tasks.ValidateParams(r.params); err != nil {
		return terminal(tasks.StageValidatingInput, tasks.CodeInput, fmt.Errorf("%w: %v", ErrInput, err))
	}
	return nil
}

// fetch loads the profile and the job concurrently. Both calls always run to
// completion and their errors are reported together.
func (e *Executor) fetch(ctx context.Context, r *run) *StageError {
	const stage = tasks.StageFetchingProfile
	if e.Profiles == nil {
		return terminal(stage, tasks.CodeInternal, errors.New("profile gateway not configured"))
	}

	if r.params.JobDescription == "" && r.params.JobID != "" && e.Jobs == nil {
		return terminal(stage, tasks.CodeInternal, errors.New("job gateway not configured"))
	}

	var (
		g               errgroup.Group
		prof            profile.Profile
		job             profile.JobContext
		profErr, jobErr error
	)
	g.Go(func() error {
		prof, profErr = e.Profiles.GetProfile(ctx, r.params.SubjectID)
		return profErr
	})

	switch {
	case r.params.JobDescription != "":
		job = profile.JobContext{Description: r.params.JobDescription}
	case r.params.JobID != "":
		g.Go(func() error {
			job, jobErr = e.Jobs.GetJob(ctx, r.params.JobID)
			return jobErr
		})
	default:
		job = profile.FallbackJob()
	}
	_ = g.Wait()

	if err := errors.Join(profErr, jobErr); err != nil {
		if gateway.IsNotFound(err) {
			return terminal(stage, tasks.CodeNotFound, err)
		}
		return retryable(stage, retry.ClassFetch, err)
	}
	if job.JobID == "" {
		job.JobID = r.params.JobID
	}
	r.profile = prof
	r.job = job
	return nil
}

func (e *Executor) extractText(ctx context.Context, r *run) *StageError {
	const stage = tasks.StageExtractingText
	raw, err := r.profile.Resume.Decode()
	if err != nil {
		return terminal(stage, tasks.CodeInput, fmt.Errorf("%w: %v", ErrInput, err))
	}
	r.input = raw
	if len(raw) == 0 {
		return terminal(stage, tasks.CodeInput, fmt.Errorf("%w: resume is empty", ErrInput))
	}

	res, err := extract.Text(ctx, raw)
	switch {
	case err == nil:
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return terminal(stage, tasks.CodeUnsupportedFormat, err)
	case ctx.Err() != nil:
		return retryable(stage, retry.ClassTimeout, err)
	default:
		return terminal(stage, tasks.CodeInternal, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return terminal(stage, tasks.CodeInput, fmt.Errorf("%w: resume contains no text", ErrInput))
	}

	r.text = res.Text
	r.profile = profile.Enrich(r.profile, res.Text)
	telemetry.Debug("task.text_extracted", map[string]any{
		"task_id":  r.task.ID,
		"format":   res.Format,
		"encoding": res.Encoding,
		"chars":    len(res.Text),
	})
	return nil
}

// analyze never fails on unusable model output: the extractor hands back a
// degraded record and composition falls back to the raw text.
func (e *Executor) analyze(ctx context.Context, r *run) *StageError {
	const stage = tasks.StageAnalyzingCV
	if e.Analyzer == nil {
		r.record = structured.Degraded(r.text)
		return nil
	}
	rec, err := e.Analyzer.Extract(ctx, structured.Input{
		ResumeText:     r.text,
		JobDescription: r.job.Description,
		Skills:         r.params.Skills,
		Experience:     r.params.Experience,
	})
	if err != nil {
		return retryable(stage, retry.ClassGeneration, err)
	}
	if rec.IsDegraded() {
		telemetry.Warn("task.analysis_degraded", map[string]any{
			"task_id": r.task.ID,
			"attempt": r.attempt,
			"reason":  rec.Error,
		})
	}
	r.record = rec
	return nil
}

func (e *Executor) generate(ctx context.Context, r *run) *StageError {
	const stage = tasks.StageGeneratingDocument
	req := compose.Request{
		DocType:    r.params.DocType,
		Tone:       r.params.Tone,
		Record:     r.record,
		Profile:    r.profile,
		Job:        r.job,
		ResumeText: r.text,
		Skills:     r.params.Skills,
		Experience: r.params.Experience,
	}
	if e.Composer == nil {
		return terminal(stage, tasks.CodeInternal, errors.New("composer not configured"))
	}
	doc, err := e.Composer.Compose(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, compose.ErrGeneration):
		return terminal(stage, tasks.CodeGeneration, err)
	case ctx.Err() != nil, llm.IsRetryable(err):
		return retryable(stage, retry.ClassGeneration, err)
	default:
		return terminal(stage, tasks.CodeGeneration, err)
	}
	if strings.TrimSpace(doc.Body) == "" {
		return terminal(stage, tasks.CodeGeneration, llm.ErrEmptyOutput)
	}
	r.doc = doc
	return nil
}

// persist stores the text and PDF renderings. Storage and rendering failures
// leave the URL empty and never fail the task.
func (e *Executor) persist(ctx context.Context, r *run) *StageError {
	if e.Artifacts == nil {
		return nil
	}
	docType := string(r.doc.DocType)
	r.textURL = e.Artifacts.Put(ctx, artifacts.Name(docType, r.task.ID, "txt"), []byte(r.doc.Body), artifacts.MediaText)

	if e.Renderer == nil {
		return nil
	}
	pdf, err := e.Renderer.Render(ctx, r.doc)
	if err != nil {
		telemetry.Warn("task.render_failed", map[string]any{
			"task_id": r.task.ID,
			"error":   err,
		})
		return nil
	}
	r.pdfURL = e.Artifacts.Put(ctx, artifacts.Name(docType, r.task.ID, "pdf"), pdf, artifacts.MediaPDF)
	return nil
}
