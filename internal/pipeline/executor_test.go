package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docgen-backend/internal/artifacts"
	"docgen-backend/internal/compose"
	"docgen-backend/internal/gateway"
	"docgen-backend/internal/llm"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/shared/storage/object/local"
	"docgen-backend/internal/structured"
	"docgen-backend/internal/tasks"
)

const resumeText = `Jane Doe
jane@example.com | (555) 123-4567

Experience
- Senior Engineer, Acme Corp

Skills
Go, Postgres`

const validRecord = "```json\n" + `{"name":"Jane Doe","contact":"jane@example.com","summary":"Backend engineer","experience":["Acme"],"skills":["Go"]}` + "\n```"

// recordingRepo captures every stage event the executor publishes.
type recordingRepo struct {
	*tasks.MemoryRepo
	mu     sync.Mutex
	events []tasks.StageEvent
}

func (r *recordingRepo) RecordStage(ctx context.Context, ev tasks.StageEvent) error {
	if err := r.MemoryRepo.RecordStage(ctx, ev); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingRepo) stages() []tasks.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tasks.Stage, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Stage)
	}
	return out
}

// scriptedGenerator answers extraction and composition prompts separately.
type scriptedGenerator struct {
	mu        sync.Mutex
	analysis  []reply
	document  []reply
	prompts   []string
	fallbackA reply
	fallbackD reply
}

type reply struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt, tone string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if strings.HasPrefix(prompt, "Analyze the following resume") {
		return next(&g.analysis, g.fallbackA)
	}
	return next(&g.document, g.fallbackD)
}

func next(queue *[]reply, fallback reply) (string, error) {
	if len(*queue) == 0 {
		return fallback.text, fallback.err
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.text, r.err
}

type harness struct {
	exec    *Executor
	repo    *recordingRepo
	static  *gateway.Static
	gen     *scriptedGenerator
	delays  []time.Duration
	dataDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    &recordingRepo{MemoryRepo: tasks.NewMemoryRepo()},
		static:  gateway.NewStatic(),
		dataDir: t.TempDir(),
		gen: &scriptedGenerator{
			fallbackA: reply{text: validRecord},
			fallbackD: reply{text: "Dear hiring manager at [Company Name],\nI am excited to apply.\n[Your Name]"},
		},
	}
	store := artifacts.New(local.New(h.dataDir, "https://files.example.test"))
	h.exec = &Executor{
		Tasks:     h.repo,
		Profiles:  h.static,
		Jobs:      h.static,
		Analyzer:  structured.New(h.gen),
		Composer:  compose.New(h.gen),
		Artifacts: store,
		Debug:     store,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
		Now: func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) },
	}
	h.static.PutProfile(profile.Profile{
		SubjectID: "subject-1",
		Resume:    profile.Resume{Content: []byte(resumeText)},
	})
	h.static.PutJob(profile.JobContext{JobID: "job-1", Description: "Backend Engineer\nCompany: Globex\nContact: jobs@globex.test"})
	return h
}

func (h *harness) submit(t *testing.T, id string, params tasks.Params) {
	t.Helper()
	if params.Tone == "" {
		params.Tone = "professional"
	}
	now := time.Date(2026, 5, 4, 11, 59, 0, 0, time.UTC)
	if err := h.repo.Create(context.Background(), tasks.Task{ID: id, Params: params, Stage: tasks.StageQueued, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create task: %v", err)
	}
}

func (h *harness) run(t *testing.T, id string) tasks.Task {
	t.Helper()
	if err := h.exec.ProcessTask(context.Background(), id); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	task, err := h.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

func assertMonotonic(t *testing.T, stages []tasks.Stage) {
	t.Helper()
	for i := 1; i < len(stages); i++ {
		if stages[i].Index() < stages[i-1].Index() {
			t.Fatalf("stage moved backward: %v", stages)
		}
	}
}

func TestCoverLetterSucceeds(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded || task.Result == nil {
		t.Fatalf("expected success, got %+v failure=%+v", task, task.Failure)
	}
	if task.Attempt != 1 || len(h.delays) != 0 {
		t.Fatalf("unexpected retries: attempt=%d delays=%v", task.Attempt, h.delays)
	}

	want := []tasks.Stage{
		tasks.StageValidatingInput,
		tasks.StageFetchingProfile,
		tasks.StageExtractingText,
		tasks.StageAnalyzingCV,
		tasks.StageGeneratingDocument,
		tasks.StagePersistingArtifacts,
		tasks.StageDone,
	}
	got := h.repo.stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}

	res := task.Result
	if !strings.Contains(res.Content, "Globex") || !strings.Contains(res.Content, "Jane Doe") {
		t.Fatalf("placeholders not substituted: %q", res.Content)
	}
	if res.TextURL != "https://files.example.test/cover_letter_t1.txt" {
		t.Fatalf("unexpected text url %q", res.TextURL)
	}
	if res.PDFURL != "" {
		t.Fatalf("pdf url without renderer: %q", res.PDFURL)
	}
	if !strings.HasSuffix(res.JobDescriptionPreview, "...") {
		t.Fatalf("unexpected preview %q", res.JobDescriptionPreview)
	}
	if res.Analysis == nil || res.Analysis.IsDegraded() {
		t.Fatalf("expected structured analysis, got %+v", res.Analysis)
	}
	stored, err := os.ReadFile(filepath.Join(h.dataDir, "cover_letter_t1.txt"))
	if err != nil || string(stored) != res.Content {
		t.Fatalf("text artifact mismatch: %q %v", stored, err)
	}
}

func TestEmptyResumeFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.static.PutProfile(profile.Profile{SubjectID: "no-resume", Name: "Sam"})
	h.submit(t, "t1", tasks.Params{SubjectID: "no-resume", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageFailed || task.Failure == nil {
		t.Fatalf("expected failure, got %+v", task)
	}
	if task.Failure.Code != tasks.CodeInput || task.Failure.Stage != tasks.StageExtractingText {
		t.Fatalf("unexpected failure: %+v", task.Failure)
	}
	if task.Attempt != 1 || len(h.delays) != 0 {
		t.Fatalf("empty resume consumed retries: attempt=%d delays=%v", task.Attempt, h.delays)
	}
	if task.Failure.RetryHint == "" {
		t.Fatalf("failure must carry a retry hint")
	}
}

func TestMalformedAnalysisDegradesAndSucceeds(t *testing.T) {
	h := newHarness(t)
	h.gen.fallbackA = reply{text: "{name: Jane, this is not json"}
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded {
		t.Fatalf("expected success, got %+v", task.Failure)
	}
	if task.Result.Analysis == nil || !task.Result.Analysis.IsDegraded() {
		t.Fatalf("expected degraded analysis, got %+v", task.Result.Analysis)
	}
	if task.Result.Analysis.RawCV != resumeText {
		t.Fatalf("degraded record lost the raw text")
	}

	var composePrompt string
	for _, p := range h.gen.prompts {
		if strings.HasPrefix(p, "You are a professional career coach") {
			composePrompt = p
		}
	}
	if !strings.Contains(composePrompt, "Senior Engineer, Acme Corp") {
		t.Fatalf("composition did not fall back to raw text: %q", composePrompt)
	}
}

func TestUnconfiguredStoreLeavesEmptyURLs(t *testing.T) {
	h := newHarness(t)
	h.exec.Artifacts = artifacts.New(nil)
	h.exec.Renderer = renderFunc(func(ctx context.Context, doc compose.Document) ([]byte, error) {
		return []byte("%PDF-1.7"), nil
	})
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded {
		t.Fatalf("expected success, got %+v", task.Failure)
	}
	if task.Result.PDFURL != "" || task.Result.TextURL != "" {
		t.Fatalf("expected empty urls, got %q %q", task.Result.PDFURL, task.Result.TextURL)
	}
}

func TestRendererProducesPDFArtifact(t *testing.T) {
	h := newHarness(t)
	h.exec.Renderer = renderFunc(func(ctx context.Context, doc compose.Document) ([]byte, error) {
		return []byte("%PDF-1.7 " + doc.Body), nil
	})
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Result == nil || task.Result.PDFURL != "https://files.example.test/cover_letter_t1.pdf" {
		t.Fatalf("unexpected pdf url: %+v", task.Result)
	}
}

func TestRenderFailureDoesNotFailTask(t *testing.T) {
	h := newHarness(t)
	h.exec.Renderer = renderFunc(func(ctx context.Context, doc compose.Document) ([]byte, error) {
		return nil, errors.New("chrome not found")
	})
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded || task.Result.PDFURL != "" || task.Result.TextURL == "" {
		t.Fatalf("unexpected outcome: %+v", task.Result)
	}
}

// flakyProfiles blocks until the stage deadline for the first n calls.
type flakyProfiles struct {
	inner ProfileGateway
	mu    sync.Mutex
	stall int
	calls int
}

func (f *flakyProfiles) GetProfile(ctx context.Context, subjectID string) (profile.Profile, error) {
	f.mu.Lock()
	f.calls++
	stall := f.calls <= f.stall
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return profile.Profile{}, &gateway.Error{Op: "get profile", Err: ctx.Err()}
	}
	return f.inner.GetProfile(ctx, subjectID)
}

func TestProfileTimeoutsRetrySameStage(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyProfiles{inner: h.static, stall: 2}
	h.exec.Profiles = flaky
	h.exec.Timeouts = Timeouts{Fetch: 20 * time.Millisecond}
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded {
		t.Fatalf("expected success, got %+v", task.Failure)
	}
	if task.Attempt != 3 || flaky.calls != 3 {
		t.Fatalf("attempt=%d calls=%d, want 3/3", task.Attempt, flaky.calls)
	}
	if len(h.delays) != 2 || h.delays[0] != 60*time.Second || h.delays[1] != 120*time.Second {
		t.Fatalf("unexpected backoff: %v", h.delays)
	}

	stages := h.repo.stages()
	assertMonotonic(t, stages)
	fetches := 0
	for _, s := range stages {
		if s == tasks.StageFetchingProfile {
			fetches++
		}
		if s == tasks.StageValidatingInput && fetches > 0 {
			t.Fatalf("retry restarted the pipeline: %v", stages)
		}
	}
	if fetches != 3 {
		t.Fatalf("expected fetching_profile re-entered 3 times, got %v", stages)
	}
}

func TestRetriesExhaustedRecordsDebugArtifact(t *testing.T) {
	h := newHarness(t)
	h.gen.fallbackD = reply{err: llm.ErrUnavailable}
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageFailed || task.Failure == nil {
		t.Fatalf("expected failure, got %+v", task)
	}
	f := task.Failure
	if f.Code != tasks.CodeRetriesExhausted || f.Stage != tasks.StageGeneratingDocument {
		t.Fatalf("unexpected failure: %+v", f)
	}
	if f.DebugRef != "debug/t1/" {
		t.Fatalf("unexpected debug ref %q", f.DebugRef)
	}
	if task.Attempt != 3 || len(h.delays) != 2 {
		t.Fatalf("attempt=%d delays=%v", task.Attempt, h.delays)
	}
	input, err := os.ReadFile(filepath.Join(h.dataDir, "debug", "t1", "input.bin"))
	if err != nil || string(input) != resumeText {
		t.Fatalf("debug input not preserved: %q %v", input, err)
	}
	if _, err := os.Stat(filepath.Join(h.dataDir, "debug", "t1", "error.txt")); err != nil {
		t.Fatalf("missing error report: %v", err)
	}
	assertMonotonic(t, h.repo.stages())
}

func TestNotFoundIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "missing-job", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", task.Failure)
	}
	if len(h.delays) != 0 {
		t.Fatalf("not found must not retry: %v", h.delays)
	}
}

func TestTransientFetchErrorsAreJoined(t *testing.T) {
	h := newHarness(t)
	h.exec.Jobs = jobFunc(func(ctx context.Context, id string) (profile.JobContext, error) {
		return profile.JobContext{}, &gateway.Error{Op: "get job", Status: 503, Err: errors.New("upstream down")}
	})
	h.exec.Profiles = profileFunc(func(ctx context.Context, id string) (profile.Profile, error) {
		return profile.Profile{}, &gateway.Error{Op: "get profile", Status: 502, Err: errors.New("bad gateway")}
	})
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeRetriesExhausted {
		t.Fatalf("expected exhaustion, got %+v", task.Failure)
	}
	if !strings.Contains(task.Failure.Error, "get job") || !strings.Contains(task.Failure.Error, "get profile") {
		t.Fatalf("combined failure should name both calls: %q", task.Failure.Error)
	}
	if strings.Contains(task.Failure.Error, "\n") {
		t.Fatalf("user message must be a single line")
	}
}

func TestUnsupportedFormatIsTerminal(t *testing.T) {
	h := newHarness(t)
	noise := strings.Repeat("\x00\x01\x02\x8f\x03", 50)
	h.static.PutProfile(profile.Profile{SubjectID: "binary", Resume: profile.Resume{Content: []byte(noise)}})
	h.submit(t, "t1", tasks.Params{SubjectID: "binary", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeUnsupportedFormat {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %+v", task.Failure)
	}
	if task.Failure.DebugRef == "" {
		t.Fatalf("terminal failure should keep the input for postmortem")
	}
}

func TestInvalidEncodingIsInputError(t *testing.T) {
	h := newHarness(t)
	h.exec.Profiles = profileFunc(func(ctx context.Context, id string) (profile.Profile, error) {
		return profile.Profile{Resume: profile.Resume{Content: []byte("@@not-base64@@"), EncodedAs: profile.EncodingBase64}}, nil
	})
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeInput {
		t.Fatalf("expected INPUT_ERROR, got %+v", task.Failure)
	}
}

func TestValidationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "t1", tasks.Params{SubjectID: "", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeInput || task.Failure.Stage != tasks.StageValidatingInput {
		t.Fatalf("expected validation failure, got %+v", task.Failure)
	}
	if got := h.repo.stages(); len(got) != 1 {
		t.Fatalf("pipeline continued past validation: %v", got)
	}
}

func TestFollowUpUsesTimeBoxedPolicyAndEnvelope(t *testing.T) {
	h := newHarness(t)
	h.gen.document = []reply{{err: llm.ErrQuotaExceeded}}
	h.gen.fallbackD = reply{text: "Hello [Company Name] team,\nFollowing up on my application.\n[Your Name]"}
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.FollowUpEmail})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded {
		t.Fatalf("expected success, got %+v", task.Failure)
	}
	if len(h.delays) != 1 || h.delays[0] != 120*time.Second {
		t.Fatalf("expected one 120s backoff, got %v", h.delays)
	}
	email := task.Result.Email
	if email == nil || email.To != "jobs@globex.test" || email.Subject != "Follow-up: Application for Jane Doe" {
		t.Fatalf("unexpected envelope: %+v", email)
	}
	if !strings.Contains(email.HTML, "<br>") {
		t.Fatalf("html body should use line breaks: %q", email.HTML)
	}
}

func TestResumeWithoutGeneratorPassesTextThrough(t *testing.T) {
	h := newHarness(t)
	h.exec.Analyzer = structured.New(nil)
	h.exec.Composer = compose.New(nil)
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", DocType: compose.Resume})

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded {
		t.Fatalf("expected success, got %+v", task.Failure)
	}
	if task.Result.Content != strings.TrimSpace(resumeText) || task.Result.Enhanced {
		t.Fatalf("expected unmodified text, got enhanced=%v %q", task.Result.Enhanced, task.Result.Content)
	}
	if task.Result.Profile == nil || task.Result.Profile.Name != "Jane Doe" || task.Result.Profile.Email != "jane@example.com" {
		t.Fatalf("resume result should carry the enriched profile: %+v", task.Result.Profile)
	}
	if !strings.Contains(task.Result.JobDescriptionPreview, "Software Engineer") {
		t.Fatalf("expected fallback job preview, got %q", task.Result.JobDescriptionPreview)
	}
}

func TestNonRetryableGenerationErrorIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.gen.fallbackD = reply{err: errors.New("content policy violation")}
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	task := h.run(t, "t1")
	if task.Failure == nil || task.Failure.Code != tasks.CodeGeneration {
		t.Fatalf("expected GENERATION_ERROR, got %+v", task.Failure)
	}
	if len(h.delays) != 0 {
		t.Fatalf("terminal generation error retried: %v", h.delays)
	}
}

func TestFinishedTaskIsNotReprocessed(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})
	first := h.run(t, "t1")
	events := len(h.repo.stages())

	second := h.run(t, "t1")
	if second.UpdatedAt != first.UpdatedAt || len(h.repo.stages()) != events {
		t.Fatalf("finished task was processed again")
	}
}

func TestRedeliveredTaskResumesWithoutRegression(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})
	ctx := context.Background()
	if err := h.repo.MemoryRepo.RecordStage(ctx, tasks.StageEvent{TaskID: "t1", Stage: tasks.StageAnalyzingCV, Attempt: 1}); err != nil {
		t.Fatalf("seed stage: %v", err)
	}

	task := h.run(t, "t1")
	if task.Stage != tasks.StageSucceeded || task.Attempt != 2 {
		t.Fatalf("expected success on attempt 2, got %s/%d", task.Stage, task.Attempt)
	}
	stages := h.repo.stages()
	if stages[0] != tasks.StageAnalyzingCV {
		t.Fatalf("replayed stages were published: %v", stages)
	}
	assertMonotonic(t, stages)
}

func TestCancelledContextAbandonsTask(t *testing.T) {
	h := newHarness(t)
	h.gen.fallbackD = reply{err: llm.ErrUnavailable}
	h.exec.Sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	h.submit(t, "t1", tasks.Params{SubjectID: "subject-1", JobID: "job-1", DocType: compose.CoverLetter})

	err := h.exec.ProcessTask(context.Background(), "t1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	task, _ := h.repo.Get(context.Background(), "t1")
	if task.Ready() {
		t.Fatalf("abandoned task must stay non-terminal, got %s", task.Stage)
	}
}

func TestMissingTaskReturnsError(t *testing.T) {
	h := newHarness(t)
	if err := h.exec.ProcessTask(context.Background(), "nope"); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type renderFunc func(ctx context.Context, doc compose.Document) ([]byte, error)

func (f renderFunc) Render(ctx context.Context, doc compose.Document) ([]byte, error) { return f(ctx, doc) }

type profileFunc func(ctx context.Context, id string) (profile.Profile, error)

func (f profileFunc) GetProfile(ctx context.Context, id string) (profile.Profile, error) { return f(ctx, id) }

type jobFunc func(ctx context.Context, id string) (profile.JobContext, error)

func (f jobFunc) GetJob(ctx context.Context, id string) (profile.JobContext, error) { return f(ctx, id) }
