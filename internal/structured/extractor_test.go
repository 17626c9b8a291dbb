package structured

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"docgen-backend/internal/llm"
)

type stubGenerator struct {
	out     string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt, _ string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.out, s.err
}

const validOutput = "```json\n" + `{"name":"Jane Doe","contact":{"email":"jane@example.com","phone":"555"},"summary":"Engineer","experience":["Acme"],"skills":["Go"]}` + "\n```"

func TestExtractStructured(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{out: validOutput}
	rec, err := New(gen).Extract(context.Background(), Input{ResumeText: "resume", JobDescription: "jd"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.IsDegraded() {
		t.Fatalf("expected structured record, got degraded")
	}
	if rec.Name() != "Jane Doe" {
		t.Fatalf("name = %q", rec.Name())
	}
	if rec.Contact() != "jane@example.com | 555" {
		t.Fatalf("contact = %q", rec.Contact())
	}
}

func TestExtractDegradesOnMalformedOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
	}{
		{name: "not json", out: "Sure! Here is the resume: name Jane"},
		{name: "missing keys", out: `{"name":"Jane"}`},
		{name: "wrong type", out: `{"name":42,"contact":"x","summary":"s","experience":[],"skills":[]}`},
		{name: "array", out: `["name","contact"]`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gen := &stubGenerator{out: tt.out}
			first, err := New(gen).Extract(context.Background(), Input{ResumeText: "raw resume"})
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			second, _ := New(gen).Extract(context.Background(), Input{ResumeText: "raw resume"})
			want := Record{Error: DegradedMessage, RawCV: "raw resume"}
			if !reflect.DeepEqual(first, want) || !reflect.DeepEqual(second, want) {
				t.Fatalf("expected identical degraded records, got %+v and %+v", first, second)
			}
		})
	}
}

func TestExtractPropagatesOutage(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: llm.ErrQuotaExceeded}
	_, err := New(gen).Extract(context.Background(), Input{ResumeText: "r"})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected outage error, got %v", err)
	}
}

func TestExtractDegradesOnTerminalGeneratorError(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: errors.New("openai http status 400: bad request")}
	rec, err := New(gen).Extract(context.Background(), Input{ResumeText: "r"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !rec.IsDegraded() {
		t.Fatalf("expected degraded record")
	}
}

func TestExtractWithoutGenerator(t *testing.T) {
	t.Parallel()

	rec, err := New(nil).Extract(context.Background(), Input{ResumeText: "r"})
	if err != nil || !rec.IsDegraded() || rec.Content() != "r" {
		t.Fatalf("unexpected result %+v, %v", rec, err)
	}
}

func TestPromptTruncatesJobDescription(t *testing.T) {
	t.Parallel()

	jd := strings.Repeat("a", 600) + "TAIL"
	p := Prompt(Input{ResumeText: "FULL RESUME TEXT", JobDescription: jd, Skills: "Go", Experience: "5y"})
	if strings.Contains(p, "TAIL") {
		t.Fatalf("job description was not truncated")
	}
	if !strings.Contains(p, strings.Repeat("a", 500)+"...") {
		t.Fatalf("expected first 500 characters of job description")
	}
	for _, want := range []string{"FULL RESUME TEXT", "Additional skills: Go", "Additional experience: 5y"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestRecordJSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Degraded("raw"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"error":"Failed to parse CV into JSON","raw_cv":"raw"}` {
		t.Fatalf("degraded json = %s", out)
	}

	var back Record
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.IsDegraded() || back.RawCV != "raw" {
		t.Fatalf("round trip lost degraded shape: %+v", back)
	}
}
