// Package structured turns raw resume text into a normalized profile record
// using a text generator. Unusable output becomes a degraded record rather
// than an error.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"docgen-backend/internal/llm"
	"docgen-backend/internal/shared/telemetry"
)

// JobDescriptionLimit bounds how much of the job description is embedded in the prompt.
const JobDescriptionLimit = 500

const recordSchema = `{
  "type": "object",
  "required": ["name", "contact", "summary", "experience", "skills"],
  "properties": {
    "name": {"type": "string"},
    "contact": {"type": ["string", "object"]},
    "summary": {"type": "string"},
    "experience": {"type": ["array", "string"]},
    "skills": {"type": ["array", "string"]}
  }
}`

var schema = mustSchema(recordSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("structured: invalid record schema: %v", err))
	}
	return s
}

// Input is everything the extraction prompt is built from.
type Input struct {
	ResumeText     string
	JobDescription string
	Skills         string
	Experience     string
}

// Extractor calls the generator and validates its answer.
type Extractor struct {
	gen  llm.TextGenerator
	tone string
}

// New returns an Extractor. A nil generator yields degraded records.
func New(gen llm.TextGenerator) *Extractor {
	return &Extractor{gen: gen, tone: llm.DefaultTone}
}

// Extract returns the structured record for in. The only errors returned are
// retryable generator failures and context errors; everything else degrades.
func (e *Extractor) Extract(ctx context.Context, in Input) (Record, error) {
	if e == nil || e.gen == nil {
		return Degraded(in.ResumeText), nil
	}

	raw, err := e.gen.Generate(ctx, Prompt(in), e.tone)
	if err != nil {
		if ctx.Err() != nil {
			return Record{}, ctx.Err()
		}
		if llm.IsRetryable(err) {
			return Record{}, err
		}
		telemetry.Warn("extract.generator_failed", map[string]any{"error": err})
		return Degraded(in.ResumeText), nil
	}

	rec, err := Parse(raw)
	if err != nil {
		telemetry.Warn("extract.degraded", map[string]any{"error": err})
		return Degraded(in.ResumeText), nil
	}
	return rec, nil
}

// Prompt builds the extraction prompt.
func Prompt(in Input) string {
	var b strings.Builder
	b.WriteString("Analyze the following resume and extract key information into a structured JSON format.\n")
	fmt.Fprintf(&b, "Focus on details relevant to this job description: %s...\n", truncate(in.JobDescription, JobDescriptionLimit))
	fmt.Fprintf(&b, "Additional skills: %s, Additional experience: %s\n\n", in.Skills, in.Experience)
	b.WriteString("Resume Text:\n---\n")
	b.WriteString(in.ResumeText)
	b.WriteString("\n---\n\n")
	b.WriteString(`Output only a JSON object with keys: "name", "contact", "summary", "experience", and "skills".`)
	return b.String()
}

// ErrShape is returned by Parse when the output is not a conforming object.
var ErrShape = errors.New("structured output does not match record shape")

// Parse strips code fences, validates the object against the record schema and
// decodes it.
func Parse(raw string) (Record, error) {
	body := llm.StripFences(raw)
	if !json.Valid([]byte(body)) {
		return Record{}, fmt.Errorf("%w: invalid JSON", ErrShape)
	}

	res, err := schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Record{}, fmt.Errorf("%w: %s", ErrShape, strings.Join(msgs, "; "))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	return Record{Fields: fields}, nil
}

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
