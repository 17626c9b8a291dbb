// Package compose builds final document text from a structured profile and a
// job context.
package compose

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"docgen-backend/internal/llm"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/structured"
)

const (
	namePlaceholder    = "[Your Name]"
	companyPlaceholder = "[Company Name]"
)

// ErrGeneration marks a generator failure that should not be retried.
var ErrGeneration = errors.New("document generation failed")

// Request carries everything a document is composed from.
type Request struct {
	DocType    DocType
	Tone       string
	Record     structured.Record
	Profile    profile.Profile
	Job        profile.JobContext
	ResumeText string
	Skills     string
	Experience string
}

// Email is the envelope produced for follow-up emails.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Document is the composed output.
type Document struct {
	DocType     DocType   `json:"docType"`
	Body        string    `json:"content"`
	Tone        string    `json:"tone"`
	GeneratedAt time.Time `json:"generatedAt"`
	Email       *Email    `json:"email,omitempty"`
	Enhanced    bool      `json:"enhanced"`
}

// Composer renders prompts, calls the generator and substitutes placeholders.
type Composer struct {
	gen llm.TextGenerator
	now func() time.Time
}

// New returns a Composer. A nil generator passes the extracted text through.
func New(gen llm.TextGenerator) *Composer {
	return &Composer{gen: gen, now: time.Now}
}

// Compose produces the document for req. Retryable generator failures are
// returned as-is; other failures wrap ErrGeneration.
func (c *Composer) Compose(ctx context.Context, req Request) (Document, error) {
	if !req.DocType.Valid() {
		return Document{}, fmt.Errorf("%w: unknown document type %q", ErrGeneration, req.DocType)
	}
	now := c.now().UTC()
	doc := Document{DocType: req.DocType, Tone: req.Tone, GeneratedAt: now}

	body := req.ResumeText
	if c.gen != nil {
		prompt, err := Prompt(req.DocType, promptDataFor(req, now))
		if err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		out, err := c.gen.Generate(ctx, prompt, req.Tone)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return Document{}, ctx.Err()
		case llm.IsRetryable(err):
			return Document{}, err
		default:
			return Document{}, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		body = out
		doc.Enhanced = true
	}

	body = strings.TrimSpace(Substitute(body, candidateName(req), req.Job.CompanyName()))
	if body == "" {
		return Document{}, fmt.Errorf("%w: %v", ErrGeneration, llm.ErrEmptyOutput)
	}
	doc.Body = body

	if req.DocType == FollowUpEmail {
		email := BuildEmail(body, candidateName(req), req.Job)
		doc.Email = &email
	}
	return doc, nil
}

// Substitute replaces the name and company placeholders. Empty values fall
// back to the generic placeholders.
func Substitute(text, name, company string) string {
	if strings.TrimSpace(name) == "" {
		name = profile.DefaultCandidateName
	}
	if strings.TrimSpace(company) == "" {
		company = profile.DefaultCompanyName
	}
	return strings.NewReplacer(namePlaceholder, name, companyPlaceholder, company).Replace(text)
}

// BuildEmail wraps a follow-up body in its envelope.
func BuildEmail(body, name string, job profile.JobContext) Email {
	subjectName := strings.TrimSpace(name)
	if subjectName == "" || subjectName == profile.DefaultCandidateName {
		subjectName = "the position"
	}
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return Email{
		To:      job.Contact(),
		Subject: "Follow-up: Application for " + subjectName,
		Text:    body,
		HTML:    "<html><body><p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p></body></html>",
	}
}

func candidateName(req Request) string {
	if name := req.Record.Name(); name != "" {
		return name
	}
	return req.Profile.DisplayName()
}

func promptDataFor(req Request, now time.Time) promptData {
	data := promptData{
		Tone:           req.Tone,
		Skills:         req.Skills,
		Experience:     req.Experience,
		JobDescription: req.Job.Description,
		ResumeText:     req.ResumeText,
		Structured:     !req.Record.IsDegraded() && len(req.Record.Fields) > 0,
		Today:          now.Format("January 2, 2006"),
	}
	if data.Tone == "" {
		data.Tone = "Professional"
	}
	if data.Structured {
		data.ResumeData = req.Record.Content()
	} else {
		data.ResumeData = req.Record.RawCV
		if data.ResumeData == "" {
			data.ResumeData = req.ResumeText
		}
	}
	return data
}
