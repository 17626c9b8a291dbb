package profile

import (
	"strings"

	"docgen-backend/internal/shared/util"
)

const (
	DefaultCompanyName  = "Company Name"
	DefaultContactEmail = "hiring@company.com"
)

// fallbackDescription is used for resume tasks submitted without any job context.
const fallbackDescription = `Job Title: Software Engineer
Company: Company Name
Responsibilities:
- Design, build and maintain reliable software systems
- Collaborate with cross-functional teams to deliver features
- Write clear documentation and participate in code review
Requirements:
- Experience with modern programming languages and tooling
- Strong problem-solving and communication skills`

// JobContext describes the position a document is generated for.
type JobContext struct {
	JobID        string `json:"jobId,omitempty"`
	Description  string `json:"description"`
	Company      string `json:"company,omitempty"`
	ContactEmail string `json:"contactEmail,omitempty"`
	Fallback     bool   `json:"fallback,omitempty"`
}

// FallbackJob returns the static job context used when none is available.
func FallbackJob() JobContext {
	return JobContext{Description: fallbackDescription, Fallback: true}
}

// CompanyName returns the company from metadata, then from a "Company:" line in
// the description, then the generic placeholder.
func (j JobContext) CompanyName() string {
	if c := strings.TrimSpace(j.Company); c != "" {
		return c
	}
	if c := labeledLine(j.Description, "Company:"); c != "" {
		return c
	}
	return DefaultCompanyName
}

// Contact returns the address a follow-up email should be sent to.
func (j JobContext) Contact() string {
	if c := strings.TrimSpace(j.ContactEmail); c != "" {
		return c
	}
	if c := labeledLine(j.Description, "Contact:"); c != "" {
		return c
	}
	return DefaultContactEmail
}

// Preview returns the first 100 characters of the description followed by "...".
func (j JobContext) Preview() string {
	return util.TruncateRunes(j.Description, 100) + "..."
}

// Truncate returns at most n runes of the description.
func (j JobContext) Truncate(n int) string {
	return util.TruncateRunes(j.Description, n)
}

func labeledLine(text, label string) string {
	idx := strings.Index(text, label)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(label):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}
