package compose

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

type promptData struct {
	Tone           string
	Skills         string
	Experience     string
	JobDescription string
	ResumeData     string
	ResumeText     string
	Structured     bool
	Today          string
}

// Prompt renders the generation prompt for a document type.
func Prompt(docType DocType, data promptData) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, string(docType)+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", docType, err)
	}
	return strings.TrimSpace(b.String()), nil
}
