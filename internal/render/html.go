// Package render turns composed documents into printable HTML and PDF.
package render

import (
	"bytes"
	"html/template"
	"strings"

	"docgen-backend/internal/compose"
)

var page = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
@page { size: Letter; margin: 1in; }
body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 11pt; line-height: 1.45; color: #222; }
h1 { font-size: 14pt; margin: 0 0 18pt 0; }
p { margin: 0 0 10pt 0; }
</style>
</head>
<body>
{{- if .Heading}}
<h1>{{.Heading}}</h1>
{{- end}}
{{- range .Paragraphs}}
<p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Title      string
	Heading    string
	Paragraphs [][]string
}

// HTML renders doc as a standalone HTML page. Blank lines separate paragraphs.
func HTML(doc compose.Document) (string, error) {
	data := pageData{Title: title(doc.DocType), Paragraphs: paragraphs(doc.Body)}
	if doc.Email != nil {
		data.Heading = doc.Email.Subject
	}
	var b bytes.Buffer
	if err := page.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func title(t compose.DocType) string {
	switch t {
	case compose.Resume:
		return "Resume"
	case compose.FollowUpEmail:
		return "Follow-up Email"
	default:
		return "Cover Letter"
	}
}

func paragraphs(body string) [][]string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out [][]string
	for _, block := range strings.Split(body, "\n\n") {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, lines)
		}
	}
	return out
}
