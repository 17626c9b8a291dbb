package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"docgen-backend/internal/profile"
)

// JobClient fetches job listings over HTTP.
type JobClient struct {
	http httpDoer
}

// NewJobClient returns a client for baseURL/{id}.
func NewJobClient(baseURL string, timeout time.Duration) *JobClient {
	return &JobClient{http: newDoer(baseURL, timeout)}
}

type jobPayload struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Company      string `json:"company"`
	CompanyName  string `json:"companyName"`
	ContactEmail string `json:"contactEmail"`
}

var htmlTag = regexp.MustCompile(`(?i)<\s*(p|div|br|ul|li|h[1-6]|span|section|article|body|html)\b`)

// GetJob fetches the listing for jobID. HTML descriptions and HTML pages are
// reduced to their main text.
func (c *JobClient) GetJob(ctx context.Context, jobID string) (profile.JobContext, error) {
	const op = "get job"
	body, contentType, err := c.http.get(ctx, op, c.http.baseURL+"/"+url.PathEscape(jobID))
	if err != nil {
		return profile.JobContext{}, err
	}

	if strings.Contains(strings.ToLower(contentType), "text/html") {
		text, err := ExtractMainText(string(body))
		if err != nil {
			return profile.JobContext{}, &Error{Op: op, Err: err}
		}
		return profile.JobContext{JobID: jobID, Description: text}, nil
	}

	payload, err := decodeJob(body)
	if err != nil {
		return profile.JobContext{}, &Error{Op: op, Err: err}
	}
	desc := payload.Description
	if htmlTag.MatchString(desc) {
		if desc, err = ExtractMainText(desc); err != nil {
			return profile.JobContext{}, &Error{Op: op, Err: err}
		}
	}
	if title := strings.TrimSpace(payload.Title); title != "" && !strings.Contains(desc, title) {
		desc = "Job Title: " + title + "\n" + desc
	}
	company := payload.Company
	if company == "" {
		company = payload.CompanyName
	}
	return profile.JobContext{
		JobID:        jobID,
		Description:  strings.TrimSpace(desc),
		Company:      strings.TrimSpace(company),
		ContactEmail: strings.TrimSpace(payload.ContactEmail),
	}, nil
}

// decodeJob accepts both {"data": {...}} and a bare listing object.
func decodeJob(body []byte) (jobPayload, error) {
	var env struct {
		Data *jobPayload `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return jobPayload{}, fmt.Errorf("decode job: %w", err)
	}
	if env.Data != nil {
		return *env.Data, nil
	}
	var bare jobPayload
	if err := json.Unmarshal(body, &bare); err != nil {
		return jobPayload{}, fmt.Errorf("decode job: %w", err)
	}
	return bare, nil
}

var jobSelectors = []string{
	".job-description",
	"#job-description",
	".job-details",
	".posting-content",
	"[data-testid='job-description']",
	"main",
	"article",
}

// ExtractMainText strips page chrome and returns the job text with block
// elements on their own lines.
func ExtractMainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("nav, footer, header, script, style, noscript, .cookie-banner, .sidebar").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, li, div, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var main *goquery.Selection
	for _, selector := range jobSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			main = sel.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}
	return cleanWhitespace(main.Text()), nil
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
