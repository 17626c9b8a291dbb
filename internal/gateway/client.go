// Package gateway contains HTTP clients for the profile and job services.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

type httpDoer struct {
	baseURL string
	client  *http.Client
}

func newDoer(baseURL string, timeout time.Duration) httpDoer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return httpDoer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// get returns the body and content type of a successful GET.
func (d httpDoer) get(ctx context.Context, op, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", &Error{Op: op, Err: ctxErr}
		}
		return nil, "", &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", &Error{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", &Error{Op: op, Status: resp.StatusCode, NotFound: true}
	case resp.StatusCode >= 400:
		return nil, "", &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", snippet(body))}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}
