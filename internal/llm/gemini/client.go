// Package gemini implements llm.TextGenerator on Google Gemini with an ordered
// model fallback list.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docgen-backend/internal/llm"
	"docgen-backend/internal/shared/telemetry"
)

type generateFunc func(ctx context.Context, model, prompt string) (string, error)

// Client walks its models in order until one answers.
type Client struct {
	models   []string
	generate generateFunc
	closer   func() error
}

// NewClient creates a Gemini client for the given models, tried in order.
func NewClient(ctx context.Context, apiKey string, models []string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	models = cleanModels(models)
	if len(models) == 0 {
		return nil, fmt.Errorf("at least one gemini model is required")
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		models: models,
		generate: func(ctx context.Context, name, prompt string) (string, error) {
			model := gc.GenerativeModel(name)
			model.SetTemperature(0.2)
			resp, err := model.GenerateContent(ctx, genai.Text(prompt))
			if err != nil {
				return "", err
			}
			return extractText(resp)
		},
		closer: gc.Close,
	}, nil
}

// Generate sends the tone-prefixed prompt to each model in turn. A quota
// rejection stops the walk; other failures move on to the next model.
func (c *Client) Generate(ctx context.Context, prompt, tone string) (string, error) {
	full := llm.WithTone(prompt, tone)
	var errs []error
	for _, name := range c.models {
		text, err := c.generate(ctx, name, full)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				errs = append(errs, fmt.Errorf("%s: %w", name, llm.ErrEmptyOutput))
				continue
			}
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if isQuota(err) {
			telemetry.Warn("llm.quota_exceeded", map[string]any{"model": name, "error": err})
			return "", fmt.Errorf("%w: gemini %s: %v", llm.ErrQuotaExceeded, name, err)
		}
		telemetry.Warn("llm.model_failed", map[string]any{"model": name, "error": err})
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	joined := errors.Join(errs...)
	for _, err := range errs {
		if transient(err) {
			return "", fmt.Errorf("%w: all gemini models failed: %v", llm.ErrUnavailable, joined)
		}
	}
	return "", fmt.Errorf("all gemini models failed: %w", joined)
}

// transient reports an outage worth retrying: 5xx responses, timeouts and
// dropped connections. Other 4xx responses fail the same way on every model.
func transient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError
	}
	return llm.IsRetryable(err)
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

func isQuota(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resourceexhausted") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429")
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func cleanModels(models []string) []string {
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

var _ llm.TextGenerator = (*Client)(nil)
