package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultTone is used when a request does not name one.
const DefaultTone = "professional"

// TextGenerator produces free text from a prompt. Implementations must honor
// context cancellation.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, tone string) (string, error)
}

var (
	// ErrUnavailable marks a provider outage. Callers may retry.
	ErrUnavailable = errors.New("text generator unavailable")
	// ErrQuotaExceeded is a rate or quota rejection. It is also ErrUnavailable.
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", ErrUnavailable)
	// ErrEmptyOutput is returned when the provider answers with no text.
	ErrEmptyOutput = errors.New("text generator returned empty output")
)

// WithTone prefixes the prompt with the tone instruction sent to providers.
func WithTone(prompt, tone string) string {
	tone = strings.TrimSpace(tone)
	if tone == "" {
		tone = DefaultTone
	}
	return tone + " tone: " + prompt
}

// IsRetryable reports whether err is a transient generator failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "timeout") && (strings.Contains(msg, "openai") || strings.Contains(msg, "gemini") || strings.Contains(msg, "client.timeout")) {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "unexpected eof")
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(text[:nl]); !strings.ContainsAny(tag, "{[") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Func adapts a plain function into a TextGenerator.
type Func func(ctx context.Context, prompt, tone string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt, tone string) (string, error) {
	return f(ctx, prompt, tone)
}
