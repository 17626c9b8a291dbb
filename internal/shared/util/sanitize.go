package util

import (
	"errors"
	"path"
	"strings"
)

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// SanitizeKey validates a slash separated object key. Each segment is passed
// through SanitizeFileName and empty segments are dropped.
func SanitizeKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	if strings.HasPrefix(key, "/") {
		return "", errors.New("invalid object key")
	}
	parts := strings.Split(key, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		s, err := SanitizeFileName(p)
		if err != nil {
			return "", errors.New("invalid object key")
		}
		clean = append(clean, s)
	}
	if len(clean) == 0 {
		return "", errors.New("invalid object key")
	}
	return path.Join(clean...), nil
}

// maxMessageRunes bounds error text returned to API callers.
const maxMessageRunes = 500

// SingleLine flattens msg onto one line and cuts it to at most 500 runes.
func SingleLine(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "; ")
	msg = strings.ReplaceAll(msg, "\n", "; ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	return TruncateRunes(strings.TrimSpace(msg), maxMessageRunes)
}

// TruncateRunes returns at most n runes of s, never splitting a rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
