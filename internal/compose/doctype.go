package compose

import (
	"fmt"
	"strings"
)

// DocType names the kind of document a task produces.
type DocType string

const (
	CoverLetter   DocType = "cover_letter"
	Resume        DocType = "resume"
	FollowUpEmail DocType = "follow_up_email"
)

// ParseDocType accepts the canonical names plus a few aliases.
func ParseDocType(raw string) (DocType, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "-", "_"))) {
	case "", "cover_letter", "coverletter":
		return CoverLetter, nil
	case "resume", "cv":
		return Resume, nil
	case "follow_up_email", "follow_up", "followup", "email":
		return FollowUpEmail, nil
	default:
		return "", fmt.Errorf("unknown document type %q", raw)
	}
}

// Valid reports whether d is a known document type.
func (d DocType) Valid() bool {
	switch d {
	case CoverLetter, Resume, FollowUpEmail:
		return true
	}
	return false
}
