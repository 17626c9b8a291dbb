// Package profile holds the candidate and job records the pipeline works on.
package profile

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// EncodingBase64 marks resume content transported as base64 text.
const EncodingBase64 = "base64"

// Profile is a candidate record. Values are treated as immutable; use Enrich
// or the With* helpers to derive a new record.
type Profile struct {
	SubjectID  string   `json:"subjectId,omitempty"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Location   string   `json:"location"`
	Education  []string `json:"education"`
	Experience []string `json:"experience"`
	Skills     []string `json:"skills"`
	Resume     Resume   `json:"-"`
}

// Resume is the raw resume payload as received from the profile store.
type Resume struct {
	Content   []byte
	EncodedAs string
	Format    string
}

// ErrInvalidEncoding is returned when resume content cannot be decoded.
var ErrInvalidEncoding = errors.New("invalid resume encoding")

// Decode returns the resume bytes with any transport encoding removed.
func (r Resume) Decode() ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(r.EncodedAs)) {
	case "", "raw", "binary":
		return append([]byte(nil), r.Content...), nil
	case EncodingBase64:
		clean := strings.Join(strings.Fields(string(r.Content)), "")
		out, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			out, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEncoding, r.EncodedAs)
	}
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	out := p
	out.Education = append([]string(nil), p.Education...)
	out.Experience = append([]string(nil), p.Experience...)
	out.Skills = append([]string(nil), p.Skills...)
	out.Resume.Content = append([]byte(nil), p.Resume.Content...)
	return out
}

// DisplayName returns the candidate name or the generic placeholder.
func (p Profile) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return DefaultCandidateName
}

// DefaultCandidateName is used when no name is known.
const DefaultCandidateName = "Candidate Name"
