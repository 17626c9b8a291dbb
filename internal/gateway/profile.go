package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"docgen-backend/internal/profile"
)

// ProfileClient fetches candidate profiles over HTTP.
type ProfileClient struct {
	http httpDoer
}

// NewProfileClient returns a client for baseURL/get-profile/{id}.
func NewProfileClient(baseURL string, timeout time.Duration) *ProfileClient {
	return &ProfileClient{http: newDoer(baseURL, timeout)}
}

type profileEnvelope struct {
	Data profilePayload `json:"data"`
}

type profilePayload struct {
	Username          string          `json:"username"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	Phone             string          `json:"phone"`
	Location          string          `json:"location"`
	Position          string          `json:"position"`
	PreferredIndustry string          `json:"preferredIndustry"`
	Skills            []string        `json:"skills"`
	Experience        []string        `json:"experience"`
	Education         []string        `json:"education"`
	Resume            json.RawMessage `json:"resume"`
}

type resumePayload struct {
	Content   string `json:"content"`
	EncodedAs string `json:"encodedAs"`
	Format    string `json:"format"`
}

// GetProfile fetches the profile for subjectID. A resume given as a URL is
// downloaded and kept as raw bytes.
func (c *ProfileClient) GetProfile(ctx context.Context, subjectID string) (profile.Profile, error) {
	const op = "get profile"
	endpoint := c.http.baseURL + "/get-profile/" + url.PathEscape(subjectID)
	body, _, err := c.http.get(ctx, op, endpoint)
	if err != nil {
		return profile.Profile{}, err
	}

	var env profileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return profile.Profile{}, &Error{Op: op, Err: fmt.Errorf("decode profile: %w", err)}
	}
	p := normalizeProfile(subjectID, env.Data)

	resume, err := c.resolveResume(ctx, env.Data.Resume)
	if err != nil {
		return profile.Profile{}, err
	}
	p.Resume = resume
	return p, nil
}

func (c *ProfileClient) resolveResume(ctx context.Context, raw json.RawMessage) (profile.Resume, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return profile.Resume{}, nil
	}

	var link string
	if err := json.Unmarshal(raw, &link); err == nil {
		link = strings.TrimSpace(link)
		if link == "" {
			return profile.Resume{}, nil
		}
		body, contentType, err := c.http.get(ctx, "get resume", link)
		if err != nil {
			return profile.Resume{}, err
		}
		return profile.Resume{Content: body, Format: contentType}, nil
	}

	var payload resumePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return profile.Resume{}, &Error{Op: "get profile", Err: fmt.Errorf("decode resume: %w", err)}
	}
	encodedAs := payload.EncodedAs
	if encodedAs == "" && payload.Content != "" {
		encodedAs = profile.EncodingBase64
	}
	return profile.Resume{Content: []byte(payload.Content), EncodedAs: encodedAs, Format: payload.Format}, nil
}

func normalizeProfile(subjectID string, d profilePayload) profile.Profile {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = strings.TrimSpace(d.Username)
	}
	p := profile.Profile{
		SubjectID:  subjectID,
		Name:       name,
		Email:      strings.TrimSpace(d.Email),
		Phone:      strings.TrimSpace(d.Phone),
		Location:   strings.TrimSpace(d.Location),
		Skills:     append([]string(nil), d.Skills...),
		Experience: append([]string(nil), d.Experience...),
		Education:  append([]string(nil), d.Education...),
	}
	positions := splitList(d.Position)
	if len(p.Experience) == 0 {
		p.Experience = positions
	}
	if len(p.Skills) == 0 {
		p.Skills = dedupe(append(positions, splitList(d.PreferredIndustry)...))
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// encodeBase64 is used by the static gateway to mirror the HTTP transport.
func encodeBase64(data []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}
