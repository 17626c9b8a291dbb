package structured

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DegradedMessage is the error text carried by every degraded record.
const DegradedMessage = "Failed to parse CV into JSON"

// Record is either a structured profile returned by the generator or a
// degraded placeholder carrying the raw resume text.
type Record struct {
	Fields map[string]any
	Error  string
	RawCV  string
}

// Degraded returns the placeholder record used when structured output is unusable.
func Degraded(rawText string) Record {
	return Record{Error: DegradedMessage, RawCV: rawText}
}

// IsDegraded reports whether r is a degraded placeholder.
func (r Record) IsDegraded() bool {
	return r.Error != ""
}

// Name returns the candidate name if the record has one.
func (r Record) Name() string {
	if r.IsDegraded() {
		return ""
	}
	name, _ := r.Fields["name"].(string)
	return strings.TrimSpace(name)
}

// Contact flattens the contact field into a single line.
func (r Record) Contact() string {
	if r.IsDegraded() {
		return ""
	}
	switch v := r.Fields["contact"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		parts := make([]string, 0, len(v))
		for _, key := range []string{"email", "phone", "location"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, " | ")
	default:
		return ""
	}
}

// Content returns the text handed to composition prompts: indented JSON for
// structured records, the raw resume text for degraded ones.
func (r Record) Content() string {
	if r.IsDegraded() {
		return r.RawCV
	}
	out, err := json.MarshalIndent(r.Fields, "", "  ")
	if err != nil {
		return fmt.Sprint(r.Fields)
	}
	return string(out)
}

// MarshalJSON renders degraded records as {"error", "raw_cv"}.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.IsDegraded() {
		return json.Marshal(struct {
			Error string `json:"error"`
			RawCV string `json:"raw_cv"`
		}{Error: r.Error, RawCV: r.RawCV})
	}
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}

// UnmarshalJSON accepts either shape produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if msg, ok := fields["error"].(string); ok {
		if raw, ok := fields["raw_cv"].(string); ok {
			*r = Record{Error: msg, RawCV: raw}
			return nil
		}
	}
	*r = Record{Fields: fields}
	return nil
}
