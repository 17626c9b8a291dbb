package profile

import (
	"regexp"
	"strings"
)

var (
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern     = regexp.MustCompile(`(\+?\d{1,2}\s?)?(\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4})`)
	locationLabel    = regexp.MustCompile(`(?i)^\s*(location|address)\s*:\s*(.+)$`)
	cityStatePattern = regexp.MustCompile(`^[A-Z][A-Za-z .'-]+, [A-Z]{2}$`)
	digitPattern     = regexp.MustCompile(`\d`)
)

// Parsed is the result of heuristic resume parsing.
type Parsed struct {
	Name       string
	Email      string
	Phone      string
	Location   string
	Education  []string
	Experience []string
	Skills     []string
}

type section int

const (
	sectionNone section = iota
	sectionEducation
	sectionExperience
	sectionSkills
	sectionOther
)

var headings = map[string]section{
	"education":               sectionEducation,
	"academic background":     sectionEducation,
	"experience":              sectionExperience,
	"work experience":         sectionExperience,
	"professional experience": sectionExperience,
	"employment history":      sectionExperience,
	"skills":                  sectionSkills,
	"technical skills":        sectionSkills,
	"core competencies":       sectionSkills,
	"summary":                 sectionOther,
	"profile":                 sectionOther,
	"projects":                sectionOther,
	"certifications":          sectionOther,
}

// ParseResume extracts contact details and sections from plain resume text.
func ParseResume(text string) Parsed {
	var out Parsed
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, "@") && !digitPattern.MatchString(trimmed) {
			if _, isHeading := headingFor(trimmed); !isHeading {
				out.Name = trimmed
			}
		}
		break
	}

	out.Email = emailPattern.FindString(text)
	out.Phone = strings.TrimSpace(phonePattern.FindString(text))

	current := sectionNone
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := locationLabel.FindStringSubmatch(trimmed); m != nil && out.Location == "" {
			out.Location = strings.TrimSpace(m[2])
			continue
		}
		if current == sectionNone && out.Location == "" && cityStatePattern.MatchString(trimmed) {
			out.Location = trimmed
			continue
		}
		if sec, ok := headingFor(trimmed); ok {
			current = sec
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(trimmed, "-•*·"))
		if item == "" {
			continue
		}
		switch current {
		case sectionEducation:
			out.Education = append(out.Education, item)
		case sectionExperience:
			out.Experience = append(out.Experience, item)
		case sectionSkills:
			out.Skills = append(out.Skills, splitSkills(item)...)
		}
	}
	return out
}

// Enrich returns a copy of p with missing fields filled from the resume text.
// Fields already present on p are never overwritten.
func Enrich(p Profile, resumeText string) Profile {
	parsed := ParseResume(resumeText)
	out := p.Clone()
	if strings.TrimSpace(out.Name) == "" {
		out.Name = parsed.Name
	}
	if strings.TrimSpace(out.Email) == "" {
		out.Email = parsed.Email
	}
	if strings.TrimSpace(out.Phone) == "" {
		out.Phone = parsed.Phone
	}
	if strings.TrimSpace(out.Location) == "" {
		out.Location = parsed.Location
	}
	if len(out.Education) == 0 {
		out.Education = parsed.Education
	}
	if len(out.Experience) == 0 {
		out.Experience = parsed.Experience
	}
	if len(out.Skills) == 0 {
		out.Skills = parsed.Skills
	}
	return out
}

func headingFor(line string) (section, bool) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimRight(line, ":")))
	sec, ok := headings[key]
	return sec, ok
}

func splitSkills(line string) []string {
	parts := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
