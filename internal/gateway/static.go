package gateway

import (
	"context"
	"sync"

	"docgen-backend/internal/profile"
)

// Static serves profiles and jobs from memory. It backs the CLI and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]profile.Profile
	jobs     map[string]profile.JobContext
}

// NewStatic returns an empty Static gateway.
func NewStatic() *Static {
	return &Static{
		profiles: make(map[string]profile.Profile),
		jobs:     make(map[string]profile.JobContext),
	}
}

// PutProfile stores p under its SubjectID. Raw resume bytes are base64
// encoded the way the HTTP profile service delivers them.
func (s *Static) PutProfile(p profile.Profile) {
	p = p.Clone()
	if p.Resume.EncodedAs == "" && len(p.Resume.Content) > 0 {
		p.Resume.Content = encodeBase64(p.Resume.Content)
		p.Resume.EncodedAs = profile.EncodingBase64
	}
	s.mu.Lock()
	s.profiles[p.SubjectID] = p
	s.mu.Unlock()
}

// PutJob stores job under its JobID.
func (s *Static) PutJob(job profile.JobContext) {
	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.mu.Unlock()
}

// GetProfile returns a copy of the stored profile.
func (s *Static) GetProfile(ctx context.Context, subjectID string) (profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return profile.Profile{}, &Error{Op: "get profile", Err: err}
	}
	s.mu.RLock()
	p, ok := s.profiles[subjectID]
	s.mu.RUnlock()
	if !ok {
		return profile.Profile{}, &Error{Op: "get profile", NotFound: true}
	}
	return p.Clone(), nil
}

// GetJob returns the stored job.
func (s *Static) GetJob(ctx context.Context, jobID string) (profile.JobContext, error) {
	if err := ctx.Err(); err != nil {
		return profile.JobContext{}, &Error{Op: "get job", Err: err}
	}
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return profile.JobContext{}, &Error{Op: "get job", NotFound: true}
	}
	return job, nil
}
