// Package artifacts persists generated documents. Storage is best effort: a
// missing or failing backend yields empty URLs and never an error.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/storage/object"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/shared/util"
)

const (
	MediaPDF    = "application/pdf"
	MediaText   = "text/plain; charset=utf-8"
	MediaBinary = "application/octet-stream"
)

const putTimeout = 30 * time.Second

// Store wraps an object store. The zero value and a nil *Store are valid and
// persist nothing.
type Store struct {
	obj object.ObjectStore
}

// New returns a Store over obj. A nil obj disables persistence.
func New(obj object.ObjectStore) *Store {
	return &Store{obj: obj}
}

// Configured reports whether artifacts are actually persisted.
func (s *Store) Configured() bool {
	return s != nil && s.obj != nil
}

// Put stores data under name and returns its URL, or "" when the store is
// absent or the write fails.
func (s *Store) Put(ctx context.Context, name string, data []byte, mediaType string) string {
	if !s.Configured() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	if _, err := s.obj.Put(ctx, name, mediaType, bytes.NewReader(data)); err != nil {
		metrics.IncArtifactStoreFailure()
		telemetry.Warn("artifact.put_failed", map[string]any{
			"name":  name,
			"bytes": len(data),
			"error": err,
		})
		return ""
	}
	return s.obj.URL(name)
}

// Open reads a previously stored artifact.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !s.Configured() {
		return nil, object.ErrNotFound
	}
	return s.obj.Open(ctx, name)
}

// Name returns the logical artifact name for a document of docType produced by taskID.
func Name(docType, taskID, ext string) string {
	return fmt.Sprintf("%s_%s.%s", docType, taskID, strings.TrimPrefix(ext, "."))
}

// DebugPrefix returns the key prefix holding postmortem data for taskID.
func DebugPrefix(taskID string) string {
	return "debug/" + taskID + "/"
}

// RecordFailure keeps the decoded input and the failure description for a
// failed task. It returns the debug reference, or "" if nothing was stored.
func (s *Store) RecordFailure(ctx context.Context, taskID string, input []byte, description string) string {
	if !s.Configured() {
		return ""
	}
	prefix := DebugPrefix(taskID)
	report := fmt.Sprintf("task: %s\ninput_sha256: %s\ninput_bytes: %d\n\n%s\n", taskID, util.ContentHash(input), len(input), description)
	if s.Put(ctx, prefix+"error.txt", []byte(report), MediaText) == "" {
		return ""
	}
	if len(input) > 0 {
		s.Put(ctx, prefix+"input.bin", input, MediaBinary)
	}
	return prefix
}
