// Package metrics keeps process-local counters and histograms and renders
// them in the Prometheus text exposition format.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	tasksSubmittedTotal     atomic.Uint64
	tasksStartedTotal       atomic.Uint64
	tasksSucceededTotal     atomic.Uint64
	artifactFailuresTotal   atomic.Uint64
	workerJobsReceived      atomic.Uint64
	workerJobsCompleted     atomic.Uint64
	workerJobsFailed        atomic.Uint64
	workerJobsUnrecoverable atomic.Uint64

	tasksFailed = newCounterVec("code")
	retries     = newCounterVec("stage", "class")

	durationBuckets = []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000}
	taskDuration    = newHistogram(durationBuckets)
	stageDuration   = newHistogramVec("stage", durationBuckets)
)

func IncTaskSubmitted() { tasksSubmittedTotal.Add(1) }
func IncTaskStarted()   { tasksStartedTotal.Add(1) }
func IncTaskSucceeded() { tasksSucceededTotal.Add(1) }

// IncTaskFailed counts a terminal failure by its error code.
func IncTaskFailed(code string) { tasksFailed.inc(code) }

// IncTaskRetry counts a scheduled retry of stage for a failure class.
func IncTaskRetry(stage, class string) { retries.inc(stage, class) }

// IncArtifactStoreFailure counts swallowed artifact store errors.
func IncArtifactStoreFailure() { artifactFailuresTotal.Add(1) }

func IncWorkerJobsReceived()             { workerJobsReceived.Add(1) }
func IncWorkerJobsCompleted()            { workerJobsCompleted.Add(1) }
func IncWorkerJobsFailed()               { workerJobsFailed.Add(1) }
func IncWorkerJobsDeletedUnrecoverable() { workerJobsUnrecoverable.Add(1) }

// ObserveTaskDurationMs records the wall time from pickup to terminal stage.
func ObserveTaskDurationMs(ms float64) { taskDuration.observe(max(ms, 0)) }

// ObserveStageDurationMs records one stage attempt.
func ObserveStageDurationMs(stage string, ms float64) {
	stageDuration.with(stage).observe(max(ms, 0))
}

// Handler serves Render on GET /metrics.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render returns every metric in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "tasks_submitted_total", "Generation tasks accepted by the API", tasksSubmittedTotal.Load())
	writeCounter(&buf, "tasks_started_total", "Generation tasks picked up by a worker", tasksStartedTotal.Load())
	writeCounter(&buf, "tasks_succeeded_total", "Generation tasks that succeeded", tasksSucceededTotal.Load())
	tasksFailed.write(&buf, "tasks_failed_total", "Generation tasks that failed, by code")
	retries.write(&buf, "task_retries_total", "Stage retries scheduled, by stage and failure class")
	writeCounter(&buf, "artifact_store_failures_total", "Artifact writes that failed and were skipped", artifactFailuresTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Queue messages received", workerJobsReceived.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Queue messages acknowledged", workerJobsCompleted.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Queue messages left for redelivery", workerJobsFailed.Load())
	writeCounter(&buf, "worker_jobs_deleted_unrecoverable_total", "Malformed queue messages dropped", workerJobsUnrecoverable.Load())
	writeHeader(&buf, "task_duration_ms", "Task duration in milliseconds", "histogram")
	taskDuration.snapshot().write(&buf, "task_duration_ms", "")
	stageDuration.write(&buf, "stage_duration_ms", "Stage attempt duration in milliseconds")
	return buf.String()
}

type counterVec struct {
	mu     sync.Mutex
	labels []string
	values map[string]uint64
}

func newCounterVec(labels ...string) *counterVec {
	return &counterVec{labels: labels, values: make(map[string]uint64)}
}

func (v *counterVec) inc(values ...string) {
	key := labelString(v.labels, values)
	v.mu.Lock()
	v.values[key]++
	v.mu.Unlock()
}

func (v *counterVec) write(buf *bytes.Buffer, name, help string) {
	writeHeader(buf, name, help, "counter")
	v.mu.Lock()
	defer v.mu.Unlock()
	var total uint64
	for _, key := range sortedKeys(v.values) {
		fmt.Fprintf(buf, "%s{%s} %d\n", name, key, v.values[key])
		total += v.values[key]
	}
	if len(v.values) == 0 {
		fmt.Fprintf(buf, "%s %d\n", name, total)
	}
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		h.counts[i]++
	}
}

func (h *histogram) snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: h.buckets,
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

// write emits cumulative buckets. labels, when set, is prepended to le.
func (s histogramSnapshot) write(buf *bytes.Buffer, name, labels string) {
	prefix, suffix := "{", ""
	if labels != "" {
		prefix = "{" + labels + ","
		suffix = "{" + labels + "}"
	}
	var cumulative uint64
	for i, bound := range s.buckets {
		cumulative += s.counts[i]
		fmt.Fprintf(buf, "%s_bucket%sle=\"%s\"} %d\n", name, prefix, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket%sle=\"+Inf\"} %d\n", name, prefix, s.count)
	fmt.Fprintf(buf, "%s_sum%s %s\n", name, suffix, formatFloat(s.sum))
	fmt.Fprintf(buf, "%s_count%s %d\n", name, suffix, s.count)
}

type histogramVec struct {
	mu      sync.Mutex
	label   string
	buckets []float64
	series  map[string]*histogram
}

func newHistogramVec(label string, buckets []float64) *histogramVec {
	return &histogramVec{label: label, buckets: buckets, series: make(map[string]*histogram)}
}

func (v *histogramVec) with(value string) *histogram {
	key := labelString([]string{v.label}, []string{value})
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.series[key]
	if !ok {
		h = newHistogram(v.buckets)
		v.series[key] = h
	}
	return h
}

func (v *histogramVec) write(buf *bytes.Buffer, name, help string) {
	writeHeader(buf, name, help, "histogram")
	v.mu.Lock()
	keys := sortedKeys(v.series)
	series := make([]*histogram, len(keys))
	for i, k := range keys {
		series[i] = v.series[k]
	}
	v.mu.Unlock()
	for i, k := range keys {
		series[i].snapshot().write(buf, name, k)
	}
}

func writeHeader(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	writeHeader(buf, name, help, "counter")
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func labelString(names, values []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts[i] = n + "=" + strconv.Quote(v)
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
