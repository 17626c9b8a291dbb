package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.observe(5)
	h.observe(10)
	h.observe(50)
	h.observe(500)

	var buf bytes.Buffer
	h.snapshot().write(&buf, "x_ms", "")
	out := buf.String()
	for _, want := range []string{
		`x_ms_bucket{le="10"} 2`,
		`x_ms_bucket{le="100"} 3`,
		`x_ms_bucket{le="+Inf"} 4`,
		"x_ms_sum 565",
		"x_ms_count 4",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestLabeledHistogram(t *testing.T) {
	v := newHistogramVec("stage", []float64{100})
	v.with("fetching_profile").observe(50)
	v.with("analyzing_cv").observe(150)

	var buf bytes.Buffer
	v.write(&buf, "stage_ms", "help")
	out := buf.String()
	for _, want := range []string{
		`stage_ms_bucket{stage="analyzing_cv",le="100"} 0`,
		`stage_ms_bucket{stage="fetching_profile",le="100"} 1`,
		`stage_ms_count{stage="analyzing_cv"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestCounterVec(t *testing.T) {
	v := newCounterVec("stage", "class")
	var buf bytes.Buffer
	v.write(&buf, "retries_total", "help")
	if !strings.Contains(buf.String(), "retries_total 0") {
		t.Fatalf("empty vector should render a zero sample:\n%s", buf.String())
	}

	v.inc("fetching_profile", "fetch")
	v.inc("fetching_profile", "fetch")
	v.inc("analyzing_cv", "timeout")
	buf.Reset()
	v.write(&buf, "retries_total", "help")
	out := buf.String()
	if !strings.Contains(out, `retries_total{stage="fetching_profile",class="fetch"} 2`) ||
		!strings.Contains(out, `retries_total{stage="analyzing_cv",class="timeout"} 1`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRenderIncludesTaskMetrics(t *testing.T) {
	IncTaskFailed("INPUT_ERROR")
	ObserveStageDurationMs("extracting_text", 12)
	out := Render()
	for _, want := range []string{
		"# TYPE tasks_started_total counter",
		"# TYPE task_retries_total counter",
		`tasks_failed_total{code="INPUT_ERROR"}`,
		"# TYPE task_duration_ms histogram",
		`stage_duration_ms_count{stage="extracting_text"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q", want)
		}
	}
}
