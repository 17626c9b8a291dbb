package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/tasks"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                   "dev",
		Port:                  "0",
		TaskStore:             "memory",
		TaskTTLHours:          24,
		QueueBackend:          "memory",
		QueueBuffer:           4,
		WorkerConcurrency:     1,
		ObjectStoreType:       "local",
		LocalStoreDir:         t.TempDir(),
		PublicBaseURL:         "http://localhost:8080/",
		LLMProvider:           "none",
		LLMTimeoutSeconds:     5,
		GatewayTimeoutSeconds: 5,
		Renderer:              "none",
	}
}

func TestBuildInMemory(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if _, ok := app.Tasks.(*tasks.MemoryRepo); !ok {
		t.Fatalf("expected memory repo, got %T", app.Tasks)
	}
	if app.Memory == nil || app.Queue == nil {
		t.Fatalf("expected in-memory queue")
	}
	if app.Generator != nil {
		t.Fatalf("expected no generator, got %T", app.Generator)
	}
	if app.Executor == nil || app.Executor.Renderer != nil {
		t.Fatalf("unexpected executor %+v", app.Executor)
	}
	if !app.Artifacts.Configured() {
		t.Fatalf("local artifacts should be configured")
	}
	if app.Router == nil {
		t.Fatalf("expected router")
	}

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("health: %d", resp.Code)
	}
}

func TestBuildWorkerSkipsRouterAndQueue(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t), Options{SkipRouter: true, SkipQueue: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.Router != nil || app.Queue != nil || app.Memory != nil {
		t.Fatalf("worker build should not create router or queue")
	}
}

func TestBuildDegradesWithoutKeyOutsideDev(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Env = "production"
	cfg.LLMProvider = "openai"

	app, err := Build(context.Background(), cfg, Options{SkipRouter: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()
	if app.Generator != nil {
		t.Fatalf("expected nil generator without a key, got %T", app.Generator)
	}
	if app.Executor == nil || app.Executor.Composer == nil {
		t.Fatalf("executor should still be wired")
	}
}

func TestBuildRedisRequiresValidURL(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.TaskStore = "redis"
	cfg.RedisURL = "not a url"

	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected redis url error")
	}
}

func TestPublicArtifactBase(t *testing.T) {
	if got := publicArtifactBase("http://localhost:8080/"); got != "http://localhost:8080/api/v1/artifacts" {
		t.Fatalf("unexpected base %q", got)
	}
	if got := publicArtifactBase("  "); got != "" {
		t.Fatalf("expected empty base, got %q", got)
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	p := Policies(config.RetryConfig{
		BaseSeconds:                   10,
		CapSeconds:                    50,
		MaxAttempts:                   5,
		FollowUpAttemptTimeoutSeconds: 15,
	})
	if p.Standard.Default.Base != 10*time.Second || p.Standard.Default.Cap != 50*time.Second || p.Standard.Default.MaxAttempts != 5 {
		t.Fatalf("unexpected standard policy %+v", p.Standard)
	}
	if p.FollowUp.Default.Base != 120*time.Second || p.FollowUp.AttemptTimeout != 15*time.Second {
		t.Fatalf("unexpected follow-up policy %+v", p.FollowUp)
	}

	defaults := Timeouts(config.RetryConfig{})
	if defaults.Fetch != 30*time.Second || defaults.Generation != 120*time.Second {
		t.Fatalf("unexpected default timeouts %+v", defaults)
	}
}
