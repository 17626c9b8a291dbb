package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.TaskStore != "memory" || cfg.QueueBackend != "memory" {
		t.Fatalf("unexpected backends: store=%s queue=%s", cfg.TaskStore, cfg.QueueBackend)
	}
	if cfg.BaseSeconds != 60 || cfg.CapSeconds != 300 || cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.RetryConfig)
	}
	if cfg.FollowUpBaseSeconds != 120 || cfg.FollowUpCapSeconds != 600 || cfg.FollowUpAttemptTimeoutSeconds != 40 {
		t.Fatalf("unexpected follow-up defaults: %+v", cfg.RetryConfig)
	}
	if cfg.TaskTTL() != 168*time.Hour {
		t.Fatalf("unexpected ttl: %s", cfg.TaskTTL())
	}
	if len(cfg.GeminiModels) != 2 {
		t.Fatalf("expected two gemini models, got %v", cfg.GeminiModels)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("OBJECT_STORE", "S3")
	t.Setenv("S3_BUCKET", "artifacts")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected production env, got %q", cfg.Env)
	}
	if cfg.Port != "9090" || cfg.WorkerConcurrency != 8 {
		t.Fatalf("unexpected overrides: port=%s concurrency=%d", cfg.Port, cfg.WorkerConcurrency)
	}
	if cfg.ObjectStoreType != "s3" || cfg.S3Bucket != "artifacts" {
		t.Fatalf("unexpected store config: %s %s", cfg.ObjectStoreType, cfg.S3Bucket)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.MaxAttempts)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowOrigin)
	}
}

func TestLoadRejectsSQSWithoutQueueURL(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "sqs")
	t.Setenv("SQS_QUEUE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "SQSQueueURL") {
		t.Fatalf("unexpected error: %v", err)
	}
}
