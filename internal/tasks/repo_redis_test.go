package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	if expiration != redis.KeepTTL {
		f.ttl[key] = expiration
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newFakeRedis()
	repo := NewRedisRepo(kv, 48*time.Hour)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	task := Task{ID: "t1", Stage: StageQueued, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, task); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	if kv.ttl["docgen:task:t1"] != 48*time.Hour {
		t.Fatalf("unexpected ttl: %v", kv.ttl["docgen:task:t1"])
	}

	if err := repo.RecordStage(ctx, StageEvent{TaskID: "t1", Stage: StageAnalyzingCV, Attempt: 1, Timestamp: now}); err != nil {
		t.Fatalf("RecordStage: %v", err)
	}
	if err := repo.RecordStage(ctx, StageEvent{TaskID: "t1", Stage: StageFetchingProfile, Attempt: 1, Timestamp: now}); !errors.Is(err, ErrStageRegression) {
		t.Fatalf("expected ErrStageRegression, got %v", err)
	}
	if err := repo.Finish(ctx, "t1", StageSucceeded, &Result{Content: "Hello"}, nil, now); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if kv.ttl["docgen:task:t1"] != 48*time.Hour {
		t.Fatalf("update must keep the ttl, got %v", kv.ttl["docgen:task:t1"])
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageSucceeded || got.Result == nil || got.Result.Content != "Hello" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestNewRedisRepoDefaultsTTL(t *testing.T) {
	repo := NewRedisRepo(newFakeRedis(), 0)
	if repo.ttl != defaultRedisTTL {
		t.Fatalf("ttl = %v, want %v", repo.ttl, defaultRedisTTL)
	}
}
