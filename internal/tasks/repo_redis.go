package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix  = "docgen:task:"
	defaultRedisTTL = 7 * 24 * time.Hour
)

// redisKV is the subset of *redis.Client the repo uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisRepo stores tasks as JSON strings that expire after TTL. A task is
// written only by the worker executing it, so updates are read-modify-write
// without a transaction.
type RedisRepo struct {
	rdb redisKV
	ttl time.Duration
}

// NewRedisRepo constructs a RedisRepo. A non-positive ttl uses seven days.
func NewRedisRepo(rdb redisKV, ttl time.Duration) *RedisRepo {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisRepo{rdb: rdb, ttl: ttl}
}

// Create stores the task. An existing task with the same id is left untouched.
func (r *RedisRepo) Create(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, redisKey(task.ID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	return nil
}

// Get returns a task by ID.
func (r *RedisRepo) Get(ctx context.Context, taskID string) (Task, error) {
	raw, err := r.rdb.Get(ctx, redisKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("redis get: %w", err)
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

// RecordStage moves the task to ev.Stage.
func (r *RedisRepo) RecordStage(ctx context.Context, ev StageEvent) error {
	return r.update(ctx, ev.TaskID, func(t *Task) error { return t.apply(ev) })
}

// Finish writes the terminal outcome.
func (r *RedisRepo) Finish(ctx context.Context, taskID string, stage Stage, result *Result, failure *Failure, at time.Time) error {
	return r.update(ctx, taskID, func(t *Task) error { return t.complete(stage, result, failure, at) })
}

func (r *RedisRepo) update(ctx context.Context, taskID string, fn func(*Task) error) error {
	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if err := fn(&task); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := r.rdb.Set(ctx, redisKey(taskID), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func redisKey(taskID string) string {
	return redisKeyPrefix + taskID
}

var _ Repo = (*RedisRepo)(nil)
