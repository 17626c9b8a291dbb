// Package bootstrap assembles the application from configuration. The API,
// the workers and the CLI all start from Build.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"docgen-backend/internal/artifacts"
	"docgen-backend/internal/compose"
	"docgen-backend/internal/gateway"
	"docgen-backend/internal/llm"
	"docgen-backend/internal/llm/gemini"
	"docgen-backend/internal/llm/openai"
	"docgen-backend/internal/pipeline"
	"docgen-backend/internal/queue"
	"docgen-backend/internal/render"
	"docgen-backend/internal/retry"
	"docgen-backend/internal/services/health"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/server"
	"docgen-backend/internal/shared/storage/db"
	"docgen-backend/internal/shared/storage/object"
	localstore "docgen-backend/internal/shared/storage/object/local"
	s3store "docgen-backend/internal/shared/storage/object/s3"
	"docgen-backend/internal/shared/telemetry"
	"docgen-backend/internal/structured"
	"docgen-backend/internal/tasks"
)

// App holds shared dependencies.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Redis     *redis.Client
	Tasks     tasks.Repo
	Objects   object.ObjectStore
	Artifacts *artifacts.Store
	Queue     queue.Client

	// Memory is set when QUEUE_BACKEND=memory; the API process drains it.
	Memory *queue.MemoryQueue

	Generator llm.TextGenerator
	Profiles  pipeline.ProfileGateway
	Jobs      pipeline.JobGateway
	Executor  *pipeline.Executor
	Service   *tasks.Service
	Handler   *tasks.Handler
	Health    *health.Service

	role    db.Role
	closers []func() error
}

// Options adjusts Build for callers that do not serve HTTP or enqueue work.
type Options struct {
	// SkipRouter leaves Router nil.
	SkipRouter bool
	// SkipQueue leaves Queue nil. Workers only consume.
	SkipQueue  bool
}

// Build prepares all dependencies. On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg, Health: health.NewService(), role: db.RoleAPI}
	if opts.SkipRouter {
		app.role = db.RoleWorker
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if err := app.buildTaskStore(ctx); err != nil {
		return nil, err
	}
	if err := app.buildObjects(ctx); err != nil {
		return nil, err
	}
	if !opts.SkipQueue {
		if err := app.buildQueue(ctx); err != nil {
			return nil, err
		}
	}
	if err := app.buildGenerator(ctx); err != nil {
		return nil, err
	}
	app.buildGateways()
	app.buildExecutor()

	app.Service = tasks.NewService(app.Tasks, app.Queue)
	var reader tasks.ArtifactReader
	if cfg.ObjectStoreType == "local" && app.Artifacts.Configured() {
		reader = app.Artifacts
	}
	app.Handler = tasks.NewHandler(app.Service, reader)

	if !opts.SkipRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config: cfg,
			Tasks:  app.Handler,
			Health: app.Health,
		})
	}
	return app, nil
}

// Close releases connections and clients in reverse order of creation.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildTaskStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.TaskStore {
	case "postgres":
		sqlDB, err := connectDB(ctx, cfg, a.role)
		if err != nil {
			if cfg.IsDevLike() {
				telemetry.Warn("bootstrap.db_fallback", map[string]any{"error": err})
				a.Tasks = tasks.NewMemoryRepo()
				return nil
			}
			return err
		}
		a.DB = sqlDB
		a.onClose(sqlDB.Close)
		a.Tasks = &tasks.PGRepo{DB: sqlDB, TTL: cfg.TaskTTL()}
		a.Health.Register("database", sqlDB.PingContext)
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.Redis = rdb
		a.onClose(rdb.Close)
		a.Tasks = tasks.NewRedisRepo(rdb, cfg.TaskTTL())
		a.Health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	default:
		a.Tasks = tasks.NewMemoryRepo()
	}
	telemetry.Info("bootstrap.task_store", map[string]any{"backend": cfg.TaskStore})
	return nil
}

func connectDB(ctx context.Context, cfg config.Config, role db.Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for TASK_STORE=postgres")
	}
	role = db.DetectRole(role)
	opts := db.OptionsFor(role).WithEnv()
	if role == db.RoleLambda {
		return db.Shared(ctx, cfg.DatabaseURL, opts)
	}
	return db.Open(ctx, cfg.DatabaseURL, opts)
}

func (a *App) buildObjects(ctx context.Context) error {
	cfg := a.Config
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, s3store.Options{
			Region:        cfg.AWSRegion,
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
			KMSKeyID:      cfg.SSEKMSKeyID,
		})
		if err != nil {
			return err
		}
		a.Objects = store
	case "local":
		a.Objects = localstore.New(cfg.LocalStoreDir, publicArtifactBase(cfg.PublicBaseURL))
	default:
		telemetry.Warn("bootstrap.artifacts_disabled", map[string]any{"object_store": cfg.ObjectStoreType})
	}
	a.Artifacts = artifacts.New(a.Objects)
	return nil
}

// publicArtifactBase points local artifact URLs at the API's artifact route.
func publicArtifactBase(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/api/v1/artifacts"
}

func (a *App) buildQueue(ctx context.Context) error {
	cfg := a.Config
	if cfg.QueueBackend == "sqs" {
		client, err := queue.NewSQSClient(ctx, queue.SQSOptions{QueueURL: cfg.SQSQueueURL, Region: cfg.AWSRegion})
		if err != nil {
			return err
		}
		a.Queue = client
		return nil
	}
	mem := queue.NewMemoryQueue(cfg.QueueBuffer)
	a.Memory = mem
	a.Queue = mem
	a.onClose(func() error { mem.Close(); return nil })
	return nil
}

func (a *App) buildGenerator(ctx context.Context) error {
	cfg := a.Config
	timeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second
	switch cfg.LLMProvider {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return a.noGenerator("OPENAI_API_KEY is empty")
		}
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, openai.WithTimeout(timeout))
		if err != nil {
			return err
		}
		a.Generator = client
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return a.noGenerator("GEMINI_API_KEY is empty")
		}
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModels)
		if err != nil {
			return err
		}
		a.Generator = client
		a.onClose(client.Close)
	default:
		return a.noGenerator("LLM_PROVIDER=none")
	}
	telemetry.Info("bootstrap.generator", map[string]any{"provider": cfg.LLMProvider, "model": cfg.LLMModel})
	return nil
}

// noGenerator leaves Generator nil: analysis degrades and documents pass the
// extracted text through unmodified.
func (a *App) noGenerator(reason string) error {
	telemetry.Warn("bootstrap.generator_disabled", map[string]any{"reason": reason, "env": a.Config.Env})
	return nil
}

func (a *App) buildGateways() {
	cfg := a.Config
	timeout := time.Duration(cfg.GatewayTimeoutSeconds) * time.Second
	var static *gateway.Static
	staticGateway := func() *gateway.Static {
		if static == nil {
			static = gateway.NewStatic()
			telemetry.Warn("bootstrap.static_gateway", map[string]any{"reason": "profile or job API URL not set"})
		}
		return static
	}

	if u := strings.TrimSpace(cfg.ProfileAPIURL); u != "" {
		a.Profiles = gateway.NewProfileClient(u, timeout)
	} else {
		a.Profiles = staticGateway()
	}
	if u := strings.TrimSpace(cfg.JobAPIURL); u != "" {
		a.Jobs = gateway.NewJobClient(u, timeout)
	} else {
		a.Jobs = staticGateway()
	}
}

func (a *App) buildExecutor() {
	cfg := a.Config
	exec := &pipeline.Executor{
		Tasks:     a.Tasks,
		Profiles:  a.Profiles,
		Jobs:      a.Jobs,
		Analyzer:  structured.New(a.Generator),
		Composer:  compose.New(a.Generator),
		Artifacts: a.Artifacts,
		Debug:     a.Artifacts,
		Policies:  Policies(cfg.RetryConfig),
		Timeouts:  Timeouts(cfg.RetryConfig),
	}
	if cfg.Renderer == "chromedp" {
		exec.Renderer = render.NewChromeRenderer(cfg.ChromePath)
	}
	a.Executor = exec
}

// Policies maps retry settings onto the standard and follow-up policies.
func Policies(rc config.RetryConfig) pipeline.Policies {
	std := retry.Standard()
	std.Default = retry.Rule{
		Base:        seconds(rc.BaseSeconds, std.Default.Base),
		Cap:         seconds(rc.CapSeconds, std.Default.Cap),
		MaxAttempts: positive(rc.MaxAttempts, std.Default.MaxAttempts),
	}
	follow := retry.TimeBoxed()
	follow.Default = retry.Rule{
		Base:        seconds(rc.FollowUpBaseSeconds, follow.Default.Base),
		Cap:         seconds(rc.FollowUpCapSeconds, follow.Default.Cap),
		MaxAttempts: positive(rc.MaxAttempts, follow.Default.MaxAttempts),
	}
	follow.AttemptTimeout = seconds(rc.FollowUpAttemptTimeoutSeconds, follow.AttemptTimeout)
	return pipeline.Policies{Standard: std, FollowUp: follow}
}

// Timeouts maps retry settings onto stage timeouts.
func Timeouts(rc config.RetryConfig) pipeline.Timeouts {
	t := pipeline.DefaultTimeouts()
	t.Fetch = seconds(rc.FetchTimeoutSeconds, t.Fetch)
	t.Generation = seconds(rc.GenerationTimeoutSeconds, t.Generation)
	return t
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
