package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Env             string   `mapstructure:"env" validate:"oneof=dev local staging production"`
	Port            string   `mapstructure:"port" validate:"required"`
	LogLevel        string   `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	CORSAllowOrigin []string `mapstructure:"-"`

	DatabaseURL  string `mapstructure:"database_url"`
	RedisURL     string `mapstructure:"redis_url"`
	TaskStore    string `mapstructure:"task_store" validate:"oneof=memory postgres redis"`
	TaskTTLHours int    `mapstructure:"task_ttl_hours" validate:"min=1"`

	QueueBackend      string `mapstructure:"queue_backend" validate:"oneof=memory sqs"`
	SQSQueueURL       string `mapstructure:"sqs_queue_url" validate:"required_if=QueueBackend sqs"`
	AWSRegion         string `mapstructure:"aws_region"`
	WorkerConcurrency int    `mapstructure:"worker_concurrency" validate:"min=1"`
	QueueBuffer       int    `mapstructure:"queue_buffer" validate:"min=1"`

	ObjectStoreType string `mapstructure:"object_store" validate:"oneof=none local s3"`
	LocalStoreDir   string `mapstructure:"local_store_dir"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	S3Bucket        string `mapstructure:"s3_bucket" validate:"required_if=ObjectStoreType s3"`
	S3Prefix        string `mapstructure:"s3_prefix"`
	S3Endpoint      string `mapstructure:"s3_endpoint"`
	S3PublicBaseURL string `mapstructure:"s3_public_base_url"`
	SSEKMSKeyID     string `mapstructure:"sse_kms_key_id"`

	LLMProvider       string   `mapstructure:"llm_provider" validate:"oneof=openai gemini none"`
	LLMModel          string   `mapstructure:"llm_model"`
	GeminiModels      []string `mapstructure:"-"`
	OpenAIAPIKey      string   `mapstructure:"openai_api_key"`
	GeminiAPIKey      string   `mapstructure:"gemini_api_key"`
	LLMTimeoutSeconds int      `mapstructure:"llm_timeout_seconds" validate:"min=1"`

	ProfileAPIURL         string `mapstructure:"profile_api_url"`
	JobAPIURL             string `mapstructure:"job_api_url"`
	GatewayTimeoutSeconds int    `mapstructure:"gateway_timeout_seconds" validate:"min=1"`

	Renderer   string `mapstructure:"renderer" validate:"oneof=none chromedp"`
	ChromePath string `mapstructure:"chrome_path"`

	RetryConfig `mapstructure:",squash"`
}

// RetryConfig carries backoff settings and per-stage timeouts.
type RetryConfig struct {
	BaseSeconds                   int `mapstructure:"retry_base_seconds" validate:"min=0"`
	CapSeconds                    int `mapstructure:"retry_cap_seconds" validate:"min=0"`
	MaxAttempts                   int `mapstructure:"retry_max_attempts" validate:"min=1"`
	FollowUpBaseSeconds           int `mapstructure:"followup_retry_base_seconds" validate:"min=0"`
	FollowUpCapSeconds            int `mapstructure:"followup_retry_cap_seconds" validate:"min=0"`
	FollowUpAttemptTimeoutSeconds int `mapstructure:"followup_attempt_timeout_seconds" validate:"min=1"`
	FetchTimeoutSeconds           int `mapstructure:"fetch_timeout_seconds" validate:"min=1"`
	GenerationTimeoutSeconds      int `mapstructure:"generation_timeout_seconds" validate:"min=1"`
}

var defaults = map[string]any{
	"env":                              "dev",
	"port":                             "8080",
	"log_level":                        "info",
	"cors_allow_origins":               "http://localhost:5173",
	"task_store":                       "memory",
	"task_ttl_hours":                   168,
	"queue_backend":                    "memory",
	"aws_region":                       "us-east-1",
	"worker_concurrency":               4,
	"queue_buffer":                     100,
	"object_store":                     "local",
	"local_store_dir":                  "./data",
	"llm_provider":                     "openai",
	"llm_model":                        "gpt-4o-mini",
	"gemini_models":                    "gemini-1.5-flash,gemini-1.5-pro",
	"llm_timeout_seconds":              120,
	"gateway_timeout_seconds":          30,
	"renderer":                         "none",
	"retry_base_seconds":               60,
	"retry_cap_seconds":                300,
	"retry_max_attempts":               3,
	"followup_retry_base_seconds":      120,
	"followup_retry_cap_seconds":       600,
	"followup_attempt_timeout_seconds": 40,
	"fetch_timeout_seconds":            30,
	"generation_timeout_seconds":       120,
}

// Load reads configuration from .env files, an optional CONFIG_FILE and the environment.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	_ = godotenv.Load(".env")
	_ = godotenv.Load("cmd/.env")

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"database_url", "redis_url", "sqs_queue_url", "public_base_url", "s3_bucket", "s3_prefix",
		"s3_endpoint", "s3_public_base_url", "sse_kms_key_id", "openai_api_key", "gemini_api_key", "profile_api_url",
		"job_api_url", "chrome_path"} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.TaskStore = normalizeChoice(cfg.TaskStore, "memory", "memory", "postgres", "redis")
	cfg.QueueBackend = normalizeChoice(cfg.QueueBackend, "memory", "memory", "sqs")
	cfg.ObjectStoreType = normalizeChoice(cfg.ObjectStoreType, "local", "none", "local", "s3")
	cfg.LLMProvider = normalizeChoice(cfg.LLMProvider, "none", "openai", "gemini", "none")
	cfg.Renderer = normalizeChoice(cfg.Renderer, "none", "none", "chromedp")
	cfg.CORSAllowOrigin = splitAndTrim(v.GetString("cors_allow_origins"))
	cfg.GeminiModels = splitAndTrim(v.GetString("gemini_models"))

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints on an assembled Config.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TaskTTL returns the retention window for finished tasks.
func (c Config) TaskTTL() time.Duration {
	return time.Duration(c.TaskTTLHours) * time.Hour
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeChoice(raw, def string, allowed ...string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if clean == a {
			return clean
		}
	}
	return def
}
