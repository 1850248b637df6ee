package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the stockmeta server and CLI.
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	AI     AIConfig
	Batch  BatchConfig
	Media  MediaConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	APITokenHash    string
	RateLimitPerMin int
	UploadMaxBytes  int64
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Gemini           GeminiConfig
	OpenAI           OpenAIConfig
	Mistral          MistralConfig
}

type GeminiConfig struct {
	Model   string
	APIKeys []string
}

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKeys []string
}

type MistralConfig struct {
	BaseURL string
	Model   string
	APIKeys []string
}

type BatchConfig struct {
	RequestDelay     time.Duration
	RateLimitBackoff time.Duration
	PausePoll        time.Duration
	MaxFiles         int
}

type MediaConfig struct {
	MaxEdge int
}

// Bounds for the operator-tunable delay between files.
const (
	MinRequestDelay = 500 * time.Millisecond
	MaxRequestDelay = 5 * time.Second
)

var validProviders = map[string]bool{
	"gemini":  true,
	"openai":  true,
	"mistral": true,
}

// LoadDotEnv loads variables from .env files when present. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("STOCKMETA_PORT", 8080),
			Env:             envString("STOCKMETA_ENV", "development"),
			APITokenHash:    os.Getenv("STOCKMETA_API_TOKEN_HASH"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
			UploadMaxBytes:  int64(envInt("UPLOAD_MAX_BYTES", 512<<20)),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "gemini"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Gemini: GeminiConfig{
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
				APIKeys: envList("GEMINI_API_KEYS"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				APIKeys: envList("OPENAI_API_KEYS"),
			},
			Mistral: MistralConfig{
				BaseURL: envString("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
				Model:   envString("MISTRAL_MODEL", "mistral-small-latest"),
				APIKeys: envList("MISTRAL_API_KEYS"),
			},
		},
		Batch: BatchConfig{
			RequestDelay:     envDuration("BATCH_REQUEST_DELAY", time.Second),
			RateLimitBackoff: envDuration("BATCH_RATE_LIMIT_BACKOFF", 2*time.Second),
			PausePoll:        envDuration("BATCH_PAUSE_POLL", 100*time.Millisecond),
			MaxFiles:         envInt("BATCH_MAX_FILES", 1000),
		},
		Media: MediaConfig{
			MaxEdge: envInt("MEDIA_MAX_EDGE", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("STOCKMETA_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of gemini, openai, mistral; got %q", c.AI.Provider)
	}
	if c.AI.InferenceTimeout <= 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must be positive")
	}
	for name, u := range map[string]string{"OPENAI_BASE_URL": c.AI.OpenAI.BaseURL, "MISTRAL_BASE_URL": c.AI.Mistral.BaseURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if err := ValidateRequestDelay(c.Batch.RequestDelay); err != nil {
		return fmt.Errorf("BATCH_REQUEST_DELAY %w", err)
	}
	if c.Batch.RateLimitBackoff < 0 {
		return fmt.Errorf("BATCH_RATE_LIMIT_BACKOFF must not be negative")
	}
	if c.Batch.PausePoll <= 0 {
		return fmt.Errorf("BATCH_PAUSE_POLL must be positive")
	}
	if c.Batch.MaxFiles <= 0 {
		return fmt.Errorf("BATCH_MAX_FILES must be positive, got %d", c.Batch.MaxFiles)
	}
	if c.Media.MaxEdge < 0 {
		return fmt.Errorf("MEDIA_MAX_EDGE must not be negative")
	}

	return nil
}

// ValidateRequestDelay checks the inter-file delay against its allowed range.
func ValidateRequestDelay(d time.Duration) error {
	if d < MinRequestDelay || d > MaxRequestDelay {
		return fmt.Errorf("must be between %s and %s, got %s", MinRequestDelay, MaxRequestDelay, d)
	}
	return nil
}

// APIKeys returns the configured seed keys for a provider tag.
func (c AIConfig) APIKeys(provider string) []string {
	switch provider {
	case "gemini":
		return c.Gemini.APIKeys
	case "openai":
		return c.OpenAI.APIKeys
	case "mistral":
		return c.Mistral.APIKeys
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
