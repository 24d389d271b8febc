package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	UserAgent     string `yaml:"userAgent"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	RenderTimeoutMs int  `yaml:"renderTimeoutMs"`
}

type CrawlerConfig struct {
	MaxDepthDefault     int `yaml:"maxDepthDefault"`
	MaxPagesDefault     int `yaml:"maxPagesDefault"`
	MaxConcurrentPerJob int `yaml:"maxConcurrentPerJob"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the bootstrap admin key, registered as an admin-scoped
// key at each startup unless a key with the same value already exists.
// There is no OIDC/session layer: every request authenticates with a
// single API key.
type AuthConfig struct {
	InitialAdminKey string `yaml:"initialAdminKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// WorkerConfig controls the job engine's worker pool, polling cadence,
// lease duration, and backpressure watermark.
type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	QueueWatermark    int `yaml:"queueWatermark"`
	LeaseSeconds      int `yaml:"leaseSeconds"`
}

// GovernorConfig controls per-host fetch concurrency. LeaseSeconds is not
// read: the lifetime of a slot held in Redis is fixed at 30 seconds.
type GovernorConfig struct {
	PerHostCapacity int `yaml:"perHostCapacity"`
	LeaseSeconds    int `yaml:"leaseSeconds"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// SearxngConfig holds provider-specific configuration for SearxNG-based search.
type SearxngConfig struct {
	BaseURL      string `yaml:"baseURL"`
	DefaultLimit int    `yaml:"defaultLimit"`
	TimeoutMs    int    `yaml:"timeoutMs"`
}

// SearchConfig controls the optional /v1/search endpoint and its provider.
type SearchConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Provider             string        `yaml:"provider"`
	MaxResults           int           `yaml:"maxResults"`
	TimeoutMs            int           `yaml:"timeoutMs"`
	MaxConcurrentScrapes int           `yaml:"maxConcurrentScrapes"`
	Searxng              SearxngConfig `yaml:"searxng"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays      int `yaml:"defaultDays"`
	MapDays          int `yaml:"mapDays"`
	AgentExtractDays int `yaml:"agentExtractDays"`
}

// PageTTLConfig controls retention for cached pages in days.
type PageTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// EventTTLConfig controls retention for audit events in days.
type EventTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// RetentionConfig controls TTL-like deletion of old jobs, pages, and
// events so that the database does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool           `yaml:"enabled"`
	CleanupIntervalMinutes int            `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig   `yaml:"jobs"`
	Pages                  PageTTLConfig  `yaml:"pages"`
	Events                 EventTTLConfig `yaml:"events"`
}

// SSRFConfig lets operators extend the built-in blocked address ranges
// for environments with additional internal networks.
type SSRFConfig struct {
	ExtraBlockedCIDRs []string `yaml:"extraBlockedCIDRs"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rod       RodConfig       `yaml:"rod"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Worker    WorkerConfig    `yaml:"worker"`
	Governor  GovernorConfig  `yaml:"governor"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Retention RetentionConfig `yaml:"retention"`
	SSRF      SSRFConfig      `yaml:"ssrf"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return &cfg
}

// Validate performs basic sanity checks on the loaded configuration so
// that an obviously broken deployment fails fast at startup rather than
// on the first request.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.Search.Enabled {
		provider := strings.TrimSpace(cfg.Search.Provider)
		if provider != "searxng" {
			return fmt.Errorf("unsupported search.provider: %s", provider)
		}
		if strings.TrimSpace(cfg.Search.Searxng.BaseURL) == "" {
			return errors.New("search.searxng.baseURL must be set when search is enabled")
		}
	}

	provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
	if provider == "" {
		return nil
	}

	switch provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
			return errors.New("openai llm provider is not fully configured")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
			return errors.New("anthropic llm provider is not fully configured")
		}
	case "google":
		if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
			return errors.New("google llm provider is not fully configured")
		}
	default:
		return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
	}

	return nil
}
