package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "github.com/zirpo/pm-backend/pkg/config"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderMock     = "mock"
)

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKey 明文 key，启动时做 bcrypt；已有 hash 时可只配置 APIKeyHash
	APIKey     string `yaml:"api_key"`
	APIKeyHash string `yaml:"api_key_hash"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	Temperature      *float64      `yaml:"temperature"` // 未配置时为 nil，0 是合法取值
	MaxTokens        int           `yaml:"max_tokens"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`
	Breaker          BreakerConfig `yaml:"breaker"`
}

type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type RAGConfig struct {
	MaxContextLength int   `yaml:"max_context_length"`
	MaxDocumentBytes int64 `yaml:"max_document_bytes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server pkgconfig.ServerConfig `yaml:"server"`
	DB     pkgconfig.DBConfig     `yaml:"db"`
	Redis  pkgconfig.RedisConfig  `yaml:"redis"`
	MQ     pkgconfig.MQConfig     `yaml:"mq"`
	JWT    pkgconfig.JWTConfig    `yaml:"jwt"`
	Auth   AuthConfig             `yaml:"auth"`
	LLM    LLMConfig              `yaml:"llm"`
	Store  StoreConfig            `yaml:"store"`
	Otel   OtelConfig             `yaml:"otel"`
	Outbox OutboxConfig           `yaml:"outbox"`
	RAG    RAGConfig              `yaml:"rag"`
	Log    LogConfig              `yaml:"log"`
}

// Load 使用统一配置中心加载配置
// 优先级：base.yaml < <env>.yaml < secrets.env < 环境变量
func Load(env, dir string) (*Config, error) {
	cfgMap, err := pkgconfig.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 转换为 Config 结构
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	overrideFromEnv(&cfg)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("SUPER_SECRET_API_KEY"); key != "" {
		cfg.Auth.APIKey = key
	}
	if hash := os.Getenv("API_KEY_HASH"); hash != "" {
		cfg.Auth.APIKeyHash = hash
	}
	if enabled := os.Getenv("AUTH_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.Auth.Enabled = v
		}
	}

	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8000"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Redis.IdempotencyTTL <= 0 {
		c.Redis.IdempotencyTTL = 24 * time.Hour
	}
	if c.JWT.TTL <= 0 {
		c.JWT.TTL = 24 * time.Hour
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderDeepSeek
	}
	if c.LLM.Temperature == nil {
		t := 0.7
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.GeneratorTimeout <= 0 {
		c.LLM.GeneratorTimeout = 60 * time.Second
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	if c.Store.CommitTimeout <= 0 {
		c.Store.CommitTimeout = 10 * time.Second
	}

	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = "pm-backend"
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.RAG.MaxContextLength <= 0 {
		c.RAG.MaxContextLength = 50000
	}
	if c.RAG.MaxDocumentBytes <= 0 {
		c.RAG.MaxDocumentBytes = 1 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate 检查互相依赖的配置项
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q",
			StoreDriverPostgres, StoreDriverMemory, c.Store.Driver))
	}

	switch c.LLM.Provider {
	case ProviderMock:
	case ProviderDeepSeek, ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %q (set DEEPSEEK_API_KEY or use provider mock)", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", *t))
	}

	if c.Outbox.Enabled && c.Store.Driver != StoreDriverPostgres {
		errs = append(errs, errors.New("outbox.enabled requires store.driver postgres"))
	}

	return errors.Join(errs...)
}
