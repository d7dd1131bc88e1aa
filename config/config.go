package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a storyteller run. It is loaded once at
// startup, validated, and passed by pointer as an immutable value; nothing
// mutates it after Load returns.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
	Render  RenderConfig  `mapstructure:"render"`
	Server  ServerConfig  `mapstructure:"server"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	OutputDir      string        `mapstructure:"output_dir"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains the language-model provider configuration.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Models      map[string]LLMModel `mapstructure:"models"`
	Routing     LLMRoutingConfig    `mapstructure:"routing"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each search role.
type LLMRoutingConfig struct {
	Proposal   string `mapstructure:"proposal"`
	Evaluation string `mapstructure:"evaluation"`
	Fallback   string `mapstructure:"fallback"`
}

// SearchConfig contains the MCTS hyperparameters.
type SearchConfig struct {
	MaxIterations          int     `mapstructure:"max_iterations"`
	MaxDepth               int     `mapstructure:"max_depth"`
	ExplorationConstant    float64 `mapstructure:"exploration_constant"`
	ProposalBudget         int     `mapstructure:"proposal_budget"`
	TerminalBonus          float64 `mapstructure:"terminal_bonus"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	Evaluator              EvaluatorConfig `mapstructure:"evaluator"`
}

// EvaluatorConfig weights the evaluator's sub-scores. JudgeWeight and
// StructuralWeight are normalized at use; the structural weights must sum
// to a positive value.
type EvaluatorConfig struct {
	JudgeWeight      float64 `mapstructure:"judge_weight"`
	StructuralWeight float64 `mapstructure:"structural_weight"`
	CoverageWeight   float64 `mapstructure:"coverage_weight"`
	DiversityWeight  float64 `mapstructure:"diversity_weight"`
	DepthWeight      float64 `mapstructure:"depth_weight"`
}

// StorageConfig contains history-recorder persistence settings.
type StorageConfig struct {
	HistoryDir string         `mapstructure:"history_dir"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Redis      RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a Postgres connection string, or "" when unconfigured.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings for live snapshots.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RenderConfig contains chart rendering settings.
type RenderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	Width   int           `mapstructure:"width"`
	Height  int           `mapstructure:"height"`
}

// ServerConfig contains the report/inspection server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from the given YAML file (or the default search
// path when empty) plus STORYTELLER_* environment variables, applies
// defaults, and validates. Validation failures are fatal at run start.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("storyteller")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("STORYTELLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// API key is sensitive; environment always wins over the file.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.output_dir", "out")
	v.SetDefault("general.default_timeout", "60s")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_backoff", "500ms")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.routing.proposal", "gpt-4o")
	v.SetDefault("llm.routing.evaluation", "gpt-4o-mini")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("llm.models.gpt-4o.name", "gpt-4o")
	v.SetDefault("llm.models.gpt-4o.max_tokens", 4096)
	v.SetDefault("llm.models.gpt-4o.temperature", 0.7)
	v.SetDefault("llm.models.gpt-4o.cost_per_1k_input", 0.0025)
	v.SetDefault("llm.models.gpt-4o.cost_per_1k_output", 0.01)
	v.SetDefault("llm.models.gpt-4o-mini.name", "gpt-4o-mini")
	v.SetDefault("llm.models.gpt-4o-mini.max_tokens", 4096)
	v.SetDefault("llm.models.gpt-4o-mini.temperature", 0.3)
	v.SetDefault("llm.models.gpt-4o-mini.cost_per_1k_input", 0.00015)
	v.SetDefault("llm.models.gpt-4o-mini.cost_per_1k_output", 0.0006)

	v.SetDefault("search.max_iterations", 16)
	v.SetDefault("search.max_depth", 6)
	v.SetDefault("search.exploration_constant", 1.41421356)
	v.SetDefault("search.proposal_budget", 3)
	v.SetDefault("search.terminal_bonus", 0.1)
	v.SetDefault("search.max_consecutive_failures", 5)
	v.SetDefault("search.evaluator.judge_weight", 0.7)
	v.SetDefault("search.evaluator.structural_weight", 0.3)
	v.SetDefault("search.evaluator.coverage_weight", 0.4)
	v.SetDefault("search.evaluator.diversity_weight", 0.4)
	v.SetDefault("search.evaluator.depth_weight", 0.2)

	v.SetDefault("storage.history_dir", "history")
	v.SetDefault("storage.redis.ttl", "1h")

	v.SetDefault("render.enabled", true)
	v.SetDefault("render.timeout", "30s")
	v.SetDefault("render.width", 900)
	v.SetDefault("render.height", 560)

	v.SetDefault("server.addr", ":10030")
}

// Validate checks value ranges. Non-positive search hyperparameters are
// configuration errors and abort the run before any iteration begins.
func (c *Config) Validate() error {
	if c.Search.MaxIterations <= 0 {
		return fmt.Errorf("search.max_iterations must be positive, got %d", c.Search.MaxIterations)
	}
	if c.Search.MaxDepth <= 0 {
		return fmt.Errorf("search.max_depth must be positive, got %d", c.Search.MaxDepth)
	}
	if c.Search.ExplorationConstant <= 0 {
		return fmt.Errorf("search.exploration_constant must be positive, got %g", c.Search.ExplorationConstant)
	}
	if c.Search.ProposalBudget <= 0 {
		return fmt.Errorf("search.proposal_budget must be positive, got %d", c.Search.ProposalBudget)
	}
	if c.Search.TerminalBonus < 0 {
		return fmt.Errorf("search.terminal_bonus must be non-negative, got %g", c.Search.TerminalBonus)
	}
	ev := c.Search.Evaluator
	if ev.JudgeWeight < 0 || ev.StructuralWeight < 0 || ev.JudgeWeight+ev.StructuralWeight <= 0 {
		return fmt.Errorf("evaluator weights must be non-negative and sum to a positive value")
	}
	if ev.CoverageWeight+ev.DiversityWeight+ev.DepthWeight <= 0 {
		return fmt.Errorf("structural weights must sum to a positive value")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be non-negative, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.Routing.Proposal == "" || c.LLM.Routing.Evaluation == "" {
		return fmt.Errorf("llm.routing.proposal and llm.routing.evaluation must be set")
	}
	return nil
}
