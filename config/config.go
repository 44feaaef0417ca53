package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Research  ResearchConfig  `mapstructure:"research"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server and stream settings.
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	StreamMaxDuration time.Duration `mapstructure:"stream_max_duration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, anthropic
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
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

// LLMRoutingConfig defines which model handles each pipeline stage when
// the request does not name one.
type LLMRoutingConfig struct {
	Queries   string `mapstructure:"queries"`
	Synthesis string `mapstructure:"synthesis"`
	Report    string `mapstructure:"report"`
	Fallback  string `mapstructure:"fallback"`
}

// SearchConfig selects and configures the web-search provider.
type SearchConfig struct {
	Provider     string `mapstructure:"provider"` // tavily, serper, brave
	MaxResults   int    `mapstructure:"max_results"`
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

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

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// ResearchConfig tunes the research pipeline.
type ResearchConfig struct {
	DefaultModel      string        `mapstructure:"default_model"`
	NumQueries        int           `mapstructure:"num_queries"`
	FetchContent      bool          `mapstructure:"fetch_content"`
	FetchMaxChars     int           `mapstructure:"fetch_max_chars"`
	SynthesisTimeout  time.Duration `mapstructure:"synthesis_timeout"`
	ReportTimeout     time.Duration `mapstructure:"report_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "redis":
		if c.Storage.Redis.Host == "" || c.Storage.Redis.Port == "" {
			return fmt.Errorf("redis not configured (storage.redis.host/port)")
		}
	case "postgres":
		if _, err := c.Storage.Postgres.DSN(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	switch c.Search.Provider {
	case "", "tavily", "serper", "brave":
	default:
		return fmt.Errorf("unknown search provider: %s", c.Search.Provider)
	}
	if c.Research.NumQueries <= 0 {
		return fmt.Errorf("research.num_queries must be > 0")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("server.stream_max_duration", 10*time.Minute)
	viper.SetDefault("server.heartbeat_interval", 30*time.Second)
	viper.SetDefault("server.poll_interval", 500*time.Millisecond)
	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.ttl", 24*time.Hour)
	viper.SetDefault("search.provider", "tavily")
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("research.default_model", "gpt-4-turbo-preview")
	viper.SetDefault("research.num_queries", 3)
	viper.SetDefault("research.fetch_content", false)
	viper.SetDefault("research.fetch_max_chars", 20000)
	viper.SetDefault("research.synthesis_timeout", 5*time.Minute)
	viper.SetDefault("research.report_timeout", 5*time.Minute)
	viper.SetDefault("research.heartbeat_interval", 10*time.Second)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}

// LoadConfig reads configuration from the given file (or config.yaml in
// the working directory) plus RESEARCHD_* environment variables.
func LoadConfig(path string) (*Config, error) {
	// Viper state is global; reset so repeated loads are deterministic.
	viper.Reset()
	setDefaults()

	if path == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RESEARCHD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
