// Package config loads runtime settings for the sync CLI and the MCP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogConfig configures the remote catalog client and the crawl pacing.
type CatalogConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIBase         string        `yaml:"api_base"`
	PageSize        int           `yaml:"page_size"`
	RequestInterval time.Duration `yaml:"request_interval"`
	PagePause       time.Duration `yaml:"page_pause"`
	CategoryPause   time.Duration `yaml:"category_pause"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	Timeout         time.Duration `yaml:"timeout"`
	// ContinueOnError keeps crawling sibling branches after a branch fails.
	ContinueOnError bool `yaml:"continue_on_error"`
	// RefreshContinueOnError keeps refreshing later categories after one
	// category's listing fails.
	RefreshContinueOnError bool `yaml:"refresh_continue_on_error"`
	LeavesOnly             bool `yaml:"leaves_only"`
	MaxCategories          int  `yaml:"max_categories"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	DSN    string `yaml:"dsn"`
}

// EmbeddingConfig configures the OpenAI embedding service.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
}

// QdrantConfig configures the optional vector mirror.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// RedisConfig configures the optional query embedding cache.
type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// SearchConfig configures semantic retrieval.
type SearchConfig struct {
	DefaultMaxResults int  `yaml:"default_max_results"`
	AncestorDepth     int  `yaml:"ancestor_depth"`
	UseQdrant         bool `yaml:"use_qdrant"`
}

// ServerConfig configures the MCP server binary.
type ServerConfig struct {
	Port       string `yaml:"port"`
	ServerMode bool   `yaml:"server_mode"`
}

// Config is the root configuration.
type Config struct {
	LogMode   string          `yaml:"log_mode"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Redis     RedisConfig     `yaml:"redis"`
	Search    SearchConfig    `yaml:"search"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogMode: "development",
		Catalog: CatalogConfig{
			BaseURL:         "https://arbuz.kz/",
			APIBase:         "https://arbuz.kz/api/v1/",
			PageSize:        40,
			RequestInterval: 2 * time.Second,
			PagePause:       4 * time.Second,
			CategoryPause:   2 * time.Second,
			MaxRetries:      3,
			RetryInitial:    3 * time.Second,
			Timeout:         30 * time.Second,

			RefreshContinueOnError: true,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 100,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "products",
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Search: SearchConfig{
			DefaultMaxResults: 20,
			AncestorDepth:     3,
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads the YAML file at path (missing file means defaults) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Validate reports settings that would make a run fail later.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required (DATABASE_URL)"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Catalog.PageSize <= 0 {
		errs = append(errs, errors.New("catalog page_size must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding batch_size must be positive"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding dimension must be positive"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	setString(&cfg.LogMode, "LOG_MODE")
	setString(&cfg.Catalog.BaseURL, "CATALOG_BASE_URL")
	setString(&cfg.Catalog.APIBase, "CATALOG_API_BASE")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Embedding.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Qdrant.Host, "QDRANT_HOST")
	setInt(&cfg.Qdrant.Port, "QDRANT_PORT")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Server.Port, "PORT")
	if v := os.Getenv("QDRANT_ENABLED"); v != "" {
		cfg.Qdrant.Enabled = v == "true"
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		cfg.Server.ServerMode = v == "true"
	}
}

// applyDefaults fills zero values left by a partial YAML file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Catalog.BaseURL == "" {
		cfg.Catalog.BaseURL = def.Catalog.BaseURL
	}
	if cfg.Catalog.APIBase == "" {
		cfg.Catalog.APIBase = def.Catalog.APIBase
	}
	if !strings.HasSuffix(cfg.Catalog.APIBase, "/") {
		cfg.Catalog.APIBase += "/"
	}
	if cfg.Catalog.PageSize == 0 {
		cfg.Catalog.PageSize = def.Catalog.PageSize
	}
	if cfg.Catalog.Timeout == 0 {
		cfg.Catalog.Timeout = def.Catalog.Timeout
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = def.Qdrant.Collection
	}
	if cfg.Search.DefaultMaxResults == 0 {
		cfg.Search.DefaultMaxResults = def.Search.DefaultMaxResults
	}
	if cfg.Search.AncestorDepth == 0 {
		cfg.Search.AncestorDepth = def.Search.AncestorDepth
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
